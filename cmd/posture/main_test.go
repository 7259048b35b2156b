package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/model"
	"github.com/banshee-data/posture.report/internal/posture/source"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8090", *listen)
	assert.Equal(t, "posture.db", *dbPath)
	assert.Equal(t, 2*time.Second, *maxFrameAge)
	assert.True(t, *autostart)
	assert.False(t, *debug)
}

func TestApplyEnv(t *testing.T) {
	fs := flag.NewFlagSet("posture", flag.ContinueOnError)
	l := fs.String("listen", ":8090", "")
	d := fs.String("db-path", "posture.db", "")
	m := fs.String("model", "", "")
	fs.String("config", "", "")
	fs.String("device", "default", "")
	require.NoError(t, fs.Parse([]string{"-db-path", "cli.db"}))

	env := map[string]string{
		"POSTURE_LISTEN":     ":9000",
		"POSTURE_DB_PATH":    "env.db",
		"POSTURE_MODEL_PATH": "model.json",
	}
	require.NoError(t, applyEnv(fs, func(k string) string { return env[k] }))

	assert.Equal(t, ":9000", *l)
	assert.Equal(t, "cli.db", *d, "command line wins over environment")
	assert.Equal(t, "model.json", *m)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"http://localhost:5173", "https://desk.local"}, splitList(" http://localhost:5173, ,https://desk.local "))
}

func TestLoadTuningDefault(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, 6.0, cfg.GetTargetFPS())

	_, err = loadTuning("tuning.yaml")
	assert.Error(t, err)
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	line := `{"nose": [0.5, 0.2], "left_shoulder": [0.4, 0.3], "right_shoulder": [0.6, 0.3], "left_hip": [0.4, 0.6], "right_hip": [0.6, 0.6]}`
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(line+"\n", 3)), 0o600))

	r, err := openReplay(path, false)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	_, err = openReplay(filepath.Join(t.TempDir(), "missing.jsonl"), false)
	assert.Error(t, err)
}

func newTestDetector(t *testing.T) (*detector.Detector, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "posture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	det, err := detector.New(detector.Options{Source: source.NewLatestFrame(nil, 0)})
	require.NoError(t, err)
	return det, database
}

func TestConfigureDetectorSeedsCalibration(t *testing.T) {
	det, database := newTestDetector(t)
	ctx := context.Background()

	require.NoError(t, configureDetector(ctx, det, database, "", "desk"))
	assert.Equal(t, 0.0, det.Status().Baseline)

	require.NoError(t, database.InsertCalibration(ctx, &db.Calibration{
		DeviceID:      "desk",
		BaselineAngle: 6.5,
		CreatedAt:     time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, configureDetector(ctx, det, database, "", "desk"))
	assert.Equal(t, 6.5, det.Status().Baseline)
	assert.False(t, det.Status().ModelLoaded)
}

func TestConfigureDetectorPrefersModelBaseline(t *testing.T) {
	det, database := newTestDetector(t)
	ctx := context.Background()

	weights := make([][]float64, posture.FeatureCount)
	for i := range weights {
		weights[i] = []float64{0, 0}
	}
	means := make([]float64, posture.FeatureCount)
	stds := make([]float64, posture.FeatureCount)
	for i := range stds {
		stds[i] = 1
	}
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(path, &model.Artifact{
		Version:       model.ArtifactVersion,
		FeatureNames:  posture.FeatureNames(),
		Weights:       weights,
		Bias:          []float64{0, 0},
		Normalization: model.NormalizationStats{Means: means, Stds: stds},
		BaselineAngle: 3.25,
		Accuracy:      0.9,
		TrainedAt:     time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, database.InsertCalibration(ctx, &db.Calibration{DeviceID: "desk", BaselineAngle: 9, CreatedAt: time.Now()}))

	require.NoError(t, configureDetector(ctx, det, database, path, "desk"))
	assert.True(t, det.Status().ModelLoaded)
	assert.Equal(t, 3.25, det.Status().Baseline)
}

func TestConfigureDetectorFallsBackWhenModelMissing(t *testing.T) {
	det, database := newTestDetector(t)

	require.NoError(t, configureDetector(context.Background(), det, database, filepath.Join(t.TempDir(), "none.json"), "desk"))
	assert.False(t, det.Status().ModelLoaded)
}
