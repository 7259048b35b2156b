package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/model"
	"github.com/banshee-data/posture.report/internal/posture/source"
)

// applyEnv sets each flag in envFlags from its environment variable unless
// the flag was given explicitly.
func applyEnv(fs *flag.FlagSet, getenv func(string) string) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for name, env := range envFlags {
		if set[name] {
			continue
		}
		if v := getenv(env); v != "" {
			if err := fs.Set(name, v); err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	return nil
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func openReplay(path string, loop bool) (*source.Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return source.NewReplay(f, loop)
}

// configureDetector attaches the model artifact when one is configured and
// seeds the baseline. The artifact's baseline wins; otherwise the latest
// stored calibration for the device is used. A model that fails to load is
// logged and the detector runs on thresholds alone.
func configureDetector(ctx context.Context, det *detector.Detector, database *db.DB, modelPath, deviceID string) error {
	if modelPath != "" {
		m, err := model.LoadModel(modelPath)
		if err != nil {
			log.Printf("model %s not loaded, using thresholds only: %v", modelPath, err)
		} else {
			det.SetPredictor(m)
			det.SetBaseline(m.Artifact().BaselineAngle)
			log.Printf("loaded model %s (accuracy %.3f, baseline %.2f)", modelPath, m.Artifact().Accuracy, m.Artifact().BaselineAngle)
			return nil
		}
	}

	cal, err := database.LatestCalibration(ctx, deviceID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest calibration: %w", err)
	}
	det.SetBaseline(cal.BaselineAngle)
	log.Printf("baseline %.2f from calibration %s", cal.BaselineAngle, cal.ID)
	return nil
}
