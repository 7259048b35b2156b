package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6.0, cfg.GetTargetFPS())
	assert.Equal(t, 5*time.Second, cfg.GetWindowDuration())
	assert.Equal(t, time.Second, cfg.GetWindowCheckInterval())
	assert.Equal(t, 3, cfg.GetMinValidFrames())
	assert.Equal(t, 0.55, cfg.GetMinConfidence())
	assert.Equal(t, 250*time.Millisecond, cfg.GetInferenceTimeout())
	assert.Equal(t, 8*time.Second, cfg.GetPersistence())
	assert.Equal(t, 30*time.Second, cfg.GetAlertCooldown())
	assert.Equal(t, 20, cfg.GetMinSamplesPerClass())
}

func TestEmptyTuningConfigFallsBackToDefaults(t *testing.T) {
	empty := EmptyTuningConfig()
	def := DefaultTuningConfig()

	assert.Equal(t, def.GetGoodThresholdDeg(), empty.GetGoodThresholdDeg())
	assert.Equal(t, def.GetMildThresholdDeg(), empty.GetMildThresholdDeg())
	assert.Equal(t, def.GetBadThresholdDeg(), empty.GetBadThresholdDeg())
	assert.Equal(t, def.GetHysteresisMarginDeg(), empty.GetHysteresisMarginDeg())
	assert.Equal(t, def.GetWindowsHistory(), empty.GetWindowsHistory())
	assert.Equal(t, def.GetRequiredVotes(), empty.GetRequiredVotes())
	assert.Equal(t, def.GetModelWeight(), empty.GetModelWeight())
	assert.Equal(t, def.GetThresholdWeight(), empty.GetThresholdWeight())
}

func TestGetTickInterval(t *testing.T) {
	cfg := &TuningConfig{TargetFPS: ptrFloat64(6)}
	assert.Equal(t, 166666666*time.Nanosecond, cfg.GetTickInterval())

	cfg.TargetFPS = ptrFloat64(10)
	assert.Equal(t, 100*time.Millisecond, cfg.GetTickInterval())
}

func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	cfg, err := LoadTuningConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	if diff := cmp.Diff(DefaultTuningConfig(), cfg); diff != "" {
		t.Errorf("tuning.defaults.json drifted from DefaultTuningConfig (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")
	partial := `{
  "window_duration": "10s",
  "bad_threshold_deg": 15,
  "required_votes": 1
}`
	require.NoError(t, os.WriteFile(configPath, []byte(partial), 0644))

	cfg, err := LoadTuningConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.GetWindowDuration())
	assert.Equal(t, 15.0, cfg.GetBadThresholdDeg())
	assert.Equal(t, 1, cfg.GetRequiredVotes())
	// Unset fields keep their defaults.
	assert.Equal(t, 5.0, cfg.GetGoodThresholdDeg())
	assert.Nil(t, cfg.MinConfidence)
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	assert.Error(t, err)
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0644))

	_, err := LoadTuningConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"min_confidence": "high"`), 0644))

	_, err := LoadTuningConfig(configPath)
	assert.Error(t, err)
}

func TestLoadTuningConfigRejectsInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad_values.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"min_confidence": 1.5}`), 0644))

	_, err := LoadTuningConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultTuningConfig()},
		{name: "empty config is valid", cfg: &TuningConfig{}},
		{name: "zero fps", cfg: &TuningConfig{TargetFPS: ptrFloat64(0)}, wantErr: true},
		{name: "bad window duration", cfg: &TuningConfig{WindowDuration: ptrString("soon")}, wantErr: true},
		{name: "negative cooldown", cfg: &TuningConfig{AlertCooldown: ptrString("-1s")}, wantErr: true},
		{name: "confidence above one", cfg: &TuningConfig{MinConfidence: ptrFloat64(1.1)}, wantErr: true},
		{name: "negative alpha", cfg: &TuningConfig{BaselineAlpha: ptrFloat64(-0.1)}, wantErr: true},
		{name: "threshold weight above one", cfg: &TuningConfig{ThresholdWeight: ptrFloat64(2)}, wantErr: true},
		{name: "tilt out of range", cfg: &TuningConfig{MaxShoulderTiltDeg: ptrFloat64(120)}, wantErr: true},
		{name: "zero reference width", cfg: &TuningConfig{ReferenceShoulderWidth: ptrFloat64(0)}, wantErr: true},
		{name: "unordered thresholds", cfg: &TuningConfig{GoodThresholdDeg: ptrFloat64(9)}, wantErr: true},
		{name: "negative margin", cfg: &TuningConfig{HysteresisMarginDeg: ptrFloat64(-1)}, wantErr: true},
		{name: "zero min frames", cfg: &TuningConfig{MinValidFrames: ptrInt(0)}, wantErr: true},
		{name: "votes exceed history", cfg: &TuningConfig{RequiredVotes: ptrInt(4)}, wantErr: true},
		{name: "larger history with more votes", cfg: &TuningConfig{WindowsHistory: ptrInt(5), RequiredVotes: ptrInt(4)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDurationAccessorsIgnoreUnparseable(t *testing.T) {
	cfg := &TuningConfig{Persistence: ptrString("later")}
	assert.Equal(t, 8*time.Second, cfg.GetPersistence())
}
