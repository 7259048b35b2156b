package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for posture detection
// tuning parameters. Every field is optional; the Get* accessors fall back
// to built-in defaults so partial configs are safe.
type TuningConfig struct {
	// Sampling and windowing
	TargetFPS           *float64 `json:"target_fps,omitempty"`
	WindowDuration      *string  `json:"window_duration,omitempty"`       // duration string like "5s"
	WindowCheckInterval *string  `json:"window_check_interval,omitempty"` // duration string like "1s"
	MinValidFrames      *int     `json:"min_valid_frames,omitempty"`
	MaxSampleBytes      *int     `json:"max_sample_bytes,omitempty"`

	// Feature extraction
	MinConfidence          *float64 `json:"min_confidence,omitempty"`
	MaxShoulderTiltDeg     *float64 `json:"max_shoulder_tilt_deg,omitempty"`
	MinAlignment           *float64 `json:"min_alignment,omitempty"`
	MedianFilterSize       *int     `json:"median_filter_size,omitempty"`
	ReferenceShoulderWidth *float64 `json:"reference_shoulder_width,omitempty"`
	HeadForwardCap         *float64 `json:"head_forward_cap,omitempty"`
	ShoulderRatioCap       *float64 `json:"shoulder_ratio_cap,omitempty"`

	// Classification
	GoodThresholdDeg       *float64 `json:"good_threshold_deg,omitempty"`
	MildThresholdDeg       *float64 `json:"mild_threshold_deg,omitempty"`
	BadThresholdDeg        *float64 `json:"bad_threshold_deg,omitempty"`
	HysteresisMarginDeg    *float64 `json:"hysteresis_margin_deg,omitempty"`
	BaselineAlpha          *float64 `json:"baseline_alpha,omitempty"`
	InitialBaselineDeg     *float64 `json:"initial_baseline_deg,omitempty"`
	GoodOffsetDeg          *float64 `json:"good_offset_deg,omitempty"`
	MildOffsetDeg          *float64 `json:"mild_offset_deg,omitempty"`
	BadOffsetDeg           *float64 `json:"bad_offset_deg,omitempty"`
	ThresholdFloorMargin   *float64 `json:"threshold_floor_margin_deg,omitempty"`
	ThresholdCeilingMargin *float64 `json:"threshold_ceiling_margin_deg,omitempty"`
	ModelWeight            *float64 `json:"model_weight,omitempty"`
	ThresholdWeight        *float64 `json:"threshold_weight,omitempty"`
	InferenceTimeout       *string  `json:"inference_timeout,omitempty"` // duration string like "250ms"

	// Alerting
	WindowsHistory *int    `json:"windows_history,omitempty"`
	RequiredVotes  *int    `json:"required_votes,omitempty"`
	Persistence    *string `json:"persistence,omitempty"` // duration string like "8s"
	AlertCooldown  *string `json:"alert_cooldown,omitempty"`

	// Training
	MinSamplesPerClass *int `json:"min_samples_per_class,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with its built-in default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		TargetFPS:              ptrFloat64(6),
		WindowDuration:         ptrString("5s"),
		WindowCheckInterval:    ptrString("1s"),
		MinValidFrames:         ptrInt(3),
		MaxSampleBytes:         ptrInt(5000),
		MinConfidence:          ptrFloat64(0.55),
		MaxShoulderTiltDeg:     ptrFloat64(25),
		MinAlignment:           ptrFloat64(0.2),
		MedianFilterSize:       ptrInt(5),
		ReferenceShoulderWidth: ptrFloat64(0.25),
		HeadForwardCap:         ptrFloat64(2.5),
		ShoulderRatioCap:       ptrFloat64(2.0),
		GoodThresholdDeg:       ptrFloat64(5),
		MildThresholdDeg:       ptrFloat64(8),
		BadThresholdDeg:        ptrFloat64(12),
		HysteresisMarginDeg:    ptrFloat64(1.5),
		BaselineAlpha:          ptrFloat64(0.2),
		InitialBaselineDeg:     ptrFloat64(0),
		GoodOffsetDeg:          ptrFloat64(3),
		MildOffsetDeg:          ptrFloat64(6),
		BadOffsetDeg:           ptrFloat64(10),
		ThresholdFloorMargin:   ptrFloat64(2),
		ThresholdCeilingMargin: ptrFloat64(5),
		ModelWeight:            ptrFloat64(0.7),
		ThresholdWeight:        ptrFloat64(0.3),
		InferenceTimeout:       ptrString("250ms"),
		WindowsHistory:         ptrInt(3),
		RequiredVotes:          ptrInt(2),
		Persistence:            ptrString("8s"),
		AlertCooldown:          ptrString("30s"),
		MinSamplesPerClass:     ptrInt(20),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
// Fields omitted from the JSON file fall back to their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.TargetFPS != nil && (*c.TargetFPS <= 0 || *c.TargetFPS > 120) {
		return fmt.Errorf("target_fps must be in (0, 120], got %f", *c.TargetFPS)
	}

	for name, v := range map[string]*string{
		"window_duration":       c.WindowDuration,
		"window_check_interval": c.WindowCheckInterval,
		"inference_timeout":     c.InferenceTimeout,
		"persistence":           c.Persistence,
		"alert_cooldown":        c.AlertCooldown,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"min_confidence": c.MinConfidence,
		"min_alignment":  c.MinAlignment,
		"baseline_alpha": c.BaselineAlpha,
		"model_weight":   c.ModelWeight,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	if c.ThresholdWeight != nil && (*c.ThresholdWeight < 0 || *c.ThresholdWeight > 1) {
		return fmt.Errorf("threshold_weight must be between 0 and 1, got %f", *c.ThresholdWeight)
	}

	if c.MaxShoulderTiltDeg != nil && (*c.MaxShoulderTiltDeg <= 0 || *c.MaxShoulderTiltDeg > 90) {
		return fmt.Errorf("max_shoulder_tilt_deg must be in (0, 90], got %f", *c.MaxShoulderTiltDeg)
	}
	if c.ReferenceShoulderWidth != nil && *c.ReferenceShoulderWidth <= 0 {
		return fmt.Errorf("reference_shoulder_width must be positive, got %f", *c.ReferenceShoulderWidth)
	}

	good, mild, bad := c.GetGoodThresholdDeg(), c.GetMildThresholdDeg(), c.GetBadThresholdDeg()
	if !(good <= mild && mild <= bad) {
		return fmt.Errorf("thresholds must satisfy good <= mild <= bad, got %.2f/%.2f/%.2f", good, mild, bad)
	}
	if c.HysteresisMarginDeg != nil && *c.HysteresisMarginDeg < 0 {
		return fmt.Errorf("hysteresis_margin_deg must be non-negative, got %f", *c.HysteresisMarginDeg)
	}

	for name, v := range map[string]*int{
		"min_valid_frames":      c.MinValidFrames,
		"median_filter_size":    c.MedianFilterSize,
		"windows_history":       c.WindowsHistory,
		"required_votes":        c.RequiredVotes,
		"min_samples_per_class": c.MinSamplesPerClass,
		"max_sample_bytes":      c.MaxSampleBytes,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.GetRequiredVotes() > c.GetWindowsHistory() {
		return fmt.Errorf("required_votes (%d) cannot exceed windows_history (%d)", c.GetRequiredVotes(), c.GetWindowsHistory())
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetTargetFPS returns the frame sampling rate.
func (c *TuningConfig) GetTargetFPS() float64 { return floatOr(c.TargetFPS, 6) }

// GetTickInterval derives the frame collection interval from the target FPS.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.GetTargetFPS())
}

// GetWindowDuration returns the fixed window length.
func (c *TuningConfig) GetWindowDuration() time.Duration {
	return durationOr(c.WindowDuration, 5*time.Second)
}

// GetWindowCheckInterval returns how often the detector checks for window close.
func (c *TuningConfig) GetWindowCheckInterval() time.Duration {
	return durationOr(c.WindowCheckInterval, time.Second)
}

// GetMinValidFrames returns the minimum accepted samples for a classified window.
func (c *TuningConfig) GetMinValidFrames() int { return intOr(c.MinValidFrames, 3) }

// GetMaxSampleBytes returns the serialized size cap for a window sample.
func (c *TuningConfig) GetMaxSampleBytes() int { return intOr(c.MaxSampleBytes, 5000) }

// GetMinConfidence returns the minimum average keypoint confidence.
func (c *TuningConfig) GetMinConfidence() float64 { return floatOr(c.MinConfidence, 0.55) }

// GetMaxShoulderTiltDeg returns the shoulder tilt at which alignment reaches zero.
func (c *TuningConfig) GetMaxShoulderTiltDeg() float64 { return floatOr(c.MaxShoulderTiltDeg, 25) }

// GetMinAlignment returns the alignment score below which frames are rejected.
func (c *TuningConfig) GetMinAlignment() float64 { return floatOr(c.MinAlignment, 0.2) }

// GetMedianFilterSize returns the spine angle median filter length.
func (c *TuningConfig) GetMedianFilterSize() int { return intOr(c.MedianFilterSize, 5) }

// GetReferenceShoulderWidth returns the normalised reference shoulder width.
func (c *TuningConfig) GetReferenceShoulderWidth() float64 {
	return floatOr(c.ReferenceShoulderWidth, 0.25)
}

// GetHeadForwardCap returns the cap applied to the head-forward ratio.
func (c *TuningConfig) GetHeadForwardCap() float64 { return floatOr(c.HeadForwardCap, 2.5) }

// GetShoulderRatioCap returns the cap applied to the shoulder-width ratio.
func (c *TuningConfig) GetShoulderRatioCap() float64 { return floatOr(c.ShoulderRatioCap, 2.0) }

// GetGoodThresholdDeg returns the static good cutoff.
func (c *TuningConfig) GetGoodThresholdDeg() float64 { return floatOr(c.GoodThresholdDeg, 5) }

// GetMildThresholdDeg returns the static mild cutoff.
func (c *TuningConfig) GetMildThresholdDeg() float64 { return floatOr(c.MildThresholdDeg, 8) }

// GetBadThresholdDeg returns the static bad cutoff.
func (c *TuningConfig) GetBadThresholdDeg() float64 { return floatOr(c.BadThresholdDeg, 12) }

// GetHysteresisMarginDeg returns the escalation hysteresis margin.
func (c *TuningConfig) GetHysteresisMarginDeg() float64 { return floatOr(c.HysteresisMarginDeg, 1.5) }

// GetBaselineAlpha returns the exponential smoothing factor for the baseline.
func (c *TuningConfig) GetBaselineAlpha() float64 { return floatOr(c.BaselineAlpha, 0.2) }

// GetInitialBaselineDeg returns the baseline used before any calibration.
func (c *TuningConfig) GetInitialBaselineDeg() float64 { return floatOr(c.InitialBaselineDeg, 0) }

// GetGoodOffsetDeg returns the personalised good offset above the window median.
func (c *TuningConfig) GetGoodOffsetDeg() float64 { return floatOr(c.GoodOffsetDeg, 3) }

// GetMildOffsetDeg returns the personalised mild offset above the window median.
func (c *TuningConfig) GetMildOffsetDeg() float64 { return floatOr(c.MildOffsetDeg, 6) }

// GetBadOffsetDeg returns the personalised bad offset above the window median.
func (c *TuningConfig) GetBadOffsetDeg() float64 { return floatOr(c.BadOffsetDeg, 10) }

// GetThresholdFloorMargin returns how far below the static default a
// personalised threshold may fall.
func (c *TuningConfig) GetThresholdFloorMargin() float64 {
	return floatOr(c.ThresholdFloorMargin, 2)
}

// GetThresholdCeilingMargin returns how far above the static default a
// personalised threshold may rise.
func (c *TuningConfig) GetThresholdCeilingMargin() float64 {
	return floatOr(c.ThresholdCeilingMargin, 5)
}

// GetModelWeight returns the ensemble weight of the model probability.
func (c *TuningConfig) GetModelWeight() float64 { return floatOr(c.ModelWeight, 0.7) }

// GetThresholdWeight returns the ensemble weight of the threshold verdict.
func (c *TuningConfig) GetThresholdWeight() float64 { return floatOr(c.ThresholdWeight, 0.3) }

// GetInferenceTimeout returns the per-window model inference deadline.
func (c *TuningConfig) GetInferenceTimeout() time.Duration {
	return durationOr(c.InferenceTimeout, 250*time.Millisecond)
}

// GetWindowsHistory returns the alert engine's history capacity.
func (c *TuningConfig) GetWindowsHistory() int { return intOr(c.WindowsHistory, 3) }

// GetRequiredVotes returns the number of bad windows needed in history.
func (c *TuningConfig) GetRequiredVotes() int { return intOr(c.RequiredVotes, 2) }

// GetPersistence returns the cumulative bad duration needed before alerting.
func (c *TuningConfig) GetPersistence() time.Duration {
	return durationOr(c.Persistence, 8*time.Second)
}

// GetAlertCooldown returns the minimum interval between alerts.
func (c *TuningConfig) GetAlertCooldown() time.Duration {
	return durationOr(c.AlertCooldown, 30*time.Second)
}

// GetMinSamplesPerClass returns the minimum training samples per class.
func (c *TuningConfig) GetMinSamplesPerClass() int { return intOr(c.MinSamplesPerClass, 20) }
