package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/posture.report/internal/posture"
)

// ArtifactVersion is the current on-disk format version.
const ArtifactVersion = 1

// maxArtifactSize bounds artifact files read from disk.
const maxArtifactSize = 4 * 1024 * 1024

// Artifact is the persisted output of training. It is immutable once saved.
type Artifact struct {
	Version       int                `json:"version"`
	FeatureNames  []string           `json:"feature_names"`
	Weights       [][]float64        `json:"weights"` // FeatureCount rows of NumClasses
	Bias          []float64          `json:"bias"`
	Normalization NormalizationStats `json:"normalization_stats"`
	BaselineAngle float64            `json:"baseline_angle"`
	Accuracy      float64            `json:"accuracy"`
	TrainedAt     time.Time          `json:"trained_at"`
	SampleCounts  map[string]int     `json:"sample_counts,omitempty"`
}

// Validate checks the artifact shape.
func (a *Artifact) Validate() error {
	if a == nil {
		return fmt.Errorf("nil artifact")
	}
	if a.Version != ArtifactVersion {
		return fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if len(a.Weights) != posture.FeatureCount {
		return fmt.Errorf("weights have %d rows, want %d", len(a.Weights), posture.FeatureCount)
	}
	for i, row := range a.Weights {
		if len(row) != NumClasses {
			return fmt.Errorf("weights row %d has %d columns, want %d", i, len(row), NumClasses)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("weights row %d is not finite", i)
			}
		}
	}
	if len(a.Bias) != NumClasses {
		return fmt.Errorf("bias has %d values, want %d", len(a.Bias), NumClasses)
	}
	if err := a.Normalization.Validate(); err != nil {
		return err
	}
	if math.IsNaN(a.BaselineAngle) || a.BaselineAngle < 0 || a.BaselineAngle > 90 {
		return fmt.Errorf("baseline angle %.2f out of range", a.BaselineAngle)
	}
	return nil
}

// Save writes the artifact as indented JSON. The path must end in .json.
func Save(path string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid artifact: %w", err)
	}
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("artifact file must have .json extension, got %q", ext)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := os.WriteFile(cleanPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// Load reads and validates an artifact written by Save.
func Load(path string) (*Artifact, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("artifact file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if info.Size() > maxArtifactSize {
		return nil, fmt.Errorf("artifact too large: %d bytes (max %d)", info.Size(), maxArtifactSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact JSON: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	return &a, nil
}

// LoadModel loads an artifact and builds a Model from it.
func LoadModel(path string) (*Model, error) {
	a, err := Load(path)
	if err != nil {
		return nil, err
	}
	return New(a)
}
