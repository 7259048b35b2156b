package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/posture.report/internal/posture"
)

// MinStd floors per-feature standard deviations so constant features do not
// blow up z-scores.
const MinStd = 1e-6

// NormalizationStats are per-feature z-score parameters in FeatureVector order.
type NormalizationStats struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Validate checks dimensions and finiteness.
func (s NormalizationStats) Validate() error {
	if len(s.Means) != posture.FeatureCount || len(s.Stds) != posture.FeatureCount {
		return fmt.Errorf("normalization stats need %d means and stds, got %d/%d",
			posture.FeatureCount, len(s.Means), len(s.Stds))
	}
	for i := range s.Means {
		if math.IsNaN(s.Means[i]) || math.IsInf(s.Means[i], 0) {
			return fmt.Errorf("mean %d is not finite", i)
		}
		if math.IsNaN(s.Stds[i]) || math.IsInf(s.Stds[i], 0) || s.Stds[i] <= 0 {
			return errors.New("stds must be finite and positive")
		}
	}
	return nil
}

// Apply returns the z-scored copy of fv.
func (s NormalizationStats) Apply(fv posture.FeatureVector) []float64 {
	out := make([]float64, posture.FeatureCount)
	for i := range out {
		std := s.Stds[i]
		if std < MinStd {
			std = MinStd
		}
		out[i] = (fv[i] - s.Means[i]) / std
	}
	return out
}
