package posture

import (
	"errors"
	"fmt"
	"math"
)

// Label is the outcome of classifying one window.
type Label string

const (
	LabelGood         Label = "good"
	LabelMild         Label = "mild"
	LabelBad          Label = "bad"
	LabelInsufficient Label = "insufficient"
)

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelGood, LabelMild, LabelBad, LabelInsufficient:
		return true
	}
	return false
}

// Feature indices into FeatureVector.
const (
	SpineAngle = iota
	SpineAngleRelative
	HeadForwardRatio
	ShoulderWidthRatio
	AvgConfidence

	FeatureCount
)

// FeatureVector is the fixed-order tuple produced by the feature extractor.
// The order matches FeatureNames().
type FeatureVector [FeatureCount]float64

// FeatureNames returns the canonical feature names in vector order.
func FeatureNames() []string {
	return []string{
		"spine_angle",
		"spine_angle_relative",
		"head_forward_ratio",
		"shoulder_width_ratio",
		"avg_confidence",
	}
}

// Finite reports whether every component is finite and not NaN.
func (f FeatureVector) Finite() bool {
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Slice returns a copy of the vector as a slice.
func (f FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, f[:])
	return out
}

// FeatureVectorFromSlice converts a slice of exactly FeatureCount values.
func FeatureVectorFromSlice(v []float64) (FeatureVector, error) {
	var f FeatureVector
	if len(v) != FeatureCount {
		return f, fmt.Errorf("feature vector has %d values, want %d", len(v), FeatureCount)
	}
	copy(f[:], v)
	return f, nil
}

// Reason names why a frame, window or training request was rejected.
type Reason string

const (
	ReasonMissingKeypoint          Reason = "missing_keypoint"
	ReasonLowConfidence            Reason = "low_confidence"
	ReasonInvalidAngle             Reason = "invalid_angle"
	ReasonPoorAlignment            Reason = "poor_alignment"
	ReasonInvalidFeatures          Reason = "invalid_features"
	ReasonInsufficientFrames       Reason = "insufficient_frames"
	ReasonModelInferenceFailure    Reason = "model_inference_failure"
	ReasonInsufficientTrainingData Reason = "insufficient_training_data"
)

// RejectError is returned for an expected, non-fatal rejection.
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Reject builds a RejectError with a formatted detail message.
func Reject(reason Reason, format string, args ...interface{}) *RejectError {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a
// RejectError.
func ReasonOf(err error) Reason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
