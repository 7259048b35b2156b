// Package trainer collects labelled feature samples and fits the model
// artifact consumed by the classifier.
//
// Training is offline or on-demand and never runs on the real-time path.
package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/posture.report/internal/posture"
)

// ClassLabel names a training class.
type ClassLabel string

const (
	ClassGood   ClassLabel = "good"
	ClassSlouch ClassLabel = "slouch"
)

// ParseClassLabel validates a class name.
func ParseClassLabel(s string) (ClassLabel, error) {
	switch ClassLabel(s) {
	case ClassGood, ClassSlouch:
		return ClassLabel(s), nil
	}
	return "", fmt.Errorf("unknown class label %q (want good or slouch)", s)
}

var (
	// ErrInsufficientTrainingData is returned when a class has fewer samples
	// than the configured minimum.
	ErrInsufficientTrainingData error = &posture.RejectError{Reason: posture.ReasonInsufficientTrainingData}
	// ErrMalformedDataset is returned when an imported dataset cannot be used.
	ErrMalformedDataset = errors.New("malformed dataset")
)

// maxDatasetSize bounds dataset imports.
const maxDatasetSize = 16 * 1024 * 1024

// Dataset holds labelled feature vectors. It is append-only while recording.
type Dataset struct {
	Good   []posture.FeatureVector `json:"good"`
	Slouch []posture.FeatureVector `json:"slouch"`
}

// Add appends fv under label.
func (d *Dataset) Add(label ClassLabel, fv posture.FeatureVector) error {
	if !fv.Finite() {
		return posture.Reject(posture.ReasonInvalidFeatures, "non-finite training sample")
	}
	switch label {
	case ClassGood:
		d.Good = append(d.Good, fv)
	case ClassSlouch:
		d.Slouch = append(d.Slouch, fv)
	default:
		return fmt.Errorf("unknown class label %q", label)
	}
	return nil
}

// Count returns the number of samples in a class.
func (d *Dataset) Count(label ClassLabel) int {
	switch label {
	case ClassGood:
		return len(d.Good)
	case ClassSlouch:
		return len(d.Slouch)
	}
	return 0
}

// Counts returns per-class sample counts keyed by class name.
func (d *Dataset) Counts() map[string]int {
	return map[string]int{string(ClassGood): len(d.Good), string(ClassSlouch): len(d.Slouch)}
}

// Merge appends every sample of other.
func (d *Dataset) Merge(other *Dataset) {
	d.Good = append(d.Good, other.Good...)
	d.Slouch = append(d.Slouch, other.Slouch...)
}

// CheckMinimum returns ErrInsufficientTrainingData when either class has
// fewer than minPerClass samples.
func (d *Dataset) CheckMinimum(minPerClass int) error {
	for _, label := range []ClassLabel{ClassGood, ClassSlouch} {
		if n := d.Count(label); n < minPerClass {
			return fmt.Errorf("%w: %s has %d samples, need %d", ErrInsufficientTrainingData, label, n, minPerClass)
		}
	}
	return nil
}

// Export writes the dataset as {"good": [[...]], "slouch": [[...]]}.
func (d *Dataset) Export(w io.Writer) error {
	out := Dataset{Good: d.Good, Slouch: d.Slouch}
	if out.Good == nil {
		out.Good = []posture.FeatureVector{}
	}
	if out.Slouch == nil {
		out.Slouch = []posture.FeatureVector{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("export dataset: %w", err)
	}
	return nil
}

type wireDataset struct {
	Good   *[][]float64 `json:"good"`
	Slouch *[][]float64 `json:"slouch"`
}

// ImportDataset reads a dataset written by Export. Every vector must have
// exactly FeatureCount finite values; anything else fails with
// ErrMalformedDataset and nothing is returned.
func ImportDataset(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDatasetSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataset, err)
	}
	if len(data) > maxDatasetSize {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrMalformedDataset, maxDatasetSize)
	}

	var wire wireDataset
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataset, err)
	}
	if wire.Good == nil || wire.Slouch == nil {
		return nil, fmt.Errorf("%w: both good and slouch arrays are required", ErrMalformedDataset)
	}

	d := &Dataset{}
	for _, c := range []struct {
		label ClassLabel
		rows  [][]float64
	}{{ClassGood, *wire.Good}, {ClassSlouch, *wire.Slouch}} {
		for i, row := range c.rows {
			fv, err := posture.FeatureVectorFromSlice(row)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrMalformedDataset, c.label, i, err)
			}
			if err := d.Add(c.label, fv); err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrMalformedDataset, c.label, i, err)
			}
		}
	}
	return d, nil
}
