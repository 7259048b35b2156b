package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/features"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// Recorder polls a keypoint source and appends accepted feature vectors to
// a dataset under a fixed label.
type Recorder struct {
	src       source.Source
	extractor *features.Extractor
	clock     timeutil.Clock
	interval  time.Duration
	baseline  float64
	dataset   *Dataset
}

// NewRecorder creates a Recorder sampling at fps frames per second.
func NewRecorder(src source.Source, cfg features.Config, clock timeutil.Clock, fps float64, dataset *Dataset) (*Recorder, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %f", fps)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if dataset == nil {
		dataset = &Dataset{}
	}
	return &Recorder{
		src:       src,
		extractor: features.NewExtractor(cfg),
		clock:     clock,
		interval:  time.Duration(float64(time.Second) / fps),
		dataset:   dataset,
	}, nil
}

// SetBaseline sets the baseline used for the relative-angle feature.
func (r *Recorder) SetBaseline(angle float64) { r.baseline = angle }

// Dataset returns the dataset being recorded into.
func (r *Recorder) Dataset() *Dataset { return r.dataset }

// RecordSamples samples for duration and returns how many vectors were
// added under label. Rejected frames are skipped. Cancelling ctx stops early
// and returns the count so far with ctx.Err().
func (r *Recorder) RecordSamples(ctx context.Context, label ClassLabel, duration time.Duration) (int, error) {
	if _, err := ParseClassLabel(string(label)); err != nil {
		return 0, err
	}
	r.extractor.Reset()

	deadline := r.clock.Now().Add(duration)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case now := <-ticker.C():
			if !now.Before(deadline) {
				return count, nil
			}
			ok, err := r.sampleOnce(label)
			if err != nil {
				return count, err
			}
			if ok {
				count++
			}
		}
	}
}

func (r *Recorder) sampleOnce(label ClassLabel) (bool, error) {
	kp, ok := r.src.Poll()
	if !ok {
		return false, nil
	}
	res, err := r.extractor.Extract(kp, r.baseline)
	if err != nil {
		var re *posture.RejectError
		if errors.As(err, &re) {
			monitoring.Tracef("training frame rejected: %v", err)
			return false, nil
		}
		return false, err
	}
	if err := r.dataset.Add(label, res.Features); err != nil {
		return false, err
	}
	return true, nil
}
