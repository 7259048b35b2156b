package window

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/keypoints"
)

var (
	// ErrInsufficientFrames is returned by ComputeStatistics when the window
	// holds fewer than MinValidFrames samples.
	ErrInsufficientFrames = errors.New("insufficient frames")
	// ErrRawFramePayload is returned when a sample looks like it carries
	// image data.
	ErrRawFramePayload = errors.New("sample rejected: raw frame payload")
	// ErrStaleSample is returned for samples timestamped before the current
	// window opened.
	ErrStaleSample = errors.New("sample rejected: stale timestamp")
)

// Config holds window aggregation parameters.
type Config struct {
	Duration       time.Duration
	MinValidFrames int
	MaxSampleBytes int // serialized size cap per sample
}

// DefaultConfig returns the built-in window parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Duration:       cfg.GetWindowDuration(),
		MinValidFrames: cfg.GetMinValidFrames(),
		MaxSampleBytes: cfg.GetMaxSampleBytes(),
	}
}

// Sample is one accepted frame.
type Sample struct {
	Features   posture.FeatureVector `json:"features"`
	Confidence float64               `json:"confidence"`
	Weight     float64               `json:"weight"`
	Timestamp  time.Time             `json:"timestamp"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
}

// Result is produced when a window closes.
type Result struct {
	Start      time.Time
	End        time.Time
	FrameCount int

	// Stats is nil when the window had fewer than MinValidFrames samples.
	Stats *Statistics

	// AbsoluteMedian is the weighted median absolute spine angle.
	AbsoluteMedian float64
	// MeanFeatures is the quality-weighted mean feature vector.
	MeanFeatures posture.FeatureVector
}

// Insufficient reports whether the window closed without statistics.
func (r Result) Insufficient() bool { return r.Stats == nil }

// Duration returns the wall-clock span of the window.
func (r Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Aggregator buffers samples for the current window. It is not safe for
// concurrent use.
type Aggregator struct {
	cfg     Config
	start   time.Time
	started bool
	samples []Sample
}

// NewAggregator creates an idle Aggregator. Call Start to open a window.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Config returns the aggregator parameters.
func (a *Aggregator) Config() Config { return a.cfg }

// Start opens a new window at now, discarding any buffered samples.
func (a *Aggregator) Start(now time.Time) {
	a.start = now
	a.started = true
	a.samples = a.samples[:0]
}

// Started reports whether a window is open.
func (a *Aggregator) Started() bool { return a.started }

// WindowStart returns when the current window opened.
func (a *Aggregator) WindowStart() time.Time { return a.start }

// Len returns the number of buffered samples.
func (a *Aggregator) Len() int { return len(a.samples) }

// Reset discards all samples and closes the window without a result.
func (a *Aggregator) Reset() {
	a.samples = nil
	a.started = false
	a.start = time.Time{}
}

// AddSample appends s to the current window after the payload, freshness
// and finiteness checks. A sample arriving before any window is open starts
// one at its timestamp.
func (a *Aggregator) AddSample(s Sample) error {
	if !s.Features.Finite() {
		return posture.Reject(posture.ReasonInvalidFeatures, "non-finite sample features")
	}
	if err := keypoints.EnsureNoRawFrames(s.Metadata); err != nil {
		return fmt.Errorf("%w: %v", ErrRawFramePayload, err)
	}
	if a.cfg.MaxSampleBytes > 0 {
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode sample: %w", err)
		}
		if len(b) > a.cfg.MaxSampleBytes {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrRawFramePayload, len(b), a.cfg.MaxSampleBytes)
		}
	}

	if !a.started {
		a.Start(s.Timestamp)
	}
	if s.Timestamp.Before(a.start) {
		return fmt.Errorf("%w: %s before window start %s", ErrStaleSample,
			s.Timestamp.Format(time.RFC3339Nano), a.start.Format(time.RFC3339Nano))
	}

	a.samples = append(a.samples, s)
	return nil
}

// IsWindowComplete reports whether the window duration has elapsed at now.
// Completion does not depend on the sample count.
func (a *Aggregator) IsWindowComplete(now time.Time) bool {
	return a.started && now.Sub(a.start) >= a.cfg.Duration
}

// ComputeStatistics returns weighted statistics over the relative spine
// angle of the buffered samples.
func (a *Aggregator) ComputeStatistics() (Statistics, error) {
	if len(a.samples) < a.cfg.MinValidFrames || len(a.samples) == 0 {
		return Statistics{}, fmt.Errorf("%w: %d < %d", ErrInsufficientFrames, len(a.samples), a.cfg.MinValidFrames)
	}
	values, weights := a.column(posture.SpineAngleRelative)
	return ComputeWeighted(values, weights), nil
}

// Close finalises the current window at now and opens the next one.
func (a *Aggregator) Close(now time.Time) Result {
	res := Result{Start: a.start, End: now, FrameCount: len(a.samples)}
	if stats, err := a.ComputeStatistics(); err == nil {
		res.Stats = &stats
		abs, w := a.column(posture.SpineAngle)
		res.AbsoluteMedian = WeightedMedian(abs, w)
		res.MeanFeatures = a.meanFeatures()
	}
	a.Start(now)
	return res
}

func (a *Aggregator) column(idx int) (values, weights []float64) {
	values = make([]float64, len(a.samples))
	weights = make([]float64, len(a.samples))
	for i, s := range a.samples {
		values[i] = s.Features[idx]
		weights[i] = s.Weight
	}
	return values, weights
}

func (a *Aggregator) meanFeatures() posture.FeatureVector {
	var fv posture.FeatureVector
	for i := 0; i < posture.FeatureCount; i++ {
		values, weights := a.column(i)
		fv[i] = weightedMean(values, weights)
	}
	return fv
}
