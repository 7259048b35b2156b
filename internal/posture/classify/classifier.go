package classify

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/model"
	"github.com/banshee-data/posture.report/internal/posture/window"
)

// Thresholds are relative-angle cutoffs in degrees.
type Thresholds struct {
	Good float64 `json:"good"`
	Mild float64 `json:"mild"`
	Bad  float64 `json:"bad"`
}

// Config holds classifier parameters.
type Config struct {
	Static           Thresholds
	HysteresisMargin float64
	BaselineAlpha    float64
	InitialBaseline  float64

	// Personalised thresholds are window median + offset, clamped to
	// [static - FloorMargin, static + CeilingMargin].
	GoodOffset    float64
	MildOffset    float64
	BadOffset     float64
	FloorMargin   float64
	CeilingMargin float64

	ModelWeight      float64
	ThresholdWeight  float64
	InferenceTimeout time.Duration
}

// DefaultConfig returns the built-in classifier parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Static: Thresholds{
			Good: cfg.GetGoodThresholdDeg(),
			Mild: cfg.GetMildThresholdDeg(),
			Bad:  cfg.GetBadThresholdDeg(),
		},
		HysteresisMargin: cfg.GetHysteresisMarginDeg(),
		BaselineAlpha:    cfg.GetBaselineAlpha(),
		InitialBaseline:  cfg.GetInitialBaselineDeg(),
		GoodOffset:       cfg.GetGoodOffsetDeg(),
		MildOffset:       cfg.GetMildOffsetDeg(),
		BadOffset:        cfg.GetBadOffsetDeg(),
		FloorMargin:      cfg.GetThresholdFloorMargin(),
		CeilingMargin:    cfg.GetThresholdCeilingMargin(),
		ModelWeight:      cfg.GetModelWeight(),
		ThresholdWeight:  cfg.GetThresholdWeight(),
		InferenceTimeout: cfg.GetInferenceTimeout(),
	}
}

// Predictor produces slouch probabilities for a window's mean features.
// *model.Model satisfies it.
type Predictor interface {
	Predict(ctx context.Context, fv posture.FeatureVector) (model.Probabilities, error)
}

// Classification is the outcome for one window.
type Classification struct {
	Label          posture.Label        `json:"label"`
	ThresholdLabel posture.Label        `json:"threshold_label,omitempty"`
	Angle          float64              `json:"angle"` // trimmed-mean relative angle
	Thresholds     Thresholds           `json:"thresholds"`
	Probabilities  *model.Probabilities `json:"probabilities,omitempty"`
	CombinedScore  float64              `json:"combined_score,omitempty"`
	ModelError     string               `json:"model_error,omitempty"`
	Reason         string               `json:"reason"`
}

// ModelUsed reports whether model output contributed to the label.
func (c Classification) ModelUsed() bool { return c.Probabilities != nil }

// Classifier holds the hysteresis state, baseline and thresholds for one
// user. It is not safe for concurrent use.
type Classifier struct {
	cfg          Config
	predictor    Predictor
	baseline     float64
	thresholds   Thresholds
	personalized bool
	state        posture.Label // last good/mild/bad label, "" before the first
}

// New creates a Classifier. predictor may be nil for threshold-only mode.
func New(cfg Config, predictor Predictor) *Classifier {
	return &Classifier{
		cfg:        cfg,
		predictor:  predictor,
		baseline:   cfg.InitialBaseline,
		thresholds: cfg.Static,
	}
}

// SetPredictor attaches or detaches the model.
func (c *Classifier) SetPredictor(p Predictor) { c.predictor = p }

// HasModel reports whether a predictor is attached.
func (c *Classifier) HasModel() bool { return c.predictor != nil }

// Baseline returns the current baseline spine angle.
func (c *Classifier) Baseline() float64 { return c.baseline }

// SetBaseline overrides the baseline, for example from a stored calibration.
func (c *Classifier) SetBaseline(angle float64) { c.baseline = angle }

// Thresholds returns the active thresholds.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Personalized reports whether thresholds have adapted away from the static
// defaults.
func (c *Classifier) Personalized() bool { return c.personalized }

// State returns the hysteresis state.
func (c *Classifier) State() posture.Label { return c.state }

// ResetState clears the hysteresis state, keeping baseline and thresholds.
func (c *Classifier) ResetState() { c.state = "" }

// Classify labels res and advances the hysteresis state. Insufficient
// windows leave the state untouched.
func (c *Classifier) Classify(ctx context.Context, res window.Result) Classification {
	cls := c.Evaluate(ctx, res)
	if cls.Label != posture.LabelInsufficient {
		c.state = cls.Label
	}
	return cls
}

// Evaluate labels res against the current state without changing it.
func (c *Classifier) Evaluate(ctx context.Context, res window.Result) Classification {
	if res.Insufficient() {
		return Classification{
			Label:      posture.LabelInsufficient,
			Thresholds: c.thresholds,
			Reason:     fmt.Sprintf("%s: %d frames", posture.ReasonInsufficientFrames, res.FrameCount),
		}
	}

	angle := res.Stats.TrimmedMean
	thr := c.thresholdLabel(angle)
	cls := Classification{
		Label:          thr,
		ThresholdLabel: thr,
		Angle:          angle,
		Thresholds:     c.thresholds,
	}

	if c.predictor != nil {
		probs, err := c.predict(ctx, res.MeanFeatures)
		if err != nil {
			cls.ModelError = fmt.Sprintf("%s: %v", posture.ReasonModelInferenceFailure, err)
		} else {
			cls.Probabilities = &probs
			cls.Label, cls.CombinedScore = c.ensemble(thr, probs.Slouch)
		}
	}
	cls.Reason = c.describe(cls)
	return cls
}

// thresholdLabel applies the hysteresis state machine.
func (c *Classifier) thresholdLabel(angle float64) posture.Label {
	t, m := c.thresholds, c.cfg.HysteresisMargin
	switch c.state {
	case posture.LabelGood:
		switch {
		case angle <= t.Mild+m:
			return posture.LabelGood
		case angle <= t.Bad+m:
			return posture.LabelMild
		}
		return posture.LabelBad
	case posture.LabelMild:
		switch {
		case angle <= t.Good:
			return posture.LabelGood
		case angle > t.Bad:
			return posture.LabelBad
		}
		return posture.LabelMild
	}
	switch {
	case angle <= t.Good:
		return posture.LabelGood
	case angle <= t.Bad:
		return posture.LabelMild
	}
	return posture.LabelBad
}

// ensemble blends the threshold verdict with the model's slouch probability.
func (c *Classifier) ensemble(thr posture.Label, pSlouch float64) (posture.Label, float64) {
	var indicator float64
	if thr == posture.LabelBad {
		indicator = 1
	}
	combined := c.cfg.ModelWeight*pSlouch + c.cfg.ThresholdWeight*indicator
	if thr == posture.LabelBad && pSlouch > 0.5 {
		return posture.LabelBad, combined
	}
	if combined > 0.5 {
		return posture.LabelBad, combined
	}
	if thr == posture.LabelBad {
		return posture.LabelMild, combined
	}
	return thr, combined
}

type predictResult struct {
	probs model.Probabilities
	err   error
}

// predict runs the model with the configured deadline. A predictor that
// ignores ctx is abandoned when the deadline passes.
func (c *Classifier) predict(ctx context.Context, fv posture.FeatureVector) (model.Probabilities, error) {
	if c.cfg.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.InferenceTimeout)
		defer cancel()
	}

	done := make(chan predictResult, 1)
	p := c.predictor
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- predictResult{err: fmt.Errorf("%w: panic: %v", model.ErrModelInference, r)}
			}
		}()
		probs, err := p.Predict(ctx, fv)
		done <- predictResult{probs: probs, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && (math.IsNaN(r.probs.Slouch) || r.probs.Slouch < 0 || r.probs.Slouch > 1) {
			return model.Probabilities{}, fmt.Errorf("%w: slouch probability %v out of range", model.ErrModelInference, r.probs.Slouch)
		}
		return r.probs, r.err
	case <-ctx.Done():
		return model.Probabilities{}, fmt.Errorf("%w: %v", model.ErrModelInference, ctx.Err())
	}
}

func (c *Classifier) describe(cls Classification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "angle %.1f deg vs thresholds %.1f/%.1f/%.1f",
		cls.Angle, cls.Thresholds.Good, cls.Thresholds.Mild, cls.Thresholds.Bad)
	if cls.Probabilities != nil {
		fmt.Fprintf(&b, ", model p(slouch)=%.2f combined=%.2f", cls.Probabilities.Slouch, cls.CombinedScore)
	}
	if cls.ModelError != "" {
		b.WriteString(", threshold-only fallback")
	}
	return b.String()
}

// UpdateBaseline folds a good window's absolute median angle into the
// baseline and re-derives the personalised thresholds. Insufficient windows
// are ignored. It returns the new baseline.
func (c *Classifier) UpdateBaseline(res window.Result) float64 {
	if res.Insufficient() {
		return c.baseline
	}
	a := c.cfg.BaselineAlpha
	c.baseline = (1-a)*c.baseline + a*res.AbsoluteMedian
	c.thresholds = c.personalize(res.Stats.Median)
	c.personalized = true
	return c.baseline
}

func (c *Classifier) personalize(median float64) Thresholds {
	s := c.cfg.Static
	clamp := func(v, static float64) float64 {
		return math.Min(math.Max(v, static-c.cfg.FloorMargin), static+c.cfg.CeilingMargin)
	}
	return Thresholds{
		Good: clamp(median+c.cfg.GoodOffset, s.Good),
		Mild: clamp(median+c.cfg.MildOffset, s.Mild),
		Bad:  clamp(median+c.cfg.BadOffset, s.Bad),
	}
}
