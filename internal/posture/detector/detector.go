package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/alert"
	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/features"
	"github.com/banshee-data/posture.report/internal/posture/keypoints"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/posture/window"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// ErrNoPose is returned by ForceSingleInference when the source has no frame.
var ErrNoPose = errors.New("no pose available")

// WindowStatus is delivered once per closed window.
type WindowStatus struct {
	Label          posture.Label           `json:"label"`
	FrameCount     int                     `json:"frame_count"`
	Start          time.Time               `json:"start"`
	End            time.Time               `json:"end"`
	Stats          *window.Statistics      `json:"stats,omitempty"`
	Classification classify.Classification `json:"classification"`
	Baseline       float64                 `json:"baseline"`
	Reason         string                  `json:"reason"`
	AlertFired     bool                    `json:"alert_fired"`
	AlertGate      string                  `json:"alert_gate"`
}

// Duration returns the span of the window.
func (s WindowStatus) Duration() time.Duration { return s.End.Sub(s.Start) }

// Sink receives detector output. Returned errors and panics are logged on
// the ops stream and never stop the detector.
type Sink interface {
	OnWindowStatus(WindowStatus) error
	OnAlert(alert.Payload) error
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Window func(WindowStatus) error
	Alert  func(alert.Payload) error
}

// OnWindowStatus calls f.Window.
func (f SinkFuncs) OnWindowStatus(s WindowStatus) error {
	if f.Window == nil {
		return nil
	}
	return f.Window(s)
}

// OnAlert calls f.Alert.
func (f SinkFuncs) OnAlert(p alert.Payload) error {
	if f.Alert == nil {
		return nil
	}
	return f.Alert(p)
}

// Options configures a Detector. Source is required.
type Options struct {
	Source    source.Source
	Tuning    *config.TuningConfig // nil uses the built-in defaults
	Predictor classify.Predictor   // nil runs threshold-only
	Clock     timeutil.Clock       // nil uses the real clock
	Sinks     []Sink
}

// Status is a snapshot of the detector state.
type Status struct {
	Running          bool                      `json:"running"`
	ModelLoaded      bool                      `json:"model_loaded"`
	Muted            bool                      `json:"muted"`
	Snoozed          bool                      `json:"snoozed"`
	SnoozeUntil      time.Time                 `json:"snooze_until,omitempty"`
	GestureGranted   bool                      `json:"gesture_granted"`
	HistoryDepth     int                       `json:"history_depth"`
	BadPersistenceMs int64                     `json:"bad_persistence_ms"`
	LastAlert        time.Time                 `json:"last_alert,omitempty"`
	Baseline         float64                   `json:"baseline"`
	Thresholds       classify.Thresholds       `json:"thresholds"`
	Personalized     bool                      `json:"personalized"`
	State            posture.Label             `json:"state,omitempty"`
	WindowFrames     int                       `json:"window_frames"`
	FramesAccepted   uint64                    `json:"frames_accepted"`
	FramesRejected   map[posture.Reason]uint64 `json:"frames_rejected"`
}

// Detector runs the posture pipeline for one keypoint stream.
type Detector struct {
	src   source.Source
	clock timeutil.Clock
	sinks []Sink

	tickInterval  time.Duration
	checkInterval time.Duration

	mu         sync.Mutex
	extractor  *features.Extractor
	aggregator *window.Aggregator
	classifier *classify.Classifier
	engine     *alert.Engine
	accepted   uint64
	rejected   map[posture.Reason]uint64

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a stopped Detector.
func New(opts Options) (*Detector, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("detector: source is required")
	}
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := &Detector{
		src:           opts.Source,
		clock:         clock,
		sinks:         append([]Sink(nil), opts.Sinks...),
		tickInterval:  tuning.GetTickInterval(),
		checkInterval: tuning.GetWindowCheckInterval(),
		extractor:     features.NewExtractor(features.ConfigFromTuning(tuning)),
		aggregator:    window.NewAggregator(window.ConfigFromTuning(tuning)),
		classifier:    classify.New(classify.ConfigFromTuning(tuning), opts.Predictor),
		engine:        alert.NewEngine(alert.ConfigFromTuning(tuning)),
		rejected:      make(map[posture.Reason]uint64),
	}
	if d.tickInterval <= 0 || d.checkInterval <= 0 {
		return nil, fmt.Errorf("detector: tick and check intervals must be positive")
	}
	return d, nil
}

// Start opens a window and begins the tick loop. Calling Start on a running
// detector does nothing.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.aggregator.Start(d.clock.Now())
	go d.run(d.stopCh, d.doneCh)
	monitoring.Opsf("detector started: tick=%v check=%v", d.tickInterval, d.checkInterval)
}

// Stop cancels both tickers, waits for the loop to exit and clears the frame
// and window buffers. No sink is called by the loop after Stop returns.
// Stop must not be called from inside a Sink.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	done := d.doneCh
	d.mu.Unlock()

	<-done

	d.mu.Lock()
	d.aggregator.Reset()
	d.extractor.Reset()
	d.classifier.ResetState()
	d.engine.ClearHistory()
	d.mu.Unlock()
	monitoring.Opsf("detector stopped")
}

// Running reports whether the tick loop is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Detector) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	frames := d.clock.NewTicker(d.tickInterval)
	defer frames.Stop()
	checks := d.clock.NewTicker(d.checkInterval)
	defer checks.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-frames.C():
			d.Tick(now)
		case now := <-checks.C():
			d.CheckWindow(now)
		}
	}
}

// Tick polls the source once and feeds an accepted frame into the current
// window. Missing or rejected frames are counted and traced, never returned.
func (d *Detector) Tick(now time.Time) {
	kp, ok := d.src.Poll()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.aggregator.Started() {
		d.aggregator.Start(now)
	}
	if !ok {
		return
	}
	res, err := d.extractor.Extract(kp, d.classifier.Baseline())
	if err != nil {
		d.reject(err)
		return
	}
	err = d.aggregator.AddSample(window.Sample{
		Features:   res.Features,
		Confidence: res.Features[posture.AvgConfidence],
		Weight:     res.FrameQuality,
		Timestamp:  now,
	})
	if err != nil {
		d.reject(err)
		return
	}
	d.accepted++
}

func (d *Detector) reject(err error) {
	reason := posture.ReasonOf(err)
	if reason == "" {
		reason = posture.ReasonInvalidFeatures
	}
	d.rejected[reason]++
	monitoring.Tracef("frame rejected: %v", err)
}

// CheckWindow closes the current window when its duration has elapsed at
// now, classifies it, updates the baseline on good windows, records the
// label for the alert engine and notifies the sinks. It returns the status
// and true when a window closed.
func (d *Detector) CheckWindow(now time.Time) (WindowStatus, bool) {
	d.mu.Lock()
	if !d.aggregator.IsWindowComplete(now) {
		d.mu.Unlock()
		return WindowStatus{}, false
	}
	res := d.aggregator.Close(now)
	cls := d.classifier.Classify(context.Background(), res)
	if cls.ModelError != "" {
		monitoring.Opsf("model inference failed, using thresholds: %s", cls.ModelError)
	}
	if cls.Label == posture.LabelGood {
		before := d.classifier.Baseline()
		after := d.classifier.UpdateBaseline(res)
		monitoring.Diagf("baseline %.2f -> %.2f thresholds=%+v", before, after, d.classifier.Thresholds())
	}
	d.engine.RecordWindow(alert.WindowRecord{
		Label:     cls.Label,
		Timestamp: now,
		Duration:  res.Duration(),
		Stats:     res.Stats,
	})
	payload, fired, gate := d.engine.Evaluate(now)

	status := WindowStatus{
		Label:          cls.Label,
		FrameCount:     res.FrameCount,
		Start:          res.Start,
		End:            res.End,
		Stats:          res.Stats,
		Classification: cls,
		Baseline:       d.classifier.Baseline(),
		Reason:         cls.Reason,
		AlertFired:     fired,
		AlertGate:      gate,
	}
	d.mu.Unlock()

	monitoring.Diagf("window closed label=%s frames=%d alert=%t gate=%q", status.Label, status.FrameCount, fired, gate)
	d.notifyWindow(status)
	if fired {
		d.notifyAlert(payload)
	}
	return status, true
}

func (d *Detector) notifyWindow(s WindowStatus) {
	for i, sink := range d.sinks {
		safeCall(fmt.Sprintf("window sink %d", i), func() error { return sink.OnWindowStatus(s) })
	}
}

func (d *Detector) notifyAlert(p alert.Payload) {
	for i, sink := range d.sinks {
		safeCall(fmt.Sprintf("alert sink %d", i), func() error { return sink.OnAlert(p) })
	}
}

func safeCall(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Opsf("%s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		monitoring.Opsf("%s failed: %v", name, err)
	}
}

// currentFrame reads the source without consuming it when the source
// supports that, so a forced inference does not take a frame from the
// running window.
func (d *Detector) currentFrame() (keypoints.Keypoints, bool) {
	if p, ok := d.src.(source.Peeker); ok {
		return p.Peek()
	}
	return d.src.Poll()
}

// ForceSingleInference classifies the source's current frame as a one-frame
// window without touching the median filter, hysteresis state, history or
// baseline.
func (d *Detector) ForceSingleInference(ctx context.Context) (classify.Classification, error) {
	kp, ok := d.currentFrame()
	if !ok {
		return classify.Classification{}, ErrNoPose
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.extractor.Preview(kp, d.classifier.Baseline())
	if err != nil {
		return classify.Classification{}, err
	}
	stats := window.ComputeWeighted(
		[]float64{res.Features[posture.SpineAngleRelative]},
		[]float64{res.FrameQuality},
	)
	now := d.clock.Now()
	return d.classifier.Evaluate(ctx, window.Result{
		Start:          now,
		End:            now,
		FrameCount:     1,
		Stats:          &stats,
		AbsoluteMedian: res.Features[posture.SpineAngle],
		MeanFeatures:   res.Features,
	}), nil
}

// Mute enables or disables alerts.
func (d *Detector) Mute(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine.Mute(muted)
}

// Snooze suppresses alerts for the given number of minutes. Zero or a
// negative value clears the snooze.
func (d *Detector) Snooze(minutes float64) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	var until time.Time
	if minutes > 0 {
		until = d.clock.Now().Add(time.Duration(minutes * float64(time.Minute)))
	}
	d.engine.Snooze(until)
	return until
}

// SetUserGestureGranted marks audio playback as permitted.
func (d *Detector) SetUserGestureGranted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine.SetUserGestureGranted()
}

// SetBaseline overrides the baseline spine angle.
func (d *Detector) SetBaseline(angle float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classifier.SetBaseline(angle)
}

// SetPredictor attaches a model, or detaches it when p is nil.
func (d *Detector) SetPredictor(p classify.Predictor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classifier.SetPredictor(p)
}

// Status returns a snapshot of the detector.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	es := d.engine.Status(d.clock.Now())
	rejected := make(map[posture.Reason]uint64, len(d.rejected))
	for k, v := range d.rejected {
		rejected[k] = v
	}
	return Status{
		Running:          d.running,
		ModelLoaded:      d.classifier.HasModel(),
		Muted:            es.Muted,
		Snoozed:          es.Snoozed,
		SnoozeUntil:      es.SnoozeUntil,
		GestureGranted:   es.GestureGranted,
		HistoryDepth:     es.HistoryDepth,
		BadPersistenceMs: es.BadPersistenceMs,
		LastAlert:        es.LastAlert,
		Baseline:         d.classifier.Baseline(),
		Thresholds:       d.classifier.Thresholds(),
		Personalized:     d.classifier.Personalized(),
		State:            d.classifier.State(),
		WindowFrames:     d.aggregator.Len(),
		FramesAccepted:   d.accepted,
		FramesRejected:   rejected,
	}
}
