// Package alert is the temporal voter: it keeps a bounded history of window
// labels and decides when persistent slouching warrants an alert.
package alert

import (
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/window"
)

// Message is the fixed text delivered with every alert.
const Message = "Please sit up straight. You have been slouching for a while."

// Config holds alert gating parameters.
type Config struct {
	HistorySize   int           // FIFO window-label capacity
	RequiredVotes int           // bad windows needed in history
	Persistence   time.Duration // cumulative bad duration before alerting
	Cooldown      time.Duration // minimum gap between alerts
}

// DefaultConfig returns the built-in alert parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		HistorySize:   cfg.GetWindowsHistory(),
		RequiredVotes: cfg.GetRequiredVotes(),
		Persistence:   cfg.GetPersistence(),
		Cooldown:      cfg.GetAlertCooldown(),
	}
}

// WindowRecord is one entry in the label history.
type WindowRecord struct {
	Label     posture.Label      `json:"label"`
	Timestamp time.Time          `json:"timestamp"`
	Duration  time.Duration      `json:"duration"`
	Stats     *window.Statistics `json:"stats,omitempty"`
}

// Payload is delivered to the alert callback.
type Payload struct {
	Label            posture.Label `json:"label"`
	Message          string        `json:"message"`
	Timestamp        time.Time     `json:"timestamp"`
	BadPersistenceMs int64         `json:"bad_persistence_ms"`
	// AudioAllowed is false until the user has interacted with the page.
	// Consumers must suppress audio playback while it is false.
	AudioAllowed bool `json:"audio_allowed"`
}

// Status is a snapshot of the engine state.
type Status struct {
	HistoryDepth     int       `json:"history_depth"`
	BadPersistenceMs int64     `json:"bad_persistence_ms"`
	Muted            bool      `json:"muted"`
	Snoozed          bool      `json:"snoozed"`
	SnoozeUntil      time.Time `json:"snooze_until,omitempty"`
	LastAlert        time.Time `json:"last_alert,omitempty"`
	GestureGranted   bool      `json:"gesture_granted"`
}

// Engine is the alert state machine. It is not safe for concurrent use.
type Engine struct {
	cfg         Config
	history     []WindowRecord
	lastAlert   time.Time
	alerted     bool
	muted       bool
	snoozeUntil time.Time
	gesture     bool
}

// NewEngine creates an Engine with empty history.
func NewEngine(cfg Config) *Engine {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	return &Engine{cfg: cfg, history: make([]WindowRecord, 0, cfg.HistorySize)}
}

// RecordWindow appends rec, evicting the oldest record when full.
// Insufficient windows are kept and count as non-bad.
func (e *Engine) RecordWindow(rec WindowRecord) {
	if len(e.history) == e.cfg.HistorySize {
		copy(e.history, e.history[1:])
		e.history = e.history[:len(e.history)-1]
	}
	e.history = append(e.history, rec)
}

// History returns a copy of the label history, oldest first.
func (e *Engine) History() []WindowRecord {
	out := make([]WindowRecord, len(e.history))
	copy(out, e.history)
	return out
}

// BadPersistence sums the durations of bad windows in the history.
func (e *Engine) BadPersistence() time.Duration {
	var total time.Duration
	for _, r := range e.history {
		if r.Label == posture.LabelBad {
			total += r.Duration
		}
	}
	return total
}

func (e *Engine) badVotes() int {
	n := 0
	for _, r := range e.history {
		if r.Label == posture.LabelBad {
			n++
		}
	}
	return n
}

func (e *Engine) lastTwoBad() bool {
	n := len(e.history)
	return n >= 2 && e.history[n-1].Label == posture.LabelBad && e.history[n-2].Label == posture.LabelBad
}

// ShouldAlert evaluates every gate at now. When it returns false the string
// names the first gate that blocked.
func (e *Engine) ShouldAlert(now time.Time) (bool, string) {
	if len(e.history) < 2 {
		return false, fmt.Sprintf("history depth %d < 2", len(e.history))
	}
	if votes := e.badVotes(); !e.lastTwoBad() && votes < e.cfg.RequiredVotes {
		return false, fmt.Sprintf("bad votes %d < %d", votes, e.cfg.RequiredVotes)
	}
	if p := e.BadPersistence(); p < e.cfg.Persistence {
		return false, fmt.Sprintf("bad persistence %s < %s", p, e.cfg.Persistence)
	}
	if e.alerted {
		if since := now.Sub(e.lastAlert); since < e.cfg.Cooldown {
			return false, fmt.Sprintf("cooldown: %s since last alert", since)
		}
	}
	if e.muted {
		return false, "muted"
	}
	if now.Before(e.snoozeUntil) {
		return false, fmt.Sprintf("snoozed until %s", e.snoozeUntil.Format(time.RFC3339))
	}
	return true, "persistent bad posture"
}

// Fire records an alert at now and returns its payload. Callers normally
// check ShouldAlert first.
func (e *Engine) Fire(now time.Time) Payload {
	e.lastAlert = now
	e.alerted = true
	return Payload{
		Label:            posture.LabelBad,
		Message:          Message,
		Timestamp:        now,
		BadPersistenceMs: e.BadPersistence().Milliseconds(),
		AudioAllowed:     e.gesture,
	}
}

// Evaluate fires and returns a payload when every gate passes.
func (e *Engine) Evaluate(now time.Time) (Payload, bool, string) {
	ok, reason := e.ShouldAlert(now)
	if !ok {
		return Payload{}, false, reason
	}
	return e.Fire(now), true, reason
}

// Mute enables or disables alerting.
func (e *Engine) Mute(muted bool) { e.muted = muted }

// Snooze suppresses alerts until the given time. A zero time clears it.
func (e *Engine) Snooze(until time.Time) { e.snoozeUntil = until }

// SetUserGestureGranted records that audio playback is now permitted.
func (e *Engine) SetUserGestureGranted() { e.gesture = true }

// Status returns a snapshot at now.
func (e *Engine) Status(now time.Time) Status {
	s := Status{
		HistoryDepth:     len(e.history),
		BadPersistenceMs: e.BadPersistence().Milliseconds(),
		Muted:            e.muted,
		Snoozed:          now.Before(e.snoozeUntil),
		GestureGranted:   e.gesture,
	}
	if s.Snoozed {
		s.SnoozeUntil = e.snoozeUntil
	}
	if e.alerted {
		s.LastAlert = e.lastAlert
	}
	return s
}

// ClearHistory drops the label history. Mute, snooze, gesture and cooldown
// state are kept.
func (e *Engine) ClearHistory() {
	e.history = e.history[:0]
}
