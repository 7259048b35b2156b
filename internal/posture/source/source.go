// Package source provides keypoint sources polled by the detector.
//
// Sources are pull-based: Poll returns the next frame or false when no pose
// is available, which is a normal condition rather than an error.
package source

import (
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/keypoints"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// Source yields keypoint frames on demand.
type Source interface {
	Poll() (keypoints.Keypoints, bool)
}

// Peeker is implemented by sources that can show their current frame
// without consuming it.
type Peeker interface {
	Peek() (keypoints.Keypoints, bool)
}

// Func adapts a function to Source.
type Func func() (keypoints.Keypoints, bool)

// Poll calls f.
func (f Func) Poll() (keypoints.Keypoints, bool) { return f() }

// LatestFrame is a single-slot inbox: Push overwrites any frame that has not
// been polled yet and Poll hands each frame out at most once. Frames older
// than MaxAge are dropped on Poll.
type LatestFrame struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	maxAge   time.Duration
	frame    keypoints.Keypoints
	at       time.Time
	pending  bool
	seen     bool
	pushed   uint64
	dropped  uint64
	consumed uint64
}

// NewLatestFrame creates an empty inbox. maxAge <= 0 disables the age check.
func NewLatestFrame(clock timeutil.Clock, maxAge time.Duration) *LatestFrame {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LatestFrame{clock: clock, maxAge: maxAge}
}

// Push stores kp as the newest frame.
func (l *LatestFrame) Push(kp keypoints.Keypoints) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending {
		l.dropped++
	}
	l.frame = kp
	l.at = l.clock.Now()
	l.pending = true
	l.seen = true
	l.pushed++
}

// Poll returns the pending frame, if any and still fresh.
func (l *LatestFrame) Poll() (keypoints.Keypoints, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return keypoints.Keypoints{}, false
	}
	l.pending = false
	if l.maxAge > 0 && l.clock.Since(l.at) > l.maxAge {
		l.dropped++
		return keypoints.Keypoints{}, false
	}
	l.consumed++
	return l.frame, true
}

// Peek returns the newest frame while it is fresh, whether or not Poll has
// already handed it out. It changes no state or counters.
func (l *LatestFrame) Peek() (keypoints.Keypoints, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.seen || (l.maxAge > 0 && l.clock.Since(l.at) > l.maxAge) {
		return keypoints.Keypoints{}, false
	}
	return l.frame, true
}

// Stats reports frames pushed, overwritten or expired, and consumed.
type Stats struct {
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
	Consumed uint64 `json:"consumed"`
}

// Stats returns inbox counters.
func (l *LatestFrame) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Pushed: l.pushed, Dropped: l.dropped, Consumed: l.consumed}
}
