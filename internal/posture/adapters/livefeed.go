package adapters

import (
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/alert"
	"github.com/banshee-data/posture.report/internal/posture/detector"
)

const (
	// DefaultFeedCapacity is how many window statuses the feed keeps.
	DefaultFeedCapacity = 20

	EventWindow = "posture_window"
	EventAlert  = "posture_alert"
)

// Broadcaster pushes an event to connected live clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// LiveFeed keeps the most recent window statuses in memory and forwards
// every status and alert to an optional broadcaster.
type LiveFeed struct {
	mu          sync.RWMutex
	capacity    int
	recent      []detector.WindowStatus
	lastAlert   *alert.Payload
	broadcaster Broadcaster
}

// NewLiveFeed creates a feed holding up to capacity statuses.
func NewLiveFeed(capacity int) *LiveFeed {
	if capacity < 1 {
		capacity = DefaultFeedCapacity
	}
	return &LiveFeed{capacity: capacity}
}

// SetBroadcaster attaches b. Nil detaches.
func (f *LiveFeed) SetBroadcaster(b Broadcaster) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcaster = b
}

// OnWindowStatus appends s, evicting the oldest status at capacity.
func (f *LiveFeed) OnWindowStatus(s detector.WindowStatus) error {
	f.mu.Lock()
	if len(f.recent) == f.capacity {
		copy(f.recent, f.recent[1:])
		f.recent = f.recent[:len(f.recent)-1]
	}
	f.recent = append(f.recent, s)
	b := f.broadcaster
	f.mu.Unlock()

	if b != nil {
		b.Broadcast(EventWindow, s)
	}
	return nil
}

// OnAlert records p as the last alert and broadcasts it.
func (f *LiveFeed) OnAlert(p alert.Payload) error {
	f.mu.Lock()
	f.lastAlert = &p
	b := f.broadcaster
	f.mu.Unlock()

	if b != nil {
		b.Broadcast(EventAlert, p)
	}
	return nil
}

// Recent returns up to n statuses, oldest first. n <= 0 returns all.
func (f *LiveFeed) Recent(n int) []detector.WindowStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if n <= 0 || n > len(f.recent) {
		n = len(f.recent)
	}
	out := make([]detector.WindowStatus, n)
	copy(out, f.recent[len(f.recent)-n:])
	return out
}

// LastAlert returns the most recent alert, if any.
func (f *LiveFeed) LastAlert() (alert.Payload, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastAlert == nil {
		return alert.Payload{}, false
	}
	return *f.lastAlert, true
}

// Summary counts labels across the retained statuses.
type Summary struct {
	Windows int            `json:"windows"`
	Labels  map[string]int `json:"labels"`
	Since   time.Time      `json:"since,omitempty"`
}

// Summary returns label counts over the retained statuses.
func (f *LiveFeed) Summary() Summary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := Summary{Windows: len(f.recent), Labels: map[string]int{}}
	if len(f.recent) > 0 {
		s.Since = f.recent[0].Start
	}
	for _, w := range f.recent {
		s.Labels[string(w.Label)]++
	}
	return s
}
