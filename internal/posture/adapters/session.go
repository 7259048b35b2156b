// Package adapters turns detector output into side effects: persisted
// session history and the in-memory live feed.
//
// Dependency rule: adapters may import detector and db; the detector never
// imports adapters.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/posture/alert"
	"github.com/banshee-data/posture.report/internal/posture/detector"
)

// SessionStore is the persistence the session recorder needs. *db.DB
// satisfies it.
type SessionStore interface {
	CurrentSession(ctx context.Context) (*db.Session, error)
	InsertWindow(ctx context.Context, w *db.PostureWindow) error
	InsertAlert(ctx context.Context, a *db.PostureAlert) error
}

// SessionRecorder stores every closed window and fired alert against the
// current active session. Output arriving while no session is active, or
// while it is paused, is dropped.
type SessionRecorder struct {
	store   SessionStore
	timeout time.Duration
}

// NewSessionRecorder creates a recorder. timeout bounds each write.
func NewSessionRecorder(store SessionStore, timeout time.Duration) *SessionRecorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SessionRecorder{store: store, timeout: timeout}
}

func (r *SessionRecorder) activeSession(ctx context.Context) (*db.Session, error) {
	s, err := r.store.CurrentSession(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Status != db.SessionActive {
		return nil, nil
	}
	return s, nil
}

// OnWindowStatus persists s.
func (r *SessionRecorder) OnWindowStatus(s detector.WindowStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	sess, err := r.activeSession(ctx)
	if err != nil || sess == nil {
		return err
	}
	w, err := WindowFromStatus(sess.ID, s)
	if err != nil {
		return err
	}
	return r.store.InsertWindow(ctx, w)
}

// OnAlert persists p.
func (r *SessionRecorder) OnAlert(p alert.Payload) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	sess, err := r.activeSession(ctx)
	if err != nil || sess == nil {
		return err
	}
	return r.store.InsertAlert(ctx, &db.PostureAlert{
		SessionID:        sess.ID,
		FiredAt:          p.Timestamp,
		Message:          p.Message,
		BadPersistenceMs: p.BadPersistenceMs,
		AudioAllowed:     p.AudioAllowed,
	})
}

// WindowFromStatus converts a window status into its stored row.
func WindowFromStatus(sessionID string, s detector.WindowStatus) (*db.PostureWindow, error) {
	w := &db.PostureWindow{
		SessionID:  sessionID,
		Label:      string(s.Label),
		Start:      s.Start,
		End:        s.End,
		FrameCount: s.FrameCount,
		Baseline:   s.Baseline,
		Reason:     s.Reason,
		AlertFired: s.AlertFired,
	}
	if s.Stats != nil {
		raw, err := json.Marshal(s.Stats)
		if err != nil {
			return nil, fmt.Errorf("encode window stats: %w", err)
		}
		w.StatsJSON = string(raw)
		angle := s.Classification.Angle
		w.AngleDeg = &angle
	}
	if p := s.Classification.Probabilities; p != nil {
		prob := p.Slouch
		w.SlouchProb = &prob
	}
	return w, nil
}
