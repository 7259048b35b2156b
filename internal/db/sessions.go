package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a monitoring session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionEnded  SessionStatus = "ended"
)

// ErrInvalidTransition is returned for a pause, resume or end that does not
// apply to the session's current status.
var ErrInvalidTransition = errors.New("invalid session transition")

// Session is one monitoring run with accumulated time per window label.
type Session struct {
	ID             string        `json:"session_id"`
	DeviceID       string        `json:"device_id"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	PausedAt       *time.Time    `json:"paused_at,omitempty"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	PausedTotalMs  int64         `json:"paused_total_ms"`
	GoodMs         int64         `json:"good_ms"`
	MildMs         int64         `json:"mild_ms"`
	BadMs          int64         `json:"bad_ms"`
	InsufficientMs int64         `json:"insufficient_ms"`
	WindowCount    int           `json:"window_count"`
	AlertCount     int           `json:"alert_count"`
}

const sessionColumns = `session_id, device_id, status, started_unix_ms, paused_unix_ms, ended_unix_ms,
	paused_total_ms, good_ms, mild_ms, bad_ms, insufficient_ms, window_count, alert_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s             Session
		status        string
		started       int64
		paused, ended sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.DeviceID, &status, &started, &paused, &ended,
		&s.PausedTotalMs, &s.GoodMs, &s.MildMs, &s.BadMs, &s.InsufficientMs,
		&s.WindowCount, &s.AlertCount); err != nil {
		return nil, err
	}
	s.Status = SessionStatus(status)
	s.StartedAt = fromUnixMs(started)
	s.PausedAt = nullableTime(paused)
	s.EndedAt = nullableTime(ended)
	return &s, nil
}

// StartSession creates an active session.
func (db *DB) StartSession(ctx context.Context, deviceID string, now time.Time) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Status:    SessionActive,
		StartedAt: fromUnixMs(toUnixMs(now)),
	}
	err := retryOnBusy(ctx, func() error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, device_id, status, started_unix_ms) VALUES (?, ?, ?, ?)`,
			s.ID, s.DeviceID, string(s.Status), toUnixMs(now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// GetSession returns the session with id or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, err
}

// ListSessions returns the most recent sessions first.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CurrentSession returns the newest session that has not ended, or
// ErrNotFound.
func (db *DB) CurrentSession(ctx context.Context) (*Session, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status != 'ended' ORDER BY started_unix_ms DESC LIMIT 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no open session: %w", ErrNotFound)
	}
	return s, err
}

// PauseSession moves an active session to paused.
func (db *DB) PauseSession(ctx context.Context, id string, now time.Time) (*Session, error) {
	return db.transition(ctx, id, func(tx *sql.Tx, s *Session) error {
		if s.Status != SessionActive {
			return fmt.Errorf("%w: cannot pause a %s session", ErrInvalidTransition, s.Status)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = 'paused', paused_unix_ms = ? WHERE session_id = ?`,
			toUnixMs(now), id)
		return err
	})
}

// ResumeSession moves a paused session back to active and adds the pause
// to its paused total.
func (db *DB) ResumeSession(ctx context.Context, id string, now time.Time) (*Session, error) {
	return db.transition(ctx, id, func(tx *sql.Tx, s *Session) error {
		if s.Status != SessionPaused {
			return fmt.Errorf("%w: cannot resume a %s session", ErrInvalidTransition, s.Status)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sessions
			 SET status = 'active',
			     paused_total_ms = paused_total_ms + MAX(0, ? - COALESCE(paused_unix_ms, ?)),
			     paused_unix_ms = NULL
			 WHERE session_id = ?`,
			toUnixMs(now), toUnixMs(now), id)
		return err
	})
}

// EndSession closes an active or paused session.
func (db *DB) EndSession(ctx context.Context, id string, now time.Time) (*Session, error) {
	return db.transition(ctx, id, func(tx *sql.Tx, s *Session) error {
		if s.Status == SessionEnded {
			return fmt.Errorf("%w: session already ended", ErrInvalidTransition)
		}
		ms := toUnixMs(now)
		_, err := tx.ExecContext(ctx,
			`UPDATE sessions
			 SET status = 'ended',
			     ended_unix_ms = ?,
			     paused_total_ms = paused_total_ms + CASE WHEN paused_unix_ms IS NULL THEN 0 ELSE MAX(0, ? - paused_unix_ms) END,
			     paused_unix_ms = NULL
			 WHERE session_id = ?`,
			ms, ms, id)
		return err
	})
}

func (db *DB) transition(ctx context.Context, id string, apply func(*sql.Tx, *Session) error) (*Session, error) {
	var out *Session
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := apply(tx, s); err != nil {
			return err
		}
		out, err = scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
