package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostureWindow is one closed detector window stored against a session.
type PostureWindow struct {
	ID         string    `json:"window_id"`
	SessionID  string    `json:"session_id"`
	Label      string    `json:"label"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	FrameCount int       `json:"frame_count"`
	// AngleDeg and StatsJSON are empty for insufficient windows.
	AngleDeg   *float64 `json:"angle_deg,omitempty"`
	StatsJSON  string   `json:"stats_json,omitempty"`
	Baseline   float64  `json:"baseline_deg"`
	SlouchProb *float64 `json:"slouch_prob,omitempty"`
	Reason     string   `json:"reason"`
	AlertFired bool     `json:"alert_fired"`
}

// labelColumn maps a window label to its sessions accumulator column.
var labelColumn = map[string]string{
	"good":         "good_ms",
	"mild":         "mild_ms",
	"bad":          "bad_ms",
	"insufficient": "insufficient_ms",
}

// InsertWindow stores w and adds its duration to the session's total for
// its label. An empty ID is filled in.
func (db *DB) InsertWindow(ctx context.Context, w *PostureWindow) error {
	col, ok := labelColumn[w.Label]
	if !ok {
		return fmt.Errorf("unknown window label %q", w.Label)
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	durMs := w.End.Sub(w.Start).Milliseconds()
	if durMs < 0 {
		durMs = 0
	}

	var stats sql.NullString
	if w.StatsJSON != "" {
		stats = sql.NullString{String: w.StatsJSON, Valid: true}
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posture_windows (
				window_id, session_id, label, start_unix_ms, end_unix_ms, frame_count,
				angle_deg, stats_json, baseline_deg, slouch_prob, reason, alert_fired
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.SessionID, w.Label, toUnixMs(w.Start), toUnixMs(w.End), w.FrameCount,
			nullFloat(w.AngleDeg), stats, w.Baseline, nullFloat(w.SlouchProb), w.Reason, w.AlertFired,
		); err != nil {
			return fmt.Errorf("failed to insert window: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET `+col+` = `+col+` + ?, window_count = window_count + 1 WHERE session_id = ?`,
			durMs, w.SessionID)
		if err != nil {
			return fmt.Errorf("failed to update session totals: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", w.SessionID, ErrNotFound)
		}
		return nil
	})
}

// ListWindows returns a session's windows in time order.
func (db *DB) ListWindows(ctx context.Context, sessionID string, limit int) ([]*PostureWindow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx,
		`SELECT window_id, session_id, label, start_unix_ms, end_unix_ms, frame_count,
			angle_deg, stats_json, baseline_deg, slouch_prob, reason, alert_fired
		 FROM posture_windows WHERE session_id = ? ORDER BY start_unix_ms ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PostureWindow
	for rows.Next() {
		var (
			w           PostureWindow
			start, end  int64
			angle, prob sql.NullFloat64
			stats       sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.SessionID, &w.Label, &start, &end, &w.FrameCount,
			&angle, &stats, &w.Baseline, &prob, &w.Reason, &w.AlertFired); err != nil {
			return nil, err
		}
		w.Start = fromUnixMs(start)
		w.End = fromUnixMs(end)
		w.AngleDeg = floatPtr(angle)
		w.SlouchProb = floatPtr(prob)
		w.StatsJSON = stats.String
		out = append(out, &w)
	}
	return out, rows.Err()
}

// PostureAlert is one fired alert.
type PostureAlert struct {
	ID               string    `json:"alert_id"`
	SessionID        string    `json:"session_id"`
	FiredAt          time.Time `json:"fired_at"`
	Message          string    `json:"message"`
	BadPersistenceMs int64     `json:"bad_persistence_ms"`
	AudioAllowed     bool      `json:"audio_allowed"`
}

// InsertAlert stores a and bumps the session's alert count.
func (db *DB) InsertAlert(ctx context.Context, a *PostureAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posture_alerts (alert_id, session_id, fired_unix_ms, message, bad_persistence_ms, audio_allowed)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.SessionID, toUnixMs(a.FiredAt), a.Message, a.BadPersistenceMs, a.AudioAllowed,
		); err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET alert_count = alert_count + 1 WHERE session_id = ?`, a.SessionID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", a.SessionID, ErrNotFound)
		}
		return nil
	})
}

// ListAlerts returns a session's alerts in time order.
func (db *DB) ListAlerts(ctx context.Context, sessionID string) ([]*PostureAlert, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT alert_id, session_id, fired_unix_ms, message, bad_persistence_ms, audio_allowed
		 FROM posture_alerts WHERE session_id = ? ORDER BY fired_unix_ms ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PostureAlert
	for rows.Next() {
		var (
			a     PostureAlert
			fired int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &fired, &a.Message, &a.BadPersistenceMs, &a.AudioAllowed); err != nil {
			return nil, err
		}
		a.FiredAt = fromUnixMs(fired)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
