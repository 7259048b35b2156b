package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Calibration is a stored baseline spine angle for a device.
type Calibration struct {
	ID            string    `json:"calibration_id"`
	DeviceID      string    `json:"device_id"`
	BaselineAngle float64   `json:"baseline_angle"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertCalibration stores c, filling in an empty ID and source.
func (db *DB) InsertCalibration(ctx context.Context, c *Calibration) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Source == "" {
		c.Source = "manual"
	}
	return retryOnBusy(ctx, func() error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO calibrations (calibration_id, device_id, baseline_deg, source, created_unix_ms)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.DeviceID, c.BaselineAngle, c.Source, toUnixMs(c.CreatedAt))
		return err
	})
}

// LatestCalibration returns the newest calibration for deviceID or
// ErrNotFound.
func (db *DB) LatestCalibration(ctx context.Context, deviceID string) (*Calibration, error) {
	var (
		c       Calibration
		created int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT calibration_id, device_id, baseline_deg, source, created_unix_ms
		 FROM calibrations WHERE device_id = ? ORDER BY created_unix_ms DESC LIMIT 1`, deviceID,
	).Scan(&c.ID, &c.DeviceID, &c.BaselineAngle, &c.Source, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calibration for device %q: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromUnixMs(created)
	return &c, nil
}

// ListCalibrations returns calibrations newest first. An empty deviceID
// lists every device.
func (db *DB) ListCalibrations(ctx context.Context, deviceID string, limit int) ([]*Calibration, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT calibration_id, device_id, baseline_deg, source, created_unix_ms FROM calibrations`
	args := []interface{}{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_unix_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Calibration
	for rows.Next() {
		var (
			c       Calibration
			created int64
		)
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.BaselineAngle, &c.Source, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnixMs(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}
