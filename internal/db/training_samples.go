package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/posture"
)

// InsertTrainingSamples appends labelled feature vectors in one transaction.
// label is "good" or "slouch".
func (db *DB) InsertTrainingSamples(ctx context.Context, label string, vectors []posture.FeatureVector, at time.Time) error {
	if label != "good" && label != "slouch" {
		return fmt.Errorf("unknown training label %q", label)
	}
	if len(vectors) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO training_samples (label, features_json, recorded_unix_ms) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, fv := range vectors {
			if !fv.Finite() {
				return fmt.Errorf("sample %d has non-finite features", i)
			}
			raw, err := json.Marshal(fv)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, label, string(raw), toUnixMs(at)); err != nil {
				return fmt.Errorf("failed to insert sample %d: %w", i, err)
			}
		}
		return nil
	})
}

// TrainingSamples returns every stored vector grouped by label, oldest first.
func (db *DB) TrainingSamples(ctx context.Context) (map[string][]posture.FeatureVector, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT label, features_json FROM training_samples ORDER BY sample_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]posture.FeatureVector{"good": {}, "slouch": {}}
	for rows.Next() {
		var label, raw string
		if err := rows.Scan(&label, &raw); err != nil {
			return nil, err
		}
		var fv posture.FeatureVector
		if err := json.Unmarshal([]byte(raw), &fv); err != nil {
			return nil, fmt.Errorf("corrupt training sample: %w", err)
		}
		out[label] = append(out[label], fv)
	}
	return out, rows.Err()
}

// DeleteTrainingSamples removes every stored sample and returns how many
// were deleted.
func (db *DB) DeleteTrainingSamples(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM training_samples`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
