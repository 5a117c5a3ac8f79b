package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// State tracks the sensor-wide learning window. The window is wall
// clock, started once at first boot, and survives restarts.
type State struct {
	StartedAt time.Time
	EndsAt    time.Time
	Completed bool
}

// BaselineStore provides database operations for connection baselines.
type BaselineStore struct {
	db *sql.DB
}

// NewBaselineStore creates a store backed by the given database.
func NewBaselineStore(db *sql.DB) *BaselineStore {
	return &BaselineStore{db: db}
}

// LoadState returns the persisted learning state, initializing it on
// first run with the given duration.
func (s *BaselineStore) LoadState(ctx context.Context, duration time.Duration) (State, error) {
	var st State
	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT learning_started_at, learning_ends_at, completed FROM baseline_state WHERE id = 1`).
		Scan(&st.StartedAt, &st.EndsAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now().UTC()
		st = State{StartedAt: now, EndsAt: now.Add(duration)}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO baseline_state (id, learning_started_at, learning_ends_at) VALUES (1, ?, ?)`,
			st.StartedAt, st.EndsAt)
		if err != nil {
			return State{}, fmt.Errorf("init baseline state: %w", err)
		}
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load baseline state: %w", err)
	}
	st.Completed = completed != 0
	return st, nil
}

// MarkCompleted flags the learning window as finished.
func (s *BaselineStore) MarkCompleted(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE baseline_state SET completed = 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("mark learning completed: %w", err)
	}
	return nil
}

// Upsert records one observed destination, bumping hit_count on repeat.
// anomalous marks rows created after learning ended so a destination is
// flagged once and only once.
func (s *BaselineStore) Upsert(ctx context.Context, deviceID string, dest models.Destination, anomalous bool) error {
	now := time.Now().UTC()
	flag := 0
	if anomalous {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_baselines (id, device_id, dest_ip, dest_port, hit_count, anomalous, first_seen, last_seen)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (device_id, dest_ip, dest_port) DO UPDATE SET
			hit_count = hit_count + 1,
			last_seen = excluded.last_seen`,
		uuid.New().String(), deviceID, dest.IP, dest.Port, flag, now, now)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// Known reports whether the destination is already in the device's
// baseline (learned or previously flagged).
func (s *BaselineStore) Known(ctx context.Context, deviceID string, dest models.Destination) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connection_baselines
		WHERE device_id = ? AND dest_ip = ? AND dest_port = ?`,
		deviceID, dest.IP, dest.Port).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("baseline lookup: %w", err)
	}
	return n > 0, nil
}

// HasBaseline reports whether the device learned anything at all. A
// device with no baseline is never flagged.
func (s *BaselineStore) HasBaseline(ctx context.Context, deviceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connection_baselines
		WHERE device_id = ? AND anomalous = 0`, deviceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("baseline presence check: %w", err)
	}
	return n > 0, nil
}

// List returns a device's baseline entries.
func (s *BaselineStore) List(ctx context.Context, deviceID string) ([]models.ConnectionBaseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, dest_ip, dest_port, hit_count, first_seen, last_seen
		FROM connection_baselines WHERE device_id = ? ORDER BY dest_ip, dest_port`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var out []models.ConnectionBaseline
	for rows.Next() {
		var b models.ConnectionBaseline
		if err := rows.Scan(&b.ID, &b.DeviceID, &b.DestIP, &b.DestPort,
			&b.HitCount, &b.FirstSeen, &b.LastSeen); err != nil {
			return nil, fmt.Errorf("scan baseline row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
