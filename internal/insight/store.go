package insight

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// StateStore provides database operations for insight finding state.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a store backed by the given database.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the state row for one (device, insight key), or nil.
func (s *StateStore) Get(ctx context.Context, deviceID, key string) (*models.SecurityInsightState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, insight_key, alert_id, dismissed, created_at, resolved_at
		FROM security_insight_state WHERE device_id = ? AND insight_key = ?`,
		deviceID, key)
	return scanState(row)
}

// Insert records a newly emitted finding.
func (s *StateStore) Insert(ctx context.Context, st *models.SecurityInsightState) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_insight_state (id, device_id, insight_key, alert_id, dismissed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.DeviceID, st.InsightKey, st.AlertID, st.Dismissed, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert insight state: %w", err)
	}
	return nil
}

// Reactivate clears the resolved marker on a finding that reappeared.
func (s *StateStore) Reactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE security_insight_state SET resolved_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("reactivate insight state: %w", err)
	}
	return nil
}

// Resolve stamps a finding that is no longer observed.
func (s *StateStore) Resolve(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE security_insight_state SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve insight state: %w", err)
	}
	return nil
}

// Dismiss suppresses a finding permanently for its device.
func (s *StateStore) Dismiss(ctx context.Context, deviceID, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE security_insight_state SET dismissed = 1 WHERE device_id = ? AND insight_key = ?`,
		deviceID, key)
	if err != nil {
		return fmt.Errorf("dismiss insight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ActiveForDevice returns unresolved state rows for one device.
func (s *StateStore) ActiveForDevice(ctx context.Context, deviceID string) ([]models.SecurityInsightState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, insight_key, alert_id, dismissed, created_at, resolved_at
		FROM security_insight_state WHERE device_id = ? AND resolved_at IS NULL`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("list active insight state: %w", err)
	}
	defer rows.Close()

	var out []models.SecurityInsightState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ListActive returns all unresolved, undismissed findings.
func (s *StateStore) ListActive(ctx context.Context) ([]models.SecurityInsightState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, insight_key, alert_id, dismissed, created_at, resolved_at
		FROM security_insight_state
		WHERE resolved_at IS NULL AND dismissed = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list insight state: %w", err)
	}
	defer rows.Close()

	var out []models.SecurityInsightState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanState(row interface{ Scan(...any) error }) (*models.SecurityInsightState, error) {
	var st models.SecurityInsightState
	var resolved sql.NullTime
	err := row.Scan(&st.ID, &st.DeviceID, &st.InsightKey, &st.AlertID,
		&st.Dismissed, &st.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan insight state row: %w", err)
	}
	if resolved.Valid {
		t := resolved.Time
		st.ResolvedAt = &t
	}
	return &st, nil
}
