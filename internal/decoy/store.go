package decoy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// DecoyStore provides database operations for the decoy plugin.
type DecoyStore struct {
	db *sql.DB
}

// NewDecoyStore creates a store backed by the given database.
func NewDecoyStore(db *sql.DB) *DecoyStore {
	return &DecoyStore{db: db}
}

const decoyColumns = `id, name, decoy_type, bind_address, port, status, config,
	connection_count, credential_trip_count, failure_count, last_failure_at,
	created_at, updated_at`

func scanDecoy(row interface{ Scan(...any) error }) (*models.Decoy, error) {
	var d models.Decoy
	var decoyType, status, config string
	var lastFailure sql.NullTime
	err := row.Scan(&d.ID, &d.Name, &decoyType, &d.BindAddress, &d.Port, &status, &config,
		&d.ConnectionCount, &d.CredentialTripCount, &d.FailureCount, &lastFailure,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.DecoyType = models.DecoyType(decoyType)
	d.Status = models.DecoyStatus(status)
	if lastFailure.Valid {
		d.LastFailureAt = &lastFailure.Time
	}
	if config != "" {
		_ = json.Unmarshal([]byte(config), &d.Config)
	}
	return &d, nil
}

// InsertDecoy creates a new decoy row.
func (s *DecoyStore) InsertDecoy(ctx context.Context, d *models.Decoy) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	config := "{}"
	if d.Config != nil {
		raw, err := json.Marshal(d.Config)
		if err != nil {
			return fmt.Errorf("marshal decoy config: %w", err)
		}
		config = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decoys (id, name, decoy_type, bind_address, port, status, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.DecoyType), d.BindAddress, d.Port, string(d.Status), config, now, now)
	if err != nil {
		return fmt.Errorf("insert decoy: %w", err)
	}
	return nil
}

// GetDecoy fetches one decoy by id.
func (s *DecoyStore) GetDecoy(ctx context.Context, id string) (*models.Decoy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decoyColumns+` FROM decoys WHERE id = ?`, id)
	d, err := scanDecoy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decoy %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decoy: %w", err)
	}
	return d, nil
}

// ListDecoys returns decoys filtered by status ("" for all).
func (s *DecoyStore) ListDecoys(ctx context.Context, status models.DecoyStatus) ([]models.Decoy, error) {
	query := `SELECT ` + decoyColumns + ` FROM decoys`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decoys: %w", err)
	}
	defer rows.Close()

	var out []models.Decoy
	for rows.Next() {
		d, err := scanDecoy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decoy row: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// CountDecoys returns the total number of decoy rows, any status. The
// boot-time auto-deploy guard keys off this.
func (s *DecoyStore) CountDecoys(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decoys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count decoys: %w", err)
	}
	return n, nil
}

// UpdateStatus sets a decoy's status.
func (s *DecoyStore) UpdateStatus(ctx context.Context, id string, status models.DecoyStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE decoys SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update decoy status: %w", err)
	}
	return nil
}

// UpdatePort persists the OS-assigned port after a port-0 bind.
func (s *DecoyStore) UpdatePort(ctx context.Context, id string, port int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE decoys SET port = ?, updated_at = ? WHERE id = ?`,
		port, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update decoy port: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counter and stamps the time.
func (s *DecoyStore) RecordFailure(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decoys SET failure_count = failure_count + 1, last_failure_at = ?, updated_at = ?
		WHERE id = ?`, at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record decoy failure: %w", err)
	}
	return nil
}

// ResetFailures zeroes the failure counter after a manual restart.
func (s *DecoyStore) ResetFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE decoys SET failure_count = 0, last_failure_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset decoy failures: %w", err)
	}
	return nil
}

// IncrementConnections bumps the decoy's connection counter, and the
// credential-trip counter too when the hit carried a planted value.
func (s *DecoyStore) IncrementConnections(ctx context.Context, id string, credentialTrip bool) error {
	query := `UPDATE decoys SET connection_count = connection_count + 1, updated_at = ? WHERE id = ?`
	if credentialTrip {
		query = `UPDATE decoys SET connection_count = connection_count + 1,
			credential_trip_count = credential_trip_count + 1, updated_at = ? WHERE id = ?`
	}
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("increment decoy counters: %w", err)
	}
	return nil
}

// --- planted credentials ---

// InsertCredential persists one planted credential.
func (s *DecoyStore) InsertCredential(ctx context.Context, c *models.PlantedCredential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var decoyID any
	if c.DecoyID != "" {
		decoyID = c.DecoyID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO planted_credentials (id, credential_type, credential_value, canary_hostname,
			planted_location, decoy_id, tripped, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		c.ID, string(c.CredentialType), c.CredentialValue, c.CanaryHostname,
		c.PlantedLocation, decoyID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// CredentialsForDecoy returns the credentials planted on one decoy.
func (s *DecoyStore) CredentialsForDecoy(ctx context.Context, decoyID string) ([]models.PlantedCredential, error) {
	return s.queryCredentials(ctx, `
		SELECT id, credential_type, credential_value, canary_hostname, planted_location,
			COALESCE(decoy_id, ''), tripped, first_tripped_at, created_at
		FROM planted_credentials WHERE decoy_id = ?`, decoyID)
}

// AllCanaryCredentials returns every credential carrying a canary
// hostname, for the DNS monitor.
func (s *DecoyStore) AllCanaryCredentials(ctx context.Context) ([]models.PlantedCredential, error) {
	return s.queryCredentials(ctx, `
		SELECT id, credential_type, credential_value, canary_hostname, planted_location,
			COALESCE(decoy_id, ''), tripped, first_tripped_at, created_at
		FROM planted_credentials WHERE canary_hostname != ''`)
}

func (s *DecoyStore) queryCredentials(ctx context.Context, query string, args ...any) ([]models.PlantedCredential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var out []models.PlantedCredential
	for rows.Next() {
		var c models.PlantedCredential
		var credType string
		var tripped int
		var firstTripped sql.NullTime
		if err := rows.Scan(&c.ID, &credType, &c.CredentialValue, &c.CanaryHostname,
			&c.PlantedLocation, &c.DecoyID, &tripped, &firstTripped, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		c.CredentialType = models.CredentialType(credType)
		c.Tripped = tripped != 0
		if firstTripped.Valid {
			c.FirstTrippedAt = &firstTripped.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkCredentialTripped flags a credential on its first observed use.
// Later uses leave first_tripped_at untouched.
func (s *DecoyStore) MarkCredentialTripped(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE planted_credentials SET tripped = 1, first_tripped_at = ?
		WHERE id = ? AND tripped = 0`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark credential tripped: %w", err)
	}
	return nil
}

// --- connections and canary observations ---

// InsertConnection records one client interaction with a decoy.
func (s *DecoyStore) InsertConnection(ctx context.Context, c *models.DecoyConnection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	var credUsed, credID any
	if c.CredentialUsed != "" {
		credUsed = c.CredentialUsed
	}
	if c.CredentialID != "" {
		credID = c.CredentialID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decoy_connections (id, decoy_id, source_ip, source_mac, port, protocol,
			request_path, credential_used, credential_id, event_seq, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DecoyID, c.SourceIP, c.SourceMAC, c.Port, c.Protocol,
		c.RequestPath, credUsed, credID, c.EventSeq, c.Timestamp)
	if err != nil {
		return fmt.Errorf("insert decoy connection: %w", err)
	}
	return nil
}

// ListConnections returns a decoy's recorded interactions, newest first.
func (s *DecoyStore) ListConnections(ctx context.Context, decoyID string, limit int) ([]models.DecoyConnection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decoy_id, source_ip, source_mac, port, protocol, request_path,
			COALESCE(credential_used, ''), COALESCE(credential_id, ''), event_seq, timestamp
		FROM decoy_connections WHERE decoy_id = ? ORDER BY timestamp DESC LIMIT ?`,
		decoyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decoy connections: %w", err)
	}
	defer rows.Close()

	var out []models.DecoyConnection
	for rows.Next() {
		var c models.DecoyConnection
		if err := rows.Scan(&c.ID, &c.DecoyID, &c.SourceIP, &c.SourceMAC, &c.Port, &c.Protocol,
			&c.RequestPath, &c.CredentialUsed, &c.CredentialID, &c.EventSeq, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCanaryObservation records a DNS lookup of a canary hostname.
func (s *DecoyStore) InsertCanaryObservation(ctx context.Context, o *models.CanaryObservation) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canary_observations (id, credential_id, canary_hostname, queried_by_ip,
			queried_by_mac, event_seq, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CredentialID, o.CanaryHostname, o.QueriedByIP, o.QueriedByMAC, o.EventSeq, o.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert canary observation: %w", err)
	}
	return nil
}
