package scout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// ProfileStore provides database operations for service profiles.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates a store backed by the given database.
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Upsert stores one probe result, preserving first_profiled_at across
// re-probes of the same (device, port, protocol). It reports whether a
// previously stored profile materially changed: status, banner, favicon,
// or the advertised server identity.
func (s *ProfileStore) Upsert(ctx context.Context, p *models.ServiceProfile) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	headers := "{}"
	if p.Headers != nil {
		raw, err := json.Marshal(p.Headers)
		if err != nil {
			return false, fmt.Errorf("marshal profile headers: %w", err)
		}
		headers = string(raw)
	}

	changed, err := s.materiallyChanged(ctx, p)
	if err != nil {
		return false, err
	}
	var notAfter any
	if p.TLSNotAfter != nil {
		notAfter = p.TLSNotAfter.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_profiles (id, device_id, port, protocol, http_status, headers,
			body_snippet, favicon_hash, tls_common_name, tls_issuer, tls_not_after, banner,
			first_profiled_at, last_profiled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, port, protocol) DO UPDATE SET
			http_status = excluded.http_status,
			headers = excluded.headers,
			body_snippet = excluded.body_snippet,
			favicon_hash = excluded.favicon_hash,
			tls_common_name = excluded.tls_common_name,
			tls_issuer = excluded.tls_issuer,
			tls_not_after = excluded.tls_not_after,
			banner = excluded.banner,
			last_profiled_at = excluded.last_profiled_at`,
		p.ID, p.DeviceID, p.Port, p.Protocol, p.HTTPStatus, headers,
		p.BodySnippet, p.FaviconHash, p.TLSCommonName, p.TLSIssuer, notAfter, p.Banner,
		now, now)
	if err != nil {
		return false, fmt.Errorf("upsert service profile: %w", err)
	}
	return changed, nil
}

// materiallyChanged compares the incoming probe against the stored row.
// A missing prior row is not a change; the first profile of a service is
// baseline, not drift.
func (s *ProfileStore) materiallyChanged(ctx context.Context, p *models.ServiceProfile) (bool, error) {
	var (
		status        int
		banner        string
		favicon       string
		storedHeaders string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT http_status, banner, favicon_hash, headers
		FROM service_profiles WHERE device_id = ? AND port = ? AND protocol = ?`,
		p.DeviceID, p.Port, p.Protocol).Scan(&status, &banner, &favicon, &storedHeaders)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load prior profile: %w", err)
	}

	if status != p.HTTPStatus || banner != p.Banner || favicon != p.FaviconHash {
		return true, nil
	}
	var prior map[string]string
	_ = json.Unmarshal([]byte(storedHeaders), &prior)
	return prior["Server"] != p.Headers["Server"], nil
}

// ForDevice returns all profiles for one device ordered by port.
func (s *ProfileStore) ForDevice(ctx context.Context, deviceID string) ([]models.ServiceProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, port, protocol, http_status, headers, body_snippet,
			favicon_hash, tls_common_name, tls_issuer, tls_not_after, banner,
			first_profiled_at, last_profiled_at
		FROM service_profiles WHERE device_id = ? ORDER BY port`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list service profiles: %w", err)
	}
	defer rows.Close()

	var out []models.ServiceProfile
	for rows.Next() {
		var p models.ServiceProfile
		var headers string
		var notAfter sql.NullTime
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Port, &p.Protocol, &p.HTTPStatus,
			&headers, &p.BodySnippet, &p.FaviconHash, &p.TLSCommonName, &p.TLSIssuer,
			&notAfter, &p.Banner, &p.FirstProfiledAt, &p.LastProfiledAt); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		if headers != "" {
			_ = json.Unmarshal([]byte(headers), &p.Headers)
		}
		if notAfter.Valid {
			t := notAfter.Time
			p.TLSNotAfter = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the total number of stored profiles.
func (s *ProfileStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count service profiles: %w", err)
	}
	return n, nil
}
