package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// DeviceStore provides database operations for the devices plugin.
type DeviceStore struct {
	db *sql.DB
}

// NewDeviceStore creates a store backed by the given database.
func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceColumns = `id, ip_address, mac_address, hostname, vendor, device_type,
	model_name, area, custom_name, notes, is_online, first_seen, last_seen`

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	var d models.Device
	var deviceType string
	err := row.Scan(&d.ID, &d.IPAddress, &d.MACAddress, &d.Hostname, &d.Vendor,
		&deviceType, &d.ModelName, &d.Area, &d.CustomName, &d.Notes,
		&d.IsOnline, &d.FirstSeen, &d.LastSeen)
	if err != nil {
		return nil, err
	}
	d.DeviceType = models.DeviceType(deviceType)
	return &d, nil
}

// GetDevice fetches one device by id.
func (s *DeviceStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return d, nil
}

// GetDeviceByMAC fetches one device by its normalized MAC address.
func (s *DeviceStore) GetDeviceByMAC(ctx context.Context, mac string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE mac_address = ?`, mac)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device mac %s: %w", mac, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get device by mac: %w", err)
	}
	return d, nil
}

// ListDevices returns all devices ordered by first_seen.
func (s *DeviceStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY first_seen`)
}

// ListOnlineDevices returns devices currently marked online.
func (s *DeviceStore) ListOnlineDevices(ctx context.Context) ([]models.Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE is_online = 1 ORDER BY first_seen`)
}

func (s *DeviceStore) queryDevices(ctx context.Context, query string, args ...any) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// InsertDevice creates a new device row, assigning an id if empty.
func (s *DeviceStore) InsertDevice(ctx context.Context, d *models.Device) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if d.FirstSeen.IsZero() {
		d.FirstSeen = now
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, ip_address, mac_address, hostname, vendor, device_type,
			model_name, area, custom_name, notes, is_online, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.IPAddress, d.MACAddress, d.Hostname, d.Vendor, string(d.DeviceType),
		d.ModelName, d.Area, d.CustomName, d.Notes, d.IsOnline, d.FirstSeen, d.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// UpdateDeviceSeen refreshes a device's address, liveness, and last_seen
// after a scan hit. custom_name is never touched here.
func (s *DeviceStore) UpdateDeviceSeen(ctx context.Context, id, ip string, online bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET ip_address = ?, is_online = ?, last_seen = ? WHERE id = ?`,
		ip, online, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update device seen: %w", err)
	}
	return nil
}

// SetOnline flips a device's online flag.
func (s *DeviceStore) SetOnline(ctx context.Context, id string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET is_online = ? WHERE id = ?`, online, id)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// SetNeedsVerification marks a device as pending manual identity review.
func (s *DeviceStore) SetNeedsVerification(ctx context.Context, id string, needs bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET needs_verification = ? WHERE id = ?`, needs, id)
	if err != nil {
		return fmt.Errorf("set needs_verification: %w", err)
	}
	return nil
}

// FindStale returns online devices not seen since the threshold.
func (s *DeviceStore) FindStale(ctx context.Context, threshold time.Time) ([]models.Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE is_online = 1 AND last_seen < ?`, threshold)
}

// UpdateEnrichment applies external-registry fields. Vendor is only
// replaced when the stored value is empty or "Unknown"; custom_name is
// never written by this statement.
func (s *DeviceStore) UpdateEnrichment(ctx context.Context, id, hostname, modelName, vendor, area string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET
			hostname   = CASE WHEN ? != '' THEN ? ELSE hostname END,
			model_name = CASE WHEN ? != '' THEN ? ELSE model_name END,
			vendor     = CASE WHEN ? != '' AND (vendor = '' OR vendor = 'Unknown') THEN ? ELSE vendor END,
			area       = CASE WHEN ? != '' THEN ? ELSE area END
		WHERE id = ?`,
		hostname, hostname, modelName, modelName, vendor, vendor, area, area, id)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	return nil
}

// --- fingerprints ---

// UpsertFingerprint stores the device's current fingerprint, preserving
// first_seen across updates.
func (s *DeviceStore) UpsertFingerprint(ctx context.Context, fp *models.DeviceFingerprint) error {
	if fp.ID == "" {
		fp.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	var composite any
	if fp.CompositeHash != "" {
		composite = fp.CompositeHash
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_fingerprints (id, device_id, mac, mdns_hostname, dhcp_hash,
			connection_pattern_hash, open_ports_hash, composite_hash, signal_count,
			confidence, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			mac = excluded.mac,
			mdns_hostname = excluded.mdns_hostname,
			dhcp_hash = excluded.dhcp_hash,
			connection_pattern_hash = excluded.connection_pattern_hash,
			open_ports_hash = excluded.open_ports_hash,
			composite_hash = excluded.composite_hash,
			signal_count = excluded.signal_count,
			confidence = excluded.confidence,
			last_seen = excluded.last_seen`,
		fp.ID, fp.DeviceID, fp.MAC, fp.MDNSHostname, fp.DHCPHash,
		fp.ConnectionPatternHash, fp.OpenPortsHash, composite, fp.SignalCount,
		fp.Confidence, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

// GetFingerprint returns the device's stored fingerprint, if any.
func (s *DeviceStore) GetFingerprint(ctx context.Context, deviceID string) (*models.DeviceFingerprint, error) {
	var fp models.DeviceFingerprint
	var composite sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, mac, mdns_hostname, dhcp_hash, connection_pattern_hash,
			open_ports_hash, composite_hash, signal_count, confidence, first_seen, last_seen
		FROM device_fingerprints WHERE device_id = ?`, deviceID).
		Scan(&fp.ID, &fp.DeviceID, &fp.MAC, &fp.MDNSHostname, &fp.DHCPHash,
			&fp.ConnectionPatternHash, &fp.OpenPortsHash, &composite, &fp.SignalCount,
			&fp.Confidence, &fp.FirstSeen, &fp.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fingerprint for %s: %w", deviceID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}
	fp.CompositeHash = composite.String
	return &fp, nil
}

// ListFingerprints returns every stored fingerprint keyed by device id.
func (s *DeviceStore) ListFingerprints(ctx context.Context) (map[string]models.DeviceFingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, mac, mdns_hostname, dhcp_hash, connection_pattern_hash,
			open_ports_hash, composite_hash, signal_count, confidence, first_seen, last_seen
		FROM device_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.DeviceFingerprint)
	for rows.Next() {
		var fp models.DeviceFingerprint
		var composite sql.NullString
		if err := rows.Scan(&fp.ID, &fp.DeviceID, &fp.MAC, &fp.MDNSHostname, &fp.DHCPHash,
			&fp.ConnectionPatternHash, &fp.OpenPortsHash, &composite, &fp.SignalCount,
			&fp.Confidence, &fp.FirstSeen, &fp.LastSeen); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		fp.CompositeHash = composite.String
		out[fp.DeviceID] = fp
	}
	return out, rows.Err()
}

// --- trust ---

// GetTrust returns the device's trust status; a missing row reads as unknown.
func (s *DeviceStore) GetTrust(ctx context.Context, deviceID string) (models.TrustStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM device_trust WHERE device_id = ?`, deviceID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TrustUnknown, nil
	}
	if err != nil {
		return models.TrustUnknown, fmt.Errorf("get trust: %w", err)
	}
	return models.TrustStatus(status), nil
}

// SetTrust records an approval decision for a device.
func (s *DeviceStore) SetTrust(ctx context.Context, deviceID string, status models.TrustStatus, approvedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_trust (device_id, status, approved_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			status = excluded.status,
			approved_by = excluded.approved_by,
			updated_at = excluded.updated_at`,
		deviceID, string(status), approvedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set trust: %w", err)
	}
	return nil
}

// --- open ports ---

// UpsertOpenPort records an observed open port, bumping last_seen on repeats.
func (s *DeviceStore) UpsertOpenPort(ctx context.Context, deviceID string, port int, protocol, serviceName, banner string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_open_ports (id, device_id, port, protocol, service_name, banner, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, port, protocol) DO UPDATE SET
			service_name = CASE WHEN excluded.service_name != '' THEN excluded.service_name ELSE device_open_ports.service_name END,
			banner = CASE WHEN excluded.banner != '' THEN excluded.banner ELSE device_open_ports.banner END,
			last_seen = excluded.last_seen`,
		uuid.New().String(), deviceID, port, protocol, serviceName, banner, now, now)
	if err != nil {
		return fmt.Errorf("upsert open port: %w", err)
	}
	return nil
}

// ListOpenPorts returns a device's observed open ports.
func (s *DeviceStore) ListOpenPorts(ctx context.Context, deviceID string) ([]models.DeviceOpenPort, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, port, protocol, service_name, banner, first_seen, last_seen
		FROM device_open_ports WHERE device_id = ? ORDER BY port`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list open ports: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceOpenPort
	for rows.Next() {
		var p models.DeviceOpenPort
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Port, &p.Protocol, &p.ServiceName,
			&p.Banner, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan open port row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- connection snapshots ---

// ReplaceConnections updates the device's current destination snapshot
// used by the identity matcher.
func (s *DeviceStore) ReplaceConnections(ctx context.Context, deviceID string, dests []models.Destination) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin connections tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range dests {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_connections (device_id, dest_ip, dest_port, last_seen)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (device_id, dest_ip, dest_port) DO UPDATE SET last_seen = excluded.last_seen`,
			deviceID, d.IP, d.Port, now); err != nil {
			return fmt.Errorf("upsert connection: %w", err)
		}
	}
	return tx.Commit()
}

// ListConnections returns the device's destination snapshot.
func (s *DeviceStore) ListConnections(ctx context.Context, deviceID string) ([]models.Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dest_ip, dest_port FROM device_connections WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []models.Destination
	for rows.Next() {
		var d models.Destination
		if err := rows.Scan(&d.IP, &d.Port); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
