package mimic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// Deployment joins one mimic decoy to its source device and virtual IP.
type Deployment struct {
	ID             string     `json:"id"`
	DecoyID        string     `json:"decoy_id"`
	SourceDeviceID string     `json:"source_device_id"`
	VirtualIPID    string     `json:"virtual_ip_id"`
	IPAddress      string     `json:"ip_address"`
	Interface      string     `json:"interface"`
	CreatedAt      time.Time  `json:"created_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

// Store provides database operations for virtual IPs and deployments.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertVIP records a newly claimed virtual IP.
func (s *Store) InsertVIP(ctx context.Context, v *models.VirtualIP) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO virtual_ips (id, ip_address, interface, decoy_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.IPAddress, v.Interface, v.DecoyID, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert virtual ip: %w", err)
	}
	return nil
}

// BindVIP attaches a virtual IP to the decoy that now owns it.
func (s *Store) BindVIP(ctx context.Context, vipID, decoyID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE virtual_ips SET decoy_id = ? WHERE id = ?`, decoyID, vipID)
	if err != nil {
		return fmt.Errorf("bind virtual ip: %w", err)
	}
	return nil
}

// ReleaseVIP marks a virtual IP released. Rows with released_at unset
// correspond exactly to live OS aliases.
func (s *Store) ReleaseVIP(ctx context.Context, vipID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE virtual_ips SET released_at = ? WHERE id = ? AND released_at IS NULL`,
		time.Now().UTC(), vipID)
	if err != nil {
		return fmt.Errorf("release virtual ip: %w", err)
	}
	return nil
}

// ActiveVIPs returns virtual IPs that have not been released.
func (s *Store) ActiveVIPs(ctx context.Context) ([]models.VirtualIP, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ip_address, interface, decoy_id, created_at, released_at
		FROM virtual_ips WHERE released_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active virtual ips: %w", err)
	}
	defer rows.Close()

	var out []models.VirtualIP
	for rows.Next() {
		var v models.VirtualIP
		var released sql.NullTime
		if err := rows.Scan(&v.ID, &v.IPAddress, &v.Interface, &v.DecoyID,
			&v.CreatedAt, &released); err != nil {
			return nil, fmt.Errorf("scan virtual ip row: %w", err)
		}
		if released.Valid {
			t := released.Time
			v.ReleasedAt = &t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertDeployment records a mimic deployment.
func (s *Store) InsertDeployment(ctx context.Context, d *Deployment) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mimic_deployments (id, decoy_id, source_device_id, virtual_ip_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.DecoyID, d.SourceDeviceID, d.VirtualIPID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mimic deployment: %w", err)
	}
	return nil
}

// MarkRemoved stamps a deployment's removal time.
func (s *Store) MarkRemoved(ctx context.Context, decoyID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mimic_deployments SET removed_at = ? WHERE decoy_id = ? AND removed_at IS NULL`,
		time.Now().UTC(), decoyID)
	if err != nil {
		return fmt.Errorf("mark deployment removed: %w", err)
	}
	return nil
}

// ActiveDeployments returns deployments that have not been removed,
// joined with their virtual IP.
func (s *Store) ActiveDeployments(ctx context.Context) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.decoy_id, d.source_device_id, d.virtual_ip_id,
			v.ip_address, v.interface, d.created_at, d.removed_at
		FROM mimic_deployments d
		JOIN virtual_ips v ON v.id = d.virtual_ip_id
		WHERE d.removed_at IS NULL ORDER BY d.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		var removed sql.NullTime
		if err := rows.Scan(&d.ID, &d.DecoyID, &d.SourceDeviceID, &d.VirtualIPID,
			&d.IPAddress, &d.Interface, &d.CreatedAt, &removed); err != nil {
			return nil, fmt.Errorf("scan deployment row: %w", err)
		}
		if removed.Valid {
			t := removed.Time
			d.RemovedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecoyStatus reads the lifecycle state of a decoy row. Used during
// resume to detect deployments whose decoy did not survive a restart.
func (s *Store) DecoyStatus(ctx context.Context, decoyID string) (models.DecoyStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM decoys WHERE id = ?`, decoyID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read decoy status: %w", err)
	}
	return models.DecoyStatus(status), nil
}

// DecoyAdvertisedPorts reads the advertised port list out of a mimic
// decoy's persisted template. Needed to rebuild redirect rules after a
// restart.
func (s *Store) DecoyAdvertisedPorts(ctx context.Context, decoyID string) ([]int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM decoys WHERE id = ?`, decoyID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read decoy config: %w", err)
	}

	var config struct {
		Template models.MimicTemplate `json:"template"`
	}
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("decode decoy template: %w", err)
	}
	return config.Template.Ports, nil
}
