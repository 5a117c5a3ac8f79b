package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// IncidentStore provides database operations for incidents and alerts.
type IncidentStore struct {
	db *sql.DB
}

// NewIncidentStore creates a store backed by the given database.
func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

const incidentColumns = `id, source_ip, source_mac, status, severity, alert_count,
	first_alert_at, last_alert_at, closed_at, summary`

func scanIncident(row interface{ Scan(...any) error }) (*models.Incident, error) {
	var inc models.Incident
	var status, severity string
	var closedAt sql.NullTime
	err := row.Scan(&inc.ID, &inc.SourceIP, &inc.SourceMAC, &status, &severity,
		&inc.AlertCount, &inc.FirstAlertAt, &inc.LastAlertAt, &closedAt, &inc.Summary)
	if err != nil {
		return nil, err
	}
	inc.Status = models.IncidentStatus(status)
	inc.Severity = models.Severity(severity)
	if closedAt.Valid {
		inc.ClosedAt = &closedAt.Time
	}
	return &inc, nil
}

// GetIncident fetches one incident by id.
func (s *IncidentStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// FindActiveWithin returns the active incident for a source whose last
// alert falls inside the aggregation window, or nil.
func (s *IncidentStore) FindActiveWithin(ctx context.Context, sourceIP string, windowStart time.Time) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE source_ip = ? AND status = 'active' AND last_alert_at >= ?
		ORDER BY last_alert_at DESC LIMIT 1`,
		sourceIP, windowStart)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active incident: %w", err)
	}
	return inc, nil
}

// InsertIncident creates a new incident row.
func (s *IncidentStore) InsertIncident(ctx context.Context, inc *models.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, source_ip, source_mac, status, severity, alert_count,
			first_alert_at, last_alert_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.SourceIP, inc.SourceMAC, string(inc.Status), string(inc.Severity),
		inc.AlertCount, inc.FirstAlertAt, inc.LastAlertAt, inc.Summary)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// AttachAlert folds one more alert into an incident: count up, window
// forward, severity escalated to the max.
func (s *IncidentStore) AttachAlert(ctx context.Context, incidentID string, severity models.Severity, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET
			alert_count = alert_count + 1,
			last_alert_at = ?,
			severity = CASE
				WHEN ? = 'critical' THEN 'critical'
				WHEN ? = 'high' AND severity NOT IN ('critical') THEN 'high'
				WHEN ? = 'medium' AND severity NOT IN ('critical','high') THEN 'medium'
				ELSE severity
			END
		WHERE id = ?`,
		at, string(severity), string(severity), string(severity), incidentID)
	if err != nil {
		return fmt.Errorf("attach alert to incident: %w", err)
	}
	return nil
}

// CloseStale closes active incidents whose last alert predates the
// cutoff and returns them for event publication.
func (s *IncidentStore) CloseStale(ctx context.Context, cutoff time.Time) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status = 'active' AND last_alert_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale incidents: %w", err)
	}
	var stale []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan incident row: %w", err)
		}
		stale = append(stale, *inc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range stale {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE incidents SET status = 'closed', closed_at = ? WHERE id = ?`,
			now, stale[i].ID); err != nil {
			return nil, fmt.Errorf("close incident %s: %w", stale[i].ID, err)
		}
		stale[i].Status = models.IncidentClosed
		stale[i].ClosedAt = &now
	}
	return stale, nil
}

// ListIncidents returns incidents filtered by status ("" for all).
func (s *IncidentStore) ListIncidents(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY last_alert_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident row: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

// --- alerts ---

const alertColumns = `id, incident_id, alert_type, severity, title, detail,
	source_ip, source_mac, device_id, decoy_id, event_seq,
	read_at, actioned_at, action_note, created_at`

func scanAlert(row interface{ Scan(...any) error }) (*models.Alert, error) {
	var a models.Alert
	var incidentID sql.NullString
	var severity string
	var readAt, actionedAt sql.NullTime
	err := row.Scan(&a.ID, &incidentID, &a.AlertType, &severity, &a.Title, &a.Detail,
		&a.SourceIP, &a.SourceMAC, &a.DeviceID, &a.DecoyID, &a.EventSeq,
		&readAt, &actionedAt, &a.ActionNote, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.IncidentID = incidentID.String
	a.Severity = models.Severity(severity)
	if readAt.Valid {
		a.ReadAt = &readAt.Time
	}
	if actionedAt.Valid {
		a.ActionedAt = &actionedAt.Time
	}
	return &a, nil
}

// InsertAlert creates a new alert row.
func (s *IncidentStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var incidentID any
	if a.IncidentID != "" {
		incidentID = a.IncidentID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO home_alerts (id, incident_id, alert_type, severity, title, detail,
			source_ip, source_mac, device_id, decoy_id, event_seq, action_note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, incidentID, a.AlertType, string(a.Severity), a.Title, a.Detail,
		a.SourceIP, a.SourceMAC, a.DeviceID, a.DecoyID, a.EventSeq, a.ActionNote, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches one alert by id.
func (s *IncidentStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM home_alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns alerts for an incident ("" for all), newest first.
func (s *IncidentStore) ListAlerts(ctx context.Context, incidentID string) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM home_alerts`
	var args []any
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkRead stamps read_at on an alert.
func (s *IncidentStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE home_alerts SET read_at = ? WHERE id = ? AND read_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAlert(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkActioned stamps actioned_at and the operator's note.
func (s *IncidentStore) MarkActioned(ctx context.Context, id, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE home_alerts SET actioned_at = ?, action_note = ? WHERE id = ?`,
		time.Now().UTC(), note, id)
	if err != nil {
		return fmt.Errorf("mark alert actioned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return nil
}
