package models

import "time"

// Severity orders alert and incident seriousness.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for escalation comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric order of a severity; unknown values rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentActive IncidentStatus = "active"
	IncidentClosed IncidentStatus = "closed"
)

// Incident groups alerts from one source within a time window.
// Severity is always the max of its alerts. Once closed, an incident is
// never reopened; a later alert from the same source starts a new one.
type Incident struct {
	ID           string         `json:"id"`
	SourceIP     string         `json:"source_ip"`
	SourceMAC    string         `json:"source_mac,omitempty"`
	Status       IncidentStatus `json:"status"`
	Severity     Severity       `json:"severity"`
	AlertCount   int            `json:"alert_count"`
	FirstAlertAt time.Time      `json:"first_alert_at"`
	LastAlertAt  time.Time      `json:"last_alert_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	Summary      string         `json:"summary,omitempty"`
}

// Alert is one alertable finding. Severity is derived from AlertType via
// the fixed table in internal/incident.
type Alert struct {
	ID         string     `json:"id"`
	IncidentID string     `json:"incident_id,omitempty"`
	AlertType  string     `json:"alert_type"`
	Severity   Severity   `json:"severity"`
	Title      string     `json:"title"`
	Detail     string     `json:"detail"`
	SourceIP   string     `json:"source_ip,omitempty"`
	SourceMAC  string     `json:"source_mac,omitempty"`
	DeviceID   string     `json:"device_id,omitempty"`
	DecoyID    string     `json:"decoy_id,omitempty"`
	EventSeq   int64      `json:"event_seq,omitempty"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	ActionedAt *time.Time `json:"actioned_at,omitempty"`
	ActionNote string     `json:"action_note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SecurityInsightState tracks one emitted risk finding per
// (device, insight key). Re-appearance of a resolved risk re-activates
// the row without emitting a second alert.
type SecurityInsightState struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	InsightKey string     `json:"insight_key"`
	AlertID    string     `json:"alert_id"`
	Dismissed  bool       `json:"dismissed"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
