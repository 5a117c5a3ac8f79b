package incident

import "github.com/hearthwatch/hearthwatch/pkg/models"

// Alert types raised across the sensor.
const (
	AlertDecoyTrip          = "decoy.trip"
	AlertCredentialTrip     = "decoy.credential_trip"
	AlertBehavioralAnomaly  = "behavioral.anomaly"
	AlertRiskyPort          = "security.risky_port"
	AlertUnencryptedAdmin   = "security.unencrypted_admin"
	AlertDecoyHealthDegrade = "decoy.health_degraded"
)

// severityByType fixes the severity of each alert type. Callers may
// override per alert only for rule-driven types whose rules carry
// their own severity.
var severityByType = map[string]models.Severity{
	AlertCredentialTrip:     models.SeverityCritical,
	AlertDecoyTrip:          models.SeverityHigh,
	AlertBehavioralAnomaly:  models.SeverityMedium,
	AlertRiskyPort:          models.SeverityMedium,
	AlertUnencryptedAdmin:   models.SeverityMedium,
	AlertDecoyHealthDegrade: models.SeverityLow,
}

// severityFor resolves an alert's severity: the caller's explicit value
// wins, then the fixed table, then low.
func severityFor(alertType string, explicit models.Severity) models.Severity {
	if explicit != "" {
		return explicit
	}
	if s, ok := severityByType[alertType]; ok {
		return s
	}
	return models.SeverityLow
}
