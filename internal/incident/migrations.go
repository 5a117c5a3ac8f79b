package incident

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the incident plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create incidents and home_alerts tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE incidents (
						id             TEXT PRIMARY KEY,
						source_ip      TEXT NOT NULL,
						source_mac     TEXT NOT NULL DEFAULT '',
						status         TEXT NOT NULL DEFAULT 'active',
						severity       TEXT NOT NULL,
						alert_count    INTEGER NOT NULL DEFAULT 0,
						first_alert_at DATETIME NOT NULL,
						last_alert_at  DATETIME NOT NULL,
						closed_at      DATETIME,
						summary        TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX idx_incidents_source ON incidents(source_ip, status)`,
					`CREATE INDEX idx_incidents_status ON incidents(status, last_alert_at)`,
					`CREATE TABLE home_alerts (
						id          TEXT PRIMARY KEY,
						incident_id TEXT REFERENCES incidents(id) ON DELETE SET NULL,
						alert_type  TEXT NOT NULL,
						severity    TEXT NOT NULL,
						title       TEXT NOT NULL,
						detail      TEXT NOT NULL DEFAULT '',
						source_ip   TEXT NOT NULL DEFAULT '',
						source_mac  TEXT NOT NULL DEFAULT '',
						device_id   TEXT NOT NULL DEFAULT '',
						decoy_id    TEXT NOT NULL DEFAULT '',
						event_seq   INTEGER NOT NULL DEFAULT 0,
						read_at     DATETIME,
						actioned_at DATETIME,
						action_note TEXT NOT NULL DEFAULT '',
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_alerts_incident ON home_alerts(incident_id)`,
					`CREATE INDEX idx_alerts_created ON home_alerts(created_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
