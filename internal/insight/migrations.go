package insight

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the insight plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create security_insight_state table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE security_insight_state (
						id          TEXT PRIMARY KEY,
						device_id   TEXT NOT NULL,
						insight_key TEXT NOT NULL,
						alert_id    TEXT NOT NULL DEFAULT '',
						dismissed   INTEGER NOT NULL DEFAULT 0,
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						resolved_at DATETIME,
						UNIQUE (device_id, insight_key)
					)`,
					`CREATE INDEX idx_insight_state_device ON security_insight_state(device_id)`,
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
