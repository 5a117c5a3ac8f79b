package baseline

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the baseline plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create connection_baselines and baseline_state tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE connection_baselines (
						id         TEXT NOT NULL,
						device_id  TEXT NOT NULL,
						dest_ip    TEXT NOT NULL,
						dest_port  INTEGER NOT NULL,
						hit_count  INTEGER NOT NULL DEFAULT 1,
						anomalous  INTEGER NOT NULL DEFAULT 0,
						first_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						last_seen  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (device_id, dest_ip, dest_port)
					)`,
					`CREATE INDEX idx_baselines_device ON connection_baselines(device_id)`,
					`CREATE TABLE baseline_state (
						id                  INTEGER PRIMARY KEY CHECK (id = 1),
						learning_started_at DATETIME NOT NULL,
						learning_ends_at    DATETIME NOT NULL,
						completed           INTEGER NOT NULL DEFAULT 0
					)`,
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
