package mimic

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the mimic plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create virtual_ips and mimic_deployments tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE virtual_ips (
						id          TEXT PRIMARY KEY,
						ip_address  TEXT NOT NULL,
						interface   TEXT NOT NULL,
						decoy_id    TEXT NOT NULL DEFAULT '',
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						released_at DATETIME
					)`,
					`CREATE INDEX idx_virtual_ips_live ON virtual_ips(released_at)`,
					`CREATE TABLE mimic_deployments (
						id               TEXT PRIMARY KEY,
						decoy_id         TEXT NOT NULL,
						source_device_id TEXT NOT NULL,
						virtual_ip_id    TEXT NOT NULL REFERENCES virtual_ips(id),
						created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						removed_at       DATETIME
					)`,
					`CREATE INDEX idx_mimic_deploy_device ON mimic_deployments(source_device_id)`,
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
