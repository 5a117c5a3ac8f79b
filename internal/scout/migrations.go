package scout

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the scout plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create service_profiles table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE service_profiles (
						id                TEXT PRIMARY KEY,
						device_id         TEXT NOT NULL,
						port              INTEGER NOT NULL,
						protocol          TEXT NOT NULL DEFAULT 'tcp',
						http_status       INTEGER NOT NULL DEFAULT 0,
						headers           TEXT NOT NULL DEFAULT '{}',
						body_snippet      TEXT NOT NULL DEFAULT '',
						favicon_hash      TEXT NOT NULL DEFAULT '',
						tls_common_name   TEXT NOT NULL DEFAULT '',
						tls_issuer        TEXT NOT NULL DEFAULT '',
						tls_not_after     DATETIME,
						banner            TEXT NOT NULL DEFAULT '',
						first_profiled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						last_profiled_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (device_id, port, protocol)
					)`,
					`CREATE INDEX idx_profiles_device ON service_profiles(device_id)`,
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
