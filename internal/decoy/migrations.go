package decoy

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the decoy plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create decoys, planted_credentials, decoy_connections, canary_observations tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE decoys (
						id                    TEXT PRIMARY KEY,
						name                  TEXT NOT NULL,
						decoy_type            TEXT NOT NULL,
						bind_address          TEXT NOT NULL DEFAULT '',
						port                  INTEGER NOT NULL DEFAULT 0,
						status                TEXT NOT NULL DEFAULT 'stopped',
						config                TEXT NOT NULL DEFAULT '{}',
						connection_count      INTEGER NOT NULL DEFAULT 0,
						credential_trip_count INTEGER NOT NULL DEFAULT 0,
						failure_count         INTEGER NOT NULL DEFAULT 0,
						last_failure_at       DATETIME,
						created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_decoys_status ON decoys(status)`,
					`CREATE TABLE planted_credentials (
						id               TEXT PRIMARY KEY,
						credential_type  TEXT NOT NULL,
						credential_value TEXT NOT NULL,
						canary_hostname  TEXT NOT NULL DEFAULT '',
						planted_location TEXT NOT NULL DEFAULT '',
						decoy_id         TEXT REFERENCES decoys(id) ON DELETE CASCADE,
						tripped          INTEGER NOT NULL DEFAULT 0,
						first_tripped_at DATETIME,
						created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_credentials_decoy ON planted_credentials(decoy_id)`,
					`CREATE INDEX idx_credentials_canary ON planted_credentials(canary_hostname)`,
					`CREATE TABLE decoy_connections (
						id              TEXT PRIMARY KEY,
						decoy_id        TEXT NOT NULL REFERENCES decoys(id) ON DELETE CASCADE,
						source_ip       TEXT NOT NULL,
						source_mac      TEXT NOT NULL DEFAULT '',
						port            INTEGER NOT NULL DEFAULT 0,
						protocol        TEXT NOT NULL DEFAULT '',
						request_path    TEXT NOT NULL DEFAULT '',
						credential_used TEXT,
						credential_id   TEXT,
						event_seq       INTEGER NOT NULL DEFAULT 0,
						timestamp       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_connections_decoy ON decoy_connections(decoy_id, timestamp)`,
					`CREATE TABLE canary_observations (
						id              TEXT PRIMARY KEY,
						credential_id   TEXT NOT NULL REFERENCES planted_credentials(id) ON DELETE CASCADE,
						canary_hostname TEXT NOT NULL,
						queried_by_ip   TEXT NOT NULL DEFAULT '',
						queried_by_mac  TEXT NOT NULL DEFAULT '',
						event_seq       INTEGER NOT NULL DEFAULT 0,
						observed_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_canary_credential ON canary_observations(credential_id)`,
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
