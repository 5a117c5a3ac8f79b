package devices

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// migrations returns the devices plugin's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create devices, device_fingerprints, device_trust tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE devices (
						id                 TEXT PRIMARY KEY,
						ip_address         TEXT NOT NULL,
						mac_address        TEXT NOT NULL DEFAULT '',
						hostname           TEXT NOT NULL DEFAULT '',
						vendor             TEXT NOT NULL DEFAULT '',
						device_type        TEXT NOT NULL DEFAULT 'unknown',
						model_name         TEXT NOT NULL DEFAULT '',
						area               TEXT NOT NULL DEFAULT '',
						custom_name        TEXT NOT NULL DEFAULT '',
						notes              TEXT NOT NULL DEFAULT '',
						is_online          INTEGER NOT NULL DEFAULT 1,
						needs_verification INTEGER NOT NULL DEFAULT 0,
						first_seen         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						last_seen          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_devices_mac ON devices(mac_address)`,
					`CREATE INDEX idx_devices_ip ON devices(ip_address)`,
					`CREATE INDEX idx_devices_online ON devices(is_online)`,
					`CREATE TABLE device_fingerprints (
						id                      TEXT PRIMARY KEY,
						device_id               TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						mac                     TEXT NOT NULL DEFAULT '',
						mdns_hostname           TEXT NOT NULL DEFAULT '',
						dhcp_hash               TEXT NOT NULL DEFAULT '',
						connection_pattern_hash TEXT NOT NULL DEFAULT '',
						open_ports_hash         TEXT NOT NULL DEFAULT '',
						composite_hash          TEXT,
						signal_count            INTEGER NOT NULL DEFAULT 0,
						confidence              REAL NOT NULL DEFAULT 0,
						first_seen              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						last_seen               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE UNIQUE INDEX idx_fingerprints_device ON device_fingerprints(device_id)`,
					`CREATE TABLE device_trust (
						device_id   TEXT PRIMARY KEY REFERENCES devices(id) ON DELETE CASCADE,
						status      TEXT NOT NULL DEFAULT 'unknown',
						approved_by TEXT NOT NULL DEFAULT '',
						updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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
		{
			Version:     2,
			Description: "create device_open_ports and device_connections tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS device_open_ports (
						id           TEXT PRIMARY KEY,
						device_id    TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						port         INTEGER NOT NULL,
						protocol     TEXT NOT NULL DEFAULT 'tcp',
						service_name TEXT NOT NULL DEFAULT '',
						banner       TEXT NOT NULL DEFAULT '',
						first_seen   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						last_seen    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (device_id, port, protocol)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_open_ports_device ON device_open_ports(device_id)`,
					`CREATE TABLE IF NOT EXISTS device_connections (
						device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						dest_ip   TEXT NOT NULL,
						dest_port INTEGER NOT NULL,
						last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (device_id, dest_ip, dest_port)
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
