package event

import (
	"database/sql"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Migrations returns the event log's database migrations. AUTOINCREMENT
// keeps the sqlite_sequence counter from handing out a purged seq again.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create events table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE events (
						seq        INTEGER PRIMARY KEY AUTOINCREMENT,
						event_type TEXT NOT NULL,
						payload    TEXT NOT NULL DEFAULT '{}',
						source_id  TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX idx_events_type ON events(event_type)`,
					`CREATE INDEX idx_events_created ON events(created_at)`,
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
