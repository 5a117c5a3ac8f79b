package retention

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/event"
	"github.com/hearthwatch/hearthwatch/internal/store"
)

// purgeTables is the minimal schema the purge statements touch. The
// real tables belong to other plugins; only the referenced columns
// matter here.
var purgeTables = []string{
	`CREATE TABLE home_alerts (
		id          TEXT PRIMARY KEY,
		incident_id TEXT,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE incidents (
		id        TEXT PRIMARY KEY,
		status    TEXT NOT NULL,
		closed_at DATETIME
	)`,
	`CREATE TABLE decoy_connections (
		id        TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE TABLE canary_observations (
		id          TEXT PRIMARY KEY,
		observed_at DATETIME NOT NULL
	)`,
}

func testRetention(t *testing.T) (*Module, *sql.DB) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "event", event.Migrations()); err != nil {
		t.Fatalf("migrate events: %v", err)
	}
	for _, stmt := range purgeTables {
		if _, err := db.DB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	m := New(event.NewLog(db.DB()))
	m.logger = zap.NewNop()
	m.db = db.DB()
	m.retention = 30 * 24 * time.Hour
	return m, db.DB()
}

func TestPurge_RemovesAgedRows(t *testing.T) {
	m, db := testRetention(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-60 * 24 * time.Hour)

	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	exec(`INSERT INTO home_alerts (id, incident_id, created_at) VALUES ('a-old', NULL, ?)`, old)
	exec(`INSERT INTO home_alerts (id, incident_id, created_at) VALUES ('a-new', NULL, ?)`, now)
	exec(`INSERT INTO incidents (id, status, closed_at) VALUES ('i-closed', 'closed', ?)`, old)
	exec(`INSERT INTO incidents (id, status, closed_at) VALUES ('i-active', 'active', NULL)`)
	exec(`INSERT INTO decoy_connections (id, timestamp) VALUES ('c-old', ?)`, old)
	exec(`INSERT INTO canary_observations (id, observed_at) VALUES ('o-old', ?)`, old)
	if _, err := m.events.Append(ctx, "device.online", map[string]any{}, "test", old); err != nil {
		t.Fatalf("append event: %v", err)
	}

	counts := m.Purge(ctx, now.Add(-30*24*time.Hour))

	if counts.Alerts != 1 {
		t.Errorf("alerts purged = %d, want 1", counts.Alerts)
	}
	if counts.Incidents != 1 {
		t.Errorf("incidents purged = %d, want 1", counts.Incidents)
	}
	if counts.Events != 1 {
		t.Errorf("events purged = %d, want 1", counts.Events)
	}
	if counts.DecoyConnections != 1 || counts.CanaryObservations != 1 {
		t.Errorf("decoy purge = %d, canary purge = %d, want 1 each",
			counts.DecoyConnections, counts.CanaryObservations)
	}
	if counts.Total() != 5 {
		t.Errorf("total = %d, want 5", counts.Total())
	}

	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM home_alerts`).Scan(&remaining); err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining alerts = %d, want the recent one", remaining)
	}
}

func TestPurge_KeepsAlertsOnActiveIncidents(t *testing.T) {
	m, db := testRetention(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-60 * 24 * time.Hour)

	if _, err := db.ExecContext(ctx,
		`INSERT INTO incidents (id, status, closed_at) VALUES ('i-1', 'active', NULL)`); err != nil {
		t.Fatalf("insert incident: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO home_alerts (id, incident_id, created_at) VALUES ('a-1', 'i-1', ?)`, old); err != nil {
		t.Fatalf("insert alert: %v", err)
	}

	counts := m.Purge(ctx, now.Add(-30*24*time.Hour))
	if counts.Alerts != 0 {
		t.Errorf("alerts purged = %d, want 0 while the incident is active", counts.Alerts)
	}

	// Close the incident long ago and the alert goes with the next sweep.
	if _, err := db.ExecContext(ctx,
		`UPDATE incidents SET status = 'closed', closed_at = ? WHERE id = 'i-1'`, old); err != nil {
		t.Fatalf("close incident: %v", err)
	}
	counts = m.Purge(ctx, now.Add(-30*24*time.Hour))
	if counts.Alerts != 1 || counts.Incidents != 1 {
		t.Errorf("after closure: alerts = %d, incidents = %d, want 1 each",
			counts.Alerts, counts.Incidents)
	}
}
