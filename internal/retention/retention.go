// Package retention ages out historical data: events, alerts, closed
// incidents, decoy connections, and canary observations older than the
// configured retention period.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/event"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// sweepInterval is how often the purge runs.
const sweepInterval = 24 * time.Hour

// defaultRetentionDays keeps three months of history.
const defaultRetentionDays = 90

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// PurgeCounts reports rows removed per stage of one sweep.
type PurgeCounts struct {
	Alerts             int64 `json:"alerts"`
	Incidents          int64 `json:"incidents"`
	Events             int64 `json:"events"`
	DecoyConnections   int64 `json:"decoy_connections"`
	CanaryObservations int64 `json:"canary_observations"`
}

// Total returns the rows removed across all stages.
func (c PurgeCounts) Total() int64 {
	return c.Alerts + c.Incidents + c.Events + c.DecoyConnections + c.CanaryObservations
}

// Module implements the retention plugin.
type Module struct {
	logger *zap.Logger
	db     *sql.DB
	events *event.Log

	retention time.Duration

	mu        sync.Mutex
	lastSweep time.Time
	lastTotal int64

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a retention plugin instance.
func New(events *event.Log) *Module {
	return &Module{events: events}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "retention",
		Version:     "0.1.0",
		Description: "Ages out events, alerts, and closed incidents",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.db = deps.Store.DB()

	days := deps.Config.GetInt("retention_days")
	if days <= 0 {
		days = defaultRetentionDays
	}
	m.retention = time.Duration(days) * 24 * time.Hour

	m.logger.Info("retention module initialized", zap.Int("retention_days", days))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	m.logger.Info("retention module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	m.logger.Info("retention module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	last, total := m.lastSweep, m.lastTotal
	m.mu.Unlock()

	details := map[string]string{"last_purged": strconv.FormatInt(total, 10)}
	if !last.IsZero() {
		details["last_sweep"] = last.Format(time.RFC3339)
	}
	return plugin.HealthStatus{Status: "ok", Details: details}
}

func (m *Module) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	// One sweep shortly after boot catches backlogs from long downtime.
	select {
	case <-m.runCtx.Done():
		return
	case <-time.After(5 * time.Minute):
	}
	m.sweep(m.runCtx)

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.sweep(m.runCtx)
		}
	}
}

// sweep runs one purge pass. Each stage commits independently, so a
// failure in one table never blocks the others.
func (m *Module) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.retention)
	counts := m.Purge(ctx, cutoff)

	m.mu.Lock()
	m.lastSweep = time.Now().UTC()
	m.lastTotal = counts.Total()
	m.mu.Unlock()

	if counts.Total() > 0 {
		m.logger.Info("retention sweep complete",
			zap.Time("cutoff", cutoff),
			zap.Int64("alerts", counts.Alerts),
			zap.Int64("incidents", counts.Incidents),
			zap.Int64("events", counts.Events),
			zap.Int64("decoy_connections", counts.DecoyConnections),
			zap.Int64("canary_observations", counts.CanaryObservations))
	}
}

// Purge removes rows older than the cutoff and returns per-stage
// counts. Alerts attached to still-active incidents are kept whatever
// their age; the incident carries the investigation.
func (m *Module) Purge(ctx context.Context, cutoff time.Time) PurgeCounts {
	var counts PurgeCounts

	counts.Alerts = m.exec(ctx, "alerts", `
		DELETE FROM home_alerts WHERE created_at < ?
		AND (incident_id IS NULL OR incident_id NOT IN
			(SELECT id FROM incidents WHERE status = 'active'))`, cutoff)

	counts.Incidents = m.exec(ctx, "incidents", `
		DELETE FROM incidents WHERE status = 'closed' AND closed_at < ?`, cutoff)

	purged, err := m.events.PurgeBefore(ctx, cutoff)
	if err != nil {
		m.logger.Error("purge events failed", zap.Error(err))
	}
	counts.Events = purged

	counts.DecoyConnections = m.exec(ctx, "decoy connections",
		`DELETE FROM decoy_connections WHERE timestamp < ?`, cutoff)

	counts.CanaryObservations = m.exec(ctx, "canary observations",
		`DELETE FROM canary_observations WHERE observed_at < ?`, cutoff)

	return counts
}

// exec runs one purge statement, logging and absorbing failures.
func (m *Module) exec(ctx context.Context, what, query string, cutoff time.Time) int64 {
	res, err := m.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		m.logger.Error(fmt.Sprintf("purge %s failed", what), zap.Error(err))
		return 0
	}
	n, _ := res.RowsAffected()
	return n
}
