// Package decoy runs the deception layer: HTTP-emulating decoys with
// planted synthetic credentials, health supervision with restart
// budgets, and a DNS canary monitor that catches credential use away
// from the decoys themselves.
package decoy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// canaryPollInterval is how often passive DNS is checked for canary hits.
const canaryPollInterval = 30 * time.Second

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ services.MimicLauncher = (*Module)(nil)
)

// Module implements the decoy plugin.
type Module struct {
	logger       *zap.Logger
	bus          plugin.EventBus
	store        *DecoyStore
	orchestrator *Orchestrator
	canary       *CanaryMonitor

	healthInterval time.Duration

	scanSubOnce sync.Once
	unsubscribe func()
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a decoy plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "decoy",
		Version:     "0.1.0",
		Description: "Deception decoys with credential planting and canary DNS",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if err := deps.Store.Migrate(ctx, "decoy", migrations()); err != nil {
		return err
	}
	m.store = NewDecoyStore(deps.Store.DB())

	cfg := deps.Config
	m.healthInterval = cfg.GetDuration("decoys.health_check_interval")
	if m.healthInterval <= 0 {
		m.healthInterval = 30 * time.Second
	}
	restartWindow := time.Duration(cfg.GetInt("decoys.restart_window_seconds")) * time.Second

	m.orchestrator = NewOrchestrator(m.store, m.bus, m.logger.Named("orchestrator"),
		cfg.GetString("decoys.bind_address"),
		cfg.GetInt("decoys.max_decoys"),
		cfg.GetInt("decoys.restart_max_attempts"),
		restartWindow)
	m.canary = NewCanaryMonitor(m.store, deps.Privileged, m.bus, m.logger.Named("canary"))

	m.logger.Info("decoy module initialized")
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.runCtx, m.runCancel = context.WithCancel(context.Background())

	resumed, err := m.orchestrator.ResumeActive(ctx)
	if err != nil {
		return err
	}
	if resumed > 0 {
		m.logger.Info("resumed persisted decoys", zap.Int("count", resumed))
	}

	// First-boot auto-deploy waits for the first sweep so the observed
	// service mix can pick archetypes.
	m.unsubscribe = m.bus.Subscribe([]string{"system.scan_complete"}, m.onScanComplete)

	m.wg.Add(1)
	go m.runSupervisor()

	m.logger.Info("decoy module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	m.orchestrator.StopAll(ctx)
	m.logger.Info("decoy module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	running := m.orchestrator.Running()
	degraded := 0
	for _, d := range running {
		if d.Status == models.DecoyDegraded {
			degraded++
		}
	}
	status := "ok"
	if degraded > 0 {
		status = "degraded"
	}
	return plugin.HealthStatus{
		Status: status,
		Details: map[string]string{
			"running":  strconv.Itoa(len(running)),
			"degraded": strconv.Itoa(degraded),
		},
	}
}

// Orchestrator exposes decoy lifecycle operations to the API surface.
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// Store exposes read access to decoy records.
func (m *Module) Store() *DecoyStore {
	return m.store
}

// LaunchMimic implements services.MimicLauncher.
func (m *Module) LaunchMimic(ctx context.Context, tmpl models.MimicTemplate, bindIP string) (*models.Decoy, error) {
	return m.orchestrator.LaunchMimic(ctx, tmpl, bindIP)
}

// RemoveMimic implements services.MimicLauncher.
func (m *Module) RemoveMimic(ctx context.Context, decoyID string) error {
	return m.orchestrator.RemoveMimic(ctx, decoyID)
}

// onScanComplete triggers first-boot auto-deploy after the first sweep.
func (m *Module) onScanComplete(ctx context.Context, _ models.Event) {
	m.scanSubOnce.Do(func() {
		ports := m.observedPorts(ctx)
		count, err := m.orchestrator.AutoDeploy(ctx, ports)
		if err != nil {
			m.logger.Error("auto-deploy failed", zap.Error(err))
			return
		}
		if count > 0 {
			m.logger.Info("auto-deployed decoys", zap.Int("count", count))
		}
	})
}

// observedPorts collects the open-port mix across the inventory to
// steer archetype selection.
func (m *Module) observedPorts(ctx context.Context) []int {
	rows, err := m.store.db.QueryContext(ctx,
		`SELECT DISTINCT port FROM device_open_ports ORDER BY port`)
	if err != nil {
		m.logger.Debug("observed ports query failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return ports
		}
		ports = append(ports, p)
	}
	return ports
}

// runSupervisor drives periodic health checks and canary DNS polls.
func (m *Module) runSupervisor() {
	defer m.wg.Done()

	healthTicker := time.NewTicker(m.healthInterval)
	defer healthTicker.Stop()
	canaryTicker := time.NewTicker(canaryPollInterval)
	defer canaryTicker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-healthTicker.C:
			m.orchestrator.CheckHealth(m.runCtx)
		case <-canaryTicker.C:
			m.canary.Poll(m.runCtx)
		}
	}
}
