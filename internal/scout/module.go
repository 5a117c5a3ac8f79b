// Package scout periodically deep-probes the open services on approved
// devices, building the service profiles that mimic decoys replay.
package scout

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Topics published by the scout.
const (
	// TopicCycleComplete is published after every scouting cycle.
	TopicCycleComplete = "scout.cycle_complete"

	// TopicProfileChanged is published when a re-probe finds a stored
	// service profile materially changed.
	TopicProfileChanged = "system.profile_changed"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin             = (*Module)(nil)
	_ plugin.HealthChecker      = (*Module)(nil)
	_ services.ProfileDirectory = (*Module)(nil)
)

// Module implements the scout plugin.
type Module struct {
	logger  *zap.Logger
	bus     plugin.EventBus
	plugins plugin.PluginResolver
	store   *ProfileStore
	prober  *Prober

	devices services.DeviceDirectory

	initialDelay time.Duration
	interval     time.Duration
	maxProbes    int
	limiter      *rate.Limiter

	cycling     atomic.Bool
	firstScan   sync.Once
	unsubscribe func()
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup

	mu        sync.Mutex
	lastCycle time.Time
	lastCount int
}

// New creates a scout plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "scout",
		Version:      "0.1.0",
		Description:  "Deep service profiling for mimic decoy templates",
		APIVersion:   plugin.APIVersionCurrent,
		Dependencies: []string{"devices"},
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.plugins = deps.Plugins

	if err := deps.Store.Migrate(ctx, "scout", migrations()); err != nil {
		return err
	}
	m.store = NewProfileStore(deps.Store.DB())
	m.prober = NewProber(m.logger.Named("probe"))

	cfg := deps.Config
	m.initialDelay = cfg.GetDuration("scouts.initial_delay")
	if m.initialDelay <= 0 {
		m.initialDelay = 5 * time.Minute
	}
	m.interval = time.Duration(cfg.GetInt("scouts.interval_minutes")) * time.Minute
	if m.interval <= 0 {
		m.interval = 6 * time.Hour
	}
	m.maxProbes = cfg.GetInt("scouts.max_concurrent_probes")
	if m.maxProbes <= 0 {
		m.maxProbes = 4
	}

	// One probe every two seconds on average keeps the scout quieter
	// than a port scanner on the wire.
	m.limiter = rate.NewLimiter(rate.Every(2*time.Second), m.maxProbes)

	m.logger.Info("scout module initialized",
		zap.Duration("interval", m.interval),
		zap.Int("max_concurrent_probes", m.maxProbes))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	p, ok := m.plugins.Resolve("devices")
	if !ok {
		return fmt.Errorf("devices plugin not available")
	}
	devices, ok := p.(services.DeviceDirectory)
	if !ok {
		return fmt.Errorf("devices plugin does not expose a device directory")
	}
	m.devices = devices

	m.runCtx, m.runCancel = context.WithCancel(context.Background())

	// The first cycle waits for a completed sweep plus a settle delay so
	// the inventory has ports to probe.
	m.unsubscribe = m.bus.Subscribe([]string{"system.scan_complete"}, m.onScanComplete)

	m.logger.Info("scout module started")
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
	m.logger.Info("scout module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	last, count := m.lastCycle, m.lastCount
	m.mu.Unlock()

	details := map[string]string{"last_cycle_profiles": strconv.Itoa(count)}
	if !last.IsZero() {
		details["last_cycle"] = last.Format(time.RFC3339)
	}
	return plugin.HealthStatus{Status: "ok", Details: details}
}

// ProfilesForDevice implements services.ProfileDirectory.
func (m *Module) ProfilesForDevice(ctx context.Context, deviceID string) ([]models.ServiceProfile, error) {
	return m.store.ForDevice(ctx, deviceID)
}

// RunNow starts a cycle immediately. Returns false if one is already
// in progress.
func (m *Module) RunNow() bool {
	if !m.cycling.CompareAndSwap(false, true) {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.cycling.Store(false)
		m.runCycle(m.runCtx)
	}()
	return true
}

// onScanComplete arms the scheduler after the first completed sweep.
func (m *Module) onScanComplete(_ context.Context, _ models.Event) {
	m.firstScan.Do(func() {
		m.wg.Add(1)
		go m.runScheduler()
	})
}

// runScheduler waits out the settle delay then cycles on the interval.
func (m *Module) runScheduler() {
	defer m.wg.Done()

	select {
	case <-m.runCtx.Done():
		return
	case <-time.After(m.initialDelay):
	}
	m.cycle()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.cycle()
		}
	}
}

// cycle runs one scouting pass unless one is already in flight.
func (m *Module) cycle() {
	if !m.cycling.CompareAndSwap(false, true) {
		m.logger.Debug("scout cycle already in progress, skipping")
		return
	}
	defer m.cycling.Store(false)
	m.runCycle(m.runCtx)
}

// runCycle probes every open port on every online approved device.
func (m *Module) runCycle(ctx context.Context) {
	start := time.Now()

	devices, err := m.devices.OnlineDevices(ctx)
	if err != nil {
		m.logger.Error("list online devices failed", zap.Error(err))
		return
	}

	type target struct {
		deviceID string
		ip       string
		port     int
	}
	var targets []target
	for _, dev := range devices {
		trust, err := m.devices.Trust(ctx, dev.ID)
		if err != nil || trust != models.TrustApproved {
			continue
		}
		ports, err := m.devices.OpenPorts(ctx, dev.ID)
		if err != nil {
			m.logger.Warn("list open ports failed",
				zap.String("device_id", dev.ID), zap.Error(err))
			continue
		}
		for _, op := range ports {
			if op.Protocol != "tcp" {
				continue
			}
			targets = append(targets, target{deviceID: dev.ID, ip: dev.IPAddress, port: op.Port})
		}
	}

	var (
		profiled atomic.Int64
		sem      = make(chan struct{}, m.maxProbes)
		probeWG  sync.WaitGroup
	)
	for _, t := range targets {
		if err := m.limiter.Wait(ctx); err != nil {
			break
		}
		sem <- struct{}{}
		probeWG.Add(1)
		go func(t target) {
			defer probeWG.Done()
			defer func() { <-sem }()

			profile := m.prober.Probe(ctx, t.deviceID, t.ip, t.port)
			changed, err := m.store.Upsert(ctx, profile)
			if err != nil {
				m.logger.Error("store profile failed",
					zap.String("device_id", t.deviceID),
					zap.Int("port", t.port), zap.Error(err))
				return
			}
			profiled.Add(1)
			if changed {
				if _, err := m.bus.Publish(ctx, TopicProfileChanged, map[string]any{
					"device_id": t.deviceID,
					"ip":        t.ip,
					"port":      t.port,
				}, "scout"); err != nil {
					m.logger.Warn("publish profile changed failed", zap.Error(err))
				}
			}
		}(t)
	}
	probeWG.Wait()

	duration := time.Since(start)
	m.mu.Lock()
	m.lastCycle = time.Now().UTC()
	m.lastCount = int(profiled.Load())
	m.mu.Unlock()

	if _, err := m.bus.Publish(ctx, TopicCycleComplete, map[string]any{
		"devices":     len(devices),
		"targets":     len(targets),
		"profiles":    profiled.Load(),
		"duration_ms": duration.Milliseconds(),
	}, "scout"); err != nil {
		m.logger.Warn("publish cycle complete failed", zap.Error(err))
	}

	m.logger.Info("scout cycle complete",
		zap.Int("targets", len(targets)),
		zap.Int64("profiles", profiled.Load()),
		zap.Duration("duration", duration))
}
