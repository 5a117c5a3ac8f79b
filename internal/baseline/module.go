// Package baseline learns which destinations each approved device
// talks to during a bounded learning window, then flags departures
// from that behavior as anomalies.
package baseline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/incident"
	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Event topics published by the baseline plugin.
const (
	TopicLearningProgress = "system.learning_progress"
	TopicLearningComplete = "system.learning_complete"
)

// progressInterval is how often learning progress is announced.
const progressInterval = time.Hour

// Compile-time interface guards.
var (
	_ plugin.Plugin             = (*Module)(nil)
	_ services.BaselineRecorder = (*Module)(nil)
)

// Module implements the baseline plugin.
type Module struct {
	logger  *zap.Logger
	bus     plugin.EventBus
	store   *BaselineStore
	plugins plugin.PluginResolver

	devices services.DeviceDirectory
	alerts  services.AlertRaiser

	state   State
	stateMu sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a baseline plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "baseline",
		Version:      "0.1.0",
		Description:  "Connection baseline learning and anomaly detection",
		Dependencies: []string{"devices", "incident"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.plugins = deps.Plugins

	if err := deps.Store.Migrate(ctx, "baseline", migrations()); err != nil {
		return err
	}
	m.store = NewBaselineStore(deps.Store.DB())

	hours := deps.Config.GetInt("learning_duration_hours")
	if hours <= 0 {
		hours = 48
	}
	state, err := m.store.LoadState(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		return err
	}
	m.state = state

	m.logger.Info("baseline module initialized",
		zap.Time("learning_ends_at", state.EndsAt),
		zap.Bool("learning_completed", state.Completed))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	p, ok := m.plugins.Resolve("devices")
	if !ok {
		return fmt.Errorf("devices plugin not available")
	}
	dir, ok := p.(services.DeviceDirectory)
	if !ok {
		return fmt.Errorf("devices plugin does not expose the device directory")
	}
	m.devices = dir

	p, ok = m.plugins.Resolve("incident")
	if !ok {
		return fmt.Errorf("incident plugin not available")
	}
	raiser, ok := p.(services.AlertRaiser)
	if !ok {
		return fmt.Errorf("incident plugin does not raise alerts")
	}
	m.alerts = raiser

	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.runLearningTracker()

	m.logger.Info("baseline module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	m.logger.Info("baseline module stopped")
	return nil
}

// Learning reports whether the learning window is still open.
func (m *Module) Learning() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return time.Now().UTC().Before(m.state.EndsAt)
}

// Baseline returns a device's learned destinations.
func (m *Module) Baseline(ctx context.Context, deviceID string) ([]models.ConnectionBaseline, error) {
	return m.store.List(ctx, deviceID)
}

// RecordConnections implements services.BaselineRecorder. During
// learning every destination of an approved device is absorbed; after
// learning, a destination outside the baseline raises one anomaly alert
// and is then remembered so it never alerts twice.
func (m *Module) RecordConnections(ctx context.Context, deviceID string, dests []models.Destination) {
	trust, err := m.devices.Trust(ctx, deviceID)
	if err != nil {
		m.logger.Warn("trust lookup failed", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	if trust != models.TrustApproved {
		return
	}

	learning := m.Learning()
	for _, dest := range dests {
		if learning {
			if err := m.store.Upsert(ctx, deviceID, dest, false); err != nil {
				m.logger.Warn("baseline upsert failed", zap.Error(err))
			}
			continue
		}

		known, err := m.store.Known(ctx, deviceID, dest)
		if err != nil {
			m.logger.Warn("baseline lookup failed", zap.Error(err))
			continue
		}
		if known {
			if err := m.store.Upsert(ctx, deviceID, dest, false); err != nil {
				m.logger.Warn("baseline upsert failed", zap.Error(err))
			}
			continue
		}

		hasBaseline, err := m.store.HasBaseline(ctx, deviceID)
		if err != nil {
			m.logger.Warn("baseline presence check failed", zap.Error(err))
			continue
		}
		if !hasBaseline {
			// Never learned, never flagged.
			continue
		}

		if err := m.store.Upsert(ctx, deviceID, dest, true); err != nil {
			m.logger.Warn("baseline upsert failed", zap.Error(err))
			continue
		}
		m.flagAnomaly(ctx, deviceID, dest)
	}
}

func (m *Module) flagAnomaly(ctx context.Context, deviceID string, dest models.Destination) {
	device, err := m.devices.Device(ctx, deviceID)
	if err != nil {
		m.logger.Warn("device lookup failed", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	title := fmt.Sprintf("%s contacted new destination %s:%d", device.DisplayName(), dest.IP, dest.Port)
	if _, err := m.alerts.RaiseAlert(ctx, services.NewAlert{
		AlertType: incident.AlertBehavioralAnomaly,
		Title:     title,
		Detail:    fmt.Sprintf("Destination %s:%d is outside the device's learned baseline.", dest.IP, dest.Port),
		SourceIP:  device.IPAddress,
		SourceMAC: device.MACAddress,
		DeviceID:  deviceID,
	}); err != nil {
		m.logger.Error("raise anomaly alert failed", zap.Error(err))
	}
}

// runLearningTracker announces learning progress and the one-time
// completion transition.
func (m *Module) runLearningTracker() {
	defer m.wg.Done()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	check := func() {
		m.stateMu.Lock()
		state := m.state
		m.stateMu.Unlock()

		now := time.Now().UTC()
		if now.Before(state.EndsAt) {
			total := state.EndsAt.Sub(state.StartedAt)
			elapsed := now.Sub(state.StartedAt)
			pct := 100 * elapsed / total
			m.publish(m.runCtx, TopicLearningProgress, map[string]any{
				"percent":  int(pct),
				"ends_at":  plugin.EventTimestamp(state.EndsAt),
				"complete": false,
			})
			return
		}
		if state.Completed {
			return
		}
		if err := m.store.MarkCompleted(m.runCtx); err != nil {
			m.logger.Warn("mark learning completed failed", zap.Error(err))
			return
		}
		m.stateMu.Lock()
		m.state.Completed = true
		m.stateMu.Unlock()

		m.logger.Info("learning window complete, anomaly detection active")
		m.publish(m.runCtx, TopicLearningComplete, map[string]any{
			"started_at": plugin.EventTimestamp(state.StartedAt),
			"ended_at":   plugin.EventTimestamp(state.EndsAt),
		})
	}

	check()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (m *Module) publish(ctx context.Context, topic string, payload map[string]any) {
	if _, err := m.bus.Publish(ctx, topic, payload, "baseline"); err != nil {
		m.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
