// Package insight analyzes the device inventory for standing security
// risks: exposed legacy services and unencrypted management surfaces.
// Findings are stateful, so a risk alerts once when it appears and goes
// quiet when it is fixed, instead of re-alerting on every sweep.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Alert types emitted by the analyzer.
const (
	AlertRiskyPort        = "security.risky_port"
	AlertUnencryptedAdmin = "security.unencrypted_admin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the insight plugin.
type Module struct {
	logger  *zap.Logger
	bus     plugin.EventBus
	plugins plugin.PluginResolver
	store   *StateStore

	devices services.DeviceDirectory
	alerts  services.AlertRaiser

	analyzing   atomic.Bool
	unsubscribe func()
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an insight plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "insight",
		Version:      "0.1.0",
		Description:  "Stateful security risk analysis of the device inventory",
		APIVersion:   plugin.APIVersionCurrent,
		Dependencies: []string{"devices", "incident"},
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.plugins = deps.Plugins

	if err := deps.Store.Migrate(ctx, "insight", migrations()); err != nil {
		return err
	}
	m.store = NewStateStore(deps.Store.DB())

	m.logger.Info("insight module initialized")
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
	p, ok = m.plugins.Resolve("incident")
	if !ok {
		return fmt.Errorf("incident plugin not available")
	}
	alerts, ok := p.(services.AlertRaiser)
	if !ok {
		return fmt.Errorf("incident plugin does not expose an alert raiser")
	}
	m.devices = devices
	m.alerts = alerts

	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.unsubscribe = m.bus.Subscribe([]string{"system.scan_complete"}, m.onScanComplete)

	m.logger.Info("insight module started")
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
	m.logger.Info("insight module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Details: map[string]string{"error": err.Error()}}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"active_findings": strconv.Itoa(len(active))},
	}
}

// ActiveFindings lists unresolved, undismissed findings.
func (m *Module) ActiveFindings(ctx context.Context) ([]models.SecurityInsightState, error) {
	return m.store.ListActive(ctx)
}

// Dismiss suppresses a finding for its device.
func (m *Module) Dismiss(ctx context.Context, deviceID, insightKey string) error {
	return m.store.Dismiss(ctx, deviceID, insightKey)
}

// onScanComplete analyzes the inventory after every sweep, coalescing
// overlapping runs.
func (m *Module) onScanComplete(_ context.Context, _ models.Event) {
	if !m.analyzing.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.analyzing.Store(false)
		m.analyze(m.runCtx)
	}()
}

// analyze runs every rule against every online device and advances the
// per-finding state machine.
func (m *Module) analyze(ctx context.Context) {
	devices, err := m.devices.OnlineDevices(ctx)
	if err != nil {
		m.logger.Error("list online devices failed", zap.Error(err))
		return
	}

	raised := 0
	for i := range devices {
		dev := &devices[i]
		ports, err := m.devices.OpenPorts(ctx, dev.ID)
		if err != nil {
			m.logger.Warn("list open ports failed",
				zap.String("device_id", dev.ID), zap.Error(err))
			continue
		}

		findings := Evaluate(dev, ports)
		current := make(map[string]bool, len(findings))
		for _, f := range findings {
			current[f.Key] = true
			if m.applyFinding(ctx, dev, f) {
				raised++
			}
		}

		// Findings that stopped appearing are resolved. If the risk
		// comes back later, the row re-activates without a new alert.
		active, err := m.store.ActiveForDevice(ctx, dev.ID)
		if err != nil {
			m.logger.Warn("list active findings failed",
				zap.String("device_id", dev.ID), zap.Error(err))
			continue
		}
		for _, st := range active {
			if current[st.InsightKey] {
				continue
			}
			if err := m.store.Resolve(ctx, st.ID); err != nil {
				m.logger.Error("resolve finding failed", zap.Error(err))
			}
		}
	}

	if raised > 0 {
		m.logger.Info("security analysis raised findings",
			zap.Int("new_findings", raised),
			zap.Int("devices", len(devices)))
	}
}

// applyFinding advances one finding's state, raising an alert only on
// first appearance. Returns true when an alert was raised.
func (m *Module) applyFinding(ctx context.Context, dev *models.Device, f Finding) bool {
	st, err := m.store.Get(ctx, dev.ID, f.Key)
	switch {
	case errors.Is(err, models.ErrNotFound):
		alert, err := m.alerts.RaiseAlert(ctx, services.NewAlert{
			AlertType: alertTypeFor(f.Key),
			Severity:  f.Severity,
			Title:     f.Title,
			Detail:    f.Detail + " " + f.Remediation,
			DeviceID:  dev.ID,
			SourceIP:  dev.IPAddress,
			SourceMAC: dev.MACAddress,
		})
		if err != nil {
			m.logger.Error("raise insight alert failed", zap.Error(err))
			return false
		}
		if err := m.store.Insert(ctx, &models.SecurityInsightState{
			DeviceID:   dev.ID,
			InsightKey: f.Key,
			AlertID:    alert.ID,
		}); err != nil {
			m.logger.Error("insert finding state failed", zap.Error(err))
		}
		return true
	case err != nil:
		m.logger.Error("load finding state failed", zap.Error(err))
		return false
	case st.ResolvedAt != nil:
		if err := m.store.Reactivate(ctx, st.ID); err != nil {
			m.logger.Error("reactivate finding failed", zap.Error(err))
		}
		return false
	default:
		return false
	}
}

// alertTypeFor maps an insight key to its alert type.
func alertTypeFor(key string) string {
	if strings.HasPrefix(key, "risky_port:") {
		return AlertRiskyPort
	}
	return AlertUnencryptedAdmin
}
