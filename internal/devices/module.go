// Package devices maintains the device inventory: fingerprinting scan
// observations, matching them against known devices, classifying new
// arrivals, and tracking online/offline transitions and trust.
package devices

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/classify"
	"github.com/hearthwatch/hearthwatch/internal/fingerprint"
	"github.com/hearthwatch/hearthwatch/internal/llm/openai"
	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/llm"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin            = (*Module)(nil)
	_ plugin.HealthChecker     = (*Module)(nil)
	_ services.ScanSink        = (*Module)(nil)
	_ services.DeviceDirectory = (*Module)(nil)
)

// offlineAfterScans is how many missed scan cycles mark a device offline.
const offlineAfterScans = 3

// Module implements the devices plugin.
type Module struct {
	logger   *zap.Logger
	store    *DeviceStore
	manager  *Manager
	enricher *Enricher

	scanInterval   time.Duration
	enrichInterval time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a devices plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "devices",
		Version:     "0.1.0",
		Description: "Device inventory, fingerprinting, and classification",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	if err := deps.Store.Migrate(ctx, "devices", migrations()); err != nil {
		return err
	}
	m.store = NewDeviceStore(deps.Store.DB())

	cfg := deps.Config
	m.scanInterval = cfg.GetDuration("scan_interval")
	if m.scanInterval <= 0 {
		m.scanInterval = 60 * time.Second
	}

	weights := fingerprint.DefaultWeights()
	if cfg.IsSet("fingerprint.signal_weights") {
		if ws, ok := cfg.Get("fingerprint.signal_weights").([]any); ok && len(ws) == 5 {
			vals := make([]float64, 5)
			for i, w := range ws {
				switch v := w.(type) {
				case float64:
					vals[i] = v
				case int:
					vals[i] = float64(v)
				}
			}
			weights = fingerprint.Weights{
				MDNS:        vals[0],
				DHCP:        vals[1],
				Connections: vals[2],
				MAC:         vals[3],
				Ports:       vals[4],
			}
		}
	}

	autoApprove := cfg.GetFloat64("fingerprint.auto_approve_threshold")
	if autoApprove == 0 {
		autoApprove = 0.75
	}
	verify := cfg.GetFloat64("fingerprint.verify_threshold")
	if verify == 0 {
		verify = 0.50
	}

	var provider llm.Provider
	var model string
	mode := cfg.GetString("classifier.mode")
	if mode == "cloud" || mode == "local_llm" {
		oc := openai.Config{
			BaseURL: cfg.GetString("classifier.base_url"),
			Model:   cfg.GetString("classifier.model"),
		}
		if d := cfg.GetDuration("classifier.timeout"); d > 0 {
			oc.Timeout = d
		}
		p, err := openai.New(oc, cfg.GetString("classifier.api_key"), m.logger.Named("llm"))
		if err != nil {
			m.logger.Warn("llm provider unavailable, classifier degrades to local",
				zap.String("mode", mode), zap.Error(err))
		} else {
			provider = p
			model = oc.Model
		}
	}

	classifier := classify.New(provider, model, m.logger.Named("classify"))
	matcher := fingerprint.NewMatcher(weights)
	m.manager = NewManager(m.store, matcher, classifier, deps.Bus, m.logger, autoApprove, verify)

	if url := cfg.GetString("registry.url"); url != "" {
		client := NewRegistryClient(url, cfg.GetString("registry.token"))
		m.enricher = NewEnricher(client, m.store, m.manager, m.logger.Named("enrich"))
		m.enrichInterval = cfg.GetDuration("registry.refresh_interval")
		if m.enrichInterval <= 0 {
			m.enrichInterval = time.Hour
		}
	}

	m.logger.Info("devices module initialized",
		zap.String("classifier_mode", mode),
		zap.Bool("registry_enrichment", m.enricher != nil))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.runCtx, m.runCancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.runOfflineChecker()

	if m.enricher != nil {
		m.wg.Add(1)
		go m.runEnricher()
	}

	m.logger.Info("devices module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	m.logger.Info("devices module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	online, err := m.store.ListOnlineDevices(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status: "ok",
		Details: map[string]string{
			"online_devices": strconv.Itoa(len(online)),
		},
	}
}

// ProcessScan implements services.ScanSink.
func (m *Module) ProcessScan(ctx context.Context, obs models.ScanObservation) (*models.Device, error) {
	return m.manager.ProcessScan(ctx, obs)
}

// Device implements services.DeviceDirectory.
func (m *Module) Device(ctx context.Context, id string) (*models.Device, error) {
	return m.store.GetDevice(ctx, id)
}

// OnlineDevices implements services.DeviceDirectory.
func (m *Module) OnlineDevices(ctx context.Context) ([]models.Device, error) {
	return m.store.ListOnlineDevices(ctx)
}

// OpenPorts implements services.DeviceDirectory.
func (m *Module) OpenPorts(ctx context.Context, deviceID string) ([]models.DeviceOpenPort, error) {
	return m.store.ListOpenPorts(ctx, deviceID)
}

// Trust implements services.DeviceDirectory.
func (m *Module) Trust(ctx context.Context, deviceID string) (models.TrustStatus, error) {
	return m.store.GetTrust(ctx, deviceID)
}

// SetTrust records a manual approval decision.
func (m *Module) SetTrust(ctx context.Context, deviceID string, status models.TrustStatus, approvedBy string) error {
	return m.manager.Approve(ctx, deviceID, status, approvedBy)
}

// runOfflineChecker periodically marks stale devices offline. A device
// that misses a few consecutive scan cycles is considered gone.
func (m *Module) runOfflineChecker() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			threshold := time.Now().UTC().Add(-offlineAfterScans * m.scanInterval)
			if err := m.manager.MarkOffline(m.runCtx, threshold); err != nil {
				m.logger.Warn("offline check failed", zap.Error(err))
			}
		}
	}
}

// runEnricher refreshes registry enrichment on a slow cadence.
func (m *Module) runEnricher() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.enrichInterval)
	defer ticker.Stop()

	if err := m.enricher.Run(m.runCtx); err != nil {
		m.logger.Warn("registry enrichment failed", zap.Error(err))
	}
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			if err := m.enricher.Run(m.runCtx); err != nil {
				m.logger.Warn("registry enrichment failed", zap.Error(err))
			}
		}
	}
}
