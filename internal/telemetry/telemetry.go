// Package telemetry exposes Prometheus metrics for the sensor: event
// throughput, decoy activity, scout cycles, and incident counts.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// metrics holds every collector the sensor exports.
type metrics struct {
	eventsTotal    *prometheus.CounterVec
	decoyTrips     *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	scoutCycles    prometheus.Counter
	mimicsDeployed prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthwatch",
			Name:      "events_total",
			Help:      "Events published to the bus, by type.",
		}, []string{"type"}),
		decoyTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthwatch",
			Name:      "decoy_trips_total",
			Help:      "Decoy interactions, split by detection method.",
		}, []string{"kind"}),
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearthwatch",
			Name:      "alerts_total",
			Help:      "Alerts raised, by severity.",
		}, []string{"severity"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearthwatch",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one discovery sweep.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		scoutCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthwatch",
			Name:      "scout_cycles_total",
			Help:      "Completed scouting cycles.",
		}),
		mimicsDeployed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hearthwatch",
			Name:      "mimics_deployed_total",
			Help:      "Mimic decoys deployed.",
		}),
	}
}

// Module implements the telemetry plugin.
type Module struct {
	logger  *zap.Logger
	bus     plugin.EventBus
	metrics *metrics
	reg     *prometheus.Registry

	listenAddr string

	server      *http.Server
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates a telemetry plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "telemetry",
		Version:     "0.1.0",
		Description: "Prometheus metrics endpoint",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.reg = prometheus.NewRegistry()
	m.metrics = newMetrics(m.reg)

	m.listenAddr = deps.Config.GetString("telemetry.listen_address")
	if m.listenAddr == "" {
		m.listenAddr = "127.0.0.1:9470"
	}

	m.logger.Info("telemetry module initialized", zap.String("listen", m.listenAddr))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.unsubscribe = m.bus.Subscribe([]string{plugin.TopicAll}, m.observe)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", m.listenAddr)
	if err != nil {
		return err
	}
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("telemetry server failed", zap.Error(err))
		}
	}()

	m.logger.Info("telemetry module started", zap.String("addr", ln.Addr().String()))
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		m.server.Shutdown(shutdownCtx)
	}
	m.wg.Wait()
	m.logger.Info("telemetry module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: "ok"}
}

// observe translates bus events into metric updates.
func (m *Module) observe(_ context.Context, evt models.Event) {
	m.metrics.eventsTotal.WithLabelValues(evt.Type).Inc()

	switch evt.Type {
	case "decoy.trip":
		m.metrics.decoyTrips.WithLabelValues("connection").Inc()
	case "decoy.credential_trip":
		method, _ := evt.Payload["detection_method"].(string)
		if method == "" {
			method = "unknown"
		}
		m.metrics.decoyTrips.WithLabelValues(method).Inc()
	case "alert.new":
		severity, _ := evt.Payload["severity"].(string)
		if severity == "" {
			severity = string(models.SeverityLow)
		}
		m.metrics.alertsTotal.WithLabelValues(severity).Inc()
	case "system.scan_complete":
		if ms, ok := asFloat(evt.Payload["duration_ms"]); ok {
			m.metrics.scanDuration.Observe(ms / 1000)
		}
	case "scout.cycle_complete":
		m.metrics.scoutCycles.Inc()
	case "mimic.deployed":
		m.metrics.mimicsDeployed.Inc()
	}
}

// asFloat normalizes the numeric types a JSON round-trip can produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
