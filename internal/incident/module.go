// Package incident folds alertable findings into time-windowed
// incidents keyed by source, escalating incident severity to the max
// of its alerts and closing incidents that go quiet.
package incident

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Event topics published by the incident plugin.
const (
	TopicAlertNew        = "alert.new"
	TopicAlertUpdated    = "alert.updated"
	TopicIncidentNew     = "incident.new"
	TopicIncidentUpdated = "incident.updated"
)

// closeSweepInterval is how often quiet incidents are checked for closure.
const closeSweepInterval = time.Minute

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ services.AlertRaiser = (*Module)(nil)
)

// Module implements the incident plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	store  *IncidentStore

	window      time.Duration
	closeWindow time.Duration

	// aggMu serializes the find-or-create incident decision so two
	// concurrent alerts from one source cannot fork incidents.
	aggMu sync.Mutex

	unsubscribe func()
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an incident plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "incident",
		Version:     "0.1.0",
		Description: "Alert aggregation into time-windowed incidents",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if err := deps.Store.Migrate(ctx, "incident", migrations()); err != nil {
		return err
	}
	m.store = NewIncidentStore(deps.Store.DB())

	cfg := deps.Config
	windowMin := cfg.GetInt("incident_window_minutes")
	if windowMin <= 0 {
		windowMin = 15
	}
	closeMin := cfg.GetInt("incident_close_window_minutes")
	if closeMin < windowMin {
		closeMin = 60
	}
	m.window = time.Duration(windowMin) * time.Minute
	m.closeWindow = time.Duration(closeMin) * time.Minute

	m.logger.Info("incident module initialized",
		zap.Duration("window", m.window),
		zap.Duration("close_window", m.closeWindow))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.runCtx, m.runCancel = context.WithCancel(context.Background())

	m.unsubscribe = m.bus.Subscribe(
		[]string{"decoy.trip", "decoy.credential_trip"},
		m.handleDecoyEvent,
	)

	m.wg.Add(1)
	go m.runCloseSweeper()

	m.logger.Info("incident module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	m.logger.Info("incident module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	active, err := m.store.ListIncidents(ctx, models.IncidentActive)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status: "ok",
		Details: map[string]string{
			"active_incidents": strconv.Itoa(len(active)),
		},
	}
}

// RaiseAlert implements services.AlertRaiser: persist the alert, fold
// it into the source's active incident or open a new one, and announce
// both on the bus.
func (m *Module) RaiseAlert(ctx context.Context, na services.NewAlert) (*models.Alert, error) {
	if na.AlertType == "" {
		return nil, fmt.Errorf("alert_type is required: %w", models.ErrValidation)
	}

	now := time.Now().UTC()
	alert := &models.Alert{
		AlertType: na.AlertType,
		Severity:  severityFor(na.AlertType, na.Severity),
		Title:     na.Title,
		Detail:    na.Detail,
		SourceIP:  na.SourceIP,
		SourceMAC: na.SourceMAC,
		DeviceID:  na.DeviceID,
		DecoyID:   na.DecoyID,
		EventSeq:  na.EventSeq,
		CreatedAt: now,
	}

	m.aggMu.Lock()
	defer m.aggMu.Unlock()

	var incident *models.Incident
	if na.SourceIP != "" {
		existing, err := m.store.FindActiveWithin(ctx, na.SourceIP, now.Add(-m.window))
		if err != nil {
			return nil, err
		}
		incident = existing
	}

	incidentIsNew := false
	if incident != nil {
		if err := m.store.AttachAlert(ctx, incident.ID, alert.Severity, now); err != nil {
			return nil, err
		}
		incident.AlertCount++
		incident.LastAlertAt = now
		incident.Severity = models.MaxSeverity(incident.Severity, alert.Severity)
	} else if na.SourceIP != "" {
		incident = &models.Incident{
			SourceIP:     na.SourceIP,
			SourceMAC:    na.SourceMAC,
			Status:       models.IncidentActive,
			Severity:     alert.Severity,
			AlertCount:   1,
			FirstAlertAt: now,
			LastAlertAt:  now,
			Summary:      na.Title,
		}
		if err := m.store.InsertIncident(ctx, incident); err != nil {
			return nil, err
		}
		incidentIsNew = true
	}

	if incident != nil {
		alert.IncidentID = incident.ID
	}
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return nil, err
	}

	m.logger.Info("alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("type", alert.AlertType),
		zap.String("severity", string(alert.Severity)),
		zap.String("source_ip", alert.SourceIP),
		zap.String("incident_id", alert.IncidentID))

	m.publish(ctx, TopicAlertNew, map[string]any{
		"alert_id":    alert.ID,
		"incident_id": alert.IncidentID,
		"alert_type":  alert.AlertType,
		"severity":    string(alert.Severity),
		"title":       alert.Title,
		"source_ip":   alert.SourceIP,
	})
	if incident != nil {
		topic := TopicIncidentUpdated
		if incidentIsNew {
			topic = TopicIncidentNew
		}
		m.publish(ctx, topic, map[string]any{
			"incident_id": incident.ID,
			"source_ip":   incident.SourceIP,
			"severity":    string(incident.Severity),
			"alert_count": incident.AlertCount,
			"status":      string(incident.Status),
		})
	}
	return alert, nil
}

// MarkRead stamps an alert as read and announces the update.
func (m *Module) MarkRead(ctx context.Context, alertID string) error {
	if err := m.store.MarkRead(ctx, alertID); err != nil {
		return err
	}
	m.publish(ctx, TopicAlertUpdated, map[string]any{"alert_id": alertID, "read": true})
	return nil
}

// MarkActioned records an operator's response to an alert.
func (m *Module) MarkActioned(ctx context.Context, alertID, note string) error {
	if err := m.store.MarkActioned(ctx, alertID, note); err != nil {
		return err
	}
	m.publish(ctx, TopicAlertUpdated, map[string]any{"alert_id": alertID, "actioned": true})
	return nil
}

// handleDecoyEvent converts decoy trip events into alerts. The decoy
// plugin publishes facts; the severity and incident grouping live here.
func (m *Module) handleDecoyEvent(ctx context.Context, ev models.Event) {
	str := func(key string) string {
		s, _ := ev.Payload[key].(string)
		return s
	}

	title := "Decoy connection from " + str("source_ip")
	alertType := AlertDecoyTrip
	if ev.Type == "decoy.credential_trip" {
		alertType = AlertCredentialTrip
		title = "Planted credential used from " + str("source_ip")
	}

	if _, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: alertType,
		Title:     title,
		Detail:    str("detail"),
		SourceIP:  str("source_ip"),
		SourceMAC: str("source_mac"),
		DecoyID:   str("decoy_id"),
		EventSeq:  ev.Seq,
	}); err != nil {
		m.logger.Error("raise alert from decoy event failed",
			zap.String("event_type", ev.Type), zap.Error(err))
	}
}

// runCloseSweeper closes incidents whose sources have gone quiet.
// Closure is terminal; a later alert starts a fresh incident.
func (m *Module) runCloseSweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(closeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			closed, err := m.store.CloseStale(m.runCtx, time.Now().UTC().Add(-m.closeWindow))
			if err != nil {
				m.logger.Warn("incident close sweep failed", zap.Error(err))
				continue
			}
			for _, inc := range closed {
				m.logger.Info("incident closed",
					zap.String("incident_id", inc.ID),
					zap.String("source_ip", inc.SourceIP))
				m.publish(m.runCtx, TopicIncidentUpdated, map[string]any{
					"incident_id": inc.ID,
					"source_ip":   inc.SourceIP,
					"severity":    string(inc.Severity),
					"alert_count": inc.AlertCount,
					"status":      string(models.IncidentClosed),
				})
			}
		}
	}
}

func (m *Module) publish(ctx context.Context, topic string, payload map[string]any) {
	if _, err := m.bus.Publish(ctx, topic, payload, "incident"); err != nil {
		m.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
