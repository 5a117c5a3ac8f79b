package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// recordingBus captures published topics without persistence.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, eventType string, _ any, _ string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, eventType)
	return int64(len(b.topics)), nil
}

func (b *recordingBus) Subscribe(_ []string, _ plugin.EventHandler) func() {
	return func() {}
}

func (b *recordingBus) Replay(_ context.Context, _ int64) ([]models.Event, error) {
	return nil, nil
}

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

func testModule(t *testing.T) (*Module, *recordingBus) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "incident", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := &recordingBus{}
	m := &Module{
		logger:      zap.NewNop(),
		bus:         bus,
		store:       NewIncidentStore(db.DB()),
		window:      15 * time.Minute,
		closeWindow: time.Hour,
	}
	return m, bus
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		alertType string
		explicit  models.Severity
		want      models.Severity
	}{
		{AlertCredentialTrip, "", models.SeverityCritical},
		{AlertDecoyTrip, "", models.SeverityHigh},
		{AlertBehavioralAnomaly, "", models.SeverityMedium},
		{AlertRiskyPort, models.SeverityHigh, models.SeverityHigh},
		{"something.unknown", "", models.SeverityLow},
	}
	for _, tc := range cases {
		if got := severityFor(tc.alertType, tc.explicit); got != tc.want {
			t.Errorf("severityFor(%q, %q) = %q, want %q", tc.alertType, tc.explicit, got, tc.want)
		}
	}
}

func TestRaiseAlert_OpensIncident(t *testing.T) {
	m, bus := testModule(t)
	ctx := context.Background()

	alert, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip,
		Title:     "Decoy connection from 192.168.1.66",
		SourceIP:  "192.168.1.66",
		DecoyID:   "decoy-1",
	})
	if err != nil {
		t.Fatalf("raise alert: %v", err)
	}
	if alert.IncidentID == "" {
		t.Fatal("alert should be attached to a new incident")
	}
	if alert.Severity != models.SeverityHigh {
		t.Errorf("severity = %q, want high", alert.Severity)
	}

	inc, err := m.store.GetIncident(ctx, alert.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if inc.AlertCount != 1 {
		t.Errorf("alert_count = %d, want 1", inc.AlertCount)
	}
	if inc.Status != models.IncidentActive {
		t.Errorf("status = %q, want active", inc.Status)
	}

	var sawNew bool
	for _, topic := range bus.published() {
		if topic == TopicIncidentNew {
			sawNew = true
		}
	}
	if !sawNew {
		t.Errorf("published topics %v missing %s", bus.published(), TopicIncidentNew)
	}
}

func TestRaiseAlert_AggregatesWithinWindow(t *testing.T) {
	m, _ := testModule(t)
	ctx := context.Background()

	first, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip,
		Title:     "Decoy connection",
		SourceIP:  "192.168.1.66",
	})
	if err != nil {
		t.Fatalf("first alert: %v", err)
	}

	second, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertCredentialTrip,
		Title:     "Planted credential used",
		SourceIP:  "192.168.1.66",
	})
	if err != nil {
		t.Fatalf("second alert: %v", err)
	}
	if second.IncidentID != first.IncidentID {
		t.Errorf("second alert joined incident %q, want %q", second.IncidentID, first.IncidentID)
	}

	inc, err := m.store.GetIncident(ctx, first.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if inc.AlertCount != 2 {
		t.Errorf("alert_count = %d, want 2", inc.AlertCount)
	}
	if inc.Severity != models.SeverityCritical {
		t.Errorf("severity = %q, want escalated to critical", inc.Severity)
	}
}

func TestRaiseAlert_DifferentSourcesGetSeparateIncidents(t *testing.T) {
	m, _ := testModule(t)
	ctx := context.Background()

	a, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip, Title: "t", SourceIP: "192.168.1.10",
	})
	if err != nil {
		t.Fatalf("alert a: %v", err)
	}
	b, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip, Title: "t", SourceIP: "192.168.1.11",
	})
	if err != nil {
		t.Fatalf("alert b: %v", err)
	}
	if a.IncidentID == b.IncidentID {
		t.Error("alerts from different sources should not share an incident")
	}
}

func TestRaiseAlert_NoSourceIPMeansNoIncident(t *testing.T) {
	m, _ := testModule(t)

	alert, err := m.RaiseAlert(context.Background(), services.NewAlert{
		AlertType: AlertDecoyHealthDegrade,
		Title:     "Decoy went unhealthy",
		DecoyID:   "decoy-1",
	})
	if err != nil {
		t.Fatalf("raise alert: %v", err)
	}
	if alert.IncidentID != "" {
		t.Errorf("incident_id = %q, want none without a source ip", alert.IncidentID)
	}
}

func TestRaiseAlert_MissingTypeIsValidationError(t *testing.T) {
	m, _ := testModule(t)

	_, err := m.RaiseAlert(context.Background(), services.NewAlert{Title: "no type"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestCloseStale_ClosureIsTerminal(t *testing.T) {
	m, _ := testModule(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-3 * time.Hour)
	inc := &models.Incident{
		SourceIP:     "192.168.1.66",
		Status:       models.IncidentActive,
		Severity:     models.SeverityHigh,
		AlertCount:   1,
		FirstAlertAt: old,
		LastAlertAt:  old,
		Summary:      "quiet source",
	}
	if err := m.store.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("insert incident: %v", err)
	}

	closed, err := m.store.CloseStale(ctx, time.Now().UTC().Add(-m.closeWindow))
	if err != nil {
		t.Fatalf("close stale: %v", err)
	}
	if len(closed) != 1 || closed[0].ID != inc.ID {
		t.Fatalf("closed = %v, want the stale incident", closed)
	}
	if closed[0].ClosedAt == nil {
		t.Error("closed incident should carry closed_at")
	}

	// A fresh alert from the same source opens a new incident rather
	// than reviving the closed one.
	alert, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip, Title: "back again", SourceIP: "192.168.1.66",
	})
	if err != nil {
		t.Fatalf("raise alert: %v", err)
	}
	if alert.IncidentID == inc.ID {
		t.Error("closed incident must not accept new alerts")
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	m, _ := testModule(t)
	ctx := context.Background()

	alert, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip, Title: "t", SourceIP: "192.168.1.5",
	})
	if err != nil {
		t.Fatalf("raise alert: %v", err)
	}

	if err := m.MarkRead(ctx, alert.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	got, err := m.store.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if got.ReadAt == nil {
		t.Fatal("read_at not set")
	}
	stamp := *got.ReadAt

	if err := m.MarkRead(ctx, alert.ID); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	got, _ = m.store.GetAlert(ctx, alert.ID)
	if !got.ReadAt.Equal(stamp) {
		t.Error("second mark read must not move the timestamp")
	}

	if err := m.MarkRead(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("mark read missing: error = %v, want ErrNotFound", err)
	}
}

func TestMarkActioned(t *testing.T) {
	m, _ := testModule(t)
	ctx := context.Background()

	alert, err := m.RaiseAlert(ctx, services.NewAlert{
		AlertType: AlertDecoyTrip, Title: "t", SourceIP: "192.168.1.5",
	})
	if err != nil {
		t.Fatalf("raise alert: %v", err)
	}

	if err := m.MarkActioned(ctx, alert.ID, "blocked at router"); err != nil {
		t.Fatalf("mark actioned: %v", err)
	}
	got, err := m.store.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if got.ActionedAt == nil || got.ActionNote != "blocked at router" {
		t.Errorf("actioned_at = %v, note = %q", got.ActionedAt, got.ActionNote)
	}

	if err := m.MarkActioned(ctx, "missing", "x"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("mark actioned missing: error = %v, want ErrNotFound", err)
	}
}
