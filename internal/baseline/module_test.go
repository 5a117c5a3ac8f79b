package baseline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

type stubDirectory struct {
	devices map[string]*models.Device
	trust   map[string]models.TrustStatus
}

func (d *stubDirectory) Device(_ context.Context, id string) (*models.Device, error) {
	if dev, ok := d.devices[id]; ok {
		return dev, nil
	}
	return nil, models.ErrNotFound
}

func (d *stubDirectory) OnlineDevices(_ context.Context) ([]models.Device, error) {
	return nil, nil
}

func (d *stubDirectory) OpenPorts(_ context.Context, _ string) ([]models.DeviceOpenPort, error) {
	return nil, nil
}

func (d *stubDirectory) Trust(_ context.Context, id string) (models.TrustStatus, error) {
	if t, ok := d.trust[id]; ok {
		return t, nil
	}
	return models.TrustUnknown, nil
}

type stubRaiser struct {
	mu     sync.Mutex
	raised []services.NewAlert
}

func (r *stubRaiser) RaiseAlert(_ context.Context, a services.NewAlert) (*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, a)
	return &models.Alert{ID: "alert-1", AlertType: a.AlertType}, nil
}

func (r *stubRaiser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raised)
}

func testBaselineModule(t *testing.T, learning bool) (*Module, *stubRaiser) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "baseline", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	endsAt := now.Add(-time.Hour)
	if learning {
		endsAt = now.Add(time.Hour)
	}

	raiser := &stubRaiser{}
	m := &Module{
		logger: zap.NewNop(),
		store:  NewBaselineStore(db.DB()),
		state:  State{StartedAt: now.Add(-time.Hour), EndsAt: endsAt},
		devices: &stubDirectory{
			devices: map[string]*models.Device{
				"dev-1": {ID: "dev-1", IPAddress: "192.168.1.20", Hostname: "cam-1"},
			},
			trust: map[string]models.TrustStatus{"dev-1": models.TrustApproved},
		},
		alerts: raiser,
	}
	return m, raiser
}

func TestRecordConnections_LearningAbsorbsEverything(t *testing.T) {
	m, raiser := testBaselineModule(t, true)
	ctx := context.Background()

	m.RecordConnections(ctx, "dev-1", []models.Destination{
		{IP: "52.1.2.3", Port: 443},
		{IP: "52.1.2.4", Port: 8883},
	})

	if raiser.count() != 0 {
		t.Errorf("learning window raised %d alerts, want 0", raiser.count())
	}
	entries, err := m.Baseline(ctx, "dev-1")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("baseline entries = %d, want 2", len(entries))
	}
}

func TestRecordConnections_AnomalyFlaggedOnce(t *testing.T) {
	m, raiser := testBaselineModule(t, false)
	ctx := context.Background()

	// Seed a learned destination directly.
	if err := m.store.Upsert(ctx, "dev-1", models.Destination{IP: "52.1.2.3", Port: 443}, false); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}

	// Known destination: no alert.
	m.RecordConnections(ctx, "dev-1", []models.Destination{{IP: "52.1.2.3", Port: 443}})
	if raiser.count() != 0 {
		t.Fatalf("known destination raised %d alerts, want 0", raiser.count())
	}

	// New destination: one alert, then silence on repeats.
	novel := models.Destination{IP: "203.0.113.9", Port: 4444}
	m.RecordConnections(ctx, "dev-1", []models.Destination{novel})
	m.RecordConnections(ctx, "dev-1", []models.Destination{novel})
	if raiser.count() != 1 {
		t.Fatalf("novel destination raised %d alerts, want exactly 1", raiser.count())
	}

	raiser.mu.Lock()
	a := raiser.raised[0]
	raiser.mu.Unlock()
	if a.DeviceID != "dev-1" || a.SourceIP != "192.168.1.20" {
		t.Errorf("alert attribution = %+v", a)
	}
}

func TestRecordConnections_NeverLearnedNeverFlagged(t *testing.T) {
	m, raiser := testBaselineModule(t, false)

	m.RecordConnections(context.Background(), "dev-1",
		[]models.Destination{{IP: "203.0.113.9", Port: 4444}})

	if raiser.count() != 0 {
		t.Errorf("device with no baseline raised %d alerts, want 0", raiser.count())
	}
}

func TestRecordConnections_IgnoresUnapprovedDevices(t *testing.T) {
	m, raiser := testBaselineModule(t, true)
	m.devices = &stubDirectory{
		devices: map[string]*models.Device{"dev-2": {ID: "dev-2", IPAddress: "192.168.1.21"}},
		trust:   map[string]models.TrustStatus{"dev-2": models.TrustUnknown},
	}
	ctx := context.Background()

	m.RecordConnections(ctx, "dev-2", []models.Destination{{IP: "52.1.2.3", Port: 443}})

	if raiser.count() != 0 {
		t.Errorf("unapproved device raised %d alerts, want 0", raiser.count())
	}
	entries, err := m.Baseline(ctx, "dev-2")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("unapproved device learned %d entries, want 0", len(entries))
	}
}

func TestStore_UpsertBumpsHitCount(t *testing.T) {
	m, _ := testBaselineModule(t, true)
	ctx := context.Background()

	dest := models.Destination{IP: "52.1.2.3", Port: 443}
	for i := 0; i < 3; i++ {
		if err := m.store.Upsert(ctx, "dev-1", dest, false); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	entries, err := m.store.List(ctx, "dev-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].HitCount != 3 {
		t.Errorf("hit_count = %d, want 3", entries[0].HitCount)
	}
}

func TestStore_LoadStatePersistsWindow(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "baseline", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := NewBaselineStore(db.DB())

	first, err := s.LoadState(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if first.Completed {
		t.Error("fresh state should not be completed")
	}

	// A second load with a different duration returns the original window.
	second, err := s.LoadState(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if !second.EndsAt.Equal(first.EndsAt) {
		t.Errorf("ends_at changed across loads: %v vs %v", second.EndsAt, first.EndsAt)
	}

	if err := s.MarkCompleted(ctx); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	third, err := s.LoadState(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if !third.Completed {
		t.Error("completed flag should persist")
	}
}
