package devices

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func testDeviceStore(t *testing.T) *DeviceStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "devices", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewDeviceStore(db.DB())
}

func insertTestDevice(t *testing.T, s *DeviceStore, d *models.Device) *models.Device {
	t.Helper()
	if d.IPAddress == "" {
		d.IPAddress = "192.168.1.50"
	}
	if err := s.InsertDevice(context.Background(), d); err != nil {
		t.Fatalf("insert device: %v", err)
	}
	return d
}

func TestDeviceStore_InsertAndGet(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{
		IPAddress:  "192.168.1.23",
		MACAddress: "AA:BB:CC:DD:EE:FF",
		Hostname:   "living-room-tv",
		DeviceType: models.DeviceTypeTV,
		IsOnline:   true,
	})
	if d.ID == "" {
		t.Fatal("insert should assign an id")
	}

	got, err := s.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if got.Hostname != "living-room-tv" {
		t.Errorf("hostname = %q, want living-room-tv", got.Hostname)
	}
	if got.DeviceType != models.DeviceTypeTV {
		t.Errorf("device_type = %q, want %q", got.DeviceType, models.DeviceTypeTV)
	}

	byMAC, err := s.GetDeviceByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("get by mac: %v", err)
	}
	if byMAC.ID != d.ID {
		t.Errorf("get by mac returned %q, want %q", byMAC.ID, d.ID)
	}
}

func TestDeviceStore_GetMissingIsNotFound(t *testing.T) {
	s := testDeviceStore(t)

	_, err := s.GetDevice(context.Background(), "nope")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeviceStore_UpdateEnrichment(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{
		IPAddress:  "192.168.1.30",
		Hostname:   "old-host",
		Vendor:     "Unknown",
		CustomName: "Kids Tablet",
	})

	// Empty fields leave existing values untouched; vendor replaces Unknown.
	if err := s.UpdateEnrichment(ctx, d.ID, "", "HDX-100", "Acme", "Office"); err != nil {
		t.Fatalf("update enrichment: %v", err)
	}
	got, err := s.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if got.Hostname != "old-host" {
		t.Errorf("hostname = %q, empty update should not clear it", got.Hostname)
	}
	if got.ModelName != "HDX-100" {
		t.Errorf("model_name = %q, want HDX-100", got.ModelName)
	}
	if got.Vendor != "Acme" {
		t.Errorf("vendor = %q, want Acme to replace Unknown", got.Vendor)
	}
	if got.Area != "Office" {
		t.Errorf("area = %q, want Office", got.Area)
	}
	if got.CustomName != "Kids Tablet" {
		t.Errorf("custom_name = %q, enrichment must never change it", got.CustomName)
	}

	// A real vendor is never overwritten by later enrichment.
	if err := s.UpdateEnrichment(ctx, d.ID, "", "", "OtherCorp", ""); err != nil {
		t.Fatalf("update enrichment: %v", err)
	}
	got, err = s.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if got.Vendor != "Acme" {
		t.Errorf("vendor = %q, established vendor should stick", got.Vendor)
	}
}

func TestDeviceStore_OnlineLifecycle(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{IPAddress: "192.168.1.40", IsOnline: true})

	online, err := s.ListOnlineDevices(ctx)
	if err != nil {
		t.Fatalf("list online: %v", err)
	}
	if len(online) != 1 {
		t.Fatalf("online count = %d, want 1", len(online))
	}

	if err := s.SetOnline(ctx, d.ID, false); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	online, err = s.ListOnlineDevices(ctx)
	if err != nil {
		t.Fatalf("list online: %v", err)
	}
	if len(online) != 0 {
		t.Errorf("online count = %d after offline, want 0", len(online))
	}
}

func TestDeviceStore_TrustDefaultsToUnknown(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{IPAddress: "192.168.1.60"})

	trust, err := s.GetTrust(ctx, d.ID)
	if err != nil {
		t.Fatalf("get trust: %v", err)
	}
	if trust != models.TrustUnknown {
		t.Errorf("trust = %q, want unknown before any decision", trust)
	}

	if err := s.SetTrust(ctx, d.ID, models.TrustApproved, "admin"); err != nil {
		t.Fatalf("set trust: %v", err)
	}
	trust, err = s.GetTrust(ctx, d.ID)
	if err != nil {
		t.Fatalf("get trust: %v", err)
	}
	if trust != models.TrustApproved {
		t.Errorf("trust = %q, want approved", trust)
	}

	// Decisions are replaceable.
	if err := s.SetTrust(ctx, d.ID, models.TrustRejected, "admin"); err != nil {
		t.Fatalf("set trust: %v", err)
	}
	trust, _ = s.GetTrust(ctx, d.ID)
	if trust != models.TrustRejected {
		t.Errorf("trust = %q, want rejected", trust)
	}
}

func TestDeviceStore_UpsertFingerprintPreservesFirstSeen(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{IPAddress: "192.168.1.70"})

	fp := &models.DeviceFingerprint{
		DeviceID:      d.ID,
		MAC:           "AA:BB:CC:DD:EE:01",
		MDNSHostname:  "cam-1",
		CompositeHash: "hash-v1",
		SignalCount:   2,
		Confidence:    0.9,
	}
	if err := s.UpsertFingerprint(ctx, fp); err != nil {
		t.Fatalf("upsert fingerprint: %v", err)
	}
	first, err := s.GetFingerprint(ctx, d.ID)
	if err != nil {
		t.Fatalf("get fingerprint: %v", err)
	}

	fp2 := &models.DeviceFingerprint{
		DeviceID:      d.ID,
		MAC:           "AA:BB:CC:DD:EE:01",
		MDNSHostname:  "cam-1-renamed",
		CompositeHash: "hash-v2",
		SignalCount:   2,
		Confidence:    0.95,
	}
	if err := s.UpsertFingerprint(ctx, fp2); err != nil {
		t.Fatalf("upsert fingerprint again: %v", err)
	}
	got, err := s.GetFingerprint(ctx, d.ID)
	if err != nil {
		t.Fatalf("get fingerprint: %v", err)
	}
	if got.MDNSHostname != "cam-1-renamed" {
		t.Errorf("mdns = %q, want updated value", got.MDNSHostname)
	}
	if got.CompositeHash != "hash-v2" {
		t.Errorf("composite = %q, want hash-v2", got.CompositeHash)
	}
	if !got.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("first_seen changed across upserts: %v vs %v", got.FirstSeen, first.FirstSeen)
	}
}

func TestDeviceStore_OpenPortUpsert(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{IPAddress: "192.168.1.80"})

	if err := s.UpsertOpenPort(ctx, d.ID, 80, "tcp", "http", ""); err != nil {
		t.Fatalf("upsert port: %v", err)
	}
	// A later sighting without a banner must not erase the one we had.
	if err := s.UpsertOpenPort(ctx, d.ID, 80, "tcp", "", "nginx/1.24"); err != nil {
		t.Fatalf("upsert port: %v", err)
	}
	if err := s.UpsertOpenPort(ctx, d.ID, 80, "tcp", "", ""); err != nil {
		t.Fatalf("upsert port: %v", err)
	}

	ports, err := s.ListOpenPorts(ctx, d.ID)
	if err != nil {
		t.Fatalf("list ports: %v", err)
	}
	if len(ports) != 1 {
		t.Fatalf("port count = %d, want 1", len(ports))
	}
	if ports[0].ServiceName != "http" {
		t.Errorf("service = %q, want http preserved", ports[0].ServiceName)
	}
	if ports[0].Banner != "nginx/1.24" {
		t.Errorf("banner = %q, want nginx/1.24 preserved", ports[0].Banner)
	}
}

func TestDeviceStore_ReplaceConnections(t *testing.T) {
	s := testDeviceStore(t)
	ctx := context.Background()

	d := insertTestDevice(t, s, &models.Device{IPAddress: "192.168.1.90"})

	dests := []models.Destination{
		{IP: "52.1.2.3", Port: 443},
		{IP: "52.1.2.3", Port: 8883},
	}
	if err := s.ReplaceConnections(ctx, d.ID, dests); err != nil {
		t.Fatalf("replace connections: %v", err)
	}
	// The same set again stays deduplicated.
	if err := s.ReplaceConnections(ctx, d.ID, dests); err != nil {
		t.Fatalf("replace connections: %v", err)
	}

	got, err := s.ListConnections(ctx, d.ID)
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("connection count = %d, want 2", len(got))
	}
}
