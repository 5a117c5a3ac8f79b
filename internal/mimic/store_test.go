package mimic

import (
	"context"
	"testing"

	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func testMimicStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "mimic", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db.DB())
}

func TestStore_VIPLifecycle(t *testing.T) {
	s := testMimicStore(t)
	ctx := context.Background()

	vip := &models.VirtualIP{IPAddress: "192.168.1.203", Interface: "eth0"}
	if err := s.InsertVIP(ctx, vip); err != nil {
		t.Fatalf("insert vip: %v", err)
	}

	active, err := s.ActiveVIPs(ctx)
	if err != nil {
		t.Fatalf("active vips: %v", err)
	}
	if len(active) != 1 || active[0].IPAddress != "192.168.1.203" {
		t.Fatalf("active = %+v", active)
	}

	if err := s.BindVIP(ctx, vip.ID, "decoy-1"); err != nil {
		t.Fatalf("bind vip: %v", err)
	}
	active, _ = s.ActiveVIPs(ctx)
	if active[0].DecoyID != "decoy-1" {
		t.Errorf("decoy_id = %q after bind", active[0].DecoyID)
	}

	if err := s.ReleaseVIP(ctx, vip.ID); err != nil {
		t.Fatalf("release vip: %v", err)
	}
	active, _ = s.ActiveVIPs(ctx)
	if len(active) != 0 {
		t.Errorf("active = %d after release, want 0", len(active))
	}

	// Releasing again is harmless.
	if err := s.ReleaseVIP(ctx, vip.ID); err != nil {
		t.Errorf("second release: %v", err)
	}
}

func TestStore_DeploymentLifecycle(t *testing.T) {
	s := testMimicStore(t)
	ctx := context.Background()

	vip := &models.VirtualIP{IPAddress: "192.168.1.204", Interface: "eth0"}
	if err := s.InsertVIP(ctx, vip); err != nil {
		t.Fatalf("insert vip: %v", err)
	}
	dep := &Deployment{
		DecoyID:        "decoy-1",
		SourceDeviceID: "dev-1",
		VirtualIPID:    vip.ID,
	}
	if err := s.InsertDeployment(ctx, dep); err != nil {
		t.Fatalf("insert deployment: %v", err)
	}

	active, err := s.ActiveDeployments(ctx)
	if err != nil {
		t.Fatalf("active deployments: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	// The join carries the virtual IP's address.
	if active[0].IPAddress != "192.168.1.204" || active[0].Interface != "eth0" {
		t.Errorf("joined deployment = %+v", active[0])
	}

	if err := s.MarkRemoved(ctx, "decoy-1"); err != nil {
		t.Fatalf("mark removed: %v", err)
	}
	active, _ = s.ActiveDeployments(ctx)
	if len(active) != 0 {
		t.Errorf("active = %d after removal, want 0", len(active))
	}
}
