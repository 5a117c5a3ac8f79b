package scout

import (
	"context"
	"testing"
	"time"

	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func testProfileStore(t *testing.T) *ProfileStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "scout", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewProfileStore(db.DB())
}

func TestProfileStore_UpsertPreservesFirstProfiledAt(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()

	notAfter := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &models.ServiceProfile{
		DeviceID:    "dev-1",
		Port:        443,
		Protocol:    "tcp",
		HTTPStatus:  200,
		Headers:     map[string]string{"Server": "lighttpd/1.4.59"},
		BodySnippet: "<html>camera</html>",
		TLSCommonName: "axis-00408c184d2e",
		TLSNotAfter:   &notAfter,
	}
	changed, err := s.Upsert(ctx, p)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if changed {
		t.Error("first profile of a service reported as changed")
	}

	first, err := s.ForDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("for device: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("profiles = %d, want 1", len(first))
	}
	if first[0].Headers["Server"] != "lighttpd/1.4.59" {
		t.Errorf("headers = %v", first[0].Headers)
	}
	if first[0].TLSNotAfter == nil || !first[0].TLSNotAfter.Equal(notAfter) {
		t.Errorf("tls_not_after = %v, want %v", first[0].TLSNotAfter, notAfter)
	}

	// Re-probe with fresh content keeps the original first_profiled_at.
	p2 := &models.ServiceProfile{
		DeviceID:    "dev-1",
		Port:        443,
		Protocol:    "tcp",
		HTTPStatus:  401,
		Headers:     map[string]string{"WWW-Authenticate": `Basic realm="AXIS"`},
		BodySnippet: "unauthorized",
	}
	changed, err = s.Upsert(ctx, p2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !changed {
		t.Error("status flip 200 to 401 not reported as a change")
	}

	// An identical re-probe is not a change.
	changed, err = s.Upsert(ctx, p2)
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if changed {
		t.Error("identical re-probe reported as changed")
	}

	got, err := s.ForDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("for device: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("profiles = %d after re-probe, want 1", len(got))
	}
	if got[0].HTTPStatus != 401 {
		t.Errorf("http_status = %d, want updated 401", got[0].HTTPStatus)
	}
	if !got[0].FirstProfiledAt.Equal(first[0].FirstProfiledAt) {
		t.Errorf("first_profiled_at moved: %v vs %v",
			got[0].FirstProfiledAt, first[0].FirstProfiledAt)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestProfileStore_SeparateRowsPerPort(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()

	for _, port := range []int{80, 554, 8080} {
		if _, err := s.Upsert(ctx, &models.ServiceProfile{
			DeviceID: "dev-1", Port: port, Protocol: "tcp",
		}); err != nil {
			t.Fatalf("upsert port %d: %v", port, err)
		}
	}

	got, err := s.ForDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("for device: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("profiles = %d, want 3", len(got))
	}
	// Ordered by port.
	if got[0].Port != 80 || got[1].Port != 554 || got[2].Port != 8080 {
		t.Errorf("port order = %d, %d, %d", got[0].Port, got[1].Port, got[2].Port)
	}
}
