package event

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func testBus(t *testing.T) (*Bus, *Log) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "event", Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := NewLog(db.DB())
	bus := NewBus(log, zap.NewNop())
	t.Cleanup(bus.Close)
	return bus, log
}

func waitEvent(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func TestBus_PublishAssignsMonotonicSeq(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		seq, err := bus.Publish(ctx, "device.discovered", map[string]any{"n": i}, "test")
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if seq <= last {
			t.Fatalf("seq %d not greater than previous %d", seq, last)
		}
		last = seq
	}
}

func TestBus_SubscribeDeliversMatchingTypes(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	got := make(chan models.Event, 8)
	unsub := bus.Subscribe([]string{"decoy.trip"}, func(_ context.Context, evt models.Event) {
		got <- evt
	})
	defer unsub()

	if _, err := bus.Publish(ctx, "device.discovered", nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(ctx, "decoy.trip", map[string]any{"decoy_id": "d1"}, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	evt := waitEvent(t, got)
	if evt.Type != "decoy.trip" {
		t.Errorf("delivered type = %q, want decoy.trip", evt.Type)
	}
	if evt.Payload["decoy_id"] != "d1" {
		t.Errorf("payload = %v, want decoy_id d1", evt.Payload)
	}

	select {
	case evt := <-got:
		t.Errorf("unexpected extra event %q", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	got := make(chan models.Event, 8)
	unsub := bus.Subscribe([]string{"*"}, func(_ context.Context, evt models.Event) {
		got <- evt
	})
	defer unsub()

	for _, typ := range []string{"device.online", "alert.new", "system.scan_complete"} {
		if _, err := bus.Publish(ctx, typ, nil, "test"); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}
	for _, want := range []string{"device.online", "alert.new", "system.scan_complete"} {
		if evt := waitEvent(t, got); evt.Type != want {
			t.Errorf("delivered %q, want %q", evt.Type, want)
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	got := make(chan models.Event, 8)
	unsub := bus.Subscribe([]string{"alert.new"}, func(_ context.Context, evt models.Event) {
		got <- evt
	})
	unsub()
	unsub() // second call is a no-op

	if _, err := bus.Publish(ctx, "alert.new", nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case evt := <-got:
		t.Errorf("unexpected delivery after unsubscribe: %q", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	unsubPanic := bus.Subscribe([]string{"alert.new"}, func(_ context.Context, _ models.Event) {
		panic("boom")
	})
	defer unsubPanic()

	got := make(chan models.Event, 8)
	unsub := bus.Subscribe([]string{"alert.new"}, func(_ context.Context, evt models.Event) {
		got <- evt
	})
	defer unsub()

	if _, err := bus.Publish(ctx, "alert.new", nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(ctx, "alert.new", nil, "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitEvent(t, got)
	waitEvent(t, got)
}

func TestBus_ReplayReturnsEventsAfterSeq(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := bus.Publish(ctx, "device.updated", map[string]any{"n": i}, "test")
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		seqs = append(seqs, seq)
	}

	events, err := bus.Replay(ctx, seqs[0])
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("replay returned %d events, want 2", len(events))
	}
	if events[0].Seq != seqs[1] || events[1].Seq != seqs[2] {
		t.Errorf("replay seqs = %d, %d; want %d, %d", events[0].Seq, events[1].Seq, seqs[1], seqs[2])
	}

	all, err := bus.Replay(ctx, 0)
	if err != nil {
		t.Fatalf("replay all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("replay from zero returned %d events, want 3", len(all))
	}
}

func TestBus_StructPayloadNormalizedToMap(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	payload := struct {
		DeviceID string `json:"device_id"`
		Port     int    `json:"port"`
	}{DeviceID: "dev-1", Port: 23}

	seq, err := bus.Publish(ctx, "decoy.trip", payload, "test")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	events, err := bus.Replay(ctx, seq-1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("replay returned %d events, want 1", len(events))
	}
	if events[0].Payload["device_id"] != "dev-1" {
		t.Errorf("device_id = %v, want dev-1", events[0].Payload["device_id"])
	}
	// JSON numbers round-trip as float64.
	if events[0].Payload["port"] != float64(23) {
		t.Errorf("port = %v, want 23", events[0].Payload["port"])
	}
}

func TestLog_PurgeBeforeKeepsSeqCounter(t *testing.T) {
	bus, log := testBus(t)
	ctx := context.Background()

	first, err := bus.Publish(ctx, "device.online", nil, "test")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	purged, err := log.PurgeBefore(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	next, err := bus.Publish(ctx, "device.online", nil, "test")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if next <= first {
		t.Errorf("seq %d reused after purge, previous was %d", next, first)
	}

	events, err := bus.Replay(ctx, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("replay returned %d events after purge, want 1", len(events))
	}
}
