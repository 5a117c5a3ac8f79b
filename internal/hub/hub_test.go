package hub

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func newTestClient() *Client {
	return &Client{
		conn:   nil, // not needed for hub tests
		send:   make(chan models.Event, sendBuffer),
		logger: zap.NewNop(),
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub(zap.NewNop())
	if h.ClientCount() != 0 {
		t.Errorf("fresh hub count = %d, want 0", h.ClientCount())
	}

	c := newTestClient()
	h.Register(c)
	if h.ClientCount() != 1 {
		t.Errorf("count = %d after register, want 1", h.ClientCount())
	}

	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("count = %d after unregister, want 0", h.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel not closed on unregister")
	}

	// A second unregister is a no-op, not a double close.
	h.Unregister(c)
}

func TestHub_BroadcastDeliversToAllClients(t *testing.T) {
	h := NewHub(zap.NewNop())
	clients := []*Client{newTestClient(), newTestClient(), newTestClient()}
	for _, c := range clients {
		h.Register(c)
	}

	h.Broadcast(models.Event{Seq: 7, Type: "alert.new"})

	for i, c := range clients {
		select {
		case evt := <-c.send:
			if evt.Seq != 7 || evt.Type != "alert.new" {
				t.Errorf("client %d received %+v", i, evt)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d did not receive the event", i)
		}
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := newTestClient()
	h.Register(c)

	for i := 0; i < sendBuffer; i++ {
		c.send <- models.Event{Seq: int64(i + 1)}
	}

	h.Broadcast(models.Event{Seq: 9999, Type: "alert.new"})

	if len(c.send) != sendBuffer {
		t.Errorf("buffer length = %d, want %d with the overflow dropped", len(c.send), sendBuffer)
	}
	if evt := <-c.send; evt.Seq == 9999 {
		t.Error("overflow event was delivered instead of dropped")
	}
}

func TestHub_BroadcastEmptyHub(t *testing.T) {
	h := NewHub(zap.NewNop())
	// Must not panic.
	h.Broadcast(models.Event{Seq: 1, Type: "device.online"})
}
