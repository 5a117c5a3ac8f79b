package plugin

import (
	"context"
	"time"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// TopicAll subscribes a handler to every event on the bus.
const TopicAll = "*"

// Publisher sends events to the bus. Use this thin interface in code
// that only needs to emit events (follows io.Writer pattern).
type Publisher interface {
	// Publish persists one event and returns its monotonic sequence
	// number. Fan-out to subscribers happens only after the row is
	// durably stored; if persistence fails, no subscriber sees it.
	Publish(ctx context.Context, eventType string, payload any, sourceID string) (int64, error)
}

// Subscriber receives events from the bus. Use this thin interface in
// code that only needs to listen (follows io.Reader pattern).
type Subscriber interface {
	// Subscribe registers a handler for the given event types. A type of
	// TopicAll ("*") matches every event. Returns an unsubscribe function.
	Subscribe(types []string, handler EventHandler) (unsubscribe func())
}

// Replayer reads back persisted events.
type Replayer interface {
	// Replay returns all events with seq > sinceSeq in ascending order.
	Replay(ctx context.Context, sinceSeq int64) ([]models.Event, error)
}

// EventBus provides persistent publish/subscribe between plugins.
// Every published event is appended to the event log before dispatch,
// so sequence numbers are strictly monotonic and never reused.
type EventBus interface {
	Publisher
	Subscriber
	Replayer
}

// EventHandler processes events delivered by the bus. Delivery order per
// subscription is publication order; a panic inside a handler is recovered
// by the bus and never disturbs other subscribers or publishers.
type EventHandler func(ctx context.Context, event models.Event)

// EventTimestamp formats a time for event payloads: UTC ISO-8601 with
// millisecond precision, the wire form used across the sensor.
func EventTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
