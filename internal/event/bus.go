// Package event implements the persistent event bus: every published
// event is appended to the SQLite event log before any subscriber sees
// it, giving the sensor a monotonic, replayable stream.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

// queueDepth bounds each subscriber's dispatch queue. Fan-out never
// blocks the publisher: a subscriber that falls this far behind starts
// losing events (logged), matching best-effort delivery.
const queueDepth = 256

// Bus is the persistent event bus. Publish appends one row to the event
// log under a single-writer mutex, then fans out to matching
// subscriptions asynchronously. Each subscription drains its own queue
// in publication order; a panicking handler is recovered and never
// disturbs other subscribers or later publishes.
type Bus struct {
	log    *Log
	logger *zap.Logger

	writeMu sync.Mutex // event-log writer mutex: guarantees monotonic seq

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64

	wg sync.WaitGroup
}

type subscription struct {
	id    uint64
	types map[string]struct{}
	all   bool
	queue chan models.Event
}

func (s *subscription) matches(eventType string) bool {
	if s.all {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// NewBus creates a bus over the given event log.
func NewBus(log *Log, logger *zap.Logger) *Bus {
	return &Bus{
		log:    log,
		logger: logger,
		subs:   make(map[uint64]*subscription),
	}
}

// Publish persists the event and returns its sequence number. If
// persistence fails no subscriber sees the event and the error is
// returned to the publisher.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any, sourceID string) (int64, error) {
	body := toPayloadMap(payload)
	now := time.Now().UTC()

	b.writeMu.Lock()
	seq, err := b.log.Append(ctx, eventType, body, sourceID, now)
	b.writeMu.Unlock()
	if err != nil {
		return 0, err
	}

	evt := models.Event{
		Seq:       seq,
		Type:      eventType,
		Payload:   body,
		SourceID:  sourceID,
		CreatedAt: now,
	}

	b.mu.RLock()
	for _, sub := range b.subs {
		if !sub.matches(eventType) {
			continue
		}
		select {
		case sub.queue <- evt:
		default:
			b.logger.Warn("subscriber queue full, dropping event",
				zap.Uint64("subscription", sub.id),
				zap.String("event_type", eventType),
				zap.Int64("seq", seq),
			)
		}
	}
	b.mu.RUnlock()

	return seq, nil
}

// Subscribe registers a handler for the given event types. A type of
// plugin.TopicAll ("*") matches every event. The returned function
// removes the subscription and stops its dispatch goroutine.
func (b *Bus) Subscribe(types []string, handler plugin.EventHandler) (unsubscribe func()) {
	sub := &subscription{
		types: make(map[string]struct{}, len(types)),
		queue: make(chan models.Event, queueDepth),
	}
	for _, t := range types {
		if t == plugin.TopicAll {
			sub.all = true
			continue
		}
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.pump(sub, handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
			close(sub.queue)
		})
	}
}

// Replay returns all persisted events with seq > sinceSeq in ascending order.
func (b *Bus) Replay(ctx context.Context, sinceSeq int64) ([]models.Event, error) {
	return b.log.Replay(ctx, sinceSeq)
}

// Close removes all subscriptions and waits for in-flight handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// pump drains one subscription's queue, delivering events in
// publication order.
func (b *Bus) pump(sub *subscription, handler plugin.EventHandler) {
	defer b.wg.Done()
	for evt := range sub.queue {
		b.safeCall(handler, evt)
	}
}

func (b *Bus) safeCall(handler plugin.EventHandler, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", evt.Type),
				zap.Int64("seq", evt.Seq),
				zap.Any("panic", r),
			)
		}
	}()
	handler(context.Background(), evt)
}

// toPayloadMap normalizes arbitrary payload values to the map form the
// log persists. Structs round-trip through JSON; nil becomes an empty map.
func toPayloadMap(payload any) map[string]any {
	switch p := payload.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return map[string]any{}
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return map[string]any{"value": p}
		}
		return m
	}
}
