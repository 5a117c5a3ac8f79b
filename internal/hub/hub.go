// Package hub streams the sensor's event log to connected WebSocket
// clients. Clients attach with the last sequence number they saw and
// receive everything after it, then live events as they are published.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// Client is one connected WebSocket subscriber.
type Client struct {
	conn    *websocket.Conn
	send    chan models.Event
	lastSeq int64
	logger  *zap.Logger
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected")
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected")
}

// Broadcast queues an event to every connected client. A client whose
// buffer is full loses the event; it can recover by reattaching with
// its last seen sequence number.
func (h *Hub) Broadcast(evt models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			h.logger.Warn("client send buffer full, dropping event",
				zap.Int64("seq", evt.Seq))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump delivers queued events to the WebSocket, skipping anything
// the client already received during replay.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			if evt.Seq <= c.lastSeq {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, evt)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
			c.lastSeq = evt.Seq
		}
	}
}

// readPump drains the connection to detect disconnect. Clients do not
// send messages.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
