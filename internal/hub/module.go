package hub

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// sendBuffer is the per-client event queue depth.
const sendBuffer = 256

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the hub plugin: a WebSocket endpoint that streams
// the event log.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	hub    *Hub

	listenAddr string
	token      string

	server      *http.Server
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates a hub plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "hub",
		Version:     "0.1.0",
		Description: "WebSocket event streaming with replay",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.hub = NewHub(m.logger)

	cfg := deps.Config
	m.listenAddr = cfg.GetString("hub.listen_address")
	if m.listenAddr == "" {
		m.listenAddr = "127.0.0.1:8470"
	}
	m.token = cfg.GetString("hub.api_token")

	m.logger.Info("hub module initialized", zap.String("listen", m.listenAddr))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.unsubscribe = m.bus.Subscribe([]string{plugin.TopicAll}, func(_ context.Context, evt models.Event) {
		m.hub.Broadcast(evt)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events/stream", m.handleStream)

	ln, err := net.Listen("tcp", m.listenAddr)
	if err != nil {
		return err
	}
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("hub server failed", zap.Error(err))
		}
	}()

	m.logger.Info("hub module started", zap.String("addr", ln.Addr().String()))
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		m.server.Shutdown(shutdownCtx)
	}
	m.wg.Wait()
	m.logger.Info("hub module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"clients": strconv.Itoa(m.hub.ClientCount())},
	}
}

// handleStream upgrades the connection and streams events, replaying
// from the client's last seen sequence number first.
func (m *Module) handleStream(w http.ResponseWriter, r *http.Request) {
	// Token rides a query parameter: the browser WebSocket API cannot
	// set headers.
	if m.token != "" {
		supplied := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(m.token)) != 1 {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		m.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan models.Event, sendBuffer),
		lastSeq: since,
		logger:  m.logger,
	}

	// Register before replay so live events queue up behind it; the
	// write pump drops anything the replay already covered.
	m.hub.Register(client)

	ctx := r.Context()
	if err := m.replay(ctx, client); err != nil {
		m.logger.Debug("event replay failed", zap.Error(err))
		m.hub.Unregister(client)
		conn.Close(websocket.StatusInternalError, "replay failed")
		return
	}

	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	m.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// replay writes persisted events after the client's last seen sequence
// number directly to the connection.
func (m *Module) replay(ctx context.Context, c *Client) error {
	events, err := m.bus.Replay(ctx, c.lastSeq)
	if err != nil {
		return err
	}
	for _, evt := range events {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, c.conn, evt)
		cancel()
		if err != nil {
			return err
		}
		c.lastSeq = evt.Seq
	}
	return nil
}
