package decoy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// Instance is the capability set every running decoy realizes.
type Instance interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
	IsRunning() bool
	Port() int
}

// Route is one static HTTP response in an emulator's route table.
type Route struct {
	Method  string
	Path    string
	Status  int
	Headers map[string]string
	Body    string
}

// ConnEvent is delivered to the orchestrator for every request a decoy
// receives.
type ConnEvent struct {
	DecoyID        string
	SourceIP       string
	Port           int
	Protocol       string
	RequestPath    string
	CredentialUsed string
	Timestamp      time.Time
}

// ConnHandler receives connection events. Handlers run on the
// emulator's request goroutine and must not block.
type ConnHandler func(ev ConnEvent)

// maxScanBody bounds how much request body is scanned for credentials.
const maxScanBody = 1 << 16

// HTTPEmulator serves a frozen route table and watches every request
// for planted credential values. It backs all decoy archetypes.
type HTTPEmulator struct {
	decoyID     string
	bindAddress string
	routes      map[string]Route // "METHOD path" -> response
	serverHdr   string
	credentials []models.PlantedCredential // frozen after Start
	onConn      ConnHandler
	logger      *zap.Logger

	mu       sync.Mutex
	port     int
	listener net.Listener
	server   *http.Server
	running  bool
}

// NewHTTPEmulator creates an emulator. Port 0 requests an OS-assigned
// port, read back after Start.
func NewHTTPEmulator(decoyID, bindAddress string, port int, routes []Route,
	serverHdr string, creds []models.PlantedCredential, onConn ConnHandler, logger *zap.Logger) *HTTPEmulator {

	table := make(map[string]Route, len(routes))
	for _, r := range routes {
		table[routeKey(r.Method, r.Path)] = r
	}
	return &HTTPEmulator{
		decoyID:     decoyID,
		bindAddress: bindAddress,
		routes:      table,
		serverHdr:   serverHdr,
		credentials: creds,
		onConn:      onConn,
		logger:      logger,
		port:        port,
	}
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Start binds the listener and begins serving. The OS-assigned port is
// recorded when the configured port was 0.
func (e *HTTPEmulator) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	addr := net.JoinHostPort(e.bindAddress, strconv.Itoa(e.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind decoy %s: %w", addr, err)
	}
	e.listener = ln
	e.port = ln.Addr().(*net.TCPAddr).Port

	e.server = &http.Server{
		Handler:           http.HandlerFunc(e.handle),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := e.server
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.logger.Warn("decoy server exited", zap.String("decoy_id", e.decoyID), zap.Error(err))
		}
	}()
	e.running = true

	e.logger.Info("decoy listening",
		zap.String("decoy_id", e.decoyID),
		zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down within the supervisor's grace period.
func (e *HTTPEmulator) Stop(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.server = nil
	e.running = false
	e.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// HealthCheck probes the decoy's own listener.
func (e *HTTPEmulator) HealthCheck(ctx context.Context) bool {
	e.mu.Lock()
	running, port := e.running, e.port
	bind := e.bindAddress
	e.mu.Unlock()
	if !running {
		return false
	}

	if bind == "" || bind == "0.0.0.0" {
		bind = "127.0.0.1"
	}
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(bind, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// IsRunning reports whether the server is accepting connections.
func (e *HTTPEmulator) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Port returns the bound port, valid after Start.
func (e *HTTPEmulator) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// handle serves one request from the frozen route table and reports the
// interaction upstream.
func (e *HTTPEmulator) handle(w http.ResponseWriter, r *http.Request) {
	cred := e.detectCredential(r)

	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		sourceIP = host
	}
	if e.onConn != nil {
		e.onConn(ConnEvent{
			DecoyID:        e.decoyID,
			SourceIP:       sourceIP,
			Port:           e.Port(),
			Protocol:       "http",
			RequestPath:    r.URL.Path,
			CredentialUsed: cred,
			Timestamp:      time.Now().UTC(),
		})
	}

	if e.serverHdr != "" {
		w.Header().Set("Server", e.serverHdr)
	}

	route, ok := e.routes[routeKey(r.Method, r.URL.Path)]
	if !ok {
		// Fall back to GET for HEAD requests against GET routes.
		if r.Method == http.MethodHead {
			route, ok = e.routes[routeKey(http.MethodGet, r.URL.Path)]
		}
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "404 not found\n")
		return
	}

	for k, v := range route.Headers {
		w.Header().Set(k, v)
	}
	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		io.WriteString(w, route.Body)
	}
}

// detectCredential scans the authorization header and request body for
// any planted value. First match wins; Basic auth values are also
// base64-decoded and compared against planted user:pass pairs.
func (e *HTTPEmulator) detectCredential(r *http.Request) string {
	var haystacks []string

	auth := r.Header.Get("Authorization")
	if auth != "" {
		haystacks = append(haystacks, auth)
		if b64, ok := strings.CutPrefix(auth, "Basic "); ok {
			if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64)); err == nil {
				haystacks = append(haystacks, string(decoded))
			}
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxScanBody))
		if err == nil && len(body) > 0 {
			haystacks = append(haystacks, string(body))
		}
	}

	for _, cred := range e.credentials {
		for _, hay := range haystacks {
			if strings.Contains(hay, cred.CredentialValue) {
				return cred.CredentialValue
			}
		}
	}
	return ""
}
