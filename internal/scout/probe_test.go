package scout

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"
)

func TestProber_GrabBanner(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("SSH-2.0-dropbear_2022.83\r\n"))
		conn.Close()
	}()

	p := NewProber(zap.NewNop())
	port := ln.Addr().(*net.TCPAddr).Port
	banner := p.grabBanner(context.Background(), "127.0.0.1", port)
	if banner != "SSH-2.0-dropbear_2022.83" {
		t.Errorf("banner = %q, want greeting without CRLF", banner)
	}
}

func TestProber_ProbeHTTPService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Server", "WebServer/1.0")
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("<html><title>NAS Login</title></html>"))
		case "/favicon.ico":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte{0x00, 0x01, 0x02, 0x03})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	p := NewProber(zap.NewNop())
	profile := p.Probe(context.Background(), "dev-1", host, port)

	if profile.DeviceID != "dev-1" || profile.Port != port || profile.Protocol != "tcp" {
		t.Errorf("profile identity = %+v", profile)
	}
	if profile.HTTPStatus != http.StatusOK {
		t.Errorf("http_status = %d, want 200", profile.HTTPStatus)
	}
	if profile.Headers["Server"] != "WebServer/1.0" {
		t.Errorf("server header = %q", profile.Headers["Server"])
	}
	if profile.BodySnippet == "" {
		t.Error("body snippet should be captured")
	}
	if profile.FaviconHash == "" {
		t.Error("favicon hash should be captured")
	}
}

func TestProber_ClosedPortYieldsEmptyProfile(t *testing.T) {
	// Reserve a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := NewProber(zap.NewNop())
	profile := p.Probe(context.Background(), "dev-1", "127.0.0.1", port)

	if profile.Banner != "" || profile.HTTPStatus != 0 {
		t.Errorf("closed port produced content: %+v", profile)
	}
}
