package scout

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// probeTimeout bounds each individual probe step.
const probeTimeout = 5 * time.Second

// maxBodySnippet bounds how much response body is kept in a profile.
const maxBodySnippet = 512

// httpPorts are probed with an HTTP request even without a banner hint.
var httpPorts = map[int]bool{
	80: true, 443: true, 3000: true, 5000: true, 8000: true,
	8080: true, 8123: true, 8443: true, 9090: true, 32400: true,
}

// tlsPorts get a ClientHello to pull certificate identity.
var tlsPorts = map[int]bool{443: true, 8443: true}

// profileHeaders are the response headers worth keeping.
var profileHeaders = []string{"Server", "Content-Type", "WWW-Authenticate", "X-Powered-By", "Location"}

// Prober performs one deep probe of a (host, port) service.
type Prober struct {
	logger *zap.Logger
	client *http.Client
}

// NewProber creates a prober. The HTTP client skips certificate
// verification: LAN devices routinely serve self-signed certificates
// and the probe wants the content, not trust.
func NewProber(logger *zap.Logger) *Prober {
	return &Prober{
		logger: logger,
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe profiles one service: greeting banner, HTTP surface, TLS
// certificate identity, and favicon hash where applicable.
func (p *Prober) Probe(ctx context.Context, deviceID, ip string, port int) *models.ServiceProfile {
	profile := &models.ServiceProfile{
		DeviceID: deviceID,
		Port:     port,
		Protocol: "tcp",
	}

	profile.Banner = p.grabBanner(ctx, ip, port)

	if tlsPorts[port] {
		p.probeTLS(ctx, ip, port, profile)
	}
	if httpPorts[port] || profile.Banner == "" {
		p.probeHTTP(ctx, ip, port, profile)
	}
	return profile
}

// grabBanner reads an unprompted greeting line from the service.
func (p *Prober) grabBanner(ctx context.Context, ip string, port int) string {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return ""
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, _ := bufio.NewReader(conn).ReadString('\n')
	if len(line) > 256 {
		line = line[:256]
	}
	for len(line) > 0 && (line[len(line)-1] == '\r' || line[len(line)-1] == '\n') {
		line = line[:len(line)-1]
	}
	return line
}

// probeHTTP fetches the service root and favicon over the right scheme.
func (p *Prober) probeHTTP(ctx context.Context, ip string, port int, profile *models.ServiceProfile) {
	scheme := "http"
	if tlsPorts[port] {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(ip, strconv.Itoa(port)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/", http.NoBody)
	if err != nil {
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	profile.HTTPStatus = resp.StatusCode
	profile.Headers = make(map[string]string)
	for _, h := range profileHeaders {
		if v := resp.Header.Get(h); v != "" {
			profile.Headers[h] = v
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	profile.BodySnippet = string(body)

	profile.FaviconHash = p.hashFavicon(ctx, base)
}

// hashFavicon fetches /favicon.ico and returns its SHA-256, a cheap
// stable identifier for the web UI a device serves.
func (p *Prober) hashFavicon(ctx context.Context, base string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/favicon.ico", http.NoBody)
	if err != nil {
		return ""
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(resp.Body, 1<<20)); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// probeTLS performs a ClientHello and extracts certificate identity.
func (p *Prober) probeTLS(ctx context.Context, ip string, port int, profile *models.ServiceProfile) {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: probeTimeout},
		Config:    &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}
	cert := state.PeerCertificates[0]
	profile.TLSCommonName = cert.Subject.CommonName
	profile.TLSIssuer = cert.Issuer.CommonName
	notAfter := cert.NotAfter.UTC()
	profile.TLSNotAfter = &notAfter
}
