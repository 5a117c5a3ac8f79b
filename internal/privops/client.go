// Package privops implements plugin.Privileged over a unix-socket
// HTTP/JSON helper. The helper runs with elevated privileges and
// performs raw-socket and interface work the sensor itself must not.
package privops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Privileged = (*Client)(nil)

// callTimeout bounds each helper call. ARP sweeps of a /24 finish well
// inside this.
const callTimeout = 30 * time.Second

// Client talks JSON over a unix socket to the privileged helper.
type Client struct {
	http *http.Client
}

// NewClient creates a client for the helper socket at the given path.
func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: callTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Ping checks the helper is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/v1/ping", nil, nil)
}

// ARPScan sweeps the subnet and returns the resulting ARP table.
func (c *Client) ARPScan(ctx context.Context, subnet string) ([]plugin.ARPEntry, error) {
	var out []plugin.ARPEntry
	req := map[string]string{"subnet": subnet}
	if err := c.call(ctx, http.MethodPost, "/v1/arp/scan", req, &out); err != nil {
		return nil, fmt.Errorf("arp scan: %w", err)
	}
	return out, nil
}

// ServiceScan probes the given ports on the target hosts.
func (c *Client) ServiceScan(ctx context.Context, targets []string, ports []int) ([]plugin.ServiceHit, error) {
	var out []plugin.ServiceHit
	req := map[string]any{"targets": targets, "ports": ports}
	if err := c.call(ctx, http.MethodPost, "/v1/service/scan", req, &out); err != nil {
		return nil, fmt.Errorf("service scan: %w", err)
	}
	return out, nil
}

// StartDNSSniff begins passive DNS capture on the interface.
func (c *Client) StartDNSSniff(ctx context.Context, iface string) error {
	req := map[string]string{"interface": iface}
	if err := c.call(ctx, http.MethodPost, "/v1/dns/start", req, nil); err != nil {
		return fmt.Errorf("start dns sniff: %w", err)
	}
	return nil
}

// StopDNSSniff stops passive DNS capture on the interface.
func (c *Client) StopDNSSniff(ctx context.Context, iface string) error {
	req := map[string]string{"interface": iface}
	if err := c.call(ctx, http.MethodPost, "/v1/dns/stop", req, nil); err != nil {
		return fmt.Errorf("stop dns sniff: %w", err)
	}
	return nil
}

// DNSQueries returns captured queries newer than since.
func (c *Client) DNSQueries(ctx context.Context, since time.Time) ([]plugin.DNSQuery, error) {
	var out []plugin.DNSQuery
	req := map[string]string{"since": since.UTC().Format(time.RFC3339Nano)}
	if err := c.call(ctx, http.MethodPost, "/v1/dns/queries", req, &out); err != nil {
		return nil, fmt.Errorf("dns queries: %w", err)
	}
	return out, nil
}

// Flows returns observed outbound connections newer than since.
func (c *Client) Flows(ctx context.Context, since time.Time) ([]plugin.FlowEntry, error) {
	var out []plugin.FlowEntry
	req := map[string]string{"since": since.UTC().Format(time.RFC3339Nano)}
	if err := c.call(ctx, http.MethodPost, "/v1/flows", req, &out); err != nil {
		return nil, fmt.Errorf("flows: %w", err)
	}
	return out, nil
}

// DHCPFingerprints returns captured DHCP option sequences newer than since.
func (c *Client) DHCPFingerprints(ctx context.Context, since time.Time) ([]plugin.DHCPFingerprint, error) {
	var out []plugin.DHCPFingerprint
	req := map[string]string{"since": since.UTC().Format(time.RFC3339Nano)}
	if err := c.call(ctx, http.MethodPost, "/v1/dhcp/fingerprints", req, &out); err != nil {
		return nil, fmt.Errorf("dhcp fingerprints: %w", err)
	}
	return out, nil
}

// AddIPAlias binds an additional IP to the interface.
func (c *Client) AddIPAlias(ctx context.Context, ip, iface, mask string) error {
	req := map[string]string{"ip": ip, "interface": iface, "mask": mask}
	if err := c.call(ctx, http.MethodPost, "/v1/alias/add", req, nil); err != nil {
		return fmt.Errorf("add ip alias %s: %w", ip, err)
	}
	return nil
}

// RemoveIPAlias removes a previously added alias.
func (c *Client) RemoveIPAlias(ctx context.Context, ip, iface string) error {
	req := map[string]string{"ip": ip, "interface": iface}
	if err := c.call(ctx, http.MethodPost, "/v1/alias/remove", req, nil); err != nil {
		return fmt.Errorf("remove ip alias %s: %w", ip, err)
	}
	return nil
}

// SetupPortForwards installs redirect rules for low-port listeners.
func (c *Client) SetupPortForwards(ctx context.Context, rules []plugin.PortForward, iface string) error {
	req := map[string]any{"rules": rules, "interface": iface}
	if err := c.call(ctx, http.MethodPost, "/v1/forwards/setup", req, nil); err != nil {
		return fmt.Errorf("setup port forwards: %w", err)
	}
	return nil
}

// ClearPortForwards removes the sensor's redirect rules.
func (c *Client) ClearPortForwards(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/v1/forwards/clear", nil, nil); err != nil {
		return fmt.Errorf("clear port forwards: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	// Host is ignored by the unix transport but required by net/http.
	req, err := http.NewRequestWithContext(ctx, method, "http://privops"+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("helper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helper returned %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
