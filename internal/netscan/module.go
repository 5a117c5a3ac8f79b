// Package netscan runs the periodic discovery sweep: ARP plus ICMP for
// liveness, TCP connect scans for open ports, and passive flow and DHCP
// captures folded into each observation. Results feed the devices
// plugin's identity pipeline and the baseline recorder.
package netscan

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// TopicScanComplete announces the end of each discovery sweep.
const TopicScanComplete = "system.scan_complete"

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the netscan plugin.
type Module struct {
	logger     *zap.Logger
	bus        plugin.EventBus
	privileged plugin.Privileged
	plugins    plugin.PluginResolver

	sink     services.ScanSink
	baseline services.BaselineRecorder

	subnet       *net.IPNet
	iface        string
	scanInterval time.Duration
	sweeper      *ICMPSweeper
	portScanner  *PortScanner

	lastScanAt time.Time
	lastMu     sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a netscan plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "netscan",
		Version:      "0.1.0",
		Description:  "Periodic network discovery sweep",
		Dependencies: []string{"devices"},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.privileged = deps.Privileged
	m.plugins = deps.Plugins

	cfg := deps.Config
	m.scanInterval = cfg.GetDuration("scan_interval")
	if m.scanInterval <= 0 {
		m.scanInterval = 60 * time.Second
	}
	m.iface = cfg.GetString("network.interface")

	subnetStr := cfg.GetString("network.subnet")
	if subnetStr == "" {
		return fmt.Errorf("network.subnet is required")
	}
	_, subnet, err := net.ParseCIDR(subnetStr)
	if err != nil {
		return fmt.Errorf("parse network.subnet %q: %w", subnetStr, err)
	}
	m.subnet = subnet

	concurrency := cfg.GetInt("scan_concurrency")
	m.sweeper = NewICMPSweeper(cfg.GetDuration("ping_timeout"), concurrency, m.logger.Named("icmp"))
	m.portScanner = NewPortScanner(cfg.GetDuration("port_timeout"), concurrency, m.logger.Named("ports"))

	m.logger.Info("netscan module initialized",
		zap.String("subnet", subnet.String()),
		zap.Duration("interval", m.scanInterval))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	p, ok := m.plugins.Resolve("devices")
	if !ok {
		return fmt.Errorf("devices plugin not available")
	}
	sink, ok := p.(services.ScanSink)
	if !ok {
		return fmt.Errorf("devices plugin does not accept scan observations")
	}
	m.sink = sink

	if p, ok := m.plugins.Resolve("baseline"); ok {
		if rec, ok := p.(services.BaselineRecorder); ok {
			m.baseline = rec
		}
	}

	if m.privileged != nil && m.iface != "" {
		if err := m.privileged.StartDNSSniff(ctx, m.iface); err != nil {
			m.logger.Warn("dns sniffer unavailable", zap.Error(err))
		}
	}

	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.runScanLoop()

	m.logger.Info("netscan module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	if m.privileged != nil && m.iface != "" {
		if err := m.privileged.StopDNSSniff(ctx, m.iface); err != nil {
			m.logger.Warn("stop dns sniffer failed", zap.Error(err))
		}
	}
	m.logger.Info("netscan module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.lastMu.Lock()
	last := m.lastScanAt
	m.lastMu.Unlock()

	if last.IsZero() {
		return plugin.HealthStatus{Status: "ok", Message: "no sweep completed yet"}
	}
	if time.Since(last) > 3*m.scanInterval {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: fmt.Sprintf("last sweep %s ago", time.Since(last).Round(time.Second)),
		}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"last_scan": last.Format(time.RFC3339)},
	}
}

func (m *Module) runScanLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	m.runScan(m.runCtx)
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.runScan(m.runCtx)
		}
	}
}

// runScan performs one full discovery sweep.
func (m *Module) runScan(ctx context.Context) {
	started := time.Now()

	m.lastMu.Lock()
	since := m.lastScanAt
	m.lastMu.Unlock()
	if since.IsZero() {
		since = started.Add(-m.scanInterval)
	}

	macByIP := make(map[string]string)
	liveIPs := make(map[string]struct{})

	if m.privileged != nil {
		entries, err := m.privileged.ARPScan(ctx, m.subnet.String())
		if err != nil {
			m.logger.Warn("arp scan failed, falling back to icmp only", zap.Error(err))
		}
		for _, e := range entries {
			macByIP[e.IP] = e.MAC
			liveIPs[e.IP] = struct{}{}
		}
	}

	icmpHosts, err := m.sweeper.Sweep(ctx, m.subnet)
	if err != nil && len(liveIPs) == 0 {
		m.logger.Error("sweep failed", zap.Error(err))
		return
	}
	for _, h := range icmpHosts {
		liveIPs[h.IP] = struct{}{}
	}

	selfIPs := localAddresses()
	flowsByKey, dhcpByMAC := m.collectPassive(ctx, since)

	processed, failures := 0, 0
	for ip := range liveIPs {
		if ctx.Err() != nil {
			return
		}
		if _, self := selfIPs[ip]; self {
			continue
		}

		obs := m.observe(ctx, ip, macByIP[ip], flowsByKey, dhcpByMAC)
		device, err := m.sink.ProcessScan(ctx, obs)
		if err != nil {
			failures++
			m.logger.Warn("process scan failed", zap.String("ip", ip), zap.Error(err))
			continue
		}
		processed++
		if m.baseline != nil && len(obs.Destinations) > 0 {
			m.baseline.RecordConnections(ctx, device.ID, obs.Destinations)
		}
	}

	m.lastMu.Lock()
	m.lastScanAt = started
	m.lastMu.Unlock()

	duration := time.Since(started)
	m.logger.Info("sweep complete",
		zap.Int("hosts", len(liveIPs)),
		zap.Int("processed", processed),
		zap.Int("failures", failures),
		zap.Duration("duration", duration))

	if _, err := m.bus.Publish(ctx, TopicScanComplete, map[string]any{
		"hosts":       len(liveIPs),
		"processed":   processed,
		"failures":    failures,
		"duration_ms": duration.Milliseconds(),
	}, "netscan"); err != nil {
		m.logger.Warn("publish scan_complete failed", zap.Error(err))
	}
}

// observe assembles one host's scan observation.
func (m *Module) observe(ctx context.Context, ip, mac string,
	flows map[string][]models.Destination, dhcp map[string][]int) models.ScanObservation {

	obs := models.ScanObservation{IP: ip, MAC: mac}

	ports := m.portScanner.ScanPorts(ctx, ip, CommonPorts)
	obs.OpenPorts = ports.OpenPorts
	obs.Banners = ports.Banners

	obs.Hostname = reverseLookup(ctx, ip)
	if strings.HasSuffix(obs.Hostname, ".local") {
		obs.MDNSHostname = obs.Hostname
	}

	if mac != "" {
		if dests, ok := flows[strings.ToUpper(mac)]; ok {
			obs.Destinations = dests
		}
		if opts, ok := dhcp[strings.ToUpper(mac)]; ok {
			obs.DHCPOptions = opts
		}
	}
	if obs.Destinations == nil {
		obs.Destinations = flows[ip]
	}
	return obs
}

// collectPassive drains the helper's flow and DHCP captures since the
// previous sweep. Flows key by upper-cased MAC when present, else IP.
func (m *Module) collectPassive(ctx context.Context, since time.Time) (map[string][]models.Destination, map[string][]int) {
	flows := make(map[string][]models.Destination)
	dhcp := make(map[string][]int)
	if m.privileged == nil {
		return flows, dhcp
	}

	entries, err := m.privileged.Flows(ctx, since)
	if err != nil {
		m.logger.Debug("flow capture unavailable", zap.Error(err))
	}
	for _, f := range entries {
		key := strings.ToUpper(f.SourceMAC)
		if key == "" {
			key = f.SourceIP
		}
		flows[key] = append(flows[key], models.Destination{IP: f.DestIP, Port: f.DestPort})
	}

	fps, err := m.privileged.DHCPFingerprints(ctx, since)
	if err != nil {
		m.logger.Debug("dhcp capture unavailable", zap.Error(err))
	}
	for _, fp := range fps {
		dhcp[strings.ToUpper(fp.MAC)] = fp.Options
	}
	return flows, dhcp
}

// reverseLookup resolves a PTR name with a short timeout.
func reverseLookup(ctx context.Context, ip string) string {
	lctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(lctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// localAddresses returns the sensor's own IPs, including virtual-IP
// aliases, so the sweep never inventories its own decoys.
func localAddresses() map[string]struct{} {
	out := make(map[string]struct{})
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			out[ipNet.IP.String()] = struct{}{}
		}
	}
	return out
}
