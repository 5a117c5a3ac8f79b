// Package mimic deploys decoys that impersonate real devices on the
// network: it turns scouted service profiles into templates, claims
// virtual IP aliases, and installs port redirects so the impostor is
// reachable on the advertised ports.
package mimic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/decoy"
	"github.com/hearthwatch/hearthwatch/internal/services"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Event topics published by the mimic plugin.
const (
	TopicMimicDeployed = "mimic.deployed"
	TopicMimicRemoved  = "mimic.removed"
)

// hardMaxMimics and hardMaxVIPs cap configuration. A home sensor gains
// nothing from more impostors than this, and every alias is another
// address the router hands traffic for.
const (
	hardMaxMimics = 3
	hardMaxVIPs   = 5
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the mimic plugin.
type Module struct {
	logger     *zap.Logger
	bus        plugin.EventBus
	plugins    plugin.PluginResolver
	privileged plugin.Privileged
	store      *Store
	allocator  *Allocator

	iface     string
	maxMimics int
	maxVIPs   int

	devices  services.DeviceDirectory
	profiles services.ProfileDirectory
	launcher services.MimicLauncher

	mu       sync.Mutex
	forwards map[string][]plugin.PortForward

	ensuring    atomic.Bool
	unsubscribe func()
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a mimic plugin instance.
func New() *Module {
	return &Module{forwards: make(map[string][]plugin.PortForward)}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "mimic",
		Version:      "0.1.0",
		Description:  "Device-impersonating decoys on virtual IPs",
		APIVersion:   plugin.APIVersionCurrent,
		Dependencies: []string{"devices", "scout", "decoy"},
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.plugins = deps.Plugins
	m.privileged = deps.Privileged

	if err := deps.Store.Migrate(ctx, "mimic", migrations()); err != nil {
		return err
	}
	m.store = NewStore(deps.Store.DB())

	cfg := deps.Config
	_, subnet, err := net.ParseCIDR(cfg.GetString("network.subnet"))
	if err != nil {
		return fmt.Errorf("mimic requires network.subnet: %w", err)
	}
	m.iface = cfg.GetString("network.interface")
	m.allocator = NewAllocator(subnet,
		cfg.GetString("network.gateway"),
		cfg.GetInt("scouts.virtual_ip_range_start"),
		cfg.GetInt("scouts.virtual_ip_range_end"))

	m.maxMimics = cfg.GetInt("mimics.max_mimic_decoys")
	if m.maxMimics <= 0 || m.maxMimics > hardMaxMimics {
		m.maxMimics = hardMaxMimics
	}
	m.maxVIPs = cfg.GetInt("mimics.max_virtual_ips")
	if m.maxVIPs <= 0 || m.maxVIPs > hardMaxVIPs {
		m.maxVIPs = hardMaxVIPs
	}

	m.logger.Info("mimic module initialized",
		zap.Int("max_mimics", m.maxMimics),
		zap.Int("max_virtual_ips", m.maxVIPs))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	if err := m.resolvePeers(); err != nil {
		return err
	}

	m.runCtx, m.runCancel = context.WithCancel(context.Background())

	if err := m.resume(ctx); err != nil {
		m.logger.Error("resume mimic deployments failed", zap.Error(err))
	}

	m.unsubscribe = m.bus.Subscribe([]string{"scout.cycle_complete"}, m.onScoutCycle)

	m.logger.Info("mimic module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
	// Aliases and redirects stay installed so active deployments survive
	// a restart; resume re-checks them against the database.
	m.logger.Info("mimic module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	deployments, err := m.store.ActiveDeployments(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Details: map[string]string{"error": err.Error()}}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"deployments": strconv.Itoa(len(deployments))},
	}
}

func (m *Module) resolvePeers() error {
	p, ok := m.plugins.Resolve("devices")
	if !ok {
		return fmt.Errorf("devices plugin not available")
	}
	devices, ok := p.(services.DeviceDirectory)
	if !ok {
		return fmt.Errorf("devices plugin does not expose a device directory")
	}

	p, ok = m.plugins.Resolve("scout")
	if !ok {
		return fmt.Errorf("scout plugin not available")
	}
	profiles, ok := p.(services.ProfileDirectory)
	if !ok {
		return fmt.Errorf("scout plugin does not expose a profile directory")
	}

	p, ok = m.plugins.Resolve("decoy")
	if !ok {
		return fmt.Errorf("decoy plugin not available")
	}
	launcher, ok := p.(services.MimicLauncher)
	if !ok {
		return fmt.Errorf("decoy plugin does not expose a mimic launcher")
	}

	m.devices = devices
	m.profiles = profiles
	m.launcher = launcher
	return nil
}

// Deploy impersonates one device: builds a template from its profiles,
// claims a virtual IP, and launches the decoy on it.
func (m *Module) Deploy(ctx context.Context, deviceID string) (*Deployment, error) {
	deployments, err := m.store.ActiveDeployments(ctx)
	if err != nil {
		return nil, err
	}
	if len(deployments) >= m.maxMimics {
		return nil, fmt.Errorf("mimic limit %d reached: %w", m.maxMimics, models.ErrConflict)
	}
	for _, d := range deployments {
		if d.SourceDeviceID == deviceID {
			return nil, fmt.Errorf("device %s already mimicked: %w", deviceID, models.ErrConflict)
		}
	}

	vips, err := m.store.ActiveVIPs(ctx)
	if err != nil {
		return nil, err
	}
	if len(vips) >= m.maxVIPs {
		return nil, fmt.Errorf("virtual ip limit %d reached: %w", m.maxVIPs, models.ErrConflict)
	}

	device, err := m.devices.Device(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	profiles, err := m.profiles.ProfilesForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	tmpl, err := BuildTemplate(device, profiles)
	if err != nil {
		return nil, err
	}

	ip, err := m.allocator.Allocate(ctx, m.privileged, vips)
	if err != nil {
		return nil, err
	}
	tmpl.MDNSName = MDNSName(tmpl.Category, ip)

	vip := &models.VirtualIP{IPAddress: ip, Interface: m.iface}
	if err := m.store.InsertVIP(ctx, vip); err != nil {
		return nil, err
	}
	if err := m.privileged.AddIPAlias(ctx, ip, m.iface, m.allocator.Mask()); err != nil {
		m.store.ReleaseVIP(ctx, vip.ID)
		return nil, fmt.Errorf("add ip alias %s: %w", ip, err)
	}

	d, err := m.launcher.LaunchMimic(ctx, tmpl, ip)
	if err != nil {
		m.privileged.RemoveIPAlias(ctx, ip, m.iface)
		m.store.ReleaseVIP(ctx, vip.ID)
		return nil, err
	}

	if err := m.store.BindVIP(ctx, vip.ID, d.ID); err != nil {
		m.logger.Error("bind virtual ip failed", zap.Error(err))
	}
	dep := &Deployment{
		DecoyID:        d.ID,
		SourceDeviceID: deviceID,
		VirtualIPID:    vip.ID,
		IPAddress:      ip,
		Interface:      m.iface,
	}
	if err := m.store.InsertDeployment(ctx, dep); err != nil {
		return nil, err
	}

	if err := m.installForwards(ctx, d.ID, ip, tmpl.Ports); err != nil {
		m.logger.Error("install port redirects failed",
			zap.String("decoy_id", d.ID), zap.Error(err))
	}

	if _, err := m.bus.Publish(ctx, TopicMimicDeployed, map[string]any{
		"decoy_id":         d.ID,
		"source_device_id": deviceID,
		"virtual_ip":       ip,
		"category":         string(tmpl.Category),
		"ports":            tmpl.Ports,
	}, "mimic"); err != nil {
		m.logger.Warn("publish mimic deployed failed", zap.Error(err))
	}

	m.logger.Info("mimic deployed",
		zap.String("source_device", device.DisplayName()),
		zap.String("virtual_ip", ip),
		zap.String("category", string(tmpl.Category)))
	return dep, nil
}

// Remove tears a deployment down in reverse order of construction:
// redirects first, then the decoy, then the alias, then the records.
func (m *Module) Remove(ctx context.Context, decoyID string) error {
	deployments, err := m.store.ActiveDeployments(ctx)
	if err != nil {
		return err
	}
	var dep *Deployment
	for i := range deployments {
		if deployments[i].DecoyID == decoyID {
			dep = &deployments[i]
			break
		}
	}
	if dep == nil {
		return fmt.Errorf("no active deployment for decoy %s: %w", decoyID, models.ErrNotFound)
	}

	if err := m.removeForwards(ctx, decoyID); err != nil {
		m.logger.Error("remove port redirects failed", zap.Error(err))
	}
	if err := m.launcher.RemoveMimic(ctx, decoyID); err != nil {
		m.logger.Error("stop mimic decoy failed", zap.Error(err))
	}
	if err := m.privileged.RemoveIPAlias(ctx, dep.IPAddress, dep.Interface); err != nil {
		m.logger.Error("remove ip alias failed",
			zap.String("ip", dep.IPAddress), zap.Error(err))
	}
	if err := m.store.ReleaseVIP(ctx, dep.VirtualIPID); err != nil {
		return err
	}
	if err := m.store.MarkRemoved(ctx, decoyID); err != nil {
		return err
	}

	if _, err := m.bus.Publish(ctx, TopicMimicRemoved, map[string]any{
		"decoy_id":   decoyID,
		"virtual_ip": dep.IPAddress,
	}, "mimic"); err != nil {
		m.logger.Warn("publish mimic removed failed", zap.Error(err))
	}
	return nil
}

// Deployments lists active mimic deployments.
func (m *Module) Deployments(ctx context.Context) ([]Deployment, error) {
	return m.store.ActiveDeployments(ctx)
}

// resume re-establishes aliases and redirects for deployments that
// survived a restart, and cleans up ones whose decoy did not.
func (m *Module) resume(ctx context.Context) error {
	deployments, err := m.store.ActiveDeployments(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]bool)

	for _, dep := range deployments {
		status, err := m.store.DecoyStatus(ctx, dep.DecoyID)
		if err != nil || status == models.DecoyStopped {
			m.logger.Info("cleaning up orphaned mimic deployment",
				zap.String("decoy_id", dep.DecoyID),
				zap.String("virtual_ip", dep.IPAddress))
			m.privileged.RemoveIPAlias(ctx, dep.IPAddress, dep.Interface)
			m.store.ReleaseVIP(ctx, dep.VirtualIPID)
			m.store.MarkRemoved(ctx, dep.DecoyID)
			continue
		}

		// A virtual IP row with released_at unset must correspond to a
		// live alias. If the alias cannot come back, the deployment is
		// an orphan and gets the same teardown as a dead decoy.
		if err := m.privileged.AddIPAlias(ctx, dep.IPAddress, dep.Interface, m.allocator.Mask()); err != nil {
			m.logger.Error("re-add ip alias failed, cleaning up deployment",
				zap.String("ip", dep.IPAddress), zap.Error(err))
			m.removeForwards(ctx, dep.DecoyID)
			m.store.ReleaseVIP(ctx, dep.VirtualIPID)
			m.store.MarkRemoved(ctx, dep.DecoyID)
			continue
		}
		ports, err := m.store.DecoyAdvertisedPorts(ctx, dep.DecoyID)
		if err != nil {
			m.logger.Error("read advertised ports failed",
				zap.String("decoy_id", dep.DecoyID), zap.Error(err))
			continue
		}
		if err := m.installForwards(ctx, dep.DecoyID, dep.IPAddress, ports); err != nil {
			m.logger.Error("reinstall port redirects failed", zap.Error(err))
		}
		live[dep.VirtualIPID] = true
	}

	// Aliases with no surviving deployment get torn down too.
	vips, err := m.store.ActiveVIPs(ctx)
	if err != nil {
		return err
	}
	for _, v := range vips {
		if live[v.ID] {
			continue
		}
		m.privileged.RemoveIPAlias(ctx, v.IPAddress, v.Interface)
		m.store.ReleaseVIP(ctx, v.ID)
	}
	return nil
}

// onScoutCycle tops up deployments after each scouting pass.
func (m *Module) onScoutCycle(_ context.Context, _ models.Event) {
	if !m.ensuring.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.ensuring.Store(false)
		m.ensureMimics(m.runCtx)
	}()
}

// ensureMimics deploys impersonations of eligible devices until the
// limit is reached. Eligible means online, approved, profiled, and not
// already mimicked.
func (m *Module) ensureMimics(ctx context.Context) {
	deployments, err := m.store.ActiveDeployments(ctx)
	if err != nil {
		m.logger.Error("list deployments failed", zap.Error(err))
		return
	}
	if len(deployments) >= m.maxMimics {
		return
	}
	active := len(deployments)
	mimicked := make(map[string]bool)
	for _, d := range deployments {
		mimicked[d.SourceDeviceID] = true
	}

	devices, err := m.devices.OnlineDevices(ctx)
	if err != nil {
		m.logger.Error("list online devices failed", zap.Error(err))
		return
	}
	for _, dev := range devices {
		if active >= m.maxMimics {
			break
		}
		if mimicked[dev.ID] {
			continue
		}
		trust, err := m.devices.Trust(ctx, dev.ID)
		if err != nil || trust != models.TrustApproved {
			continue
		}
		profiles, err := m.profiles.ProfilesForDevice(ctx, dev.ID)
		if err != nil || len(profiles) == 0 {
			continue
		}

		if _, err := m.Deploy(ctx, dev.ID); err != nil {
			if errors.Is(err, models.ErrConflict) {
				return
			}
			m.logger.Warn("auto-deploy mimic failed",
				zap.String("device_id", dev.ID), zap.Error(err))
			continue
		}
		mimicked[dev.ID] = true
		active++
	}
}

// installForwards adds redirect rules for privileged advertised ports
// and reapplies the aggregate rule set.
func (m *Module) installForwards(ctx context.Context, decoyID, ip string, ports []int) error {
	var rules []plugin.PortForward
	for _, port := range ports {
		listen := decoy.ListenPort(port)
		if listen == port {
			continue
		}
		rules = append(rules, plugin.PortForward{
			FromIP:   ip,
			FromPort: port,
			ToIP:     ip,
			ToPort:   listen,
		})
	}
	if len(rules) == 0 {
		return nil
	}

	m.mu.Lock()
	m.forwards[decoyID] = rules
	m.mu.Unlock()
	return m.applyForwards(ctx)
}

// removeForwards drops a decoy's rules and reapplies the rest.
func (m *Module) removeForwards(ctx context.Context, decoyID string) error {
	m.mu.Lock()
	_, had := m.forwards[decoyID]
	delete(m.forwards, decoyID)
	m.mu.Unlock()
	if !had {
		return nil
	}
	return m.applyForwards(ctx)
}

// applyForwards replaces the packet-filter redirect set with the
// current aggregate.
func (m *Module) applyForwards(ctx context.Context) error {
	m.mu.Lock()
	var all []plugin.PortForward
	for _, rules := range m.forwards {
		all = append(all, rules...)
	}
	m.mu.Unlock()

	if err := m.privileged.ClearPortForwards(ctx); err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}
	return m.privileged.SetupPortForwards(ctx, all, m.iface)
}
