package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/classify"
	"github.com/hearthwatch/hearthwatch/internal/fingerprint"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Manager runs the identity pipeline: fingerprint a scan observation,
// match it against known devices, and either update an existing device
// or create a newly discovered one.
type Manager struct {
	store      *DeviceStore
	matcher    *fingerprint.Matcher
	classifier *classify.Classifier
	bus        plugin.EventBus
	logger     *zap.Logger

	autoApproveThreshold float64
	verifyThreshold      float64
}

// NewManager wires the identity pipeline together.
func NewManager(store *DeviceStore, matcher *fingerprint.Matcher, classifier *classify.Classifier,
	bus plugin.EventBus, logger *zap.Logger, autoApprove, verify float64) *Manager {
	return &Manager{
		store:                store,
		matcher:              matcher,
		classifier:           classifier,
		bus:                  bus,
		logger:               logger,
		autoApproveThreshold: autoApprove,
		verifyThreshold:      verify,
	}
}

// ProcessScan ingests one scan observation and returns the device it
// resolved to. An exact MAC hit skips the matcher entirely; otherwise
// the tiered matcher decides between re-identification, verification,
// and discovery.
func (m *Manager) ProcessScan(ctx context.Context, obs models.ScanObservation) (*models.Device, error) {
	comp, dests := m.buildComposite(obs)

	if comp.MAC != "" {
		existing, err := m.store.GetDeviceByMAC(ctx, comp.MAC)
		if err == nil {
			return m.refreshExisting(ctx, existing, obs, comp, dests)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	known, err := m.assembleKnown(ctx)
	if err != nil {
		return nil, err
	}

	candidate := fingerprint.Candidate{
		Composite:    comp,
		Destinations: dests,
		OpenPorts:    obs.OpenPorts,
	}
	match := m.matcher.Best(candidate, known)

	if match != nil {
		device, err := m.store.GetDevice(ctx, match.DeviceID)
		if err != nil {
			return nil, err
		}
		trust, err := m.store.GetTrust(ctx, match.DeviceID)
		if err != nil {
			return nil, err
		}

		switch {
		case match.Confidence >= m.autoApproveThreshold && match.AutoApprovable && trust == models.TrustApproved:
			m.logger.Info("re-identified device",
				zap.String("device_id", device.ID),
				zap.Float64("confidence", match.Confidence))
			return m.refreshExisting(ctx, device, obs, comp, dests)

		case match.Confidence >= m.verifyThreshold:
			if err := m.store.SetNeedsVerification(ctx, device.ID, true); err != nil {
				return nil, err
			}
			m.publish(ctx, TopicDeviceVerificationNeeded, map[string]any{
				"device_id":    device.ID,
				"candidate_ip": obs.IP,
				"confidence":   match.Confidence,
			})
			m.logger.Info("device identity needs verification",
				zap.String("device_id", device.ID),
				zap.Float64("confidence", match.Confidence))
			return m.refreshExisting(ctx, device, obs, comp, dests)
		}
	}

	return m.discover(ctx, obs, comp, dests)
}

// refreshExisting updates a known device in place after a scan hit.
func (m *Manager) refreshExisting(ctx context.Context, device *models.Device,
	obs models.ScanObservation, comp fingerprint.Composite, dests []models.Destination) (*models.Device, error) {

	wasOffline := !device.IsOnline
	if err := m.store.UpdateDeviceSeen(ctx, device.ID, obs.IP, true); err != nil {
		return nil, err
	}
	device.IPAddress = obs.IP
	device.IsOnline = true
	device.LastSeen = time.Now().UTC()

	if err := m.persistSignals(ctx, device.ID, obs, comp, dests); err != nil {
		return nil, err
	}

	if wasOffline {
		m.publish(ctx, TopicDeviceOnline, map[string]any{
			"device_id": device.ID,
			"ip":        device.IPAddress,
		})
	}
	return device, nil
}

// discover creates a brand-new device from the observation, classifying
// it before announcing it on the bus.
func (m *Manager) discover(ctx context.Context, obs models.ScanObservation,
	comp fingerprint.Composite, dests []models.Destination) (*models.Device, error) {

	result := m.classifier.Classify(ctx, classify.Signals{
		MAC:          comp.MAC,
		MDNSHostname: comp.MDNSHostname,
		DHCPHash:     comp.DHCPHash,
		OpenPorts:    obs.OpenPorts,
		Hostname:     obs.Hostname,
	})

	device := &models.Device{
		IPAddress:  obs.IP,
		MACAddress: comp.MAC,
		Hostname:   obs.Hostname,
		Vendor:     result.Manufacturer,
		DeviceType: result.DeviceType,
		ModelName:  result.Model,
		IsOnline:   true,
	}
	if err := m.store.InsertDevice(ctx, device); err != nil {
		return nil, err
	}
	if err := m.persistSignals(ctx, device.ID, obs, comp, dests); err != nil {
		return nil, err
	}

	m.logger.Info("discovered device",
		zap.String("device_id", device.ID),
		zap.String("ip", device.IPAddress),
		zap.String("mac", device.MACAddress),
		zap.String("type", string(device.DeviceType)),
		zap.String("classified_by", result.Source))

	m.publish(ctx, TopicDeviceDiscovered, map[string]any{
		"device_id":   device.ID,
		"ip":          device.IPAddress,
		"mac":         device.MACAddress,
		"vendor":      device.Vendor,
		"device_type": string(device.DeviceType),
		"confidence":  result.Confidence,
		"source":      result.Source,
	})
	return device, nil
}

// persistSignals stores the fingerprint, connection snapshot, and open
// ports gathered by the scan.
func (m *Manager) persistSignals(ctx context.Context, deviceID string,
	obs models.ScanObservation, comp fingerprint.Composite, dests []models.Destination) error {

	fp := &models.DeviceFingerprint{
		DeviceID:              deviceID,
		MAC:                   comp.MAC,
		MDNSHostname:          comp.MDNSHostname,
		DHCPHash:              comp.DHCPHash,
		ConnectionPatternHash: comp.ConnHash,
		OpenPortsHash:         comp.PortsHash,
		CompositeHash:         comp.Hash(),
		SignalCount:           comp.SignalCount(),
	}
	if err := m.store.UpsertFingerprint(ctx, fp); err != nil {
		return err
	}
	if len(dests) > 0 {
		if err := m.store.ReplaceConnections(ctx, deviceID, dests); err != nil {
			return err
		}
	}
	for _, port := range obs.OpenPorts {
		banner := obs.Banners[port]
		if err := m.store.UpsertOpenPort(ctx, deviceID, port, "tcp", "", banner); err != nil {
			return err
		}
	}
	return nil
}

// MarkOffline transitions stale devices and announces each one.
func (m *Manager) MarkOffline(ctx context.Context, threshold time.Time) error {
	stale, err := m.store.FindStale(ctx, threshold)
	if err != nil {
		return err
	}
	for _, d := range stale {
		if err := m.store.SetOnline(ctx, d.ID, false); err != nil {
			return fmt.Errorf("mark offline %s: %w", d.ID, err)
		}
		m.logger.Info("device went offline",
			zap.String("device_id", d.ID),
			zap.String("ip", d.IPAddress),
			zap.Time("last_seen", d.LastSeen))
		m.publish(ctx, TopicDeviceOffline, map[string]any{
			"device_id": d.ID,
			"ip":        d.IPAddress,
			"last_seen": plugin.EventTimestamp(d.LastSeen),
		})
	}
	return nil
}

// Approve records an identity decision and clears any pending
// verification flag.
func (m *Manager) Approve(ctx context.Context, deviceID string, status models.TrustStatus, approvedBy string) error {
	if status != models.TrustApproved && status != models.TrustRejected {
		return fmt.Errorf("trust status %q: %w", status, models.ErrValidation)
	}
	if _, err := m.store.GetDevice(ctx, deviceID); err != nil {
		return err
	}
	if err := m.store.SetTrust(ctx, deviceID, status, approvedBy); err != nil {
		return err
	}
	if err := m.store.SetNeedsVerification(ctx, deviceID, false); err != nil {
		return err
	}
	m.publish(ctx, TopicDeviceUpdated, map[string]any{
		"device_id": deviceID,
		"trust":     string(status),
	})
	return nil
}

// buildComposite normalizes the observation's raw signals.
func (m *Manager) buildComposite(obs models.ScanObservation) (fingerprint.Composite, []models.Destination) {
	comp := fingerprint.Composite{}

	if obs.MAC != "" {
		mac, err := fingerprint.NormalizeMAC(obs.MAC)
		if err != nil {
			m.logger.Warn("unparseable mac in observation",
				zap.String("mac", obs.MAC), zap.String("ip", obs.IP))
		} else {
			comp.MAC = mac
		}
	}
	comp.MDNSHostname = fingerprint.NormalizeMDNSHostname(obs.MDNSHostname)
	if len(obs.DHCPOptions) > 0 {
		comp.DHCPHash = fingerprint.HashDHCPOptions(obs.DHCPOptions)
	}
	if len(obs.Destinations) > 0 {
		comp.ConnHash = fingerprint.HashConnectionPattern(obs.Destinations)
	}
	if len(obs.OpenPorts) > 0 {
		comp.PortsHash = fingerprint.HashOpenPorts(obs.OpenPorts)
	}
	return comp, obs.Destinations
}

// assembleKnown loads every device's fingerprint plus the raw sets the
// matcher needs for Jaccard comparison.
func (m *Manager) assembleKnown(ctx context.Context) ([]fingerprint.Known, error) {
	fps, err := m.store.ListFingerprints(ctx)
	if err != nil {
		return nil, err
	}
	known := make([]fingerprint.Known, 0, len(fps))
	for deviceID, fp := range fps {
		dests, err := m.store.ListConnections(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		openPorts, err := m.store.ListOpenPorts(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		ports := make([]int, 0, len(openPorts))
		for _, p := range openPorts {
			ports = append(ports, p.Port)
		}
		known = append(known, fingerprint.Known{
			DeviceID: deviceID,
			Composite: fingerprint.Composite{
				MAC:          fp.MAC,
				MDNSHostname: fp.MDNSHostname,
				DHCPHash:     fp.DHCPHash,
				ConnHash:     fp.ConnectionPatternHash,
				PortsHash:    fp.OpenPortsHash,
			},
			Destinations: dests,
			OpenPorts:    ports,
		})
	}
	return known, nil
}

func (m *Manager) publish(ctx context.Context, topic string, payload map[string]any) {
	if _, err := m.bus.Publish(ctx, topic, payload, "devices"); err != nil {
		m.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
