// Package services declares the narrow cross-plugin interfaces. Plugins
// resolve each other through the registry and type-assert to these
// rather than to concrete module types.
package services

import (
	"context"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// ScanSink ingests raw scan observations. Implemented by the devices
// plugin and driven by the netscan loop.
type ScanSink interface {
	ProcessScan(ctx context.Context, obs models.ScanObservation) (*models.Device, error)
}

// DeviceDirectory exposes read access to the device inventory.
type DeviceDirectory interface {
	Device(ctx context.Context, id string) (*models.Device, error)
	OnlineDevices(ctx context.Context) ([]models.Device, error)
	OpenPorts(ctx context.Context, deviceID string) ([]models.DeviceOpenPort, error)
	Trust(ctx context.Context, deviceID string) (models.TrustStatus, error)
}

// NewAlert carries the fields a component supplies when raising an alert.
// Severity is normally derived from AlertType by the incident aggregator;
// rule-driven callers (the insight analyzer) set it explicitly.
type NewAlert struct {
	AlertType string
	Severity  models.Severity
	Title     string
	Detail    string
	SourceIP  string
	SourceMAC string
	DeviceID  string
	DecoyID   string
	EventSeq  int64
}

// AlertRaiser creates alerts and folds them into incidents. Implemented
// by the incident plugin.
type AlertRaiser interface {
	RaiseAlert(ctx context.Context, a NewAlert) (*models.Alert, error)
}

// BaselineRecorder receives connection observations from the scan loop.
// Implemented by the baseline plugin.
type BaselineRecorder interface {
	RecordConnections(ctx context.Context, deviceID string, dests []models.Destination)
}

// ProfileDirectory exposes scouted service profiles. Implemented by the
// scout plugin.
type ProfileDirectory interface {
	ProfilesForDevice(ctx context.Context, deviceID string) ([]models.ServiceProfile, error)
}

// MimicLauncher starts and stops mimic decoys inside the decoy plugin's
// registry so they share connection handling, credential detection, and
// health supervision with ordinary decoys.
type MimicLauncher interface {
	LaunchMimic(ctx context.Context, tmpl models.MimicTemplate, bindIP string) (*models.Decoy, error)
	RemoveMimic(ctx context.Context, decoyID string) error
}
