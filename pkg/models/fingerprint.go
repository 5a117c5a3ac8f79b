package models

import "time"

// DeviceFingerprint is the persisted composite identity of a device,
// derived from up to five normalized signals.
//
// CompositeHash is SHA-256 over the non-empty signal values concatenated
// in fixed field order (MAC, mDNS, DHCP hash, connection hash, ports
// hash). SignalCount equals the number of non-empty signals. Both are
// pure functions of the inputs.
type DeviceFingerprint struct {
	ID                    string    `json:"id"`
	DeviceID              string    `json:"device_id"`
	MAC                   string    `json:"mac,omitempty"`
	MDNSHostname          string    `json:"mdns_hostname,omitempty"`
	DHCPHash              string    `json:"dhcp_hash,omitempty"`
	ConnectionPatternHash string    `json:"connection_pattern_hash,omitempty"`
	OpenPortsHash         string    `json:"open_ports_hash,omitempty"`
	CompositeHash         string    `json:"composite_hash,omitempty"`
	SignalCount           int       `json:"signal_count"`
	Confidence            float64   `json:"confidence"`
	FirstSeen             time.Time `json:"first_seen"`
	LastSeen              time.Time `json:"last_seen"`
}
