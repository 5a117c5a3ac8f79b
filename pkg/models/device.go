// Package models defines the shared domain records persisted and
// exchanged by Hearthwatch plugins.
package models

import "time"

// DeviceType categorizes a network device. The token set doubles as the
// allowed vocabulary for the LLM classifier fallback.
type DeviceType string

const (
	DeviceTypeRouter      DeviceType = "router"
	DeviceTypeSwitch      DeviceType = "switch"
	DeviceTypeAccessPoint DeviceType = "access_point"
	DeviceTypeServer      DeviceType = "server"
	DeviceTypeNAS         DeviceType = "nas"
	DeviceTypeDesktop     DeviceType = "desktop"
	DeviceTypeLaptop      DeviceType = "laptop"
	DeviceTypePhone       DeviceType = "phone"
	DeviceTypeTablet      DeviceType = "tablet"
	DeviceTypeCamera      DeviceType = "camera"
	DeviceTypePrinter     DeviceType = "printer"
	DeviceTypeTV          DeviceType = "tv"
	DeviceTypeSpeaker     DeviceType = "speaker"
	DeviceTypeSmartHome   DeviceType = "smart_home"
	DeviceTypeIoT         DeviceType = "iot"
	DeviceTypeUnknown     DeviceType = "unknown"
)

// DeviceTypes lists every recognized device type token.
func DeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeRouter, DeviceTypeSwitch, DeviceTypeAccessPoint,
		DeviceTypeServer, DeviceTypeNAS, DeviceTypeDesktop,
		DeviceTypeLaptop, DeviceTypePhone, DeviceTypeTablet,
		DeviceTypeCamera, DeviceTypePrinter, DeviceTypeTV,
		DeviceTypeSpeaker, DeviceTypeSmartHome, DeviceTypeIoT,
		DeviceTypeUnknown,
	}
}

// TrustStatus governs whether automated verification alerts fire for a
// device. A missing trust row is equivalent to TrustUnknown.
type TrustStatus string

const (
	TrustApproved TrustStatus = "approved"
	TrustRejected TrustStatus = "rejected"
	TrustUnknown  TrustStatus = "unknown"
)

// Device is a LAN endpoint tracked by the sensor.
//
// CustomName, once set by the user, is never overwritten by automated
// enrichment or scan processing.
type Device struct {
	ID         string     `json:"id"`
	IPAddress  string     `json:"ip_address"`
	MACAddress string     `json:"mac_address,omitempty"`
	Hostname   string     `json:"hostname,omitempty"`
	Vendor     string     `json:"vendor,omitempty"`
	DeviceType DeviceType `json:"device_type"`
	ModelName  string     `json:"model_name,omitempty"`
	Area       string     `json:"area,omitempty"`
	CustomName string     `json:"custom_name,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	IsOnline   bool       `json:"is_online"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
}

// DisplayName returns the name shown for a device: the user's custom
// name if set, else hostname, else vendor, else the IP address.
func (d *Device) DisplayName() string {
	switch {
	case d.CustomName != "":
		return d.CustomName
	case d.Hostname != "":
		return d.Hostname
	case d.Vendor != "":
		return d.Vendor
	default:
		return d.IPAddress
	}
}

// DeviceTrust records the approval decision for a device.
type DeviceTrust struct {
	DeviceID   string      `json:"device_id"`
	Status     TrustStatus `json:"status"`
	ApprovedBy string      `json:"approved_by,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// DeviceOpenPort is one open port observed on a device, unique per
// (device, port, protocol).
type DeviceOpenPort struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	ServiceName string    `json:"service_name,omitempty"`
	Banner      string    `json:"banner,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// ConnectionBaseline is one learned device-to-destination pair, unique
// per (device, dest ip, dest port).
type ConnectionBaseline struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	DestIP    string    `json:"dest_ip"`
	DestPort  int       `json:"dest_port"`
	HitCount  int       `json:"hit_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
