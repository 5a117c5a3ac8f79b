package models

import "time"

// ServiceProfile is the deep probe result for one (device, port, protocol).
type ServiceProfile struct {
	ID             string            `json:"id"`
	DeviceID       string            `json:"device_id"`
	Port           int               `json:"port"`
	Protocol       string            `json:"protocol"`
	HTTPStatus     int               `json:"http_status,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	BodySnippet    string            `json:"body_snippet,omitempty"`
	FaviconHash    string            `json:"favicon_hash,omitempty"`
	TLSCommonName  string            `json:"tls_common_name,omitempty"`
	TLSIssuer      string            `json:"tls_issuer,omitempty"`
	TLSNotAfter    *time.Time        `json:"tls_not_after,omitempty"`
	Banner         string            `json:"banner,omitempty"`
	FirstProfiledAt time.Time        `json:"first_profiled_at"`
	LastProfiledAt  time.Time        `json:"last_profiled_at"`
}

// VirtualIP is one OS-level interface alias owned by a mimic decoy.
// Rows with ReleasedAt unset correspond exactly to live aliases.
type VirtualIP struct {
	ID         string     `json:"id"`
	IPAddress  string     `json:"ip_address"`
	Interface  string     `json:"interface"`
	DecoyID    string     `json:"decoy_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// MimicCategory buckets real devices into decoy impersonation styles.
type MimicCategory string

const (
	MimicSmartHome MimicCategory = "smart_home"
	MimicCamera    MimicCategory = "camera"
	MimicNAS       MimicCategory = "nas"
	MimicMedia     MimicCategory = "media"
	MimicPrinter   MimicCategory = "printer"
	MimicRouter    MimicCategory = "router"
	MimicDevServer MimicCategory = "dev_server"
	MimicGeneric   MimicCategory = "generic"
)

// MimicRoute is one replayed HTTP response in a mimic's route table.
// Port says which advertised port serves it; 0 means every port.
type MimicRoute struct {
	Port    int               `json:"port,omitempty"`
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// MimicTemplate is a decoy blueprint synthesized from a real device's
// scouted service profiles.
type MimicTemplate struct {
	SourceDeviceID     string         `json:"source_device_id"`
	Category           MimicCategory  `json:"category"`
	Routes             []MimicRoute   `json:"routes"`
	ServerHeader       string         `json:"server_header,omitempty"`
	CredentialStrategy CredentialType `json:"credential_strategy"`
	MDNSServiceType    string         `json:"mdns_service_type"`
	MDNSName           string         `json:"mdns_name,omitempty"`
	Ports              []int          `json:"ports"`
}
