package models

// Destination is one observed (ip, port) connection target.
type Destination struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ScanObservation is the raw evidence for one host from a single scan
// cycle, before normalization.
type ScanObservation struct {
	IP           string        `json:"ip"`
	MAC          string        `json:"mac,omitempty"`
	Hostname     string        `json:"hostname,omitempty"`
	MDNSHostname string        `json:"mdns_hostname,omitempty"`
	DHCPOptions  []int         `json:"dhcp_options,omitempty"`
	Destinations []Destination `json:"destinations,omitempty"`
	OpenPorts    []int         `json:"open_ports,omitempty"`
	Banners      map[int]string `json:"banners,omitempty"`
}
