package plugin

import (
	"context"
	"time"
)

// ARPEntry is one host found by a privileged ARP sweep.
type ARPEntry struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// ServiceHit is one open port found by a privileged service scan.
type ServiceHit struct {
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Banner string `json:"banner,omitempty"`
}

// DNSQuery is one observed DNS query from the privileged sniffer.
type DNSQuery struct {
	QueryName string    `json:"query_name"`
	SourceIP  string    `json:"source_ip"`
	SourceMAC string    `json:"source_mac,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlowEntry is one observed outbound connection from the privileged
// flow monitor.
type FlowEntry struct {
	SourceIP  string    `json:"source_ip"`
	SourceMAC string    `json:"source_mac,omitempty"`
	DestIP    string    `json:"dest_ip"`
	DestPort  int       `json:"dest_port"`
	Timestamp time.Time `json:"timestamp"`
}

// DHCPFingerprint is one captured DHCP request's option sequence.
type DHCPFingerprint struct {
	MAC       string    `json:"mac"`
	Options   []int     `json:"options"`
	Timestamp time.Time `json:"timestamp"`
}

// PortForward is one packet-filter redirect rule.
type PortForward struct {
	FromIP   string `json:"from_ip"`
	FromPort int    `json:"from_port"`
	ToIP     string `json:"to_ip"`
	ToPort   int    `json:"to_port"`
}

// Privileged is the contract of the out-of-process privileged-operations
// helper. The sensor core never performs raw-socket or interface-level
// work itself; it asks the helper over a local RPC channel. All calls
// carry a per-call timeout (30s default) and failures are treated as
// transient by callers.
type Privileged interface {
	ARPScan(ctx context.Context, subnet string) ([]ARPEntry, error)
	ServiceScan(ctx context.Context, targets []string, ports []int) ([]ServiceHit, error)

	StartDNSSniff(ctx context.Context, iface string) error
	StopDNSSniff(ctx context.Context, iface string) error
	DNSQueries(ctx context.Context, since time.Time) ([]DNSQuery, error)
	Flows(ctx context.Context, since time.Time) ([]FlowEntry, error)
	DHCPFingerprints(ctx context.Context, since time.Time) ([]DHCPFingerprint, error)

	AddIPAlias(ctx context.Context, ip, iface, mask string) error
	RemoveIPAlias(ctx context.Context, ip, iface string) error

	SetupPortForwards(ctx context.Context, rules []PortForward, iface string) error
	ClearPortForwards(ctx context.Context) error
}
