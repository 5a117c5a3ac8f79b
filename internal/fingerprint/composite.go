package fingerprint

// Composite holds the five optional identity signals of one device in
// canonical form. Zero values mean the signal was not observed.
type Composite struct {
	MAC          string // AA:BB:CC:DD:EE:FF
	MDNSHostname string // normalized, no .local suffix
	DHCPHash     string // HashDHCPOptions output
	ConnHash     string // HashConnectionPattern output
	PortsHash    string // HashOpenPorts output
}

// signalsInOrder returns the signal values in the fixed hashing order:
// MAC, mDNS, DHCP hash, connection hash, ports hash.
func (c Composite) signalsInOrder() []string {
	return []string{c.MAC, c.MDNSHostname, c.DHCPHash, c.ConnHash, c.PortsHash}
}

// SignalCount returns the number of present signals (0..5).
func (c Composite) SignalCount() int {
	n := 0
	for _, s := range c.signalsInOrder() {
		if s != "" {
			n++
		}
	}
	return n
}

// Hash returns the composite hash: SHA-256 over the present signal
// values concatenated in fixed field order. With zero signals the hash
// is the empty string (persisted as NULL).
func (c Composite) Hash() string {
	var concat string
	count := 0
	for _, s := range c.signalsInOrder() {
		if s == "" {
			continue
		}
		concat += s
		count++
	}
	if count == 0 {
		return ""
	}
	return sha256Hex(concat)
}
