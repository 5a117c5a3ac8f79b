package mimic

import (
	"context"
	"fmt"
	"net"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Allocator hands out unused addresses from the virtual IP range of the
// monitored subnet.
type Allocator struct {
	subnet     *net.IPNet
	gateway    string
	rangeStart int
	rangeEnd   int
}

// NewAllocator creates an allocator over the given subnet. The range
// bounds are host-octet values; [200, 250] when unset.
func NewAllocator(subnet *net.IPNet, gateway string, rangeStart, rangeEnd int) *Allocator {
	if rangeStart <= 0 {
		rangeStart = 200
	}
	if rangeEnd <= 0 || rangeEnd > 254 {
		rangeEnd = 250
	}
	if rangeEnd < rangeStart {
		rangeEnd = rangeStart
	}
	return &Allocator{
		subnet:     subnet,
		gateway:    gateway,
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
	}
}

// Allocate returns a free address from the range. An address is free
// when it is not the network, broadcast, or gateway address, not one of
// the sensor's own addresses, not answered in the last ARP sweep, and
// not already claimed by a live virtual IP.
func (a *Allocator) Allocate(ctx context.Context, privileged plugin.Privileged, claimed []models.VirtualIP) (string, error) {
	base := a.subnet.IP.To4()
	if base == nil {
		return "", fmt.Errorf("virtual ip range requires an IPv4 subnet")
	}

	taken := make(map[string]bool)
	taken[a.gateway] = true
	taken[a.networkAddr()] = true
	taken[a.broadcastAddr()] = true
	for _, v := range claimed {
		taken[v.IPAddress] = true
	}
	for _, ip := range localAddresses() {
		taken[ip] = true
	}
	if privileged != nil {
		entries, err := privileged.ARPScan(ctx, a.subnet.String())
		if err != nil {
			return "", fmt.Errorf("arp sweep before allocation: %w", err)
		}
		for _, e := range entries {
			taken[e.IP] = true
		}
	}

	for octet := a.rangeStart; octet <= a.rangeEnd; octet++ {
		candidate := net.IPv4(base[0], base[1], base[2], byte(octet))
		if !a.subnet.Contains(candidate) {
			continue
		}
		ip := candidate.String()
		if !taken[ip] {
			return ip, nil
		}
	}
	return "", fmt.Errorf("virtual ip range exhausted: %w", models.ErrConflict)
}

// Mask returns the subnet mask in dotted form for interface aliasing.
func (a *Allocator) Mask() string {
	m := a.subnet.Mask
	if len(m) != 4 {
		return "255.255.255.0"
	}
	return net.IPv4(m[0], m[1], m[2], m[3]).String()
}

func (a *Allocator) networkAddr() string {
	return a.subnet.IP.Mask(a.subnet.Mask).String()
}

func (a *Allocator) broadcastAddr() string {
	ip := a.subnet.IP.Mask(a.subnet.Mask).To4()
	if ip == nil {
		return ""
	}
	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip[i] | ^a.subnet.Mask[i]
	}
	return out.String()
}

// localAddresses lists the sensor's own IPv4 addresses, including any
// aliases already installed.
func localAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}
	return out
}
