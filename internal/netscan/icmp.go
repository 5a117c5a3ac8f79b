package netscan

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// HostResult holds the result of probing a single host.
type HostResult struct {
	IP    string
	RTT   time.Duration
	Alive bool
}

// ICMPSweeper pings hosts in a subnet. It backs up the ARP sweep: ARP
// only sees hosts on the local segment's cache, ICMP catches the rest.
type ICMPSweeper struct {
	pingTimeout time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewICMPSweeper creates a sweeper with the given per-host timeout.
func NewICMPSweeper(pingTimeout time.Duration, concurrency int, logger *zap.Logger) *ICMPSweeper {
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 32
	}
	return &ICMPSweeper{
		pingTimeout: pingTimeout,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Sweep pings every host in the subnet and returns the live ones.
func (s *ICMPSweeper) Sweep(ctx context.Context, subnet *net.IPNet) ([]HostResult, error) {
	hosts := expandSubnet(subnet)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts in subnet %s", subnet)
	}

	s.logger.Debug("starting icmp sweep",
		zap.String("subnet", subnet.String()),
		zap.Int("hosts", len(hosts)))

	sem := make(chan struct{}, s.concurrency)
	results := make(chan HostResult, len(hosts))

	for _, ip := range hosts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		go func(ip string) {
			defer func() { <-sem }()
			if alive, rtt := s.pingHost(ctx, ip); alive {
				results <- HostResult{IP: ip, RTT: rtt, Alive: true}
			} else {
				results <- HostResult{IP: ip}
			}
		}(ip)
	}

	var alive []HostResult
	for range hosts {
		select {
		case r := <-results:
			if r.Alive {
				alive = append(alive, r)
			}
		case <-ctx.Done():
			return alive, ctx.Err()
		}
	}
	return alive, nil
}

func (s *ICMPSweeper) pingHost(ctx context.Context, ip string) (bool, time.Duration) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		s.logger.Debug("failed to create pinger", zap.String("ip", ip), zap.Error(err))
		return false, 0
	}

	pinger.Count = 1
	pinger.Timeout = s.pingTimeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			s.logger.Debug("ping failed", zap.String("ip", ip), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false, 0
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt
	}
	return false, 0
}

// expandSubnet returns all host IPs in a subnet, excluding network and
// broadcast. Subnets larger than /16 are refused.
func expandSubnet(subnet *net.IPNet) []string {
	ones, bits := subnet.Mask.Size()
	if ones == 0 && bits == 0 {
		return nil
	}
	hostBits := bits - ones
	if hostBits > 16 {
		return nil
	}

	var hosts []string
	totalHosts := 1 << hostBits
	for i := 1; i < totalHosts-1; i++ {
		next := incrementIP(subnet.IP, i)
		if next != nil && subnet.Contains(next) {
			hosts = append(hosts, next.String())
		}
	}
	return hosts
}

// incrementIP adds offset to a base IPv4 address.
func incrementIP(base net.IP, offset int) net.IP {
	ip := make(net.IP, len(base))
	copy(ip, base)
	ip = ip.To4()
	if ip == nil {
		return nil
	}

	carry := offset
	for i := 3; i >= 0; i-- {
		val := int(ip[i]) + carry
		ip[i] = byte(val % 256)
		carry = val / 256
		if carry == 0 {
			break
		}
	}
	return ip
}
