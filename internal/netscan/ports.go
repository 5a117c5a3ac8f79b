package netscan

import (
	"bufio"
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CommonPorts are the TCP ports probed on every live host. The list
// covers the services a home network actually runs.
var CommonPorts = []int{
	21,    // FTP
	22,    // SSH
	23,    // Telnet
	53,    // DNS
	80,    // HTTP
	139,   // NetBIOS
	443,   // HTTPS
	445,   // SMB
	515,   // LPD
	548,   // AFP
	554,   // RTSP (cameras)
	631,   // IPP
	1883,  // MQTT
	3306,  // MySQL
	3389,  // RDP
	5000,  // Synology DSM / UPnP
	5900,  // VNC
	8009,  // Chromecast
	8080,  // HTTP alt
	8123,  // Home Assistant
	8443,  // HTTPS alt
	9100,  // JetDirect
	32400, // Plex
}

// PortScanResult holds the open ports and banners for a single host.
type PortScanResult struct {
	IP        string
	OpenPorts []int
	Banners   map[int]string
}

// PortScanner performs targeted TCP connect scans with banner grabs.
type PortScanner struct {
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewPortScanner creates a port scanner.
func NewPortScanner(timeout time.Duration, concurrency int, logger *zap.Logger) *PortScanner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &PortScanner{
		timeout:     timeout,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ScanPorts checks which of the given ports are open on the target and
// grabs a banner where the service volunteers one.
func (s *PortScanner) ScanPorts(ctx context.Context, ip string, ports []int) *PortScanResult {
	result := &PortScanResult{IP: ip, Banners: make(map[int]string)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(p int) {
			defer wg.Done()
			defer func() { <-sem }()

			if banner, open := s.probePort(ctx, ip, p); open {
				mu.Lock()
				result.OpenPorts = append(result.OpenPorts, p)
				if banner != "" {
					result.Banners[p] = banner
				}
				mu.Unlock()
			}
		}(port)
	}
	wg.Wait()

	sort.Ints(result.OpenPorts)

	s.logger.Debug("port scan complete",
		zap.String("ip", ip),
		zap.Ints("open", result.OpenPorts))
	return result
}

// probePort attempts a TCP connection and reads a greeting banner if
// the service sends one unprompted.
func (s *PortScanner) probePort(ctx context.Context, ip string, port int) (string, bool) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", false
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", true
	}
	if len(line) > 256 {
		line = line[:256]
	}
	return trimBanner(line), true
}

func trimBanner(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}
