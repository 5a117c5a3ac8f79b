package insight

import (
	"fmt"
	"strconv"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// Finding is one rule hit on one device.
type Finding struct {
	Key         string
	Severity    models.Severity
	Title       string
	Detail      string
	Remediation string
}

// portRule flags a service that should not be exposed on a home LAN.
// ExpectedOn suppresses the rule for device types where the service is
// part of the device's job.
type portRule struct {
	Severity    models.Severity
	Service     string
	Detail      string
	Remediation string
	ExpectedOn  map[models.DeviceType]bool
}

// riskyPorts is the rule table for exposed-service findings.
var riskyPorts = map[int]portRule{
	23: {
		Severity:    models.SeverityHigh,
		Service:     "telnet",
		Detail:      "Telnet sends credentials and sessions in cleartext.",
		Remediation: "Disable telnet on the device; use SSH if remote access is needed.",
	},
	21: {
		Severity:    models.SeverityMedium,
		Service:     "ftp",
		Detail:      "FTP transfers credentials and files in cleartext.",
		Remediation: "Disable FTP or switch to SFTP/FTPS.",
		ExpectedOn: map[models.DeviceType]bool{
			models.DeviceTypeNAS: true,
		},
	},
	445: {
		Severity:    models.SeverityMedium,
		Service:     "smb",
		Detail:      "SMB file sharing is exposed; a frequent ransomware entry point.",
		Remediation: "Restrict SMB to devices that need it, or disable guest access.",
		ExpectedOn: map[models.DeviceType]bool{
			models.DeviceTypeNAS:     true,
			models.DeviceTypeServer:  true,
			models.DeviceTypeDesktop: true,
		},
	},
	3389: {
		Severity:    models.SeverityHigh,
		Service:     "rdp",
		Detail:      "Remote Desktop is reachable; brute-force attempts against it are constant.",
		Remediation: "Disable RDP or put it behind a VPN.",
		ExpectedOn: map[models.DeviceType]bool{
			models.DeviceTypeDesktop: true,
			models.DeviceTypeServer:  true,
		},
	},
	5900: {
		Severity:    models.SeverityMedium,
		Service:     "vnc",
		Detail:      "VNC screen sharing is exposed, often without strong authentication.",
		Remediation: "Disable VNC or require a strong password and restrict access.",
		ExpectedOn: map[models.DeviceType]bool{
			models.DeviceTypeDesktop: true,
		},
	},
	1883: {
		Severity:    models.SeverityMedium,
		Service:     "mqtt",
		Detail:      "An MQTT broker is exposed without TLS; topics may be readable by anyone.",
		Remediation: "Enable broker authentication or move to MQTT over TLS on 8883.",
		ExpectedOn: map[models.DeviceType]bool{
			models.DeviceTypeServer: true,
		},
	},
	515: {
		Severity:    models.SeverityLow,
		Service:     "lpd",
		Detail:      "The legacy line-printer daemon accepts unauthenticated jobs.",
		Remediation: "Disable LPD in the printer settings; modern clients use IPP.",
		ExpectedOn: map[models.DeviceType]bool{
			models.DeviceTypePrinter: true,
		},
	},
}

// adminPorts are plain-HTTP management surfaces; securePorts their
// encrypted counterparts.
var (
	adminPorts  = []int{80, 8080, 8000, 8888, 9090}
	securePorts = map[int]bool{443: true, 8443: true}
)

// adminDeviceTypes serve a web UI as their primary function, so plain
// HTTP there is the vendor's choice rather than a misconfiguration
// worth an alert per scan.
var adminDeviceTypes = map[models.DeviceType]bool{
	models.DeviceTypeRouter:      true,
	models.DeviceTypeAccessPoint: true,
	models.DeviceTypePrinter:     true,
}

// Evaluate runs every rule against one device's open ports.
func Evaluate(device *models.Device, ports []models.DeviceOpenPort) []Finding {
	var findings []Finding
	name := device.DisplayName()

	open := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p.Protocol == "tcp" {
			open[p.Port] = true
		}
	}

	for port, rule := range riskyPorts {
		if !open[port] || rule.ExpectedOn[device.DeviceType] {
			continue
		}
		findings = append(findings, Finding{
			Key:      "risky_port:" + strconv.Itoa(port),
			Severity: rule.Severity,
			Title:    fmt.Sprintf("%s exposes %s (port %d)", name, rule.Service, port),
			Detail:   rule.Detail, Remediation: rule.Remediation,
		})
	}

	if !adminDeviceTypes[device.DeviceType] {
		hasSecure := false
		for port := range securePorts {
			if open[port] {
				hasSecure = true
				break
			}
		}
		if !hasSecure {
			for _, port := range adminPorts {
				if !open[port] {
					continue
				}
				findings = append(findings, Finding{
					Key:      "unencrypted_admin",
					Severity: models.SeverityMedium,
					Title:    fmt.Sprintf("%s serves an admin page over plain HTTP (port %d)", name, port),
					Detail:   "The management interface has no HTTPS counterpart; credentials cross the LAN unencrypted.",
					Remediation: "Enable HTTPS on the device or limit who can reach its admin page.",
				})
				break
			}
		}
	}
	return findings
}
