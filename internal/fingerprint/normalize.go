// Package fingerprint turns raw scan signals into canonical forms,
// composite hashes, and similarity scores for device identity matching.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// NormalizeMAC canonicalizes a MAC address to AA:BB:CC:DD:EE:FF form.
// Accepted inputs: colon-separated, dash-separated, Cisco dot-3-group
// (aabb.ccdd.eeff), or compact 12-hex. Single-digit octets are
// zero-padded. Anything not resolving to 12 hex digits is rejected.
func NormalizeMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty mac: %w", models.ErrValidation)
	}

	var groups []string
	switch {
	case strings.Contains(s, ":"):
		groups = strings.Split(s, ":")
	case strings.Contains(s, "-"):
		groups = strings.Split(s, "-")
	case strings.Contains(s, "."):
		for _, g := range strings.Split(s, ".") {
			if len(g) > 4 {
				return "", fmt.Errorf("mac %q: group %q too long: %w", raw, g, models.ErrValidation)
			}
			// Each dot group holds two octets, left-padded to 4 digits.
			g = strings.Repeat("0", 4-len(g)) + g
			groups = append(groups, g[:2], g[2:])
		}
	default:
		if len(s) != 12 {
			return "", fmt.Errorf("mac %q: expected 12 hex digits: %w", raw, models.ErrValidation)
		}
		for i := 0; i < 12; i += 2 {
			groups = append(groups, s[i:i+2])
		}
	}

	if len(groups) != 6 {
		return "", fmt.Errorf("mac %q: expected 6 octets, got %d: %w", raw, len(groups), models.ErrValidation)
	}

	octets := make([]string, 6)
	for i, g := range groups {
		switch len(g) {
		case 1:
			g = "0" + g
		case 2:
		default:
			return "", fmt.Errorf("mac %q: octet %q invalid: %w", raw, g, models.ErrValidation)
		}
		if !isHex(g) {
			return "", fmt.Errorf("mac %q: octet %q not hex: %w", raw, g, models.ErrValidation)
		}
		octets[i] = strings.ToUpper(g)
	}
	return strings.Join(octets, ":"), nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeMDNSHostname canonicalizes an mDNS hostname: trim, lowercase,
// strip a trailing ".local" or ".local.", collapse runs of '-'.
func NormalizeMDNSHostname(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSuffix(s, ".local")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}

// HashDHCPOptions hashes a DHCP option set: option numbers sorted
// ascending, comma-joined, SHA-256 hex. Order of input never matters.
func HashDHCPOptions(options []int) string {
	if len(options) == 0 {
		return ""
	}
	sorted := append([]int(nil), options...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, o := range sorted {
		parts[i] = strconv.Itoa(o)
	}
	return sha256Hex(strings.Join(parts, ","))
}

// DestinationKey returns the canonical "ip:port" wire form of a destination.
func DestinationKey(d models.Destination) string {
	return d.IP + ":" + strconv.Itoa(d.Port)
}

// HashConnectionPattern hashes a destination set: each formatted as
// "ip:port", sorted lexicographically, comma-joined, SHA-256 hex.
func HashConnectionPattern(dests []models.Destination) string {
	if len(dests) == 0 {
		return ""
	}
	keys := make([]string, len(dests))
	for i, d := range dests {
		keys[i] = DestinationKey(d)
	}
	sort.Strings(keys)
	return sha256Hex(strings.Join(keys, ","))
}

// HashOpenPorts hashes an open-port set: sorted ascending, comma-joined,
// SHA-256 hex.
func HashOpenPorts(ports []int) string {
	if len(ports) == 0 {
		return ""
	}
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strconv.Itoa(p)
	}
	return sha256Hex(strings.Join(parts, ","))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
