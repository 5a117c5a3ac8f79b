package fingerprint

import (
	"errors"
	"testing"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func TestNormalizeMAC_Forms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF"},
		{"aabb.ccdd.eeff", "AA:BB:CC:DD:EE:FF"},
		{"aabbccddeeff", "AA:BB:CC:DD:EE:FF"},
		{"a:b:c:d:e:f", "0A:0B:0C:0D:0E:0F"},
		{"  aa:bb:cc:dd:ee:ff  ", "AA:BB:CC:DD:EE:FF"},
		{"bb.ccdd.eeff", "00:BB:CC:DD:EE:FF"},
	}
	for _, tc := range cases {
		got, err := NormalizeMAC(tc.in)
		if err != nil {
			t.Errorf("NormalizeMAC(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMAC_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"gg:bb:cc:dd:ee:ff",
		"aabbccddee",
		"aa:bbb:cc:dd:ee:ff",
	} {
		if _, err := NormalizeMAC(in); err == nil {
			t.Errorf("NormalizeMAC(%q): expected error, got none", in)
		}
	}
}

func TestNormalizeMAC_ErrValidation(t *testing.T) {
	_, err := NormalizeMAC("not-a-mac")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("error %v does not wrap ErrValidation", err)
	}
}

func TestNormalizeMDNSHostname(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Living-Room-TV.local", "living-room-tv"},
		{"Living-Room-TV.local.", "living-room-tv"},
		{"printer--office.local", "printer-office"},
		{"  MyDevice  ", "mydevice"},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := NormalizeMDNSHostname(tc.in); got != tc.want {
			t.Errorf("NormalizeMDNSHostname(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHashDHCPOptions_OrderIndependent(t *testing.T) {
	a := HashDHCPOptions([]int{1, 3, 6, 15})
	b := HashDHCPOptions([]int{15, 6, 3, 1})
	if a == "" || a != b {
		t.Errorf("hash should be order independent: %q vs %q", a, b)
	}
	if HashDHCPOptions(nil) != "" {
		t.Error("empty option set should hash to empty string")
	}
	if HashDHCPOptions([]int{1, 3, 6}) == a {
		t.Error("different option sets should hash differently")
	}
}

func TestHashConnectionPattern_OrderIndependent(t *testing.T) {
	a := []models.Destination{{IP: "1.2.3.4", Port: 443}, {IP: "5.6.7.8", Port: 8883}}
	b := []models.Destination{{IP: "5.6.7.8", Port: 8883}, {IP: "1.2.3.4", Port: 443}}
	if HashConnectionPattern(a) != HashConnectionPattern(b) {
		t.Error("hash should be order independent")
	}
	if HashConnectionPattern(nil) != "" {
		t.Error("empty destination set should hash to empty string")
	}
}

func TestHashOpenPorts(t *testing.T) {
	if HashOpenPorts([]int{443, 80}) != HashOpenPorts([]int{80, 443}) {
		t.Error("hash should be order independent")
	}
	if HashOpenPorts([]int{80}) == HashOpenPorts([]int{81}) {
		t.Error("different port sets should hash differently")
	}
}
