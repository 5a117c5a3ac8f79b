package fingerprint

import (
	"math"
	"testing"
)

func mustComposite(t *testing.T, mac, mdns, dhcpHash string) Composite {
	t.Helper()
	return Composite{MAC: mac, MDNSHostname: mdns, DHCPHash: dhcpHash}
}

func TestMatcher_MACExactPlusStrongSignal_AutoApprovable(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	c := Candidate{Composite: mustComposite(t, "AA:BB:CC:DD:EE:FF", "living-room-tv", "")}
	known := []Known{{
		DeviceID:  "dev-1",
		Composite: mustComposite(t, "AA:BB:CC:DD:EE:FF", "living-room-tv", ""),
	}}

	match := m.Best(c, known)
	if match == nil {
		t.Fatal("expected a match")
	}
	if !match.AutoApprovable {
		t.Error("MAC exact plus strong signal should be auto-approvable")
	}
	if match.Confidence < 0.75 {
		t.Errorf("confidence = %v, want >= 0.75", match.Confidence)
	}
}

func TestMatcher_MACExactFloorsConfidence(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	// The mdns names are close enough to count as strong (similarity
	// above 0.70) but the weighted average lands below 0.75.
	c := Candidate{
		Composite: mustComposite(t, "AA:BB:CC:DD:EE:FF", "office-printer-1", ""),
		OpenPorts: []int{80, 443},
	}
	known := []Known{{
		DeviceID:  "dev-1",
		Composite: mustComposite(t, "AA:BB:CC:DD:EE:FF", "office-printer-22", ""),
		OpenPorts: []int{9100, 631},
	}}

	match := m.Best(c, known)
	if match == nil {
		t.Fatal("expected a match")
	}
	if !match.AutoApprovable {
		t.Error("expected auto-approvable")
	}
	if match.Confidence != 0.75 {
		t.Errorf("confidence = %v, want floor of 0.75", match.Confidence)
	}
}

func TestMatcher_TwoStrongSignals_AverageConfidence(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	c := Candidate{Composite: mustComposite(t, "", "nas-box", "dhcphash1")}
	known := []Known{{
		DeviceID:  "dev-1",
		Composite: mustComposite(t, "", "nas-box", "dhcphash1"),
	}}

	match := m.Best(c, known)
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.AutoApprovable {
		t.Error("no MAC match should never be auto-approvable")
	}
	if math.Abs(match.Confidence-1.0) > 1e-9 {
		t.Errorf("confidence = %v, want 1.0", match.Confidence)
	}
}

func TestMatcher_SingleStrongSignal_CappedAtHalf(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	c := Candidate{Composite: mustComposite(t, "", "", "dhcphash1")}
	known := []Known{{
		DeviceID:  "dev-1",
		Composite: mustComposite(t, "", "", "dhcphash1"),
	}}

	match := m.Best(c, known)
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.Confidence > 0.50 {
		t.Errorf("confidence = %v, want <= 0.50", match.Confidence)
	}
	if match.AutoApprovable {
		t.Error("single signal should never be auto-approvable")
	}
}

func TestMatcher_MACAloneIsNotEnough(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	c := Candidate{Composite: mustComposite(t, "AA:BB:CC:DD:EE:FF", "", "")}
	known := []Known{{
		DeviceID:  "dev-1",
		Composite: mustComposite(t, "AA:BB:CC:DD:EE:FF", "", ""),
	}}

	if match := m.Best(c, known); match != nil {
		t.Errorf("MAC alone should not match, got confidence %v", match.Confidence)
	}
}

func TestMatcher_NoStrongSignals_NoMatch(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	c := Candidate{
		Composite: mustComposite(t, "", "", ""),
		OpenPorts: []int{80, 22, 443, 8080},
	}
	known := []Known{{
		DeviceID:  "dev-1",
		Composite: mustComposite(t, "", "", ""),
		OpenPorts: []int{80, 22, 9100, 631},
	}}

	if match := m.Best(c, known); match != nil {
		t.Errorf("weak port overlap alone should not match, got %v", match.Confidence)
	}
}

func TestMatcher_Best_TieBreaksToLowestDeviceID(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	c := Candidate{Composite: mustComposite(t, "", "camera-2", "hash1")}
	known := []Known{
		{DeviceID: "dev-b", Composite: mustComposite(t, "", "camera-2", "hash1")},
		{DeviceID: "dev-a", Composite: mustComposite(t, "", "camera-2", "hash1")},
	}

	match := m.Best(c, known)
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.DeviceID != "dev-a" {
		t.Errorf("tie should break to lowest device id, got %q", match.DeviceID)
	}
}

func TestLevenshteinSimilarity(t *testing.T) {
	if sim := levenshteinSimilarity("abc", "abc"); sim != 1.0 {
		t.Errorf("identical strings: sim = %v, want 1.0", sim)
	}
	if sim := levenshteinSimilarity("abcd", "abce"); math.Abs(sim-0.75) > 1e-9 {
		t.Errorf("one edit in four: sim = %v, want 0.75", sim)
	}
	if sim := levenshteinSimilarity("", ""); sim != 1.0 {
		t.Errorf("empty strings: sim = %v, want 1.0", sim)
	}
}
