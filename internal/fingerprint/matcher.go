package fingerprint

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// strongSignalThreshold is the similarity above which a non-MAC signal
// counts as strong corroboration.
const strongSignalThreshold = 0.70

// Weights assigns relative importance to each signal when averaging
// similarities. Weights are re-normalized over the signals actually
// present on both sides of a comparison.
type Weights struct {
	MDNS        float64
	DHCP        float64
	Connections float64
	MAC         float64
	Ports       float64
}

// DefaultWeights returns the stock signal weights (sum 1.0).
func DefaultWeights() Weights {
	return Weights{
		MDNS:        0.30,
		DHCP:        0.25,
		Connections: 0.25,
		MAC:         0.10,
		Ports:       0.10,
	}
}

// Candidate is a freshly scanned identity to match against known devices.
// Destinations and OpenPorts carry the raw sets behind ConnHash and
// PortsHash so Jaccard similarity can be computed.
type Candidate struct {
	Composite    Composite
	Destinations []models.Destination
	OpenPorts    []int
}

// Known is one known device with its current fingerprint and sets.
type Known struct {
	DeviceID     string
	Composite    Composite
	Destinations []models.Destination
	OpenPorts    []int
}

// Match is the outcome of comparing a candidate against one known device.
type Match struct {
	DeviceID       string
	Confidence     float64
	AutoApprovable bool
	SignalScores   map[string]float64
}

// Matcher scores new fingerprints against known devices using tiered
// similarity rules.
type Matcher struct {
	weights Weights
}

// NewMatcher creates a matcher with the given weights.
func NewMatcher(w Weights) *Matcher {
	return &Matcher{weights: w}
}

// Best returns the best-scoring match, or nil if no known device passes
// the decision rules. Ties break to the highest confidence, then the
// lowest device id for stability.
func (m *Matcher) Best(c Candidate, known []Known) *Match {
	var matches []Match
	for _, k := range known {
		if match := m.score(c, k); match != nil {
			matches = append(matches, *match)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].DeviceID < matches[j].DeviceID
	})
	best := matches[0]
	return &best
}

// score applies the tiered decision rules to one known device. A nil
// result means the candidate is skipped for this device.
func (m *Matcher) score(c Candidate, k Known) *Match {
	scores := make(map[string]float64)
	weights := make(map[string]float64)

	macExact := false
	if c.Composite.MAC != "" && k.Composite.MAC != "" {
		sim := 0.0
		if c.Composite.MAC == k.Composite.MAC {
			sim = 1.0
			macExact = true
		}
		scores["mac"] = sim
		weights["mac"] = m.weights.MAC
	}
	if c.Composite.MDNSHostname != "" && k.Composite.MDNSHostname != "" {
		scores["mdns"] = levenshteinSimilarity(c.Composite.MDNSHostname, k.Composite.MDNSHostname)
		weights["mdns"] = m.weights.MDNS
	}
	if c.Composite.DHCPHash != "" && k.Composite.DHCPHash != "" {
		sim := 0.0
		if c.Composite.DHCPHash == k.Composite.DHCPHash {
			sim = 1.0
		}
		scores["dhcp"] = sim
		weights["dhcp"] = m.weights.DHCP
	}
	if len(c.Destinations) > 0 && len(k.Destinations) > 0 {
		scores["connections"] = jaccardDestinations(c.Destinations, k.Destinations)
		weights["connections"] = m.weights.Connections
	}
	if len(c.OpenPorts) > 0 && len(k.OpenPorts) > 0 {
		scores["ports"] = jaccardPorts(c.OpenPorts, k.OpenPorts)
		weights["ports"] = m.weights.Ports
	}

	if len(scores) == 0 {
		return nil
	}

	strongNonMAC := 0
	for name, sim := range scores {
		if name != "mac" && sim >= strongSignalThreshold {
			strongNonMAC++
		}
	}

	avg := weightedAverage(scores, weights)

	var confidence float64
	auto := false
	switch {
	case macExact && strongNonMAC >= 1:
		confidence = avg
		if confidence < 0.75 {
			confidence = 0.75
		}
		auto = true
	case strongNonMAC >= 2:
		confidence = avg
	case strongNonMAC == 1:
		confidence = avg
		if confidence > 0.50 {
			confidence = 0.50
		}
	default:
		return nil
	}

	return &Match{
		DeviceID:       k.DeviceID,
		Confidence:     confidence,
		AutoApprovable: auto,
		SignalScores:   scores,
	}
}

// weightedAverage re-normalizes the weights over the present signals.
func weightedAverage(scores, weights map[string]float64) float64 {
	var sum, totalWeight float64
	for name, sim := range scores {
		w := weights[name]
		sum += sim * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// levenshteinSimilarity returns 1 - distance/maxLen.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

func jaccardDestinations(a, b []models.Destination) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, d := range a {
		setA[DestinationKey(d)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, d := range b {
		setB[DestinationKey(d)] = struct{}{}
	}
	return jaccard(setA, setB)
}

func jaccardPorts(a, b []int) float64 {
	setA := make(map[int]struct{}, len(a))
	for _, p := range a {
		setA[p] = struct{}{}
	}
	setB := make(map[int]struct{}, len(b))
	for _, p := range b {
		setB[p] = struct{}{}
	}
	return jaccard(setA, setB)
}

func jaccard[K comparable](a, b map[K]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
