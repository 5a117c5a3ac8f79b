// Package classify identifies device manufacturer and type from
// fingerprint signals: local signature lookups first, an optional LLM
// fallback second, and a graceful unknown result last.
package classify

import (
	"context"

	"github.com/hearthwatch/hearthwatch/pkg/llm"
	"github.com/hearthwatch/hearthwatch/pkg/models"
	"go.uber.org/zap"
)

// Source labels where a classification came from.
const (
	SourceOUI      = "oui"
	SourceMDNS     = "mdns"
	SourceDHCP     = "dhcp"
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Signals carries the available identity evidence for one device.
type Signals struct {
	MAC          string // normalized AA:BB:CC:DD:EE:FF
	MDNSHostname string // normalized
	DHCPHash     string
	OpenPorts    []int
	Hostname     string
}

// Result is the outcome of a classification. Fallback is true when no
// signature hit and no usable LLM answer was available; FallbackReason
// says why.
type Result struct {
	Manufacturer   string            `json:"manufacturer"`
	DeviceType     models.DeviceType `json:"device_type"`
	Model          string            `json:"model,omitempty"`
	Confidence     float64           `json:"confidence"`
	Source         string            `json:"source"`
	Fallback       bool              `json:"-"`
	FallbackReason string            `json:"-"`
}

// Classifier runs the three-stage chain. The LLM provider is optional;
// when nil (mode "local") the chain skips straight to the fallback.
type Classifier struct {
	oui      *OUITable
	mdns     *MDNSBank
	dhcp     *DHCPTable
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// New creates a classifier with the bundled signature tables.
func New(provider llm.Provider, model string, logger *zap.Logger) *Classifier {
	return &Classifier{
		oui:      NewOUITable(),
		mdns:     NewMDNSBank(),
		dhcp:     NewDHCPTable(),
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// Classify runs the chain and always returns a usable result. Transient
// LLM failures are logged, never propagated.
func (c *Classifier) Classify(ctx context.Context, sig Signals) Result {
	if r, ok := c.classifyLocal(sig); ok {
		return r
	}

	if c.provider != nil {
		if r, ok := c.classifyLLM(ctx, sig); ok {
			return r
		}
	}

	return Result{
		Manufacturer:   "Unknown",
		DeviceType:     models.DeviceTypeUnknown,
		Confidence:     0.10,
		Source:         SourceFallback,
		Fallback:       true,
		FallbackReason: "no signature hit",
	}
}

// classifyLocal runs all applicable signature lookups in parallel and
// returns the highest-confidence hit.
func (c *Classifier) classifyLocal(sig Signals) (Result, bool) {
	results := make(chan Result, 3)
	launched := 0

	if sig.MAC != "" {
		launched++
		go func() {
			r, ok := c.oui.Classify(sig.MAC)
			if !ok {
				r = Result{}
			}
			results <- r
		}()
	}
	if sig.MDNSHostname != "" {
		launched++
		go func() {
			r, ok := c.mdns.Classify(sig.MDNSHostname)
			if !ok {
				r = Result{}
			}
			results <- r
		}()
	}
	if sig.DHCPHash != "" {
		launched++
		go func() {
			r, ok := c.dhcp.Classify(sig.DHCPHash)
			if !ok {
				r = Result{}
			}
			results <- r
		}()
	}

	var best Result
	for i := 0; i < launched; i++ {
		r := <-results
		if r.Source != "" && r.Confidence > best.Confidence {
			best = r
		}
	}
	if best.Source == "" {
		return Result{}, false
	}
	return best, true
}
