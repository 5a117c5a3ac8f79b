package decoy

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// CanaryMonitor watches passive DNS for lookups of canary hostnames
// embedded in planted credentials. A hit means someone is using a
// harvested credential from outside the decoy itself.
type CanaryMonitor struct {
	store      *DecoyStore
	privileged plugin.Privileged
	bus        plugin.EventBus
	logger     *zap.Logger

	lastPoll time.Time
}

// NewCanaryMonitor creates a monitor over the privileged DNS sniffer.
func NewCanaryMonitor(store *DecoyStore, privileged plugin.Privileged, bus plugin.EventBus, logger *zap.Logger) *CanaryMonitor {
	return &CanaryMonitor{
		store:      store,
		privileged: privileged,
		bus:        bus,
		logger:     logger,
		lastPoll:   time.Now().UTC(),
	}
}

// Poll fetches DNS queries since the previous poll and records any
// canary hits.
func (c *CanaryMonitor) Poll(ctx context.Context) {
	if c.privileged == nil {
		return
	}

	since := c.lastPoll
	c.lastPoll = time.Now().UTC()

	queries, err := c.privileged.DNSQueries(ctx, since)
	if err != nil {
		c.logger.Debug("dns query poll failed", zap.Error(err))
		return
	}
	if len(queries) == 0 {
		return
	}

	creds, err := c.store.AllCanaryCredentials(ctx)
	if err != nil {
		c.logger.Error("load canary credentials failed", zap.Error(err))
		return
	}
	byHostname := make(map[string]models.PlantedCredential, len(creds))
	for _, cred := range creds {
		byHostname[cred.CanaryHostname] = cred
	}

	for _, q := range queries {
		name := normalizeQueryName(q.QueryName)
		cred, ok := byHostname[name]
		if !ok {
			continue
		}

		seq, err := c.bus.Publish(ctx, TopicDecoyCredentialTrip, map[string]any{
			"decoy_id":         cred.DecoyID,
			"credential_id":    cred.ID,
			"credential_type":  string(cred.CredentialType),
			"source_ip":        q.SourceIP,
			"source_mac":       q.SourceMAC,
			"detection_method": "dns_canary",
			"detail":           "canary hostname " + name + " resolved by " + q.SourceIP,
		}, "decoy")
		if err != nil {
			c.logger.Warn("publish canary trip failed", zap.Error(err))
		}

		if err := c.store.InsertCanaryObservation(ctx, &models.CanaryObservation{
			CredentialID:   cred.ID,
			CanaryHostname: name,
			QueriedByIP:    q.SourceIP,
			QueriedByMAC:   q.SourceMAC,
			EventSeq:       seq,
			ObservedAt:     q.Timestamp,
		}); err != nil {
			c.logger.Error("persist canary observation failed", zap.Error(err))
		}
		if err := c.store.MarkCredentialTripped(ctx, cred.ID); err != nil {
			c.logger.Error("mark credential tripped failed", zap.Error(err))
		}

		c.logger.Warn("canary hostname resolved",
			zap.String("hostname", name),
			zap.String("source_ip", q.SourceIP))
	}
}

// normalizeQueryName lowercases and strips the trailing dot.
func normalizeQueryName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}
