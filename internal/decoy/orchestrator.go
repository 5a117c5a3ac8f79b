package decoy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/models"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// Event topics published by the decoy plugin.
const (
	TopicDecoyTrip           = "decoy.trip"
	TopicDecoyCredentialTrip = "decoy.credential_trip"
	TopicDecoyHealthChanged  = "decoy.health_changed"
	TopicDecoyStatusChanged  = "decoy.status_changed"
)

// record tracks one live decoy: its row, its running instance, its
// frozen credential set, and the recent failure timestamps that feed
// the restart budget.
type record struct {
	decoy    *models.Decoy
	instance Instance
	creds    []models.PlantedCredential
	failures []time.Time
}

// Orchestrator manages the decoy fleet: deployment, boot resume,
// restart budgets, and connection handling.
type Orchestrator struct {
	store  *DecoyStore
	bus    plugin.EventBus
	logger *zap.Logger

	bindAddress        string
	maxDecoys          int
	restartMaxAttempts int
	restartWindow      time.Duration

	mu      sync.Mutex
	records map[string]*record
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store *DecoyStore, bus plugin.EventBus, logger *zap.Logger,
	bindAddress string, maxDecoys, restartMaxAttempts int, restartWindow time.Duration) *Orchestrator {
	if maxDecoys <= 0 {
		maxDecoys = 3
	}
	if restartMaxAttempts <= 0 {
		restartMaxAttempts = 3
	}
	if restartWindow <= 0 {
		restartWindow = 5 * time.Minute
	}
	return &Orchestrator{
		store:              store,
		bus:                bus,
		logger:             logger,
		bindAddress:        bindAddress,
		maxDecoys:          maxDecoys,
		restartMaxAttempts: restartMaxAttempts,
		restartWindow:      restartWindow,
		records:            make(map[string]*record),
	}
}

// AutoDeploy instantiates decoys matched to the services observed on
// the network. It is a boot-time one-shot: if any decoy row already
// exists, in any status, nothing is deployed.
func (o *Orchestrator) AutoDeploy(ctx context.Context, observedPorts []int) (int, error) {
	existing, err := o.store.CountDecoys(ctx)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		o.logger.Debug("auto-deploy skipped, decoys already exist", zap.Int("count", existing))
		return 0, nil
	}

	wanted := make([]models.DecoyType, 0, o.maxDecoys)
	seen := make(map[models.DecoyType]bool)
	for _, port := range observedPorts {
		dt := ArchetypeForPort(port)
		if !seen[dt] {
			seen[dt] = true
			wanted = append(wanted, dt)
		}
		if len(wanted) >= o.maxDecoys {
			break
		}
	}
	if len(wanted) == 0 {
		wanted = append(wanted, models.DecoyFileShare)
	}

	deployed := 0
	for _, dt := range wanted {
		if _, err := o.Deploy(ctx, dt, 0); err != nil {
			o.logger.Error("auto-deploy failed", zap.String("type", string(dt)), zap.Error(err))
			continue
		}
		deployed++
	}
	return deployed, nil
}

// Deploy creates, plants, and starts one decoy of the given archetype.
// Port 0 lets the OS choose; the assigned port is persisted.
func (o *Orchestrator) Deploy(ctx context.Context, dt models.DecoyType, port int) (*models.Decoy, error) {
	arch, err := archetypeFor(dt)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		port = arch.DefaultPort
	}

	o.mu.Lock()
	active := len(o.records)
	o.mu.Unlock()
	if active >= o.maxDecoys {
		return nil, fmt.Errorf("decoy limit reached (%d): %w", o.maxDecoys, models.ErrConflict)
	}

	d := &models.Decoy{
		Name:        fmt.Sprintf("%s decoy", dt),
		DecoyType:   dt,
		BindAddress: o.bindAddress,
		Port:        port,
		Status:      models.DecoyStopped,
	}
	if err := o.store.InsertDecoy(ctx, d); err != nil {
		return nil, err
	}

	creds := make([]models.PlantedCredential, 0, len(arch.Plan))
	for _, plan := range arch.Plan {
		c, err := GenerateCredential(plan.Type, plan.Location)
		if err != nil {
			return nil, err
		}
		c.DecoyID = d.ID
		if err := o.store.InsertCredential(ctx, c); err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}

	if err := o.startInstance(ctx, d, creds); err != nil {
		return nil, err
	}
	return d, nil
}

// ResumeActive restarts every decoy persisted as active, reattaching
// its planted credential set.
func (o *Orchestrator) ResumeActive(ctx context.Context) (int, error) {
	decoys, err := o.store.ListDecoys(ctx, models.DecoyActive)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range decoys {
		d := decoys[i]
		creds, err := o.store.CredentialsForDecoy(ctx, d.ID)
		if err != nil {
			o.logger.Error("load credentials failed", zap.String("decoy_id", d.ID), zap.Error(err))
			continue
		}
		var startErr error
		if d.DecoyType == models.DecoyMimic {
			startErr = o.startMimicInstance(ctx, &d, creds)
		} else {
			startErr = o.startInstance(ctx, &d, creds)
		}
		if startErr != nil {
			o.logger.Error("resume decoy failed", zap.String("decoy_id", d.ID), zap.Error(startErr))
			o.setStatus(ctx, &d, models.DecoyStopped)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// startInstance builds an archetype decoy's emulator, starts it, and
// records the decoy as active. Mimics go through startMimicInstance,
// which rebuilds from the persisted template instead.
func (o *Orchestrator) startInstance(ctx context.Context, d *models.Decoy, creds []models.PlantedCredential) error {
	arch, err := archetypeFor(d.DecoyType)
	if err != nil {
		return err
	}

	byLocation := make(map[string]models.PlantedCredential, len(creds))
	for _, c := range creds {
		byLocation[c.PlantedLocation] = c
	}
	routes := arch.Routes(byLocation)

	em := NewHTTPEmulator(d.ID, d.BindAddress, d.Port, routes, arch.ServerHdr,
		creds, o.OnConnection, o.logger.Named("emulator"))
	if err := em.Start(ctx); err != nil {
		return err
	}

	if em.Port() != d.Port {
		d.Port = em.Port()
		if err := o.store.UpdatePort(ctx, d.ID, d.Port); err != nil {
			return err
		}
	}

	o.mu.Lock()
	o.records[d.ID] = &record{decoy: d, instance: em, creds: creds}
	o.mu.Unlock()

	o.setStatus(ctx, d, models.DecoyActive)
	return nil
}

// StopDecoy stops a decoy and marks it stopped.
func (o *Orchestrator) StopDecoy(ctx context.Context, id string) error {
	o.mu.Lock()
	rec, ok := o.records[id]
	delete(o.records, id)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("decoy %s not running: %w", id, models.ErrNotFound)
	}

	if err := rec.instance.Stop(ctx); err != nil {
		o.logger.Warn("decoy stop failed", zap.String("decoy_id", id), zap.Error(err))
	}
	o.setStatus(ctx, rec.decoy, models.DecoyStopped)
	return nil
}

// RestartDecoy stops a decoy, resets its failure budget, and starts it
// again from its persisted definition.
func (o *Orchestrator) RestartDecoy(ctx context.Context, id string) error {
	o.mu.Lock()
	if rec, ok := o.records[id]; ok {
		delete(o.records, id)
		o.mu.Unlock()
		if err := rec.instance.Stop(ctx); err != nil {
			o.logger.Warn("decoy stop failed", zap.String("decoy_id", id), zap.Error(err))
		}
	} else {
		o.mu.Unlock()
	}

	if err := o.store.ResetFailures(ctx, id); err != nil {
		return err
	}

	d, err := o.store.GetDecoy(ctx, id)
	if err != nil {
		return err
	}
	d.FailureCount = 0
	creds, err := o.store.CredentialsForDecoy(ctx, id)
	if err != nil {
		return err
	}
	if d.DecoyType == models.DecoyMimic {
		return o.startMimicInstance(ctx, d, creds)
	}
	return o.startInstance(ctx, d, creds)
}

// StopAll shuts every running decoy down without changing persisted
// status, so active decoys resume on next boot.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	recs := make([]*record, 0, len(o.records))
	for _, r := range o.records {
		recs = append(recs, r)
	}
	o.records = make(map[string]*record)
	o.mu.Unlock()

	for _, r := range recs {
		if err := r.instance.Stop(ctx); err != nil {
			o.logger.Warn("decoy stop failed", zap.String("decoy_id", r.decoy.ID), zap.Error(err))
		}
	}
}

// CheckHealth polls every running decoy once. A failed check counts
// against the restart budget; exhausting the budget inside the window
// stops the decoy.
func (o *Orchestrator) CheckHealth(ctx context.Context) {
	o.mu.Lock()
	recs := make([]*record, 0, len(o.records))
	for _, r := range o.records {
		recs = append(recs, r)
	}
	o.mu.Unlock()

	now := time.Now().UTC()
	for _, rec := range recs {
		if rec.instance.HealthCheck(ctx) {
			continue
		}

		if err := o.store.RecordFailure(ctx, rec.decoy.ID, now); err != nil {
			o.logger.Error("record failure failed", zap.String("decoy_id", rec.decoy.ID), zap.Error(err))
		}
		rec.decoy.FailureCount++

		o.mu.Lock()
		rec.failures = append(rec.failures, now)
		windowStart := now.Add(-o.restartWindow)
		trimmed := rec.failures[:0]
		for _, t := range rec.failures {
			if t.After(windowStart) {
				trimmed = append(trimmed, t)
			}
		}
		rec.failures = trimmed
		inWindow := len(rec.failures)
		o.mu.Unlock()

		if inWindow > o.restartMaxAttempts {
			o.logger.Error("decoy exhausted restart budget, stopping",
				zap.String("decoy_id", rec.decoy.ID),
				zap.Int("failures_in_window", inWindow))
			if err := o.StopDecoy(ctx, rec.decoy.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
				o.logger.Error("stop exhausted decoy failed", zap.Error(err))
			}
			continue
		}

		o.logger.Warn("decoy health check failed",
			zap.String("decoy_id", rec.decoy.ID),
			zap.Int("failures_in_window", inWindow))
		o.setStatus(ctx, rec.decoy, models.DecoyDegraded)
		o.publish(ctx, TopicDecoyHealthChanged, map[string]any{
			"decoy_id": rec.decoy.ID,
			"healthy":  false,
			"failures": inWindow,
		})
	}
}

// OnConnection handles one client interaction reported by a decoy:
// persist it, bump counters, and announce the trip. A planted
// credential in the request escalates to a credential trip.
func (o *Orchestrator) OnConnection(ev ConnEvent) {
	ctx := context.Background()

	o.mu.Lock()
	rec, ok := o.records[ev.DecoyID]
	var creds []models.PlantedCredential
	if ok {
		creds = rec.creds
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	var matched *models.PlantedCredential
	if ev.CredentialUsed != "" {
		for i := range creds {
			if creds[i].CredentialValue == ev.CredentialUsed {
				matched = &creds[i]
				break
			}
		}
	}

	seq, err := o.bus.Publish(ctx, TopicDecoyTrip, map[string]any{
		"decoy_id":  ev.DecoyID,
		"source_ip": ev.SourceIP,
		"port":      ev.Port,
		"path":      ev.RequestPath,
		"detail":    fmt.Sprintf("%s %s on %s decoy", ev.Protocol, ev.RequestPath, rec.decoy.DecoyType),
	}, "decoy")
	if err != nil {
		o.logger.Warn("publish decoy.trip failed", zap.Error(err))
	}

	conn := &models.DecoyConnection{
		DecoyID:     ev.DecoyID,
		SourceIP:    ev.SourceIP,
		Port:        ev.Port,
		Protocol:    ev.Protocol,
		RequestPath: ev.RequestPath,
		EventSeq:    seq,
		Timestamp:   ev.Timestamp,
	}
	if matched != nil {
		conn.CredentialUsed = matched.CredentialValue
		conn.CredentialID = matched.ID
	}
	if err := o.store.InsertConnection(ctx, conn); err != nil {
		o.logger.Error("persist decoy connection failed", zap.Error(err))
	}
	if err := o.store.IncrementConnections(ctx, ev.DecoyID, matched != nil); err != nil {
		o.logger.Error("increment decoy counters failed", zap.Error(err))
	}

	if matched == nil {
		return
	}
	if err := o.store.MarkCredentialTripped(ctx, matched.ID); err != nil {
		o.logger.Error("mark credential tripped failed", zap.Error(err))
	}
	o.publish(ctx, TopicDecoyCredentialTrip, map[string]any{
		"decoy_id":         ev.DecoyID,
		"source_ip":        ev.SourceIP,
		"credential_id":    matched.ID,
		"credential_type":  string(matched.CredentialType),
		"detection_method": "request_scan",
		"detail": fmt.Sprintf("planted %s used in request to %s",
			matched.CredentialType, ev.RequestPath),
	})
}

// Running returns a snapshot of the live decoys.
func (o *Orchestrator) Running() []models.Decoy {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Decoy, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, *r.decoy)
	}
	return out
}

func (o *Orchestrator) setStatus(ctx context.Context, d *models.Decoy, status models.DecoyStatus) {
	if d.Status == status {
		return
	}
	d.Status = status
	if err := o.store.UpdateStatus(ctx, d.ID, status); err != nil {
		o.logger.Error("update decoy status failed", zap.String("decoy_id", d.ID), zap.Error(err))
		return
	}
	o.publish(ctx, TopicDecoyStatusChanged, map[string]any{
		"decoy_id": d.ID,
		"status":   string(status),
		"type":     string(d.DecoyType),
		"port":     d.Port,
	})
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload map[string]any) {
	if _, err := o.bus.Publish(ctx, topic, payload, "decoy"); err != nil {
		o.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
