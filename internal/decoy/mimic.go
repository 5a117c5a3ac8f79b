package decoy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// privilegedPortOffset shifts a privileged port to the high port a
// mimic actually binds; the mimic orchestrator installs a packet-filter
// redirect from the real port.
const privilegedPortOffset = 10000

// ListenPort returns the port a mimic binds for an advertised port.
func ListenPort(advertised int) int {
	if advertised < 1024 {
		return advertised + privilegedPortOffset
	}
	return advertised
}

// credentialRoutes maps a mimic's credential strategy to the path the
// planted value is served from.
var credentialRoutes = map[models.CredentialType]string{
	models.CredentialEnvFile:     "/.env",
	models.CredentialUserPass:    "/backup/credentials.txt",
	models.CredentialBearerToken: "/api/token",
	models.CredentialAWSKey:      "/config.json",
	models.CredentialGitHubPAT:   "/.git/config",
	models.CredentialSSHKey:      "/backup/id_rsa",
}

// mimicInstance runs one emulator per advertised port, all sharing the
// template's route table and credential set.
type mimicInstance struct {
	emulators []*HTTPEmulator
}

func (m *mimicInstance) Start(ctx context.Context) error {
	for i, em := range m.emulators {
		if err := em.Start(ctx); err != nil {
			for j := 0; j < i; j++ {
				m.emulators[j].Stop(ctx)
			}
			return err
		}
	}
	return nil
}

func (m *mimicInstance) Stop(ctx context.Context) error {
	var firstErr error
	for _, em := range m.emulators {
		if err := em.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *mimicInstance) HealthCheck(ctx context.Context) bool {
	for _, em := range m.emulators {
		if !em.HealthCheck(ctx) {
			return false
		}
	}
	return len(m.emulators) > 0
}

func (m *mimicInstance) IsRunning() bool {
	for _, em := range m.emulators {
		if !em.IsRunning() {
			return false
		}
	}
	return len(m.emulators) > 0
}

func (m *mimicInstance) Port() int {
	if len(m.emulators) == 0 {
		return 0
	}
	return m.emulators[0].Port()
}

// LaunchMimic creates and starts a mimic decoy from a generated
// template, bound to the given virtual IP. Implements the launcher
// contract the mimic plugin resolves.
func (o *Orchestrator) LaunchMimic(ctx context.Context, tmpl models.MimicTemplate, bindIP string) (*models.Decoy, error) {
	if len(tmpl.Ports) == 0 {
		return nil, fmt.Errorf("mimic template has no ports: %w", models.ErrValidation)
	}

	rawTemplate, err := json.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("marshal mimic template: %w", err)
	}

	d := &models.Decoy{
		Name:        fmt.Sprintf("mimic %s (%s)", tmpl.Category, bindIP),
		DecoyType:   models.DecoyMimic,
		BindAddress: bindIP,
		Port:        ListenPort(tmpl.Ports[0]),
		Status:      models.DecoyStopped,
		Config:      map[string]any{"template": json.RawMessage(rawTemplate)},
	}
	if err := o.store.InsertDecoy(ctx, d); err != nil {
		return nil, err
	}

	var creds []models.PlantedCredential
	if tmpl.CredentialStrategy != "" {
		location := credentialRoutes[tmpl.CredentialStrategy]
		c, err := GenerateCredential(tmpl.CredentialStrategy, location)
		if err != nil {
			return nil, err
		}
		c.DecoyID = d.ID
		if err := o.store.InsertCredential(ctx, c); err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}

	if err := o.startMimicInstance(ctx, d, creds); err != nil {
		return nil, err
	}
	return d, nil
}

// RemoveMimic stops a mimic decoy and marks it stopped.
func (o *Orchestrator) RemoveMimic(ctx context.Context, decoyID string) error {
	return o.StopDecoy(ctx, decoyID)
}

// startMimicInstance rebuilds a mimic's emulators from its persisted
// template and starts them.
func (o *Orchestrator) startMimicInstance(ctx context.Context, d *models.Decoy, creds []models.PlantedCredential) error {
	tmpl, err := templateFromConfig(d.Config)
	if err != nil {
		return err
	}

	credRoutes := make([]Route, 0, len(creds))
	for _, c := range creds {
		if c.PlantedLocation == "" {
			continue
		}
		credRoutes = append(credRoutes, Route{
			Method: http.MethodGet,
			Path:   c.PlantedLocation,
			Status: http.StatusOK,
			Headers: map[string]string{
				"Content-Type": "text/plain",
			},
			Body: c.CredentialValue,
		})
	}

	// Each advertised port serves only its own scouted routes, so two
	// ports answering the same path do not shadow each other. Credential
	// bait is reachable on every port.
	inst := &mimicInstance{}
	for _, port := range tmpl.Ports {
		routes := make([]Route, 0, len(tmpl.Routes)+len(credRoutes))
		for _, r := range tmpl.Routes {
			if r.Port != 0 && r.Port != port {
				continue
			}
			routes = append(routes, Route{
				Method:  r.Method,
				Path:    r.Path,
				Status:  r.Status,
				Headers: r.Headers,
				Body:    r.Body,
			})
		}
		routes = append(routes, credRoutes...)
		em := NewHTTPEmulator(d.ID, d.BindAddress, ListenPort(port), routes,
			tmpl.ServerHeader, creds, o.OnConnection, o.logger.Named("mimic"))
		inst.emulators = append(inst.emulators, em)
	}
	if err := inst.Start(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.records[d.ID] = &record{decoy: d, instance: inst, creds: creds}
	o.mu.Unlock()

	o.setStatus(ctx, d, models.DecoyActive)
	return nil
}

// templateFromConfig recovers a mimic template persisted in the decoy's
// config column.
func templateFromConfig(config map[string]any) (models.MimicTemplate, error) {
	var tmpl models.MimicTemplate
	raw, ok := config["template"]
	if !ok {
		return tmpl, fmt.Errorf("mimic decoy has no template in config")
	}
	// The config round-trips through JSON, so re-marshal whatever shape
	// the template landed in.
	data, err := json.Marshal(raw)
	if err != nil {
		return tmpl, fmt.Errorf("marshal stored template: %w", err)
	}
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return tmpl, fmt.Errorf("decode stored template: %w", err)
	}
	return tmpl, nil
}
