package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/fingerprint"
)

// RegistryDevice is a device entry from the home-automation registry.
type RegistryDevice struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	NameByUser   string      `json:"name_by_user"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	AreaID       string      `json:"area_id"`
	Connections  [][2]string `json:"connections"` // [["mac", "aa:bb:cc:dd:ee:ff"], ...]
}

// RegistryArea is a named area (room) from the home-automation registry.
type RegistryArea struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegistryClient is a thin HTTP wrapper for a home-automation device
// registry speaking bearer-token JSON.
type RegistryClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewRegistryClient creates a client for the given registry endpoint.
func NewRegistryClient(baseURL, token string) *RegistryClient {
	return &RegistryClient{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListDevices fetches the registry's device entries.
func (c *RegistryClient) ListDevices(ctx context.Context) ([]RegistryDevice, error) {
	var out []RegistryDevice
	if err := c.getJSON(ctx, "/api/registry/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAreas fetches the registry's area entries.
func (c *RegistryClient) ListAreas(ctx context.Context) ([]RegistryArea, error) {
	var out []RegistryArea
	if err := c.getJSON(ctx, "/api/registry/areas", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RegistryClient) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Enricher correlates registry entries with scanned devices by MAC and
// folds friendly names, models, and areas into the inventory. The
// user's custom_name is never overwritten, and a vendor is only
// replaced when nothing better than "Unknown" is on record.
type Enricher struct {
	client  *RegistryClient
	store   *DeviceStore
	manager *Manager
	logger  *zap.Logger
}

// NewEnricher creates an enricher over the given registry client.
func NewEnricher(client *RegistryClient, store *DeviceStore, manager *Manager, logger *zap.Logger) *Enricher {
	return &Enricher{client: client, store: store, manager: manager, logger: logger}
}

// Run performs one enrichment pass. Registry failures are logged and
// returned; partial matches already applied stay applied.
func (e *Enricher) Run(ctx context.Context) error {
	regDevices, err := e.client.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list registry devices: %w", err)
	}
	areas, err := e.client.ListAreas(ctx)
	if err != nil {
		return fmt.Errorf("list registry areas: %w", err)
	}

	areaNames := make(map[string]string, len(areas))
	for _, a := range areas {
		areaNames[a.ID] = a.Name
	}

	byMAC := make(map[string]RegistryDevice)
	for _, rd := range regDevices {
		for _, conn := range rd.Connections {
			if conn[0] != "mac" {
				continue
			}
			mac, err := fingerprint.NormalizeMAC(conn[1])
			if err != nil {
				continue
			}
			byMAC[mac] = rd
		}
	}

	enriched := 0
	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		rd, ok := byMAC[d.MACAddress]
		if !ok {
			continue
		}
		hostname := rd.NameByUser
		if hostname == "" {
			hostname = rd.Name
		}
		area := areaNames[rd.AreaID]
		if err := e.store.UpdateEnrichment(ctx, d.ID, hostname, rd.Model, rd.Manufacturer, area); err != nil {
			e.logger.Warn("enrichment update failed",
				zap.String("device_id", d.ID), zap.Error(err))
			continue
		}
		enriched++
		e.manager.publish(ctx, TopicDeviceUpdated, map[string]any{
			"device_id": d.ID,
			"area":      area,
			"source":    "registry",
		})
	}

	e.logger.Info("registry enrichment complete",
		zap.Int("registry_devices", len(regDevices)),
		zap.Int("enriched", enriched))
	return nil
}
