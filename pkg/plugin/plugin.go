// Package plugin provides the public SDK types for Hearthwatch plugins.
// All sensor subsystems (device discovery, decoys, scouts, incidents)
// implement these interfaces and are wired together by the registry.
package plugin

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// API version constants for plugin compatibility checking.
// The registry rejects plugins outside the supported range.
const (
	APIVersionMin     = 1 // Oldest Plugin API version this sensor supports
	APIVersionCurrent = 1 // Current Plugin API version
)

// Plugin defines the interface that all Hearthwatch subsystems implement.
type Plugin interface {
	// Info returns the plugin's metadata and dependency declarations.
	Info() PluginInfo

	// Init initializes the plugin with its dependencies.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin. Implementations must return
	// within the supervisor's grace period (10s).
	Stop(ctx context.Context) error
}

// PluginInfo contains plugin metadata and dependency declarations.
type PluginInfo struct {
	Name         string   // Unique identifier: "devices", "decoy", "scout", etc.
	Version      string   // Semantic version string
	Description  string   // Human-readable summary
	Dependencies []string // Plugin names that must initialize first
	Required     bool     // If true, the sensor refuses to start without this plugin
	APIVersion   int      // Plugin API version targeted (currently 1)
}

// Dependencies provides controlled access to shared services.
// Injected by the registry during Init.
type Dependencies struct {
	Config     Config         // Scoped to this plugin's config section
	Logger     *zap.Logger    // Named logger for this plugin
	Bus        EventBus       // Persistent event publish/subscribe
	Store      Store          // Shared SQLite store for migrations and queries
	Privileged Privileged     // Privileged-operations helper; may be nil
	Plugins    PluginResolver // Lookup of other plugins by name
}

// HealthChecker is optionally implemented by plugins that can report health.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// HealthStatus represents a plugin's health report.
type HealthStatus struct {
	Status  string            `json:"status"` // "ok", "degraded", "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Config abstracts configuration access. Wraps Viper today, replaceable later.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetFloat64(key string) float64
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Store provides shared SQLite access with per-plugin migrations.
type Store interface {
	// DB returns the underlying database handle for direct queries.
	DB() *sql.DB

	// Tx executes fn within a transaction, committing on nil error.
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// Migrate applies the plugin's pending migrations in Version order.
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}

// Migration is a single versioned schema change for one plugin.
// Migrations must be additive: ALTER TABLE ADD COLUMN or
// CREATE TABLE/INDEX IF NOT EXISTS only.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// PluginResolver allows plugins to locate other plugins by name.
// Plugins type-assert the result to the narrow service interfaces
// declared in internal/services.
type PluginResolver interface {
	Resolve(name string) (Plugin, bool)
}
