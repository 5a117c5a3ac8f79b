// Package config provides the Viper-backed implementation of the
// plugin.Config interface plus logger construction and validation of
// the sensor's recognized options.
package config

import (
	"time"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig wraps a Viper instance to implement plugin.Config.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
// Returns the concrete type; callers assign to plugin.Config where needed.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

func (c *ViperConfig) Get(key string) any {
	return c.v.Get(key)
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

func (c *ViperConfig) Sub(key string) plugin.Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Viper returns the underlying Viper instance for direct access
// (e.g., by main for top-level settings like database.path).
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// Load reads the sensor configuration. An explicit path wins; otherwise
// hearthwatch.yaml is searched in the working directory, the data
// directory, and /etc/hearthwatch. Missing files are not an error:
// defaults apply.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		return v, nil
	}

	v.SetConfigName("hearthwatch")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.hearthwatch")
	v.AddConfigPath("/etc/hearthwatch")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "hearthwatch.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scan_interval", 60*time.Second)
	v.SetDefault("retention_days", 30)

	v.SetDefault("incident_window_minutes", 15)
	v.SetDefault("incident_close_window_minutes", 60)

	v.SetDefault("learning_duration_hours", 48)

	v.SetDefault("decoys.max_decoys", 3)
	v.SetDefault("decoys.health_check_interval", 30*time.Second)
	v.SetDefault("decoys.restart_max_attempts", 3)
	v.SetDefault("decoys.restart_window_seconds", 300)

	v.SetDefault("classifier.mode", "local")

	v.SetDefault("fingerprint.auto_approve_threshold", 0.75)
	v.SetDefault("fingerprint.verify_threshold", 0.50)
	v.SetDefault("fingerprint.signal_weights", []float64{0.30, 0.25, 0.25, 0.10, 0.10})

	v.SetDefault("scouts.interval_minutes", 360)
	v.SetDefault("scouts.initial_delay", 2*time.Minute)
	v.SetDefault("scouts.max_concurrent_probes", 5)
	v.SetDefault("scouts.virtual_ip_range_start", 200)
	v.SetDefault("scouts.virtual_ip_range_end", 250)

	v.SetDefault("mimics.max_mimic_decoys", 3)
	v.SetDefault("mimics.max_virtual_ips", 5)
}
