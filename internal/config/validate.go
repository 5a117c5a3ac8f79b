package config

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

// classifierModes enumerates the accepted classifier.mode values.
var classifierModes = map[string]bool{
	"local":     true,
	"cloud":     true,
	"local_llm": true,
}

// Validate checks the recognized sensor options against their allowed
// ranges. It is called once at startup; a non-nil error is fatal.
func Validate(v *viper.Viper) error {
	if d := v.GetDuration("scan_interval"); d < 15*time.Second {
		return fmt.Errorf("scan_interval must be at least 15s, got %s", d)
	}
	if n := v.GetInt("retention_days"); n < 1 {
		return fmt.Errorf("retention_days must be at least 1, got %d", n)
	}

	window := v.GetInt("incident_window_minutes")
	if window < 1 {
		return fmt.Errorf("incident_window_minutes must be at least 1, got %d", window)
	}
	if closeWindow := v.GetInt("incident_close_window_minutes"); closeWindow < window {
		return fmt.Errorf("incident_close_window_minutes (%d) must be >= incident_window_minutes (%d)",
			closeWindow, window)
	}

	if mode := v.GetString("classifier.mode"); !classifierModes[mode] {
		return fmt.Errorf("classifier.mode must be one of local, cloud, local_llm; got %q", mode)
	}

	for _, key := range []string{"fingerprint.auto_approve_threshold", "fingerprint.verify_threshold"} {
		if t := v.GetFloat64(key); t < 0 || t > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", key, t)
		}
	}

	if v.IsSet("fingerprint.signal_weights") {
		weights := viperFloats(v, "fingerprint.signal_weights")
		if len(weights) != 5 {
			return fmt.Errorf("fingerprint.signal_weights must hold five floats, got %d", len(weights))
		}
		var sum float64
		for _, w := range weights {
			if w < 0 {
				return fmt.Errorf("fingerprint.signal_weights must be non-negative, got %v", w)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return fmt.Errorf("fingerprint.signal_weights must sum to 1.0, got %v", sum)
		}
	}

	start := v.GetInt("scouts.virtual_ip_range_start")
	end := v.GetInt("scouts.virtual_ip_range_end")
	if start < 1 || end > 254 || start > end {
		return fmt.Errorf("scouts virtual IP range [%d, %d] must satisfy 1 <= start <= end <= 254", start, end)
	}

	return nil
}

// viperFloats reads a float slice regardless of whether the underlying
// value came from YAML ([]any) or a default ([]float64).
func viperFloats(v *viper.Viper, key string) []float64 {
	switch raw := v.Get(key).(type) {
	case []float64:
		return raw
	case []any:
		out := make([]float64, 0, len(raw))
		for _, e := range raw {
			switch n := e.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			}
		}
		return out
	default:
		return nil
	}
}
