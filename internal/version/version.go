// Package version holds build identification, injected at link time.
package version

import "fmt"

// Set via -ldflags "-X github.com/hearthwatch/hearthwatch/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns the full build identification line.
func Info() string {
	return fmt.Sprintf("hearthwatch %s (commit %s, built %s)", Version, Commit, Date)
}
