// Package version provides the EmberDB build information.
// The values are set at build time via -ldflags.
package version

import "fmt"

// Version is the current EmberDB version.
// Override at build time: go build -ldflags "-X github.com/emberdb/emberdb/internal/version.Version=0.2.0"
var Version = "0.1.0"

// Commit is the VCS revision the binary was built from.
var Commit = "none"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/emberdb/emberdb/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"

// String renders all build information on one line.
func String() string {
	return fmt.Sprintf("emberdb %s (commit %s, built %s)", Version, Commit, BuildTime)
}
