// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

// Build-time variables set by ldflags, e.g.
// -X github.com/MeKo-Tech/idcheck/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version, commit and build date.
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("idcheck %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
