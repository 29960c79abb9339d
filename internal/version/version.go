// Package version carries build metadata injected with ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/prefsd/internal/version.Version=v1.2.0".
package version

import "fmt"

var Version = "unknown"

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the full version line shown by --version.
func String() string {
	return fmt.Sprintf("prefsd %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
