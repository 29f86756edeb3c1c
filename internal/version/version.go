// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/lane.report/internal/version.Version=v0.3.0" ./cmd/lanes
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the version line printed by `lanes -version`.
func String() string {
	return fmt.Sprintf("lanes %s (%s, built %s)", Version, GitSHA, BuildTime)
}
