// Package version exposes build-time version information.
package version

// These are set at build time via -ldflags.
var (
	// Version is the semantic version of the build
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "unknown"
	// BuildTime is the time the binary was built
	BuildTime = "unknown"
)
