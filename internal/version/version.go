package version

import "fmt"

var (
	// Version is the semantic version of the ota-* binaries. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}

// For prefixes Full with the binary name, e.g. "ota-server version: 0.1.0, ...".
func For(binary string) string {
	if binary == "" {
		return Full()
	}

	return binary + " " + Full()
}

// Fields returns the build metadata as logger key-value pairs.
func Fields() []any {
	return []any{"version", Version, "commit", Commit, "built_at", BuildTime}
}
