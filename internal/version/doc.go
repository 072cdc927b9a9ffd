// Package version exposes build metadata for the ota-server, ota-client,
// ota-apply and ota-inspect binaries.
//
// Version, Commit and BuildTime are injected via ldflags. Every binary gets a
// `version` subcommand printing its own name, and the daemon logs Fields on start.
package version
