// Package apply installs a single update package without the daemon.
//
// It runs the same pipeline the daemon runs, persists every status to the
// configured state file and refuses to run twice at the same time.
package apply
