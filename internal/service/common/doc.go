// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client for the update daemon with timeouts and
// a helper that detects the current caller (user@host) for daemon logs.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
