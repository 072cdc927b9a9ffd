// Package config defines the settings used by the OTA binaries and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type holds the daemon gRPC address, the status file, the archive
// entry names and the platform adapter settings (slot mode, update engine
// client and recovery command file).
package config
