// Package status keeps the latest human-readable install status and fans it
// out to subscribers and an optional persister.
package status
