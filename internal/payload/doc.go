// Package payload reads update archives without extracting them.
//
// Locate resolves the absolute byte offset of an entry's raw data so that a
// streaming engine can read the payload straight from the package file, and
// ReadProperties returns the payload header lines stored next to it.
package payload
