// Package ota contains core domain types for installing update packages.
//
// It defines Package (the archive supplied by the caller), Location (where
// the streaming payload starts inside it), Properties (payload header lines),
// Session (one install attempt) and Status (the human-readable phase that is
// published to observers), plus the error kinds shared by the install pipeline.
package ota
