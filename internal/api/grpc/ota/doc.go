// Package ota implements the gRPC transport for the update daemon.
//
// It decodes wire messages into domain values, calls into a provided
// business-service interface and maps domain errors to gRPC status codes.
package ota
