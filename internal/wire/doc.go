// Package wire defines the ota.v1.UpdateService gRPC contract.
//
// Messages are protobuf well-known types: requests and statuses travel as
// google.protobuf.Struct values with fixed field names, so no generated code is
// needed. The package holds the service descriptor, a thin client stub and the
// conversions between domain values and their wire form. The same Struct form
// is used by the status file on disk.
package wire
