package ota

import (
	"fmt"
	"time"
)

// Strategy is the way a package is applied to the device.
type Strategy int

const (
	// StrategyUnknown is the zero value used before a decision is made.
	StrategyUnknown Strategy = iota
	// StrategyStreamingApply streams the payload to the update engine (two-slot devices).
	StrategyStreamingApply
	// StrategyDirectFlash hands the package to the full-image installer as is.
	StrategyDirectFlash
	// StrategyDecryptThenFlash copies the package to a decrypted artifact and installs that.
	StrategyDecryptThenFlash
)

// String returns the stable name used in logs and on the wire.
func (s Strategy) String() string {
	switch s {
	case StrategyStreamingApply:
		return "streaming-apply"
	case StrategyDirectFlash:
		return "direct-flash"
	case StrategyDecryptThenFlash:
		return "decrypt-then-flash"
	case StrategyUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a name produced by String back to a Strategy.
func ParseStrategy(name string) Strategy {
	switch name {
	case "streaming-apply":
		return StrategyStreamingApply
	case "direct-flash":
		return StrategyDirectFlash
	case "decrypt-then-flash":
		return StrategyDecryptThenFlash
	default:
		return StrategyUnknown
	}
}

// Package is an update archive on durable storage. It is only read or copied.
type Package struct {
	// Path is the archive location.
	Path string
	// DeclaredSize is the payload length announced by the caller.
	DeclaredSize uint64
	// HasDeclaredSize tells a declared zero apart from no declaration.
	HasDeclaredSize bool
}

// Location is the position of an entry's raw data inside an archive.
type Location struct {
	// Offset is the absolute byte offset of the first data byte.
	Offset uint64
	// Size is the uncompressed size recorded in the central directory.
	Size uint64
	// Method is the zip compression method of the entry.
	Method uint16
}

// Properties are raw key=value payload header lines in their original order.
type Properties []string

// Clone returns a copy that does not share the backing array.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}

	return append(Properties(nil), p...)
}

// Session describes one install attempt.
type Session struct {
	// ID uniquely identifies the attempt.
	ID string
	// Package is the archive being installed.
	Package Package
	// Location is where the streaming payload starts.
	Location Location
	// Properties are the payload header lines.
	Properties Properties
	// Strategy is the chosen install path.
	Strategy Strategy
	// StartedAt is when the attempt began.
	StartedAt time.Time
}

// PayloadLength is the number of bytes handed to the streaming engine:
// the declared size when one was given, the entry size otherwise.
func (s *Session) PayloadLength() uint64 {
	if s.Package.HasDeclaredSize {
		return s.Package.DeclaredSize
	}

	return s.Location.Size
}
