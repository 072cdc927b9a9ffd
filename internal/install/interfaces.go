package install

import (
	"context"

	"github.com/oshokin/ota-installer/internal/domain/ota"
)

// Engine is the platform streaming update engine.
type Engine interface {
	// ApplyPayload submits the payload found at offset inside the file at path.
	// The engine flashes asynchronously; a nil error only means it accepted the request.
	ApplyPayload(ctx context.Context, path string, offset, length uint64, properties []string) error
	// SetPerformanceMode asks the engine to favor speed over device responsiveness.
	SetPerformanceMode(ctx context.Context, enabled bool) error
}

// PackageInstaller is the platform full-image installer. InstallPackage blocks
// until the package is accepted or rejected.
type PackageInstaller interface {
	InstallPackage(ctx context.Context, path string) error
}

// SlotDetector reports whether the device has two updatable slots.
type SlotDetector interface {
	HasTwoUpdatableSlots(ctx context.Context) bool
}

// EncryptionDetector reports whether a file is stored transport-encrypted.
type EncryptionDetector interface {
	IsEncrypted(path string) bool
}

// StatusSink receives human-readable status updates.
type StatusSink interface {
	Publish(ctx context.Context, status *ota.Status)
}
