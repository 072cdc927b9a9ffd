package apply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/ota-installer/internal/logger"
)

const (
	// MarkerFilename marks that an apply run is in progress to avoid parallel execution.
	MarkerFilename = "ota-apply.marker"

	// markerFileMode is the mode of the marker file.
	markerFileMode os.FileMode = 0o600

	// commLength is the longest process name the kernel reports.
	commLength = 15
)

var errAlreadyRunning = errors.New("another ota-apply run is in progress")

// DefaultMarkerPath returns the marker location in the system temporary directory.
func DefaultMarkerPath() string {
	return filepath.Join(os.TempDir(), MarkerFilename)
}

// acquireMarker creates the marker holding the current PID. A marker left by
// a process that no longer runs is removed first. The returned function
// removes the marker.
func acquireMarker(ctx context.Context, path string) (func(), error) {
	logger.Info(ctx, "Checking for the presence of an apply marker")

	if isApplyRunningNow(ctx, path) {
		return nil, errAlreadyRunning
	}

	marker, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errAlreadyRunning
		}

		return nil, fmt.Errorf("create marker: %w", err)
	}

	_, err = marker.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := marker.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("write marker: %w", err)
	}

	return func() {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.WarnKV(ctx, "Failed to remove apply marker", "path", path, "error", removeErr)
		}
	}, nil
}

// isApplyRunningNow checks the marker and removes it when its owner is gone.
func isApplyRunningNow(ctx context.Context, path string) bool {
	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		logger.Info(ctx, "Apply marker not found, continuing")

		return false
	}

	if err != nil {
		logger.Infof(ctx, "Unable to read apply marker: %v", err)

		return true
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err == nil && ownerIsRunning(pid) {
		return true
	}

	logger.InfoKV(ctx, "The apply marker is stale, removing it", "pid", strings.TrimSpace(string(contents)))

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true
	}

	return false
}

// ownerIsRunning reports whether pid belongs to a running copy of this program.
func ownerIsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return false
	}

	return sameProgram(process.Executable(), filepath.Base(os.Args[0]))
}

// sameProgram compares a process name from the process table with an executable name.
// The kernel truncates long process names.
func sameProgram(processName, executable string) bool {
	if processName == executable {
		return true
	}

	return len(processName) >= commLength && strings.HasPrefix(executable, processName)
}
