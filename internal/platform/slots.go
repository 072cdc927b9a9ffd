package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/logger"
)

// slotSuffixKeys are the kernel command line keys naming the active slot.
var slotSuffixKeys = []string{"androidboot.slot_suffix", "androidboot.slot"}

// SlotDetector decides the slot layout from settings or the kernel command line.
type SlotDetector struct {
	mode        config.SlotMode
	cmdlinePath string
}

// NewSlotDetector returns a detector for the configured slot mode.
func NewSlotDetector(mode config.SlotMode, cmdlinePath string) *SlotDetector {
	return &SlotDetector{
		mode:        mode,
		cmdlinePath: cmdlinePath,
	}
}

// HasTwoUpdatableSlots reports whether the device has A/B slots.
// In auto mode an unreadable command line means a single slot.
func (d *SlotDetector) HasTwoUpdatableSlots(ctx context.Context) bool {
	switch d.mode {
	case config.SlotModeAB:
		return true
	case config.SlotModeAOnly:
		return false
	case config.SlotModeAuto:
	}

	contents, err := os.ReadFile(filepath.Clean(d.cmdlinePath))
	if err != nil {
		logger.WarnKV(ctx, "Failed to read kernel command line", "path", d.cmdlinePath, "error", err)

		return false
	}

	suffix, ok := ActiveSlotSuffix(string(contents))
	logger.DebugKV(ctx, "Slot layout detected", "two_slots", ok, "suffix", suffix)

	return ok
}

// ActiveSlotSuffix extracts the active slot from a kernel command line.
func ActiveSlotSuffix(cmdline string) (string, bool) {
	for _, field := range strings.Fields(cmdline) {
		key, value, found := strings.Cut(field, "=")
		if !found || value == "" {
			continue
		}

		for _, candidate := range slotSuffixKeys {
			if key == candidate {
				return value, true
			}
		}
	}

	return "", false
}
