package install

import "github.com/oshokin/ota-installer/internal/domain/ota"

// Select picks the install strategy.
//
// Two-slot devices always stream the payload, encrypted or not: the engine reads
// the raw byte range itself. Single-slot devices flash the package directly,
// unless it is encrypted, in which case a decrypted copy is flashed.
func Select(twoSlots, encrypted bool) ota.Strategy {
	switch {
	case twoSlots:
		return ota.StrategyStreamingApply
	case encrypted:
		return ota.StrategyDecryptThenFlash
	default:
		return ota.StrategyDirectFlash
	}
}
