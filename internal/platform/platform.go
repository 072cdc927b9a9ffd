package platform

import (
	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/install"
)

// Dependencies builds the installer dependencies described by cfg.
func Dependencies(cfg *config.Config, sink install.StatusSink) install.Dependencies {
	return install.Dependencies{
		Engine:     NewCommandEngine(cfg.Engine),
		Installer:  NewRecoveryInstaller(cfg.Recovery),
		Slots:      NewSlotDetector(cfg.SlotMode, cfg.CmdlinePath),
		Encryption: NewRootsDetector(cfg.EncryptedRoots),
		Sink:       sink,
	}
}
