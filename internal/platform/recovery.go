package platform

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/logger"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// commandFileMode is the mode of the recovery command file.
	commandFileMode os.FileMode = 0o600

	// commandDirMode is used when the recovery directory does not exist yet.
	commandDirMode os.FileMode = 0o750

	// commandChecksumFunction verifies the command file while it is replaced.
	commandChecksumFunction = crypto.SHA512
)

var errHashUnavailable = errors.New("hash function unavailable")

// RecoveryInstaller installs full images by leaving instructions for the
// recovery environment and optionally rebooting into it.
type RecoveryInstaller struct {
	commandFile   string
	rebootCommand []string
	run           runner
}

// NewRecoveryInstaller returns an installer writing to the configured command file.
func NewRecoveryInstaller(cfg config.RecoveryConfig) *RecoveryInstaller {
	return &RecoveryInstaller{
		commandFile:   cfg.CommandFile,
		rebootCommand: append([]string(nil), cfg.Reboot...),
		run:           startCommand,
	}
}

// InstallPackage writes the recovery command for path and reboots when a reboot command is configured.
// It returns once the instructions are in place; recovery applies them after the reboot.
func (r *RecoveryInstaller) InstallPackage(ctx context.Context, path string) error {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve package path: %w", err)
	}

	if err = r.writeCommand(RecoveryCommand(absolute)); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Recovery command written", "command_file", r.commandFile, "package", absolute)

	return reboot(ctx, r.run, r.rebootCommand)
}

// writeCommand atomically replaces the command file, verifying its checksum.
func (r *RecoveryInstaller) writeCommand(contents []byte) error {
	target := filepath.Clean(r.commandFile)

	if err := os.MkdirAll(filepath.Dir(target), commandDirMode); err != nil {
		return fmt.Errorf("create recovery directory: %w", err)
	}

	// The replacement renames the previous file aside, so one has to exist.
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(target, nil, commandFileMode); err != nil {
			return fmt.Errorf("create command file: %w", err)
		}
	}

	checksum, err := checksumOf(contents)
	if err != nil {
		return err
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: commandFileMode,
		Checksum:   checksum,
		Hash:       commandChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(contents), options); err != nil {
		return fmt.Errorf("write command file: %w", err)
	}

	return nil
}

// RecoveryCommand returns the command file contents installing the package at path.
func RecoveryCommand(path string) []byte {
	return []byte("--update_package=" + path + "\n")
}

func checksumOf(contents []byte) ([]byte, error) {
	if !commandChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := commandChecksumFunction.New()
	if _, err := hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
