package ota

import "errors"

var (
	// ErrLocate marks failures to resolve the payload location. The pipeline halts.
	ErrLocate = errors.New("locate payload")
	// ErrEntryNotFound is returned when the archive has no entry with the requested name.
	ErrEntryNotFound = errors.New("archive entry not found")
	// ErrCopy marks I/O failures while producing the decrypted copy of a package.
	ErrCopy = errors.New("copy package")
	// ErrInstall marks a package rejected by the full-image installer.
	ErrInstall = errors.New("install package")
	// ErrInvalidPackage is returned when the package cannot be used at all.
	ErrInvalidPackage = errors.New("invalid package")
	// ErrCancelled is reported by a decrypt job cancelled before installing.
	ErrCancelled = errors.New("install cancelled")
	// ErrNoActiveJob is returned when there is no running decrypt job to cancel.
	ErrNoActiveJob = errors.New("no active install job")
	// ErrBusy is returned when a previous attempt has reached the installer and cannot be cancelled.
	ErrBusy = errors.New("install already in progress")
)
