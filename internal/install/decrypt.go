package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
)

const (
	// DecryptSuffix is appended to the package path to name the decrypted copy.
	DecryptSuffix = ".decrypt"

	// hardenedSourceMode is applied to the source package once it has been copied:
	// owner read/write, group read, others read.
	hardenedSourceMode os.FileMode = 0o644

	// decryptedFileMode is the mode of the decrypted copy while the job owns it.
	decryptedFileMode os.FileMode = 0o600
)

// JobState is the step a decrypt job is in.
type JobState int

const (
	JobIdle JobState = iota
	JobCopying
	JobHardening
	JobInstalling
	JobInstalled
	JobCancelled
	JobFailed
)

// String returns the state name used in logs.
func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobCopying:
		return "copying"
	case JobHardening:
		return "hardening"
	case JobInstalling:
		return "installing"
	case JobInstalled:
		return "installed"
	case JobCancelled:
		return "cancelled"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("job-state(%d)", int(s))
	}
}

// Terminal reports whether the job has finished.
func (s JobState) Terminal() bool {
	return s == JobInstalled || s == JobCancelled || s == JobFailed
}

// DestinationFor returns the decrypted copy path for a package.
func DestinationFor(source string) string {
	return source + DecryptSuffix
}

// Job is a running copy-then-install sequence. The job owns its destination
// file until it is cancelled (it removes the file) or installation starts.
type Job struct {
	source      string
	destination string
	observe     func(JobState, error)
	done        chan struct{}

	// mu protects the fields below.
	mu        sync.Mutex
	state     JobState
	cancelled bool
	err       error
}

// Source returns the package being decrypted.
func (j *Job) Source() string {
	return j.source
}

// Destination returns the decrypted copy path.
func (j *Job) Destination() string {
	return j.destination
}

// State returns the current step.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the terminal error: nil after a successful install,
// ota.ErrCancelled, or an error wrapping ota.ErrCopy or ota.ErrInstall.
// It returns nil while the job is running.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

// Cancel signals the job. Cancellation is observed once, after the copy and
// before installing; it reports whether the signal can still take effect.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cancelled = true

	return j.state < JobInstalling
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setState records a transition and notifies the observer outside the lock.
func (j *Job) setState(state JobState) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()

	j.notify(state, nil)
}

// beginInstall atomically checks the cancellation flag and either moves the
// job to JobInstalling or reports that it was cancelled.
func (j *Job) beginInstall() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelled {
		return false
	}

	j.state = JobInstalling

	return true
}

// finish records the terminal state, notifies the observer and releases waiters.
func (j *Job) finish(state JobState, err error) {
	j.mu.Lock()
	j.state = state
	j.err = err
	j.mu.Unlock()

	j.notify(state, err)
	close(j.done)
}

func (j *Job) notify(state JobState, err error) {
	if j.observe != nil {
		j.observe(state, err)
	}
}

// DecryptingInstaller copies a package to its decrypted path and installs the copy.
//
// The copy itself is a plain byte copy: reading an encrypted file through the
// platform storage layer yields its clear contents.
type DecryptingInstaller struct {
	installer PackageInstaller
	copyFile  func(src, dst string) error
	chmod     func(path string, mode os.FileMode) error
}

// NewDecryptingInstaller returns an installer that hands decrypted copies to installer.
func NewDecryptingInstaller(installer PackageInstaller) *DecryptingInstaller {
	return &DecryptingInstaller{
		installer: installer,
		copyFile:  copyFileContents,
		chmod:     os.Chmod,
	}
}

// Start launches the job in the background and returns immediately.
// ctx provides request values such as the logger; its cancellation does not
// cancel the job, use Job.Cancel for that. observe, when not nil, is called
// on every state transition from the job goroutine; terminal transitions carry
// the job error.
func (d *DecryptingInstaller) Start(ctx context.Context, source string, observe func(JobState, error)) *Job {
	job := &Job{
		source:      source,
		destination: DestinationFor(source),
		observe:     observe,
		done:        make(chan struct{}),
	}

	go d.run(context.WithoutCancel(ctx), job)

	return job
}

// run executes copy, hardening, cancellation check and install strictly in order.
func (d *DecryptingInstaller) run(ctx context.Context, job *Job) {
	ctx = logger.WithFields(ctx, "source", job.source, "destination", job.destination)

	job.setState(JobCopying)

	if err := d.copyFile(job.source, job.destination); err != nil {
		var result error = fmt.Errorf("%w: %w", ota.ErrCopy, err)

		if removeErr := removeArtifact(job.destination); removeErr != nil {
			result = multierror.Append(result, removeErr)
		}

		logger.ErrorKV(ctx, "Could not copy update", "error", result)
		job.finish(JobFailed, result)

		return
	}

	job.setState(JobHardening)

	if err := d.chmod(job.source, hardenedSourceMode); err != nil {
		logger.WarnKV(ctx, "Failed to set file permissions", "error", err)
	}

	if !job.beginInstall() {
		if err := removeArtifact(job.destination); err != nil {
			logger.ErrorKV(ctx, "Failed to remove decrypted copy", "error", err)
		}

		logger.Info(ctx, "Decrypt job cancelled before installing")
		job.finish(JobCancelled, ota.ErrCancelled)

		return
	}

	job.notify(JobInstalling, nil)

	// From here on the decrypted copy belongs to the installer.
	if err := d.installer.InstallPackage(ctx, job.destination); err != nil {
		result := fmt.Errorf("%w: %w", ota.ErrInstall, err)

		logger.ErrorKV(ctx, "Full-image install failed", "error", err)
		job.finish(JobFailed, result)

		return
	}

	logger.Info(ctx, "Decrypted package installed")
	job.finish(JobInstalled, nil)
}

// copyFileContents copies src to dst byte for byte and syncs dst.
func copyFileContents(src, dst string) (err error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, decryptedFileMode)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", closeErr)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}

	if err = out.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}

	return nil
}

// removeArtifact deletes path, treating an already missing file as success.
func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}
