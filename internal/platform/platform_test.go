package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ota-installer/internal/config"
)

var errExit = errors.New("exit status 1")

type commandCall struct {
	name string
	args []string
}

// fakeRunner records invocations instead of executing them.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []commandCall
	output []byte
	err    error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, commandCall{name: name, args: args})

	return f.output, f.err
}

// TestCommandEngine_ApplyPayload passes the byte range and headers to the client.
func TestCommandEngine_ApplyPayload(t *testing.T) {
	t.Parallel()

	runner := new(fakeRunner)
	engine := NewCommandEngine(config.EngineConfig{Command: "update_engine_client"})
	engine.run = runner.run

	err := engine.ApplyPayload(context.Background(), "/data/ota/update.zip", 1040, 4096,
		[]string{"FILE_HASH=abc", "FILE_SIZE=4096"})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	require.Equal(t, "update_engine_client", runner.calls[0].name)
	require.Equal(t, []string{
		"--update",
		"--payload=file:///data/ota/update.zip",
		"--offset=1040",
		"--size=4096",
		"--headers=FILE_HASH=abc\nFILE_SIZE=4096",
	}, runner.calls[0].args)
}

// TestCommandEngine_Failure includes the client output in the error.
func TestCommandEngine_Failure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{output: []byte("  payload rejected\n"), err: errExit}
	engine := NewCommandEngine(config.EngineConfig{Command: "update_engine_client"})
	engine.run = runner.run

	err := engine.ApplyPayload(context.Background(), "/data/ota/update.zip", 0, 1, nil)
	require.ErrorIs(t, err, errExit)
	require.ErrorContains(t, err, "payload rejected")

	engine.command = ""
	require.ErrorIs(t, engine.ApplyPayload(context.Background(), "x", 0, 1, nil), errEmptyCommand)
}

// TestCommandEngine_PerformanceMode runs only when arguments are configured.
func TestCommandEngine_PerformanceMode(t *testing.T) {
	t.Parallel()

	runner := new(fakeRunner)
	engine := NewCommandEngine(config.EngineConfig{Command: "update_engine_client"})
	engine.run = runner.run

	require.NoError(t, engine.SetPerformanceMode(context.Background(), true))
	require.Empty(t, runner.calls)

	engine.performanceArgs = []string{"--perf_mode=true"}
	require.NoError(t, engine.SetPerformanceMode(context.Background(), true))
	require.Len(t, runner.calls, 1)
	require.Equal(t, []string{"--perf_mode=true"}, runner.calls[0].args)

	runner.err = errExit
	require.ErrorIs(t, engine.SetPerformanceMode(context.Background(), true), errExit)
}

// TestRecoveryInstaller_WritesCommandAndReboots leaves instructions for recovery.
func TestRecoveryInstaller_WritesCommandAndReboots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	commandFile := filepath.Join(dir, "cache", "recovery", "command")
	runner := new(fakeRunner)

	installer := NewRecoveryInstaller(config.RecoveryConfig{
		CommandFile: commandFile,
		Reboot:      []string{"reboot", "recovery"},
	})
	installer.run = runner.run

	pkg := filepath.Join(dir, "update.zip.decrypt")
	require.NoError(t, installer.InstallPackage(context.Background(), pkg))

	contents, err := os.ReadFile(commandFile)
	require.NoError(t, err)
	require.Equal(t, "--update_package="+pkg+"\n", string(contents))

	require.Len(t, runner.calls, 1)
	require.Equal(t, "reboot", runner.calls[0].name)
	require.Equal(t, []string{"recovery"}, runner.calls[0].args)

	// A second install replaces the previous instructions.
	require.NoError(t, installer.InstallPackage(context.Background(), filepath.Join(dir, "other.zip")))

	contents, err = os.ReadFile(commandFile)
	require.NoError(t, err)
	require.Equal(t, "--update_package="+filepath.Join(dir, "other.zip")+"\n", string(contents))
}

// TestRecoveryInstaller_NoReboot only writes the command file.
func TestRecoveryInstaller_NoReboot(t *testing.T) {
	t.Parallel()

	commandFile := filepath.Join(t.TempDir(), "command")
	runner := new(fakeRunner)

	installer := NewRecoveryInstaller(config.RecoveryConfig{CommandFile: commandFile})
	installer.run = runner.run

	require.NoError(t, installer.InstallPackage(context.Background(), "/sdcard/update.zip"))
	require.Empty(t, runner.calls)

	info, err := os.Stat(commandFile)
	require.NoError(t, err)
	require.Equal(t, commandFileMode, info.Mode().Perm())
}

// TestRecoveryInstaller_RebootFailure is reported to the caller.
func TestRecoveryInstaller_RebootFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errExit}

	installer := NewRecoveryInstaller(config.RecoveryConfig{
		CommandFile: filepath.Join(t.TempDir(), "command"),
		Reboot:      []string{"reboot"},
	})
	installer.run = runner.run

	require.ErrorIs(t, installer.InstallPackage(context.Background(), "/sdcard/update.zip"), errExit)
}

// TestRecoveryInstaller_RebootOutlivesContext keeps the reboot command running
// after the caller's context is cancelled.
func TestRecoveryInstaller_RebootOutlivesContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	marker := filepath.Join(dir, "rebooted")

	installer := NewRecoveryInstaller(config.RecoveryConfig{
		CommandFile: filepath.Join(dir, "command"),
		Reboot:      []string{"sh", "-c", "sleep 0.2; touch " + marker},
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, installer.InstallPackage(ctx, filepath.Join(dir, "update.zip")))
	cancel()

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)

		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "reboot command did not complete")
}

// TestStartCommand_MissingExecutable reports start failures.
func TestStartCommand_MissingExecutable(t *testing.T) {
	t.Parallel()

	_, err := startCommand(context.Background(), filepath.Join(t.TempDir(), "missing-reboot"))
	require.Error(t, err)
}

// TestActiveSlotSuffix parses kernel command lines.
func TestActiveSlotSuffix(t *testing.T) {
	t.Parallel()

	suffix, ok := ActiveSlotSuffix("console=ttyMSM0 androidboot.slot_suffix=_b quiet\n")
	require.True(t, ok)
	require.Equal(t, "_b", suffix)

	suffix, ok = ActiveSlotSuffix("androidboot.slot=a")
	require.True(t, ok)
	require.Equal(t, "a", suffix)

	_, ok = ActiveSlotSuffix("console=ttyMSM0 androidboot.slot_suffix= quiet")
	require.False(t, ok)

	_, ok = ActiveSlotSuffix("")
	require.False(t, ok)
}

// TestSlotDetector covers forced and detected layouts.
func TestSlotDetector(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	ab := filepath.Join(dir, "cmdline-ab")
	require.NoError(t, os.WriteFile(ab, []byte("androidboot.slot_suffix=_a\n"), 0o600))

	aonly := filepath.Join(dir, "cmdline-aonly")
	require.NoError(t, os.WriteFile(aonly, []byte("console=ttyS0\n"), 0o600))

	require.True(t, NewSlotDetector(config.SlotModeAB, "").HasTwoUpdatableSlots(ctx))
	require.False(t, NewSlotDetector(config.SlotModeAOnly, ab).HasTwoUpdatableSlots(ctx))
	require.True(t, NewSlotDetector(config.SlotModeAuto, ab).HasTwoUpdatableSlots(ctx))
	require.False(t, NewSlotDetector(config.SlotModeAuto, aonly).HasTwoUpdatableSlots(ctx))
	require.False(t, NewSlotDetector(config.SlotModeAuto, filepath.Join(dir, "missing")).HasTwoUpdatableSlots(ctx))
}

// TestRootsDetector matches paths below encrypted roots only.
func TestRootsDetector(t *testing.T) {
	t.Parallel()

	detector := NewRootsDetector([]string{"/data/media/", "/storage/emulated"})

	require.True(t, detector.IsEncrypted("/data/media/0/update.zip"))
	require.True(t, detector.IsEncrypted("/storage/emulated/0/../0/update.zip"))
	require.False(t, detector.IsEncrypted("/data/mediator/update.zip"))
	require.False(t, detector.IsEncrypted("/data/ota_package/update.zip"))
	require.False(t, NewRootsDetector(nil).IsEncrypted("/data/media/0/update.zip"))
}

// TestDependencies wires every service from settings.
func TestDependencies(t *testing.T) {
	t.Parallel()

	deps := Dependencies(config.Default(), nil)
	require.NotNil(t, deps.Engine)
	require.NotNil(t, deps.Installer)
	require.NotNil(t, deps.Slots)
	require.NotNil(t, deps.Encryption)
	require.Nil(t, deps.Sink)
}
