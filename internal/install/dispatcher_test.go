package install

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ota-installer/internal/domain/ota"
)

var errEngineDown = errors.New("update engine unavailable")

type applyCall struct {
	path       string
	offset     uint64
	length     uint64
	properties []string
}

type fakeEngine struct {
	mu       sync.Mutex
	applies  []applyCall
	perfMode []bool
	perfErr  error
	applyErr error
}

func (f *fakeEngine) ApplyPayload(_ context.Context, path string, offset, length uint64, properties []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applies = append(f.applies, applyCall{path: path, offset: offset, length: length, properties: properties})

	return f.applyErr
}

func (f *fakeEngine) SetPerformanceMode(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.perfMode = append(f.perfMode, enabled)

	return f.perfErr
}

type fakeSlots bool

func (f fakeSlots) HasTwoUpdatableSlots(context.Context) bool {
	return bool(f)
}

type fakeEncryption struct {
	mu        sync.Mutex
	encrypted bool
	asked     int
}

func (f *fakeEncryption) IsEncrypted(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.asked++

	return f.encrypted
}

type memorySink struct {
	mu       sync.Mutex
	statuses []*ota.Status
}

func (m *memorySink) Publish(_ context.Context, status *ota.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = append(m.statuses, status.Clone())
}

func (m *memorySink) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, 0, len(m.statuses))
	for _, s := range m.statuses {
		result = append(result, s.Message)
	}

	return result
}

func (m *memorySink) last() *ota.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.statuses) == 0 {
		return nil
	}

	return m.statuses[len(m.statuses)-1]
}

// writePackage builds an update package with a stored payload.bin and an optional properties file.
func writePackage(t *testing.T, payloadMethod uint16, properties string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "update.zip")

	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)

	entry, err := w.CreateHeader(&zip.FileHeader{Name: "payload.bin", Method: payloadMethod})
	require.NoError(t, err)

	_, err = entry.Write([]byte("CrAU-payload-bytes"))
	require.NoError(t, err)

	if properties != "" {
		entry, err = w.Create("payload_properties.txt")
		require.NoError(t, err)

		_, err = entry.Write([]byte(properties))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	return path
}

type dispatcherFixture struct {
	engine     *fakeEngine
	installer  *recordingInstaller
	encryption *fakeEncryption
	sink       *memorySink
	dispatcher *Dispatcher
}

func newFixture(twoSlots, encrypted bool) *dispatcherFixture {
	f := &dispatcherFixture{
		engine:     new(fakeEngine),
		installer:  new(recordingInstaller),
		encryption: &fakeEncryption{encrypted: encrypted},
		sink:       new(memorySink),
	}

	f.dispatcher = NewDispatcher(Dependencies{
		Engine:     f.engine,
		Installer:  f.installer,
		Slots:      fakeSlots(twoSlots),
		Encryption: f.encryption,
		Sink:       f.sink,
	},
		WithIDGenerator(func() string { return "session-1" }),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)

	return f
}

// TestDispatcher_StreamingApply submits the payload range with properties to the engine.
func TestDispatcher_StreamingApply(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "FILE_HASH=abc\nFILE_SIZE=18\n")
	f := newFixture(true, true)

	session, job, err := f.dispatcher.Prepare(context.Background(), ota.Package{
		Path:            path,
		DeclaredSize:    18,
		HasDeclaredSize: true,
	})
	require.NoError(t, err)
	require.Nil(t, job)
	require.Equal(t, "session-1", session.ID)
	require.Equal(t, ota.StrategyStreamingApply, session.Strategy)

	// Encryption is irrelevant on two-slot devices.
	require.Zero(t, f.encryption.asked)
	require.Equal(t, []bool{true}, f.engine.perfMode)
	require.Len(t, f.engine.applies, 1)

	call := f.engine.applies[0]
	require.True(t, filepath.IsAbs(call.path))
	require.Equal(t, session.Location.Offset, call.offset)
	require.Equal(t, uint64(30+len("payload.bin")), call.offset)
	require.Equal(t, uint64(18), call.length)
	require.Equal(t, []string{"FILE_HASH=abc", "FILE_SIZE=18"}, call.properties)

	require.Equal(t, []string{MessagePreparing, MessageApplying, MessageSubmitted}, f.sink.messages())
	require.Equal(t, ota.PhaseSubmitted, f.sink.last().Phase)
	require.Equal(t, "session-1", f.sink.last().SessionID)
}

// TestDispatcher_StreamingWithoutDeclaredSize falls back to the entry size.
func TestDispatcher_StreamingWithoutDeclaredSize(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(true, false)

	_, _, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.NoError(t, err)
	require.Len(t, f.engine.applies, 1)
	require.Equal(t, uint64(len("CrAU-payload-bytes")), f.engine.applies[0].length)
	require.Empty(t, f.engine.applies[0].properties)
}

// TestDispatcher_PerformanceModeFailureIsIgnored still applies the payload.
func TestDispatcher_PerformanceModeFailureIsIgnored(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(true, false)
	f.engine.perfErr = errEngineDown

	_, _, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.NoError(t, err)
	require.Len(t, f.engine.applies, 1)
}

// TestDispatcher_EngineRejects reports the failure.
func TestDispatcher_EngineRejects(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(true, false)
	f.engine.applyErr = errEngineDown

	_, _, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.ErrorIs(t, err, errEngineDown)
	require.Equal(t, ota.PhaseFailed, f.sink.last().Phase)
}

// TestDispatcher_CompressedPayload cannot be streamed.
func TestDispatcher_CompressedPayload(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Deflate, "")
	f := newFixture(true, false)

	_, _, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.ErrorIs(t, err, ota.ErrInvalidPackage)
	require.Empty(t, f.engine.applies)
	require.Equal(t, ota.PhaseFailed, f.sink.last().Phase)
}

// TestDispatcher_DirectFlash installs the original package on single-slot devices.
func TestDispatcher_DirectFlash(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(false, false)

	session, job, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.NoError(t, err)
	require.Nil(t, job)
	require.Equal(t, ota.StrategyDirectFlash, session.Strategy)
	require.Equal(t, 1, f.encryption.asked)
	require.Equal(t, []string{path}, f.installer.calls())
	require.Empty(t, f.engine.applies)
	require.Equal(t, []string{MessagePreparing, MessageInstalling, MessageInstalled}, f.sink.messages())
}

// TestDispatcher_DirectFlashIgnoresCallerCancellation hands the installer a live context.
func TestDispatcher_DirectFlashIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(false, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.dispatcher.Prepare(ctx, ota.Package{Path: path})
	require.NoError(t, err)
	require.Equal(t, []string{path}, f.installer.calls())
	require.Equal(t, []error{nil}, f.installer.ctxErrs)
}

// TestDispatcher_DirectFlashFailure wraps the installer error.
func TestDispatcher_DirectFlashFailure(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(false, false)
	f.installer.err = errEngineDown

	_, _, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.ErrorIs(t, err, ota.ErrInstall)
	require.ErrorIs(t, err, errEngineDown)
	require.Equal(t, ota.PhaseFailed, f.sink.last().Phase)
}

// TestDispatcher_DecryptThenFlash installs the decrypted copy in the background.
func TestDispatcher_DecryptThenFlash(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(false, true)

	session, job, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, ota.StrategyDecryptThenFlash, session.Strategy)

	require.NoError(t, waitJob(t, job))
	require.Equal(t, []string{path + DecryptSuffix}, f.installer.calls())
	require.Equal(t,
		[]string{MessagePreparing, MessageDecrypting, MessageInstalling, MessageInstalled},
		f.sink.messages())
}

// TestDispatcher_DecryptThenFlashCancelled publishes the cancellation.
func TestDispatcher_DecryptThenFlashCancelled(t *testing.T) {
	t.Parallel()

	path := writePackage(t, zip.Store, "")
	f := newFixture(false, true)

	release := make(chan struct{})
	f.dispatcher.decrypter.chmod = func(p string, mode os.FileMode) error {
		<-release

		return os.Chmod(p, mode)
	}

	_, job, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.NoError(t, err)

	job.Cancel()
	close(release)

	require.ErrorIs(t, waitJob(t, job), ota.ErrCancelled)
	require.Empty(t, f.installer.calls())
	require.Equal(t, ota.PhaseCancelled, f.sink.last().Phase)
}

// TestDispatcher_InvalidPackage halts before touching the archive.
func TestDispatcher_InvalidPackage(t *testing.T) {
	t.Parallel()

	f := newFixture(true, false)

	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.zip"), t.TempDir()} {
		_, job, err := f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
		require.ErrorIs(t, err, ota.ErrInvalidPackage)
		require.Nil(t, job)
		require.Equal(t, MessageInvalidPackage, f.sink.last().Message)
	}

	require.Empty(t, f.engine.applies)
}

// TestDispatcher_MissingPayloadHalts fails on packages without payload.bin.
func TestDispatcher_MissingPayloadHalts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "full-image.zip")

	file, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(file)
	_, err = w.Create("META-INF/com/android/metadata")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, file.Close())

	f := newFixture(false, false)

	_, _, err = f.dispatcher.Prepare(context.Background(), ota.Package{Path: path})
	require.ErrorIs(t, err, ota.ErrLocate)
	require.ErrorIs(t, err, ota.ErrEntryNotFound)
	require.Empty(t, f.installer.calls())
	require.Equal(t, ota.PhaseFailed, f.sink.last().Phase)
}
