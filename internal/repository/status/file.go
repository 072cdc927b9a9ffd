package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
	"github.com/oshokin/ota-installer/internal/wire"
)

// lockSuffix names the advisory lock file next to the status file.
const lockSuffix = ".lock"

// Repository defines persistence operations for the install status.
type Repository interface {
	Load(ctx context.Context) (*ota.Status, error)
	Save(ctx context.Context, status *ota.Status) error
}

// FileRepository persists the status to a JSON file on disk.
// JSON is produced and consumed via protojson in the same Struct shape
// the gRPC API returns.
type FileRepository struct {
	// path is the filesystem location of the JSON status file.
	path string
	// lock serializes access across processes.
	lock *flock.Flock
	// mu serializes access within this process.
	mu sync.Mutex
}

// ErrNotFound is returned when the status file does not exist yet.
var ErrNotFound = errors.New("status not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	path = filepath.Clean(path)

	return &FileRepository{
		path: path,
		lock: flock.New(path + lockSuffix),
	}
}

// Path returns the status file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the status from disk.
func (r *FileRepository) Load(_ context.Context) (*ota.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock status file: %w", err)
	}

	defer func() {
		_ = r.lock.Unlock()
	}()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read status file: %w", err)
	}

	var message structpb.Struct
	if err = protojson.Unmarshal(contents, &message); err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}

	status, err := wire.StatusFromProto(&message)
	if err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}

	return status, nil
}

// Save writes the status to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, status *ota.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := protojson.MarshalOptions{Multiline: true}.Marshal(wire.StatusToProto(status))
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	if err = r.lock.Lock(); err != nil {
		return fmt.Errorf("lock status file: %w", err)
	}

	defer func() {
		_ = r.lock.Unlock()
	}()

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}

	return nil
}

// Watch sends the status every time another writer changes the file, starting
// with the current one if it exists. The channel is closed when ctx is done or
// the watcher fails.
func (r *FileRepository) Watch(ctx context.Context) (<-chan *ota.Status, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: the file may not exist yet.
	if err = watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	out := make(chan *ota.Status, 1)

	go func() {
		defer close(out)

		defer func() {
			if closeErr := watcher.Close(); closeErr != nil {
				logger.WarnKV(ctx, "Failed to close status watcher", "error", closeErr)
			}
		}()

		if !r.emit(ctx, out) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != r.path || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
					continue
				}

				if !r.emit(ctx, out) {
					return
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.ErrorKV(ctx, "Status watcher failed", "error", watchErr)

				return
			}
		}
	}()

	return out, nil
}

// emit loads the status and sends it, reporting false once ctx is done.
// A missing or half-written file is skipped; the next event brings it.
func (r *FileRepository) emit(ctx context.Context, out chan<- *ota.Status) bool {
	status, err := r.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.DebugKV(ctx, "Skipping unreadable status", "error", err)
		}

		return ctx.Err() == nil
	}

	select {
	case out <- status:
		return true
	case <-ctx.Done():
		return false
	}
}
