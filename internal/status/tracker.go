package status

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
)

// subscriberBuffer is the number of statuses a slow subscriber may lag behind.
const subscriberBuffer = 8

// Persister stores published statuses.
type Persister interface {
	Save(ctx context.Context, status *ota.Status) error
}

// Tracker holds the latest status. It is safe for concurrent use.
type Tracker struct {
	// persister receives every published status when set.
	persister Persister
	// now returns the publication time.
	now func() time.Time

	// publishMu serializes Publish so statuses are saved in the order they become current.
	publishMu sync.Mutex

	// mu protects current and subscribers.
	mu          sync.Mutex
	current     *ota.Status
	subscribers map[chan *ota.Status]struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPersister saves every published status through p.
func WithPersister(p Persister) Option {
	return func(t *Tracker) {
		t.persister = p
	}
}

// WithClock overrides the publication clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker returns a tracker whose current status is initial, or idle when nil.
func NewTracker(initial *ota.Status, opts ...Option) *Tracker {
	if initial == nil {
		initial = &ota.Status{Phase: ota.PhaseIdle}
	}

	t := &Tracker{
		now:         time.Now,
		current:     initial.Clone(),
		subscribers: make(map[chan *ota.Status]struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Publish replaces the current status and notifies subscribers.
// Persistence failures are logged; they never block the install pipeline.
func (t *Tracker) Publish(ctx context.Context, status *ota.Status) {
	if status == nil {
		return
	}

	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	published := status.Clone()
	if published.UpdatedAt.IsZero() {
		published.UpdatedAt = t.now()
	}

	t.mu.Lock()
	t.current = published

	for ch := range t.subscribers {
		offer(ch, published.Clone())
	}
	t.mu.Unlock()

	logger.InfoKV(ctx, "Status published",
		"session_id", published.SessionID, "phase", published.Phase, "message", published.Message)

	if t.persister == nil {
		return
	}

	if err := t.persister.Save(ctx, published); err != nil {
		logger.ErrorKV(ctx, "Failed to persist status", "error", err)
	}
}

// Current returns a copy of the latest status.
func (t *Tracker) Current() *ota.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current.Clone()
}

// Subscribe returns a channel that first receives the current status and then
// every later one. The returned function unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan *ota.Status, func()) {
	ch := make(chan *ota.Status, subscriberBuffer)

	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	ch <- t.current.Clone()
	t.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, ch)
			close(ch)
			t.mu.Unlock()
		})
	}
}

// offer delivers status without blocking, dropping the oldest queued value when full.
func offer(ch chan *ota.Status, status *ota.Status) {
	for {
		select {
		case ch <- status:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}
