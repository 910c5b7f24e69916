// Package pending tracks entities created with a client placeholder
// identifier until the store assigns their permanent identifier.
//
// A single Registry is shared by every consumer of a process so that
// unrelated call sites observe the same pending/ready transitions. Waiters
// are woken by Resolve or Discard directly; nothing polls.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Await when a placeholder is not resolved
	// within the registry's ceiling.
	ErrTimeout = errors.New("timed out waiting for identity resolution")
	// ErrDiscarded is returned by Await when the placeholder is discarded
	// while waiting, i.e. the creating mutation failed.
	ErrDiscarded = errors.New("placeholder identity was discarded")
)

const (
	// DefaultTimeout is the ceiling Await waits for a resolution.
	DefaultTimeout = 10 * time.Second
	// DefaultRetention is how long resolved records are kept.
	DefaultRetention = time.Minute
)

// Record is the state of a placeholder identifier.
type Record struct {
	Ready  bool
	RealID string
}

// EventType is the kind of transition an Event reports.
type EventType string

const (
	// EventRegistered is emitted when a placeholder is registered.
	EventRegistered EventType = "registered"
	// EventResolved is emitted when a placeholder receives its real identifier.
	EventResolved EventType = "resolved"
	// EventDiscarded is emitted when a placeholder is abandoned.
	EventDiscarded EventType = "discarded"
)

// Event is delivered to subscribers on every transition.
type Event struct {
	Type   EventType `json:"type"`
	TempID string    `json:"tempId"`
	RealID string    `json:"realId,omitempty"`
}

type record struct {
	Record
	done       chan struct{}
	discarded  bool
	resolvedAt time.Time
}

// Registry maps placeholder identifiers to their resolution state.
type Registry struct {
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time

	mu        sync.Mutex
	records   map[string]*record
	listeners map[int]func(Event)
	nextID    int
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the Await ceiling.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithRetention sets how long resolved records stay queryable.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		r.retention = d
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		timeout:   DefaultTimeout,
		retention: DefaultRetention,
		now:       time.Now,
		records:   make(map[string]*record),
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a pending record for tempID. It is a no-op if a record
// already exists.
func (r *Registry) Register(tempID string) {
	r.mu.Lock()
	r.pruneLocked()
	if _, ok := r.records[tempID]; ok {
		r.mu.Unlock()
		return
	}
	r.records[tempID] = &record{done: make(chan struct{})}
	r.mu.Unlock()
	r.emit(Event{Type: EventRegistered, TempID: tempID})
}

// Resolve marks tempID ready with realID. An empty realID means the
// placeholder was accepted as the permanent identifier.
func (r *Registry) Resolve(tempID, realID string) {
	if realID == "" {
		realID = tempID
	}
	r.mu.Lock()
	r.pruneLocked()
	rec, ok := r.records[tempID]
	if !ok {
		rec = &record{done: make(chan struct{})}
		r.records[tempID] = rec
	}
	if rec.Ready {
		r.mu.Unlock()
		return
	}
	rec.Ready = true
	rec.RealID = realID
	rec.resolvedAt = r.now()
	close(rec.done)
	r.mu.Unlock()
	r.emit(Event{Type: EventResolved, TempID: tempID, RealID: realID})
}

// Discard removes the record for tempID. Waiters fail with ErrDiscarded.
func (r *Registry) Discard(tempID string) {
	r.mu.Lock()
	rec, ok := r.records[tempID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.records, tempID)
	if !rec.Ready {
		rec.discarded = true
		close(rec.done)
	}
	r.mu.Unlock()
	r.emit(Event{Type: EventDiscarded, TempID: tempID})
}

// IsPending reports whether id has a record that is not yet ready.
func (r *Registry) IsPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return ok && !rec.Ready
}

// Lookup returns the record for id.
func (r *Registry) Lookup(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Record, true
}

// Len returns the number of pending (not ready) records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if !rec.Ready {
			n++
		}
	}
	return n
}

// Await returns the real identifier for id once it is ready.
//
// If id has no record it is already a real identifier and is returned as is.
// Fails with ErrTimeout after the registry ceiling and with ErrDiscarded when
// the placeholder is abandoned.
func (r *Registry) Await(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return id, nil
	}
	if rec.Ready {
		realID := rec.RealID
		r.mu.Unlock()
		return realID, nil
	}
	done := rec.done
	r.mu.Unlock()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.discarded {
		return "", ErrDiscarded
	}
	return rec.RealID, nil
}

// Subscribe registers fn to receive every event. The returned function
// unsubscribes. fn is called outside the registry lock and must not block.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) emit(e Event) {
	r.mu.Lock()
	fns := make([]func(Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// pruneLocked drops resolved records older than the retention window.
func (r *Registry) pruneLocked() {
	if r.retention <= 0 {
		return
	}
	cutoff := r.now().Add(-r.retention)
	for id, rec := range r.records {
		if rec.Ready && rec.resolvedAt.Before(cutoff) {
			delete(r.records, id)
		}
	}
}
