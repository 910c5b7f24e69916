package mutation

import (
	"context"
	"sync"

	"github.com/maruel/gridb/internal/invalidation"
)

// State is the lifecycle state of a mutation.
type State int

// States, in lifecycle order. Committed and RolledBack are terminal.
const (
	Idle State = iota
	Snapshotting
	Patched
	Dispatched
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Snapshotting:
		return "snapshotting"
	case Patched:
		return "patched"
	case Dispatched:
		return "dispatched"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Committed || s == RolledBack
}

// Result is the outcome of a mutation.
type Result struct {
	// ID is the permanent identifier of the created or targeted entity.
	ID string `json:"id,omitempty"`
	// TempID is the placeholder used in the optimistic patch, for creations.
	TempID   string `json:"tempId,omitempty"`
	Attempts int    `json:"attempts"`
	Err      *Error `json:"-"`
	// RollbackErr is a *cache.InconsistencyError when part of the rollback
	// was skipped.
	RollbackErr error `json:"-"`
}

// OK reports whether the mutation committed.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Op is the handle of one mutation.
type Op struct {
	kind   invalidation.Kind
	tempID string
	done   chan struct{}

	mu     sync.Mutex
	state  State
	result Result
}

func newOp(kind invalidation.Kind, tempID string) *Op {
	return &Op{kind: kind, tempID: tempID, done: make(chan struct{})}
}

// Kind returns the mutation kind.
func (o *Op) Kind() invalidation.Kind {
	return o.kind
}

// TempID returns the placeholder identifier, empty unless the mutation
// creates an entity.
func (o *Op) TempID() string {
	return o.tempID
}

// State returns the current state.
func (o *Op) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Done is closed once the mutation reached a terminal state.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the mutation completes or ctx is done. The returned
// error is the mutation failure, if any, or ctx.Err().
func (o *Op) Wait(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
	case <-ctx.Done():
		return Result{TempID: o.tempID}, ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result.Err != nil {
		return o.result, o.result.Err
	}
	return o.result, nil
}

func (o *Op) set(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Op) finish(s State, r Result) {
	o.mu.Lock()
	o.state = s
	r.TempID = o.tempID
	o.result = r
	o.mu.Unlock()
	close(o.done)
}
