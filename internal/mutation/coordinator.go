// Package mutation orchestrates optimistic mutations.
//
// Every mutation follows snapshot → patch → dispatch → resolve or rollback.
// The snapshot and patch steps run synchronously under one lock, so the
// cache sees mutations in call order regardless of when the store answers.
// The dispatch runs on its own goroutine and the caller gets an *Op handle
// back immediately.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maruel/gridb/internal/cache"
	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/invalidation"
	"github.com/maruel/gridb/internal/journal"
	"github.com/maruel/gridb/internal/pager"
	"github.com/maruel/gridb/internal/pending"
	"github.com/maruel/gridb/internal/retry"
	"github.com/maruel/gridb/internal/store"
)

// Config holds the collaborators of a Coordinator.
type Config struct {
	Store    store.Store
	Cache    *cache.Cache
	Registry *pending.Registry
	// Pager refetches after structural changes and failures. Defaults to a
	// pager over Store and Cache.
	Pager *pager.Pager
	// Policy defaults to retry.Default() when MaxAttempts is 0.
	Policy retry.Policy
	// Planner defaults to invalidation.Default().
	Planner *invalidation.Planner
	// NewTempID defaults to NewTempID.
	NewTempID func() string
	Metrics   *Metrics
	// Journal records every settled mutation when set.
	Journal *journal.Log
	Logger  *slog.Logger
}

// NewTempID returns a fresh placeholder identifier.
func NewTempID() string {
	return grid.TempPrefix + uuid.NewString()
}

// Coordinator runs optimistic mutations against a cache and a store.
type Coordinator struct {
	store     store.Store
	cache     *cache.Cache
	registry  *pending.Registry
	pager     *pager.Pager
	policy    retry.Policy
	planner   invalidation.Planner
	newTempID func() string
	metrics   *Metrics
	journal   *journal.Log
	log       *slog.Logger

	// mu makes the snapshot → patch step atomic across mutations.
	mu sync.Mutex
	wg sync.WaitGroup
}

// New returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil || cfg.Cache == nil || cfg.Registry == nil {
		return nil, errors.New("store, cache and registry are required")
	}
	c := &Coordinator{
		store:     cfg.Store,
		cache:     cfg.Cache,
		registry:  cfg.Registry,
		pager:     cfg.Pager,
		policy:    cfg.Policy,
		planner:   invalidation.Default(),
		newTempID: cfg.NewTempID,
		metrics:   cfg.Metrics,
		journal:   cfg.Journal,
		log:       cfg.Logger,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.pager == nil {
		c.pager = pager.New(cfg.Store, cfg.Cache, 0, c.log)
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = retry.Default()
	}
	if c.policy.Retryable == nil {
		c.policy.Retryable = store.IsTransient
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Planner != nil {
		c.planner = *cfg.Planner
	}
	if c.newTempID == nil {
		c.newTempID = NewTempID
	}
	return c, nil
}

// plan describes one mutation.
type plan struct {
	kind    invalidation.Kind
	tableID string
	// tempID is registered when the mutation creates an entity.
	tempID string
	patch  cache.Patch
	// target is the identifier reported in Result.ID when nothing is created.
	target string
	// deps are identifiers resolved through the registry before dispatch.
	deps []string
	// dispatch performs the write with deps resolved and returns the
	// permanent identifier of a created entity.
	dispatch func(ctx context.Context, ids map[string]string) (string, error)
	// resolve returns the patch replacing tempID with the permanent one.
	resolve func(realID string) cache.Patch
}

// AddRow appends an empty row.
func (c *Coordinator) AddRow(ctx context.Context, tableID string) *Op {
	return c.AddRowWithValues(ctx, tableID, nil)
}

// AddRowWithValues appends a row with initial cell values keyed by column
// identifier. Placeholder column identifiers are resolved before dispatch.
func (c *Coordinator) AddRowWithValues(ctx context.Context, tableID string, values map[string]grid.Value) *Op {
	coerced := make(map[string]grid.Value, len(values))
	for colID, v := range values {
		cv, err := c.coerce(tableID, colID, v)
		if err != nil {
			return c.reject(ctx, invalidation.RowCreate, "", err)
		}
		coerced[colID] = cv
	}
	var deps []string
	for colID := range coerced {
		deps = append(deps, colID)
	}
	temp := c.newTempID()
	return c.start(ctx, &plan{
		kind:    invalidation.RowCreate,
		tableID: tableID,
		tempID:  temp,
		patch:   cache.InsertRow{ID: temp, Values: coerced},
		deps:    deps,
		dispatch: func(ctx context.Context, ids map[string]string) (string, error) {
			if len(coerced) == 0 {
				return c.store.CreateRow(ctx, tableID)
			}
			vals := make(map[string]grid.Value, len(coerced))
			for colID, v := range coerced {
				vals[ids[colID]] = v
			}
			return c.store.CreateRowWithValues(ctx, tableID, vals)
		},
		resolve: func(realID string) cache.Patch { return cache.ResolveRow{Temp: temp, Real: realID} },
	})
}

// AddColumn appends a column of type t.
func (c *Coordinator) AddColumn(ctx context.Context, tableID, name string, t grid.ColumnType) *Op {
	if name == "" {
		return c.reject(ctx, invalidation.ColumnCreate, "", errNameRequired)
	}
	if err := t.Validate(); err != nil {
		return c.reject(ctx, invalidation.ColumnCreate, "", err)
	}
	temp := c.newTempID()
	return c.start(ctx, &plan{
		kind:    invalidation.ColumnCreate,
		tableID: tableID,
		tempID:  temp,
		patch:   cache.InsertColumn{Column: grid.Column{ID: temp, TableID: tableID, Name: name, Type: t}},
		dispatch: func(ctx context.Context, _ map[string]string) (string, error) {
			col, err := c.store.AddColumn(ctx, tableID, name, t)
			return col.ID, err
		},
		resolve: func(realID string) cache.Patch { return cache.ResolveColumn{Temp: temp, Real: realID} },
	})
}

// RenameColumn renames a column.
func (c *Coordinator) RenameColumn(ctx context.Context, tableID, columnID, name string) *Op {
	if name == "" {
		return c.reject(ctx, invalidation.ColumnRename, "", errNameRequired)
	}
	return c.start(ctx, &plan{
		kind:    invalidation.ColumnRename,
		tableID: tableID,
		patch:   cache.RenameColumn{ID: columnID, Name: name},
		target:  columnID,
		deps:    []string{columnID},
		dispatch: func(ctx context.Context, ids map[string]string) (string, error) {
			return ids[columnID], c.store.UpdateColumn(ctx, ids[columnID], name)
		},
	})
}

// DeleteColumn deletes a column and its cells.
func (c *Coordinator) DeleteColumn(ctx context.Context, tableID, columnID string) *Op {
	if col, ok := c.cache.Column(tableID, columnID); ok && col.IsPrimary {
		return c.reject(ctx, invalidation.ColumnDelete, "", grid.ErrPrimaryColumn)
	}
	return c.start(ctx, &plan{
		kind:    invalidation.ColumnDelete,
		tableID: tableID,
		patch:   cache.RemoveColumn{ID: columnID},
		target:  columnID,
		deps:    []string{columnID},
		dispatch: func(ctx context.Context, ids map[string]string) (string, error) {
			return ids[columnID], c.store.DeleteColumn(ctx, ids[columnID])
		},
	})
}

// UpdateCell sets the value of a cell. The row and the column may still be
// placeholders; the write waits for their permanent identifiers.
func (c *Coordinator) UpdateCell(ctx context.Context, tableID, rowID, columnID string, v grid.Value) *Op {
	v, err := c.coerce(tableID, columnID, v)
	if err != nil {
		return c.reject(ctx, invalidation.CellUpdate, "", err)
	}
	return c.start(ctx, &plan{
		kind:    invalidation.CellUpdate,
		tableID: tableID,
		patch:   cache.UpdateCell{RowID: rowID, ColumnID: columnID, Value: v},
		target:  rowID,
		deps:    []string{rowID, columnID},
		dispatch: func(ctx context.Context, ids map[string]string) (string, error) {
			return ids[rowID], c.store.UpdateCell(ctx, ids[rowID], ids[columnID], v)
		},
	})
}

// DeleteRow deletes a row.
func (c *Coordinator) DeleteRow(ctx context.Context, tableID, rowID string) *Op {
	return c.start(ctx, &plan{
		kind:    invalidation.RowDelete,
		tableID: tableID,
		patch:   cache.RemoveRow{ID: rowID},
		target:  rowID,
		deps:    []string{rowID},
		dispatch: func(ctx context.Context, ids map[string]string) (string, error) {
			return ids[rowID], c.store.DeleteRow(ctx, ids[rowID])
		},
	})
}

// IsColumnPending reports whether id is a column placeholder still waiting
// for its permanent identifier.
func (c *Coordinator) IsColumnPending(id string) bool {
	return c.registry.IsPending(id)
}

// WaitForColumn returns the permanent identifier of a column, waiting for it
// if id is a pending placeholder.
func (c *Coordinator) WaitForColumn(ctx context.Context, id string) (string, error) {
	return c.resolveID(ctx, id)
}

// Wait blocks until every dispatched mutation completed.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// coerce converts v to the type of the column when the cache knows it.
func (c *Coordinator) coerce(tableID, columnID string, v grid.Value) (grid.Value, error) {
	if err := v.Validate(); err != nil {
		return grid.Value{}, err
	}
	col, ok := c.cache.Column(tableID, columnID)
	if !ok {
		return v, nil
	}
	return v.Coerce(col.Type)
}

// reject completes a mutation that failed validation before any patch.
func (c *Coordinator) reject(ctx context.Context, kind invalidation.Kind, tempID string, err error) *Op {
	op := newOp(kind, tempID)
	c.log.InfoContext(ctx, "mutation rejected", "kind", kind, "err", err)
	c.metrics.outcome(kind, "rejected")
	op.finish(RolledBack, Result{Err: &Error{Kind: PermanentStoreError, Op: kind, Err: err}})
	return op
}

// start runs the synchronous snapshot → patch step and dispatches.
func (c *Coordinator) start(ctx context.Context, p *plan) *Op {
	op := newOp(p.kind, p.tempID)
	op.set(Snapshotting)
	c.mu.Lock()
	applied, err := c.cache.Apply(p.tableID, p.patch)
	if err != nil {
		c.mu.Unlock()
		c.log.InfoContext(ctx, "mutation rejected", "kind", p.kind, "table", p.tableID, "err", err)
		c.metrics.outcome(p.kind, "rejected")
		op.finish(RolledBack, Result{Err: &Error{Kind: PermanentStoreError, Op: p.kind, Err: err}})
		return op
	}
	if p.tempID != "" {
		c.registry.Register(p.tempID)
	}
	op.set(Patched)
	c.wg.Add(1)
	c.mu.Unlock()
	go c.run(context.WithoutCancel(ctx), op, p, applied)
	return op
}

func (c *Coordinator) run(ctx context.Context, op *Op, p *plan, applied *cache.Applied) {
	defer c.wg.Done()
	op.set(Dispatched)
	ids := make(map[string]string, len(p.deps))
	for _, id := range p.deps {
		realID, err := c.resolveID(ctx, id)
		if err != nil {
			c.fail(ctx, op, p, applied, &Error{Kind: DependencyTimeout, Op: p.kind, Err: fmt.Errorf("%s: %w", id, err)})
			return
		}
		ids[id] = realID
	}
	start := time.Now()
	realID, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		return p.dispatch(ctx, ids)
	})
	c.metrics.dispatched(p.kind, attempts, time.Since(start))
	if attempts > 1 {
		c.log.WarnContext(ctx, "mutation retried", "kind", p.kind, "table", p.tableID, "attempts", attempts, "err", err)
	}
	if err != nil {
		kind := PermanentStoreError
		if c.policy.Retryable(err) {
			kind = TransientStoreError
		}
		c.fail(ctx, op, p, applied, &Error{Kind: kind, Op: p.kind, Attempts: attempts, Err: err})
		return
	}
	c.commit(ctx, op, p, applied, realID, attempts)
}

// resolveID maps a placeholder to its permanent identifier. Identifiers
// without a registry record are returned as is.
func (c *Coordinator) resolveID(ctx context.Context, id string) (string, error) {
	if realID := c.cache.Alias(id); realID != id {
		return realID, nil
	}
	realID, err := c.registry.Await(ctx, id)
	if err != nil {
		return "", err
	}
	if realID == id && grid.IsTempID(id) {
		if _, ok := c.registry.Lookup(id); !ok {
			return "", ErrUnknownPlaceholder
		}
	}
	return realID, nil
}

func (c *Coordinator) commit(ctx context.Context, op *Op, p *plan, applied *cache.Applied, realID string, attempts int) {
	res := Result{ID: p.target, Attempts: attempts}
	if p.tempID != "" {
		res.ID = realID
		if _, err := c.cache.Apply(p.tableID, p.resolve(realID)); err != nil {
			c.log.WarnContext(ctx, "mutation resolve patch failed", "kind", p.kind, "table", p.tableID, "err", err)
		}
		c.registry.Resolve(p.tempID, realID)
	} else if realID != "" {
		res.ID = realID
	}
	c.cache.Settle(applied)
	if d := c.planner.OnSuccess(p.kind); d.Refetch {
		c.refetch(ctx, p, d)
	}
	c.log.DebugContext(ctx, "mutation committed", "kind", p.kind, "table", p.tableID, "id", res.ID, "attempts", attempts)
	c.metrics.outcome(p.kind, "committed")
	c.record(ctx, p, Committed, &res)
	op.finish(Committed, res)
}

func (c *Coordinator) fail(ctx context.Context, op *Op, p *plan, applied *cache.Applied, merr *Error) {
	res := Result{Attempts: merr.Attempts, Err: merr}
	if err := c.cache.Rollback(applied); err != nil {
		res.RollbackErr = &Error{Kind: RollbackInconsistency, Op: p.kind, Attempts: merr.Attempts, Err: err}
		c.log.WarnContext(ctx, "mutation rollback incomplete", "kind", p.kind, "table", p.tableID, "err", err)
		c.metrics.inconsistent()
	}
	if p.tempID != "" {
		c.registry.Discard(p.tempID)
	}
	if d := c.planner.OnFailure(p.kind, res.RollbackErr == nil); d.Refetch {
		c.refetch(ctx, p, d)
	}
	c.log.InfoContext(ctx, "mutation rolled back", "kind", p.kind, "table", p.tableID, "err", merr)
	c.metrics.outcome(p.kind, "rolled_back")
	c.record(ctx, p, RolledBack, &res)
	op.finish(RolledBack, res)
}

func (c *Coordinator) refetch(ctx context.Context, p *plan, d invalidation.Decision) {
	if err := c.pager.Refetch(ctx, p.tableID); err != nil {
		c.log.WarnContext(ctx, "refetch failed", "kind", p.kind, "table", p.tableID, "reason", d.Reason, "err", err)
	}
}

func (c *Coordinator) record(ctx context.Context, p *plan, s State, res *Result) {
	if c.journal == nil {
		return
	}
	e := journal.Entry{
		Time:         time.Now().UTC(),
		Kind:         string(p.kind),
		TableID:      p.tableID,
		TempID:       p.tempID,
		ID:           res.ID,
		State:        s.String(),
		Attempts:     res.Attempts,
		Inconsistent: res.RollbackErr != nil,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if err := c.journal.Append(e); err != nil {
		c.log.WarnContext(ctx, "journal append failed", "kind", p.kind, "table", p.tableID, "err", err)
	}
}
