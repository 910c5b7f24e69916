// Package pager loads paginated windows of a table from the store into the
// cache.
//
// Every load records the generation of its query key when it starts. A load
// whose key was superseded in the meantime by a newer load is discarded on
// arrival. Optimistic patches a response may not reflect are replayed on top
// of it by the cache.
package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maruel/gridb/internal/cache"
	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/store"
)

// ErrStale is returned when a response arrived for a superseded query.
var ErrStale = errors.New("query was superseded")

// Pager fills the cache.
type Pager struct {
	store    store.Store
	cache    *cache.Cache
	pageSize int
	log      *slog.Logger
}

// New returns a Pager. pageSize <= 0 uses the store default.
func New(st store.Store, c *cache.Cache, pageSize int, log *slog.Logger) *Pager {
	if log == nil {
		log = slog.Default()
	}
	return &Pager{store: st, cache: c, pageSize: pageSize, log: log}
}

// Load returns the cached snapshot of key, fetching the first page on a miss.
func (p *Pager) Load(ctx context.Context, key cache.Key) (*cache.Snapshot, error) {
	if s, ok := p.cache.Get(key); ok {
		return s, nil
	}
	since := p.cache.BeginLoad()
	defer p.cache.EndLoad(since)
	gen := p.cache.Generation(key)
	res, err := p.fetch(ctx, key, "")
	if err != nil {
		return nil, err
	}
	snap := &cache.Snapshot{Columns: res.Columns, TotalCount: res.TotalCount, Pages: []cache.Page{toPage("", res)}}
	out, ok := p.cache.AddIfCurrent(key, gen, since, snap)
	if !ok {
		p.log.DebugContext(ctx, "pager: discarded stale load", "key", key.String())
		return nil, ErrStale
	}
	return out, nil
}

// LoadMore fetches the page after the last loaded one.
func (p *Pager) LoadMore(ctx context.Context, key cache.Key) (*cache.Snapshot, error) {
	cur, ok := p.cache.Get(key)
	if !ok {
		return p.Load(ctx, key)
	}
	if !cur.HasMore() {
		return cur, nil
	}
	gen := p.cache.Generation(key)
	cursor := cur.Pages[len(cur.Pages)-1].NextCursor
	res, err := p.fetch(ctx, key, cursor)
	if err != nil {
		return nil, err
	}
	var out *cache.Snapshot
	ok = p.cache.UpdateIfCurrent(key, gen, func(latest *cache.Snapshot) *cache.Snapshot {
		if latest == nil || !latest.HasMore() || latest.Pages[len(latest.Pages)-1].NextCursor != cursor {
			out = latest
			return latest
		}
		out = latest.AppendPage(toPage(cursor, res))
		out.TotalCount = res.TotalCount
		return out
	})
	if !ok || out == nil {
		p.log.DebugContext(ctx, "pager: discarded stale page", "key", key.String(), "cursor", cursor)
		return nil, ErrStale
	}
	return out, nil
}

// Supersede marks in-flight loads of key as stale.
func (p *Pager) Supersede(key cache.Key) {
	p.cache.Supersede(key)
}

// Refetch reloads as many pages as were loaded, for every cached query of
// the table.
//
// A refetch of a key only goes stale when a newer load superseded it, and
// that one lands instead.
func (p *Pager) Refetch(ctx context.Context, tableID string) error {
	var errs []error
	for _, key := range p.cache.Keys(tableID) {
		if err := p.refetch(ctx, key); err != nil && !errors.Is(err, ErrStale) {
			errs = append(errs, fmt.Errorf("refetch %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pager) refetch(ctx context.Context, key cache.Key) error {
	cur, ok := p.cache.Get(key)
	if !ok {
		return nil
	}
	since := p.cache.BeginLoad()
	defer p.cache.EndLoad(since)
	gen := p.cache.Supersede(key)
	pages := max(len(cur.Pages), 1)
	snap := &cache.Snapshot{}
	cursor := ""
	for i := range pages {
		res, err := p.fetch(ctx, key, cursor)
		if err != nil {
			return err
		}
		if i == 0 {
			snap.Columns = res.Columns
			snap.TotalCount = res.TotalCount
		}
		snap = snap.AppendPage(toPage(cursor, res))
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	if !p.cache.SetIfCurrent(key, gen, since, snap) {
		return ErrStale
	}
	return nil
}

func (p *Pager) fetch(ctx context.Context, key cache.Key, cursor string) (*store.PageResult, error) {
	sorts, err := grid.ParseSortKey(key.Sort)
	if err != nil {
		return nil, &store.Error{Kind: store.Invalid, Op: "get page", Err: err}
	}
	return p.store.GetPage(ctx, store.PageQuery{
		TableID: key.TableID,
		Cursor:  cursor,
		Limit:   p.pageSize,
		Sorts:   sorts,
		Search:  key.Search,
	})
}

func toPage(cursor string, res *store.PageResult) cache.Page {
	pg := cache.Page{Cursor: cursor, NextCursor: res.NextCursor, Rows: make([]cache.Row, 0, len(res.Rows))}
	for _, r := range res.Rows {
		pg.Rows = append(pg.Rows, cache.Row{ID: r.ID, Cells: r.Cells})
	}
	return pg
}
