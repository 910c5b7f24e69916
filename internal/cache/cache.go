// Package cache holds the client-side cache of paginated table queries and
// applies optimistic patches to it.
//
// Every entry is an immutable Snapshot plus a version counter. Apply patches
// all cached queries of a table under one lock, so two mutations never
// interleave mid-patch. Rollback restores the pre-patch snapshot verbatim when
// nothing else touched the entry, and otherwise applies the inverse patch
// after checking that its target still exists.
//
// Applied patches stay tracked until they settle. A snapshot loaded from the
// store gets the patches it may not reflect replayed on top of it: those
// still in flight and those settled after the load started.
package cache

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maruel/gridb/internal/grid"
)

// DefaultAliasRetention is how long a resolved placeholder keeps mapping to
// its permanent identifier once no patch of its table is tracked.
const DefaultAliasRetention = time.Minute

type entry struct {
	snap    *Snapshot
	version uint64
	gen     uint64
}

type alias struct {
	real    string
	tableID string
	at      time.Time
}

// Cache maps query keys to snapshots.
type Cache struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	aliases    map[string]alias
	maxEntries int
	retention  time.Duration
	now        func() time.Time

	// tracked lists per table the patches a load may have to replay, in
	// application order.
	tracked map[string][]*Applied
	// clock advances when a patch settles.
	clock uint64
	// loads counts the loads in progress per start stamp.
	loads map[uint64]int
}

// Option configures a Cache.
type Option func(*Cache)

// WithAliasRetention sets how long resolved placeholders are remembered.
func WithAliasRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

// New initializes a new cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[Key]*entry),
		aliases:    make(map[string]alias),
		maxEntries: 100,
		retention:  DefaultAliasRetention,
		now:        time.Now,
		tracked:    make(map[string][]*Applied),
		loads:      make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the snapshot cached for k.
func (c *Cache) Get(k Key) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || e.snap == nil {
		return nil, false
	}
	return e.snap, true
}

// Set replaces the snapshot cached for k.
func (c *Cache) Set(k Key, s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(k, s)
}

func (c *Cache) setLocked(k Key, s *Snapshot) {
	e, ok := c.entries[k]
	if !ok {
		// Simple size limiting: drop entries without a snapshot first, then
		// everything.
		if len(c.entries) >= c.maxEntries {
			for key, old := range c.entries {
				if old.snap == nil {
					delete(c.entries, key)
				}
			}
			if len(c.entries) >= c.maxEntries {
				c.entries = make(map[Key]*entry)
			}
		}
		e = &entry{}
		c.entries[k] = e
	}
	e.snap = s
	e.version++
}

// Generation returns the load generation of k.
func (c *Cache) Generation(k Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		return e.gen
	}
	return 0
}

// Supersede marks any in-flight load of k as stale and returns the new
// generation.
func (c *Cache) Supersede(k Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	e.gen++
	return e.gen
}

// BeginLoad returns the stamp of a load about to read from the store. The
// caller must call EndLoad with it once the load is stored or abandoned.
func (c *Cache) BeginLoad() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads[c.clock]++
	return c.clock
}

// EndLoad releases a stamp returned by BeginLoad.
func (c *Cache) EndLoad(since uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loads[since]--; c.loads[since] <= 0 {
		delete(c.loads, since)
	}
	c.pruneLocked()
}

// SetIfCurrent stores s, loaded from the store since the BeginLoad stamp
// since, only if k is still at generation gen. Tracked patches s may not
// reflect are replayed on top of it. It reports whether the snapshot was
// stored.
func (c *Cache) SetIfCurrent(k Key, gen, since uint64, s *Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok && e.gen != gen {
		return false
	}
	c.setLocked(k, c.rebaseLocked(k, since, s))
	return true
}

// AddIfCurrent is SetIfCurrent for a first load: a snapshot already cached
// for k wins. It returns the snapshot cached for k afterwards.
func (c *Cache) AddIfCurrent(k Key, gen, since uint64, s *Snapshot) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		if e.gen != gen {
			return nil, false
		}
		if e.snap != nil {
			return e.snap, true
		}
	}
	s = c.rebaseLocked(k, since, s)
	c.setLocked(k, s)
	return s, true
}

// rebaseLocked replays onto s the tracked patches of its table that are
// still in flight or settled after since. Patches whose target is missing
// in s are skipped. In-flight patches get their rollback record for k
// replaced, so a later rollback inverts what was replayed.
func (c *Cache) rebaseLocked(k Key, since uint64, s *Snapshot) *Snapshot {
	for _, a := range c.tracked[k.TableID] {
		if a.settled != 0 && a.settled <= since {
			continue
		}
		next, inv, err := a.Patch.apply(s, c.aliasLocked)
		if a.settled == 0 {
			a.changes = slices.DeleteFunc(a.changes, func(ch change) bool { return ch.key == k })
			if err == nil {
				// Version 0 never matches, so rollback uses the inverse.
				a.changes = append(a.changes, change{key: k, prev: s, inverse: inv})
			}
		}
		if err == nil {
			s = next
		}
	}
	return s
}

// UpdateIfCurrent replaces the snapshot of k with fn(current) only if k is
// still at generation gen. current is nil when nothing is cached for k.
func (c *Cache) UpdateIfCurrent(k Key, gen uint64, fn func(current *Snapshot) *Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cur *Snapshot
	if e, ok := c.entries[k]; ok {
		if e.gen != gen {
			return false
		}
		cur = e.snap
	}
	c.setLocked(k, fn(cur))
	return true
}

// Keys returns the cached keys of a table, in a stable order.
func (c *Cache) Keys(tableID string) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysLocked(tableID)
}

func (c *Cache) keysLocked(tableID string) []Key {
	var keys []Key
	for k, e := range c.entries {
		if k.TableID == tableID && e.snap != nil {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if a.Sort != b.Sort {
			if a.Sort < b.Sort {
				return -1
			}
			return 1
		}
		if a.Search < b.Search {
			return -1
		}
		if a.Search > b.Search {
			return 1
		}
		return 0
	})
	return keys
}

// Invalidate removes k from the cache.
func (c *Cache) Invalidate(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k)
}

// InvalidateTable removes every query of a table.
func (c *Cache) InvalidateTable(tableID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.TableID == tableID {
			delete(c.entries, k)
		}
	}
}

// Column returns a column of a table as known by any cached query.
func (c *Cache) Column(tableID, columnID string) (grid.Column, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	columnID = c.aliasLocked(columnID)
	for _, k := range c.keysLocked(tableID) {
		if col, ok := c.entries[k].snap.Column(columnID); ok {
			return col, true
		}
	}
	return grid.Column{}, false
}

// Alias returns the permanent identifier recorded for a placeholder, or id.
func (c *Cache) Alias(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliasLocked(id)
}

func (c *Cache) aliasLocked(id string) string {
	for range 8 {
		a, ok := c.aliases[id]
		if !ok || a.real == id {
			return id
		}
		id = a.real
	}
	return id
}

// pruneLocked drops settled patches no running load needs anymore, and
// aliases past retention whose table has no tracked patch left.
func (c *Cache) pruneLocked() {
	oldest, busy := uint64(0), false
	for since := range c.loads {
		if !busy || since < oldest {
			oldest, busy = since, true
		}
	}
	for tableID, list := range c.tracked {
		list = slices.DeleteFunc(list, func(a *Applied) bool {
			return a.settled != 0 && (!busy || a.settled <= oldest)
		})
		if len(list) == 0 {
			delete(c.tracked, tableID)
		} else {
			c.tracked[tableID] = list
		}
	}
	now := c.now()
	for temp, a := range c.aliases {
		if now.Sub(a.at) > c.retention && len(c.tracked[a.tableID]) == 0 {
			delete(c.aliases, temp)
		}
	}
}

// change records what Apply did to one key.
type change struct {
	key     Key
	prev    *Snapshot
	version uint64
	inverse Patch
}

// Applied is the rollback handle of a patch.
type Applied struct {
	TableID string
	Patch   Patch
	owner   *Cache
	changes []change
	// settled is the clock value when the patch settled, 0 while in flight.
	settled uint64
}

// Keys returns the keys the patch modified.
func (a *Applied) Keys() []Key {
	a.owner.mu.Lock()
	defer a.owner.mu.Unlock()
	keys := make([]Key, 0, len(a.changes))
	for _, ch := range a.changes {
		keys = append(keys, ch.key)
	}
	return keys
}

// Apply patches every cached query of tableID atomically.
//
// Queries where the patch target is absent are left untouched. Any other
// error aborts the whole patch and leaves the cache unchanged.
func (c *Cache) Apply(tableID string, p Patch) (*Applied, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	resolve := false
	switch r := p.(type) {
	case ResolveRow:
		c.aliases[r.Temp] = alias{real: r.Real, tableID: tableID, at: c.now()}
		resolve = true
	case ResolveColumn:
		c.aliases[r.Temp] = alias{real: r.Real, tableID: tableID, at: c.now()}
		resolve = true
	}
	a := &Applied{TableID: tableID, Patch: p, owner: c}
	next := make([]*Snapshot, 0, 4)
	for _, k := range c.keysLocked(tableID) {
		e := c.entries[k]
		s, inv, err := p.apply(e.snap, c.aliasLocked)
		if errors.Is(err, ErrTargetGone) || errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		a.changes = append(a.changes, change{key: k, prev: e.snap, inverse: inv})
		next = append(next, s)
	}
	for i := range a.changes {
		e := c.entries[a.changes[i].key]
		e.snap = next[i]
		e.version++
		a.changes[i].version = e.version
	}
	// Aliases carry resolutions over to reloaded snapshots.
	if !resolve {
		c.tracked[tableID] = append(c.tracked[tableID], a)
	}
	return a, nil
}

func (c *Cache) tick() uint64 {
	c.clock++
	return c.clock
}

// Settle marks a as written to the store. Loads that started before Settle
// still get it replayed; later ones are expected to reflect it.
func (c *Cache) Settle(a *Applied) {
	if a == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.settled == 0 {
		a.settled = c.tick()
	}
	c.pruneLocked()
}

// Rollback undoes a. Entries untouched since the patch get their pre-patch
// snapshot back verbatim; other entries get the inverse patch. Entries where
// the inverse target is gone are left as they are and reported in a
// *InconsistencyError.
func (c *Cache) Rollback(a *Applied) error {
	if a == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[a.TableID] = slices.DeleteFunc(c.tracked[a.TableID], func(x *Applied) bool { return x == a })
	var inc *InconsistencyError
	for _, ch := range a.changes {
		e, ok := c.entries[ch.key]
		if !ok || e.snap == nil {
			continue
		}
		if e.version == ch.version {
			e.snap = ch.prev
			e.version++
			continue
		}
		s, _, err := ch.inverse.apply(e.snap, c.aliasLocked)
		if err != nil {
			if inc == nil {
				inc = &InconsistencyError{Patch: a.Patch.String()}
			}
			inc.Keys = append(inc.Keys, ch.key)
			inc.Errs = append(inc.Errs, err)
			continue
		}
		e.snap = s
		e.version++
	}
	if inc != nil {
		return inc
	}
	return nil
}
