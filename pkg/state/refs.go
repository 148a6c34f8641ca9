package state

import (
	"context"
	"sync"

	"gwstate/pkg/cache"
)

// refKey identifies one entity in one logical store by the backend table name
// and the encoded entity key. Every *cache.Store resolved onto the same table
// shares the same counts, including stores re-resolved after a drop.
type refKey struct {
	table string
	key   string
}

func entityRef[ID comparable](store *cache.Store[ID], id ID) refKey {
	return refKey{table: store.Name(), key: store.Key(id)}
}

// refEntry counts the live handles of one entity. Its mutex serializes
// allocation against the removal of the entity when the count drops to zero;
// it is the only lock ever held across a backend call, and only for that
// entity.
type refEntry struct {
	mu        sync.Mutex
	count     int
	exclusive bool
	dead      bool // retired from the table; acquirers must fetch a fresh entry
}

type refTable struct {
	mu      sync.Mutex
	entries map[refKey]*refEntry
}

func newRefTable() *refTable {
	return &refTable{entries: make(map[refKey]*refEntry)}
}

// entry returns the current entry for key, creating it when absent.
func (t *refTable) entry(key refKey) *refEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &refEntry{}
		t.entries[key] = e
	}
	return e
}

// forget drops e from the table if it is still the entry for key.
// Callers hold e.mu.
func (t *refTable) forget(key refKey, e *refEntry) {
	e.dead = true
	t.mu.Lock()
	if t.entries[key] == e {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// acquire adds one reference to key.
func (t *refTable) acquire(key refKey, exclusive bool) (*refEntry, error) {
	for {
		e := t.entry(key)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if e.exclusive || (exclusive && e.count > 0) {
			e.mu.Unlock()
			return nil, ErrEntityLeased
		}
		e.count++
		if exclusive {
			e.exclusive = true
		}
		e.mu.Unlock()
		return e, nil
	}
}

// release drops one reference. When it is the last one and flags allow it,
// remove runs first; if remove fails nothing is committed and the reference
// is kept.
func (t *refTable) release(ctx context.Context, key refKey, e *refEntry, flags HandleFlags, remove func(context.Context) error) (removed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if e.count == 1 && !flags.Has(FlagRetainOnDispose) {
		if err := remove(ctx); err != nil {
			return false, err
		}
		removed = true
	}
	t.drop(key, e, flags)
	return removed, nil
}

// undo drops a reference without touching the store.
func (t *refTable) undo(key refKey, e *refEntry, flags HandleFlags) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.drop(key, e, flags)
}

func (t *refTable) drop(key refKey, e *refEntry, flags HandleFlags) {
	e.count--
	if flags.Has(FlagExclusive) {
		e.exclusive = false
	}
	if e.count == 0 {
		t.forget(key, e)
	}
}

// removeIfUnreferenced runs remove only if key has no live references,
// holding off allocations for key until remove returns.
func (t *refTable) removeIfUnreferenced(ctx context.Context, key refKey, remove func(context.Context) error) (bool, error) {
	t.mu.Lock()
	if _, ok := t.entries[key]; ok {
		t.mu.Unlock()
		return false, nil
	}
	e := &refEntry{}
	e.mu.Lock()
	t.entries[key] = e
	t.mu.Unlock()

	defer e.mu.Unlock()
	defer t.forget(key, e)

	if err := remove(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// count returns the number of live references to key.
func (t *refTable) count(key refKey) int {
	t.mu.Lock()
	e, ok := t.entries[key]
	t.mu.Unlock()
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return 0
	}
	return e.count
}
