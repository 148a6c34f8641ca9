package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Provider resolves logical stores on top of a Backend.
//
// Resolution is idempotent: the same (store type, id type) or
// (parent, store type, id type) always yields the same *Store, and concurrent
// first requests for a store share a single backend OpenTable call.
type Provider struct {
	backend Backend
	codecs  sync.Map // reflect.Type -> KeyCodec[ID]

	mu     sync.RWMutex
	stores map[string]resolvedStore

	group singleflight.Group
}

type resolvedStore struct {
	table string
	store any
}

// NewProvider creates a provider backed by b.
func NewProvider(b Backend) *Provider {
	return &Provider{
		backend: b,
		stores:  make(map[string]resolvedStore),
	}
}

// NewMemoryProvider is a shorthand for a provider over a fresh MemoryBackend.
func NewMemoryProvider() *Provider {
	return NewProvider(NewMemoryBackend())
}

// Backend returns the backend stores are opened from.
func (p *Provider) Backend() Backend { return p.backend }

// RegisterKeyCodec installs the codec used for stores keyed by ID, replacing
// any built-in codec for that type. Register codecs before resolving stores.
func RegisterKeyCodec[ID comparable](p *Provider, codec KeyCodec[ID]) {
	p.codecs.Store(typeOf[ID](), codec)
}

// GetStore returns the global store of the given type keyed by ID.
func GetStore[ID comparable](ctx context.Context, p *Provider, kind StoreType) (*Store[ID], error) {
	return resolve[ID](ctx, p, kind, "", false)
}

// GetSubStore returns the store of the given type scoped under parent.
func GetSubStore[ID comparable](ctx context.Context, p *Provider, kind StoreType, parent ID) (*Store[ID], error) {
	keys, err := keyCodec[ID](p)
	if err != nil {
		return nil, err
	}
	return resolve[ID](ctx, p, kind, keys.Encode(parent), true)
}

// DropSubStore clears the store of the given type scoped under parent and
// forgets every resolved *Store for it. A later GetSubStore opens it afresh.
func DropSubStore[ID comparable](ctx context.Context, p *Provider, kind StoreType, parent ID) error {
	keys, err := keyCodec[ID](p)
	if err != nil {
		return err
	}
	name := tableName(kind, keys.Encode(parent), true)

	table, err := p.backend.OpenTable(ctx, name)
	if err != nil {
		return err
	}
	if err := table.Clear(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	for k, rs := range p.stores {
		if rs.table == name {
			delete(p.stores, k)
		}
	}
	p.mu.Unlock()
	return nil
}

func resolve[ID comparable](ctx context.Context, p *Provider, kind StoreType, parent string, hasParent bool) (*Store[ID], error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownStoreType, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := keyCodec[ID](p)
	if err != nil {
		return nil, err
	}

	name := tableName(kind, parent, hasParent)
	t := typeOf[ID]()
	cacheKey := name + "|" + t.PkgPath() + "." + t.String()

	p.mu.RLock()
	rs, ok := p.stores[cacheKey]
	p.mu.RUnlock()
	if ok {
		return rs.store.(*Store[ID]), nil
	}

	// The open runs detached from any single caller so one cancelled caller
	// does not fail the others waiting on the same store.
	openCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(cacheKey, func() (any, error) {
		p.mu.RLock()
		rs, ok := p.stores[cacheKey]
		p.mu.RUnlock()
		if ok {
			return rs.store, nil
		}

		table, err := p.backend.OpenTable(openCtx, name)
		if err != nil {
			return nil, err
		}
		s := &Store[ID]{
			kind:      kind,
			parent:    parent,
			hasParent: hasParent,
			table:     table,
			keys:      keys,
		}

		p.mu.Lock()
		p.stores[cacheKey] = resolvedStore{table: name, store: s}
		p.mu.Unlock()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Store[ID]), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
