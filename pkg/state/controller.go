// Package state owns the lifetime of cached gateway entities.
//
// A Controller sits between the event handlers of a gateway session and the
// cache backend. Handlers resolve stores through it, hand entities to
// consumers as Handles, and queue deferred teardown work that runs in
// serialized cleanup passes:
//
//	ctrl := state.NewController(cache.NewMemoryProvider())
//	users, _ := state.GetStore[uint64](ctx, ctrl, cache.StoreUsers)
//	h, _ := state.AllocateHandle(ctx, ctrl, users, userID, user, state.FlagNone)
//	defer h.Dispose(ctx)
//
// Handle allocation and disposal never wait for a cleanup pass; only one
// cleanup pass runs at a time. Every pass starts with the fixed sweeps,
// StaleUsersSweep by default (see WithoutDefaultSweeps), before draining the
// queued tasks.
package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"google.golang.org/protobuf/proto"

	"gwstate/pkg/cache"
)

// Controller tracks live handles and cleanup work for one client session.
// Create one per session and pass it to everything that touches the cache.
type Controller struct {
	provider *cache.Provider
	observer Observer
	sweepers []Sweeper
	newID    func() uuid.UUID

	handles sync.Map // uuid.UUID -> Lease
	live    atomic.Int64
	refs    *refTable

	queue  cleanupQueue
	gate   *semaphore.Weighted
	passes atomic.Uint64

	// closing is held for reading from an allocation's closed check until
	// its handle is registered, so Close never snapshots the table while an
	// allocation is half done
	closing sync.RWMutex
	closed  atomic.Bool
}

// NewController creates a controller resolving stores through provider.
func NewController(provider *cache.Provider, opts ...Option) *Controller {
	cfg := &config{}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	if cfg.observer == nil {
		cfg.observer = NoOpObserver{}
	}
	if cfg.newID == nil {
		cfg.newID = uuid.New
	}
	var sweepers []Sweeper
	if !cfg.noDefaultSweeps {
		sweepers = append(sweepers, StaleUsersSweep())
	}
	sweepers = append(sweepers, cfg.sweepers...)

	return &Controller{
		provider: provider,
		observer: cfg.observer,
		sweepers: sweepers,
		newID:    cfg.newID,
		refs:     newRefTable(),
		gate:     semaphore.NewWeighted(1),
	}
}

// Provider returns the store provider the controller resolves stores with.
func (c *Controller) Provider() *cache.Provider { return c.provider }

// AllocateHandle registers a new handle on the entity stored under id in
// store. The handle owns one reference on the entity until it is disposed.
//
// Allocation fails with ErrEntityLeased if FlagExclusive conflicts with
// other live handles of the entity, and with ErrClosed after Close. If the
// generated handle id is already registered AllocateHandle panics with an
// *InvariantError wrapping ErrHandleCollision.
func AllocateHandle[ID comparable, E proto.Message](
	ctx context.Context,
	c *Controller,
	store *cache.Store[ID],
	id ID,
	entity E,
	flags HandleFlags,
) (*Handle[ID, E], error) {
	if store == nil {
		return nil, errors.New("state: allocate handle on nil store")
	}

	event := &HandleAllocateEvent{
		Store:    store.Name(),
		EntityID: store.Key(id),
		Flags:    flags,
	}

	handleID := c.newID()

	c.closing.RLock()
	if c.closed.Load() {
		c.closing.RUnlock()
		event.Error = ErrClosed
		c.observer.OnHandleAllocate(ctx, event)
		return nil, ErrClosed
	}

	key := entityRef(store, id)
	ref, err := c.refs.acquire(key, flags.Has(FlagExclusive))
	if err != nil {
		c.closing.RUnlock()
		event.Error = err
		c.observer.OnHandleAllocate(ctx, event)
		return nil, err
	}

	h := &Handle[ID, E]{
		controller: c,
		handleID:   handleID,
		store:      store,
		id:         id,
		entity:     entity,
		flags:      flags,
		key:        key,
		ref:        ref,
	}
	event.HandleID = h.handleID

	_, loaded := c.handles.LoadOrStore(h.handleID, Lease(h))
	if !loaded {
		event.Live = int(c.live.Add(1))
	}
	c.closing.RUnlock()
	if loaded {
		c.refs.undo(key, ref, flags)
		ierr := &InvariantError{
			HandleID: h.handleID,
			Cause:    ErrHandleCollision,
			Message:  "generated handle id is already registered",
		}
		event.Error = ierr
		c.observer.OnHandleAllocate(ctx, event)
		panic(ierr)
	}

	c.observer.OnHandleAllocate(ctx, event)
	return h, nil
}

// unregister removes a disposed handle from the table.
func (c *Controller) unregister(l Lease) {
	if c.handles.CompareAndDelete(l.HandleID(), l) {
		c.live.Add(-1)
	}
}

// Handle looks up a live handle by id.
func (c *Controller) Handle(id uuid.UUID) (Lease, bool) {
	v, ok := c.handles.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Lease), true
}

// HandleCount returns the number of live handles.
func (c *Controller) HandleCount() int {
	return int(c.live.Load())
}

// FreeHandles disposes every live handle among ids. Unknown or already
// freed ids are skipped. A failing disposal does not stop the rest; all
// failures are returned joined.
func (c *Controller) FreeHandles(ctx context.Context, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		l, ok := c.Handle(id)
		if !ok {
			continue
		}
		if err := l.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Referenced reports whether any live handle references id in store.
func Referenced[ID comparable](c *Controller, store *cache.Store[ID], id ID) bool {
	return c.refs.count(entityRef(store, id)) > 0
}

// Close tears the controller down: it runs a final cleanup pass, then
// disposes every remaining handle. Teardown is best-effort; all failures are
// returned joined. Later allocations and cleanup runs fail with ErrClosed.
func (c *Controller) Close(ctx context.Context) error {
	c.closing.Lock()
	first := c.closed.CompareAndSwap(false, true)
	c.closing.Unlock()
	if !first {
		return nil
	}

	var errs []error
	if err := c.runCleanup(ctx); err != nil {
		errs = append(errs, err)
	}

	var ids []uuid.UUID
	c.handles.Range(func(key, _ any) bool {
		ids = append(ids, key.(uuid.UUID))
		return true
	})
	if err := c.FreeHandles(ctx, ids); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// observeResolve reports a store lookup that started at start.
func (c *Controller) observeResolve(ctx context.Context, name, idType string, start time.Time, err error) {
	c.observer.OnStoreResolve(ctx, &StoreResolveEvent{
		Store:   name,
		IDType:  idType,
		Latency: time.Since(start),
		Error:   err,
	})
}
