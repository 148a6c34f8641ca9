package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"gwstate/pkg/cache"
)

// Lease is the type-erased view of a handle held in the controller's table.
type Lease interface {
	// HandleID returns the process-unique identifier of the handle.
	HandleID() uuid.UUID

	// Flags returns the flags the handle was allocated with.
	Flags() HandleFlags

	// Disposed reports whether Dispose has completed.
	Disposed() bool

	// Dispose releases the handle. It is idempotent.
	Dispose(ctx context.Context) error
}

// Handle is a tracked reference to one cached entity in one store.
// Every live handle owns one reference on its entity; disposing the last
// reference removes the entity from the store unless FlagRetainOnDispose is set.
type Handle[ID comparable, E proto.Message] struct {
	controller *Controller
	handleID   uuid.UUID
	store      *cache.Store[ID]
	id         ID
	entity     E
	flags      HandleFlags

	key refKey
	ref *refEntry

	mu       sync.Mutex
	disposed bool
}

var _ Lease = (*Handle[uint64, proto.Message])(nil)

func (h *Handle[ID, E]) HandleID() uuid.UUID { return h.handleID }

// ID returns the id of the referenced entity.
func (h *Handle[ID, E]) ID() ID { return h.id }

// Entity returns the entity snapshot the handle was allocated with.
func (h *Handle[ID, E]) Entity() E { return h.entity }

// Store returns the store the entity lives in.
func (h *Handle[ID, E]) Store() *cache.Store[ID] { return h.store }

func (h *Handle[ID, E]) Flags() HandleFlags { return h.flags }

func (h *Handle[ID, E]) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

func (h *Handle[ID, E]) String() string {
	return fmt.Sprintf("handle %s (%s/%v)", h.handleID, h.store.Name(), h.id)
}

// Dispose releases the handle's reference and unregisters it from the
// controller. Disposing an already disposed handle is a no-op.
//
// If ctx is done, or the store fails to remove the entity, Dispose returns a
// *DisposeError and the handle stays live and registered.
func (h *Handle[ID, E]) Dispose(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return nil
	}

	c := h.controller
	start := time.Now()
	removed, err := c.refs.release(ctx, h.key, h.ref, h.flags, func(ctx context.Context) error {
		return h.store.Remove(ctx, h.id)
	})

	event := &HandleDisposeEvent{
		HandleID: h.handleID,
		Store:    h.store.Name(),
		EntityID: h.store.Key(h.id),
		Flags:    h.flags,
	}

	if err != nil {
		event.Error = &DisposeError{
			HandleID: h.handleID,
			Store:    event.Store,
			EntityID: event.EntityID,
			Cause:    err,
		}
		event.Live = c.HandleCount()
		event.Duration = time.Since(start)
		c.observer.OnHandleDispose(ctx, event)
		return event.Error
	}

	h.disposed = true
	c.unregister(h)

	event.Removed = removed
	event.Live = c.HandleCount()
	event.Duration = time.Since(start)
	c.observer.OnHandleDispose(ctx, event)
	return nil
}

// Close disposes the handle with a background context, so a handle can be
// used wherever an io.Closer is expected.
func (h *Handle[ID, E]) Close() error {
	return h.Dispose(context.Background())
}
