package state

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Observer is the interface for observing state controller activity.
// Implementations can emit metrics, logs, or traces to their observability backend.
//
// All Observer methods are called synchronously from the goroutine doing the
// work, so implementations should be fast and non-blocking.
type Observer interface {
	// OnStoreResolve is called after a store or sub-store lookup.
	OnStoreResolve(ctx context.Context, event *StoreResolveEvent)

	// OnHandleAllocate is called after a handle allocation attempt.
	OnHandleAllocate(ctx context.Context, event *HandleAllocateEvent)

	// OnHandleDispose is called after a handle disposal attempt.
	OnHandleDispose(ctx context.Context, event *HandleDisposeEvent)

	// OnCleanupStart is called once a cleanup pass holds the gate.
	OnCleanupStart(ctx context.Context, event *CleanupStartEvent)

	// OnCleanupTask is called after each sweep and queued task.
	OnCleanupTask(ctx context.Context, event *CleanupTaskEvent)

	// OnCleanupEnd is called when a cleanup pass completes, before the gate is released.
	OnCleanupEnd(ctx context.Context, event *CleanupEndEvent)
}

// StoreResolveEvent is emitted when a store is resolved.
type StoreResolveEvent struct {
	Store   string // Table name, e.g. "members/81384788765712384"
	IDType  string
	Latency time.Duration
	Error   error
}

// HandleAllocateEvent is emitted when a handle is allocated.
type HandleAllocateEvent struct {
	HandleID uuid.UUID
	Store    string
	EntityID string
	Flags    HandleFlags
	Live     int   // Live handles after the allocation
	Error    error // ErrEntityLeased, ErrClosed, or a collision
}

// HandleDisposeEvent is emitted when a handle is disposed.
type HandleDisposeEvent struct {
	HandleID uuid.UUID
	Store    string
	EntityID string
	Flags    HandleFlags
	Removed  bool // true if the entity was removed from its store
	Live     int
	Duration time.Duration
	Error    error
}

// CleanupStartEvent is emitted when a cleanup pass begins.
type CleanupStartEvent struct {
	Pass      uint64
	Queued    int // Tasks waiting when the pass started
	StartTime time.Time
}

// CleanupTaskEvent is emitted for every sweep and queued task of a pass.
type CleanupTaskEvent struct {
	Pass     uint64
	Name     string
	Sweep    bool // true for fixed sweeps, false for queued tasks
	Duration time.Duration
	Error    error
	Panicked bool
}

// CleanupEndEvent is emitted when a cleanup pass completes.
type CleanupEndEvent struct {
	Pass     uint64
	Tasks    int // Queued tasks executed
	Failures int
	Duration time.Duration
	Error    error // nil if every sweep and task succeeded
}

// CleanupScoper is implemented by observers that wrap each cleanup pass in a
// scope of their own, such as a trace span. The controller enters the scope
// before waiting for the gate and leaves it after the pass.
type CleanupScoper interface {
	StartCleanupScope(ctx context.Context) (context.Context, func())
}

// NoOpObserver is a no-op implementation of Observer.
// Useful as a base for partial implementations.
type NoOpObserver struct{}

func (NoOpObserver) OnStoreResolve(ctx context.Context, event *StoreResolveEvent)     {}
func (NoOpObserver) OnHandleAllocate(ctx context.Context, event *HandleAllocateEvent) {}
func (NoOpObserver) OnHandleDispose(ctx context.Context, event *HandleDisposeEvent)   {}
func (NoOpObserver) OnCleanupStart(ctx context.Context, event *CleanupStartEvent)     {}
func (NoOpObserver) OnCleanupTask(ctx context.Context, event *CleanupTaskEvent)       {}
func (NoOpObserver) OnCleanupEnd(ctx context.Context, event *CleanupEndEvent)         {}

// MultiObserver combines multiple observers into one.
// Events are sent to all observers in order.
type MultiObserver struct {
	Observers []Observer
}

func (m *MultiObserver) OnStoreResolve(ctx context.Context, event *StoreResolveEvent) {
	for _, obs := range m.Observers {
		obs.OnStoreResolve(ctx, event)
	}
}

func (m *MultiObserver) OnHandleAllocate(ctx context.Context, event *HandleAllocateEvent) {
	for _, obs := range m.Observers {
		obs.OnHandleAllocate(ctx, event)
	}
}

func (m *MultiObserver) OnHandleDispose(ctx context.Context, event *HandleDisposeEvent) {
	for _, obs := range m.Observers {
		obs.OnHandleDispose(ctx, event)
	}
}

func (m *MultiObserver) OnCleanupStart(ctx context.Context, event *CleanupStartEvent) {
	for _, obs := range m.Observers {
		obs.OnCleanupStart(ctx, event)
	}
}

func (m *MultiObserver) OnCleanupTask(ctx context.Context, event *CleanupTaskEvent) {
	for _, obs := range m.Observers {
		obs.OnCleanupTask(ctx, event)
	}
}

func (m *MultiObserver) OnCleanupEnd(ctx context.Context, event *CleanupEndEvent) {
	for _, obs := range m.Observers {
		obs.OnCleanupEnd(ctx, event)
	}
}

// StartCleanupScope enters the scope of every member observer that has one.
func (m *MultiObserver) StartCleanupScope(ctx context.Context) (context.Context, func()) {
	var ends []func()
	for _, obs := range m.Observers {
		if s, ok := obs.(CleanupScoper); ok {
			var end func()
			ctx, end = s.StartCleanupScope(ctx)
			ends = append(ends, end)
		}
	}
	return ctx, func() {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i]()
		}
	}
}
