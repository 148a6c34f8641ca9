package state

import (
	"context"
	"errors"

	"gwstate/pkg/cache"
)

// Sweeper is a fixed cleanup hook for one category of entities. Sweeps run
// at the start of every cleanup pass, before queued tasks, so tasks can
// rely on the swept state.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, c *Controller) error
}

// UnreferencedSweep removes every entity of a global store that no live
// handle references. Allocations for an entity wait while the sweep removes
// it, so a handle never points at an entity the sweep is deleting.
type UnreferencedSweep[ID comparable] struct {
	Kind cache.StoreType
}

// NewUnreferencedSweep creates a sweep over the global store of kind.
func NewUnreferencedSweep[ID comparable](kind cache.StoreType) *UnreferencedSweep[ID] {
	return &UnreferencedSweep[ID]{Kind: kind}
}

// StaleUsersSweep drops cached users that nothing holds a handle to.
func StaleUsersSweep() Sweeper {
	return NewUnreferencedSweep[uint64](cache.StoreUsers)
}

func (s *UnreferencedSweep[ID]) Name() string {
	return "unreferenced " + s.Kind.String()
}

func (s *UnreferencedSweep[ID]) Sweep(ctx context.Context, c *Controller) error {
	store, err := GetStore[ID](ctx, c, s.Kind)
	if err != nil {
		return err
	}
	ids, err := store.IDs(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		key := entityRef(store, id)
		if _, err := c.refs.removeIfUnreferenced(ctx, key, func(ctx context.Context) error {
			return store.Remove(ctx, id)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
