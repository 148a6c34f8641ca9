package state

import (
	"context"
	"fmt"
	"time"

	"gwstate/pkg/cache"
)

// GetStore resolves the global store of the given type keyed by ID.
// Backend failures are returned unchanged.
func GetStore[ID comparable](ctx context.Context, c *Controller, kind cache.StoreType) (*cache.Store[ID], error) {
	start := time.Now()
	s, err := cache.GetStore[ID](ctx, c.provider, kind)
	c.observeResolve(ctx, kind.String(), idTypeName[ID](), start, err)
	return s, err
}

// GetSubStore resolves the store of the given type scoped under parent.
func GetSubStore[ID comparable](ctx context.Context, c *Controller, parent ID, kind cache.StoreType) (*cache.Store[ID], error) {
	start := time.Now()
	s, err := cache.GetSubStore[ID](ctx, c.provider, kind, parent)
	c.observeResolve(ctx, fmt.Sprintf("%s/%v", kind, parent), idTypeName[ID](), start, err)
	return s, err
}

// GetGenericStore resolves the sub-store under *parent, or the global store
// when parent is nil.
func GetGenericStore[ID comparable](ctx context.Context, c *Controller, parent *ID, kind cache.StoreType) (*cache.Store[ID], error) {
	if parent != nil {
		return GetSubStore(ctx, c, *parent, kind)
	}
	return GetStore[ID](ctx, c, kind)
}

// DropSubStore clears the store of the given type scoped under parent.
// Handles still pointing into it stay valid and keep counting against the
// entity: if the store is refilled, the last handle for an entity removes it
// no matter which resolution of the store allocated the handle.
func DropSubStore[ID comparable](ctx context.Context, c *Controller, parent ID, kind cache.StoreType) error {
	return cache.DropSubStore[ID](ctx, c.provider, kind, parent)
}

func idTypeName[ID comparable]() string {
	var zero ID
	return fmt.Sprintf("%T", zero)
}
