package cache

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Store maps ids to cached entities for one (store type, scope) pair.
// Stores are obtained from a Provider and never constructed directly, so one
// logical store is always represented by one *Store value.
type Store[ID comparable] struct {
	kind      StoreType
	parent    string
	hasParent bool
	table     Table
	keys      KeyCodec[ID]
}

// Kind returns the store type tag.
func (s *Store[ID]) Kind() StoreType { return s.kind }

// Parent returns the encoded parent id of a sub-store.
// ok is false for global stores.
func (s *Store[ID]) Parent() (parent string, ok bool) { return s.parent, s.hasParent }

// Name is the backend table name, e.g. "users" or "members/81384788765712384".
func (s *Store[ID]) Name() string { return tableName(s.kind, s.parent, s.hasParent) }

func (s *Store[ID]) String() string { return s.Name() }

// Key returns the backend key for id.
func (s *Store[ID]) Key(id ID) string { return s.keys.Encode(id) }

// Get returns the entity stored under id. ok is false on a miss.
func (s *Store[ID]) Get(ctx context.Context, id ID) (entity proto.Message, ok bool, err error) {
	msg, err := s.table.Get(ctx, s.keys.Encode(id))
	if err != nil {
		return nil, false, err
	}
	return msg, msg != nil, nil
}

// Set stores entity under id.
func (s *Store[ID]) Set(ctx context.Context, id ID, entity proto.Message) error {
	if entity == nil {
		return fmt.Errorf("cache: nil entity for %s/%v", s.Name(), id)
	}
	return s.table.Set(ctx, s.keys.Encode(id), entity)
}

// Remove deletes the entity stored under id, if any.
func (s *Store[ID]) Remove(ctx context.Context, id ID) error {
	return s.table.Delete(ctx, s.keys.Encode(id))
}

// IDs enumerates the ids of every cached entity.
func (s *Store[ID]) IDs(ctx context.Context) ([]ID, error) {
	keys, err := s.table.Keys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]ID, 0, len(keys))
	for _, k := range keys {
		id, err := s.keys.Decode(k)
		if err != nil {
			return nil, fmt.Errorf("cache: decode key %q in %s: %w", k, s.Name(), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Len returns the number of cached entities.
func (s *Store[ID]) Len(ctx context.Context) (int, error) {
	keys, err := s.table.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear removes every entity from the store.
func (s *Store[ID]) Clear(ctx context.Context) error {
	return s.table.Clear(ctx)
}

func tableName(kind StoreType, parent string, hasParent bool) string {
	if hasParent {
		return kind.String() + "/" + parent
	}
	return kind.String()
}
