//go:generate mockgen -source backend.go -destination backend_mocks.go -package cache

package cache

import (
	"context"

	"google.golang.org/protobuf/proto"
)

// Table is one logical store inside a backend: a mapping from encoded key to
// entity payload. Implementations (memory, Redis, SQL, Postgres, LevelDB) must
// be thread-safe.
type Table interface {
	// Get retrieves an entity.
	// Returns (nil, nil) if the key is not present.
	Get(ctx context.Context, key string) (proto.Message, error)

	// Set stores an entity, replacing any previous value for key.
	Set(ctx context.Context, key string, msg proto.Message) error

	// Delete removes an entity. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key currently present.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every entity in the table.
	Clear(ctx context.Context) error
}

// Backend is the physical storage a Provider hands out tables from.
// Table names are stable: opening the same name twice addresses the same data.
type Backend interface {
	OpenTable(ctx context.Context, name string) (Table, error)
}
