package cache

import (
	"context"
	"sync"

	"google.golang.org/protobuf/proto"
)

// MemoryBackend keeps every table in process memory.
// It is the default for sessions that do not need to share state.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tables: make(map[string]*MemoryTable),
	}
}

func (b *MemoryBackend) OpenTable(ctx context.Context, name string) (Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tables[name]
	if !ok {
		t = NewMemoryTable()
		b.tables[name] = t
	}
	return t, nil
}

// MemoryTable is a thread-safe map-based table.
type MemoryTable struct {
	mu   sync.RWMutex
	data map[string]proto.Message
}

// NewMemoryTable creates an empty table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		data: make(map[string]proto.Message),
	}
}

func (t *MemoryTable) Get(ctx context.Context, key string) (proto.Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	msg, ok := t.data[key]
	if !ok {
		return nil, nil
	}

	// Return a copy so callers cannot mutate cached state in place
	return proto.Clone(msg), nil
}

func (t *MemoryTable) Set(ctx context.Context, key string, msg proto.Message) error {
	clone := proto.Clone(msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = clone
	return nil
}

func (t *MemoryTable) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, key)
	return nil
}

func (t *MemoryTable) Keys(ctx context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (t *MemoryTable) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = make(map[string]proto.Message)
	return nil
}
