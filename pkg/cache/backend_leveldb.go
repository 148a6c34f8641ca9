package cache

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"google.golang.org/protobuf/proto"
)

// LevelDBBackend stores tables in an embedded LevelDB database. Keys are laid
// out as "{table}\x00{key}" so each table is one contiguous key range.
type LevelDBBackend struct {
	db *leveldb.DB
}

// NewLevelDBBackend wraps an open database.
func NewLevelDBBackend(db *leveldb.DB) *LevelDBBackend {
	return &LevelDBBackend{db: db}
}

// OpenLevelDBBackend opens (or creates) a database in the given directory.
func OpenLevelDBBackend(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return NewLevelDBBackend(db), nil
}

func (b *LevelDBBackend) OpenTable(ctx context.Context, name string) (Table, error) {
	return &levelDBTable{db: b.db, prefix: []byte(name + "\x00")}, nil
}

// Close closes the underlying database.
func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}

type levelDBTable struct {
	db     *leveldb.DB
	prefix []byte
}

func (t *levelDBTable) dbKey(key string) []byte {
	k := make([]byte, 0, len(t.prefix)+len(key))
	k = append(k, t.prefix...)
	return append(k, key...)
}

func (t *levelDBTable) Get(ctx context.Context, key string) (proto.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := t.db.Get(t.dbKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get failed: %w", err)
	}
	return unmarshalEntity(data)
}

func (t *levelDBTable) Set(ctx context.Context, key string, msg proto.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := marshalEntity(msg)
	if err != nil {
		return err
	}
	return t.db.Put(t.dbKey(key), data, nil)
}

func (t *levelDBTable) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.db.Delete(t.dbKey(key), nil)
}

func (t *levelDBTable) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := t.db.NewIterator(util.BytesPrefix(t.prefix), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(t.prefix):]))
	}
	return keys, iter.Error()
}

func (t *levelDBTable) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	iter := t.db.NewIterator(util.BytesPrefix(t.prefix), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return t.db.Write(batch, nil)
}
