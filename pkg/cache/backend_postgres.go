package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/protobuf/proto"
)

// PostgresBackend implements Backend using github.com/jackc/pgx/v5.
// It is designed to work with pgxpool, similar to River.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresBackend creates a new Postgres-backed backend.
func NewPostgresBackend(pool *pgxpool.Pool, tableName string) *PostgresBackend {
	if tableName == "" {
		tableName = "gwstate_entities"
	}
	return &PostgresBackend{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist.
func (b *PostgresBackend) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			store_name TEXT NOT NULL,
			entity_key TEXT NOT NULL,
			value BYTEA,
			updated_at TIMESTAMPTZ,
			PRIMARY KEY (store_name, entity_key)
		);
	`, b.tableName)

	_, err := b.pool.Exec(ctx, query)
	return err
}

func (b *PostgresBackend) OpenTable(ctx context.Context, name string) (Table, error) {
	return &postgresTable{backend: b, name: name}, nil
}

type postgresTable struct {
	backend *PostgresBackend
	name    string
}

func (t *postgresTable) Get(ctx context.Context, key string) (proto.Message, error) {
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE store_name = $1 AND entity_key = $2
	`, t.backend.tableName)

	var value []byte
	err := t.backend.pool.QueryRow(ctx, query, t.name, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", t.name, key, err)
	}
	return unmarshalEntity(value)
}

func (t *postgresTable) Set(ctx context.Context, key string, msg proto.Message) error {
	value, err := marshalEntity(msg)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (store_name, entity_key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(store_name, entity_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, t.backend.tableName)

	_, err = t.backend.pool.Exec(ctx, query, t.name, key, value, time.Now())
	return err
}

func (t *postgresTable) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE store_name = $1 AND entity_key = $2", t.backend.tableName)
	_, err := t.backend.pool.Exec(ctx, query, t.name, key)
	return err
}

func (t *postgresTable) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT entity_key FROM %s WHERE store_name = $1", t.backend.tableName)
	rows, err := t.backend.pool.Query(ctx, query, t.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	return keys, nil
}

func (t *postgresTable) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE store_name = $1", t.backend.tableName)
	_, err := t.backend.pool.Exec(ctx, query, t.name)
	return err
}
