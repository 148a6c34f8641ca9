package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
)

// SQLDialect defines the SQL syntax variant.
type SQLDialect string

const (
	DialectSQLite   SQLDialect = "sqlite"
	DialectPostgres SQLDialect = "postgres"
	DialectMySQL    SQLDialect = "mysql"
)

// SQLBackend implements Backend using database/sql.
// It supports SQLite, Postgres, and MySQL. All logical tables share one
// physical table, partitioned by the store_name column.
type SQLBackend struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
}

// NewSQLBackend creates a new SQL-backed backend.
// The user is responsible for opening the *sql.DB with their preferred driver.
func NewSQLBackend(db *sql.DB, tableName string, dialect SQLDialect) *SQLBackend {
	if tableName == "" {
		tableName = "gwstate_entities"
	}
	return &SQLBackend{
		db:        db,
		tableName: tableName,
		dialect:   dialect,
	}
}

// InitSchema creates the necessary table if it doesn't exist.
func (b *SQLBackend) InitSchema(ctx context.Context) error {
	keyType := "TEXT"
	blobType := "BLOB"
	timestampType := "TIMESTAMP"

	switch b.dialect {
	case DialectPostgres:
		blobType = "BYTEA"
	case DialectMySQL:
		keyType = "VARCHAR(191)"
		blobType = "LONGBLOB"
		timestampType = "DATETIME(6)"
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			store_name %s NOT NULL,
			entity_key %s NOT NULL,
			value %s,
			updated_at %s,
			PRIMARY KEY (store_name, entity_key)
		)
	`, b.tableName, keyType, keyType, blobType, timestampType)

	_, err := b.db.ExecContext(ctx, query)
	return err
}

func (b *SQLBackend) OpenTable(ctx context.Context, name string) (Table, error) {
	return &sqlTable{backend: b, name: name}, nil
}

// placeholders returns n bind parameters in the dialect's syntax.
func (b *SQLBackend) placeholders(n int) []string {
	ph := make([]string, n)
	for i := range ph {
		if b.dialect == DialectPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return ph
}

type sqlTable struct {
	backend *SQLBackend
	name    string
}

func (t *sqlTable) Get(ctx context.Context, key string) (proto.Message, error) {
	ph := t.backend.placeholders(2)
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE store_name = %s AND entity_key = %s
	`, t.backend.tableName, ph[0], ph[1])

	var value []byte
	err := t.backend.db.QueryRowContext(ctx, query, t.name, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", t.name, key, err)
	}
	return unmarshalEntity(value)
}

func (t *sqlTable) Set(ctx context.Context, key string, msg proto.Message) error {
	value, err := marshalEntity(msg)
	if err != nil {
		return err
	}

	phStr := strings.Join(t.backend.placeholders(4), ", ")

	// Build upsert query based on dialect
	var query string
	if t.backend.dialect == DialectMySQL {
		query = fmt.Sprintf(`
			INSERT INTO %s (store_name, entity_key, value, updated_at)
			VALUES (%s)
			ON DUPLICATE KEY UPDATE
				value = VALUES(value),
				updated_at = VALUES(updated_at)
		`, t.backend.tableName, phStr)
	} else {
		// SQLite and Postgres use ON CONFLICT
		query = fmt.Sprintf(`
			INSERT INTO %s (store_name, entity_key, value, updated_at)
			VALUES (%s)
			ON CONFLICT(store_name, entity_key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, t.backend.tableName, phStr)
	}

	_, err = t.backend.db.ExecContext(ctx, query, t.name, key, value, time.Now().UTC())
	return err
}

func (t *sqlTable) Delete(ctx context.Context, key string) error {
	ph := t.backend.placeholders(2)
	query := fmt.Sprintf("DELETE FROM %s WHERE store_name = %s AND entity_key = %s",
		t.backend.tableName, ph[0], ph[1])
	_, err := t.backend.db.ExecContext(ctx, query, t.name, key)
	return err
}

func (t *sqlTable) Keys(ctx context.Context) ([]string, error) {
	ph := t.backend.placeholders(1)
	query := fmt.Sprintf("SELECT entity_key FROM %s WHERE store_name = %s",
		t.backend.tableName, ph[0])

	rows, err := t.backend.db.QueryContext(ctx, query, t.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *sqlTable) Clear(ctx context.Context) error {
	ph := t.backend.placeholders(1)
	query := fmt.Sprintf("DELETE FROM %s WHERE store_name = %s", t.backend.tableName, ph[0])
	_, err := t.backend.db.ExecContext(ctx, query, t.name)
	return err
}
