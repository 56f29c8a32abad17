package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore keeps caches in a single sqlite database.
// Cache names live in the `caches` table, entries in `entries`.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// memoryDBs numbers the in-memory databases of this process.
var memoryDBs atomic.Uint64

// NewSQLiteStore creates a new store with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
// Every in-memory store gets its own database.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = fmt.Sprintf("file:offline-cache-%d?mode=memory&cache=shared", memoryDBs.Add(1))
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS caches (name TEXT PRIMARY KEY)",
		`CREATE TABLE IF NOT EXISTS entries (
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (cache, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStore) Open(ctx context.Context, name string) (Cache, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return nil, err
	}
	return sqliteCache{store: s, name: name}, nil
}

func (s *SQLiteStore) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM caches WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	return s.strings(ctx, "SELECT name FROM caches ORDER BY name")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var str string
		if err := rows.Scan(&str); err != nil {
			return out, err
		}
		out = append(out, str)
	}
	return out, rows.Err()
}

type sqliteCache struct {
	store *SQLiteStore
	name  string
}

func (c sqliteCache) Name() string {
	return c.name
}

func (c sqliteCache) Match(ctx context.Context, key string) ([]byte, bool, error) {
	var bytes []byte
	err := c.store.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE cache = ? AND key = ?", c.name, key,
	).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (c sqliteCache) Put(ctx context.Context, key string, bytes []byte) error {
	c.store.writeMutex.Lock()
	defer c.store.writeMutex.Unlock()
	if _, err := c.store.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", c.name); err != nil {
		return err
	}
	_, err := c.store.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (cache, key, bytes) VALUES (?, ?, ?)", c.name, key, bytes)
	return err
}

func (c sqliteCache) Delete(ctx context.Context, key string) (bool, error) {
	c.store.writeMutex.Lock()
	defer c.store.writeMutex.Unlock()
	result, err := c.store.db.ExecContext(ctx, "DELETE FROM entries WHERE cache = ? AND key = ?", c.name, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (c sqliteCache) Keys(ctx context.Context) ([]string, error) {
	return c.store.strings(ctx, "SELECT key FROM entries WHERE cache = ? ORDER BY key", c.name)
}
