package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by stores that are used after Close.
var ErrClosed = errors.New("cache store closed")

// Store is a set of named caches.
// Each cache maps request keys to serialized HTTP responses (see the response-serializer package).
// The store is shared by every request and by background cleanup, so
// implementations must be thread-safe!
type Store interface {
	// Open returns the cache with the given name, creating it if it does not exist yet.
	Open(ctx context.Context, name string) (Cache, error)
	// Has reports whether a cache with the given name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache including all of its entries.
	// It reports whether the cache existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names returns the names of all caches currently in the store.
	Names(ctx context.Context) ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

// Cache is a single named cache within a Store.
//
// A Put on a handle whose cache has since been deleted recreates the cache.
type Cache interface {
	// Name returns the name the cache was opened with.
	Name() string
	// Match returns the stored bytes for the given key, if any.
	Match(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the given bytes under the key, replacing any previous entry.
	Put(ctx context.Context, key string, bytes []byte) error
	// Delete removes the entry for the key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns all keys stored in the cache.
	Keys(ctx context.Context) ([]string, error)
}

// OpenStore creates the store for the given provider.
// Supported providers are "memory", "sqlite" and "leveldb".
// For sqlite the path is the database file name (empty means in-memory),
// for leveldb it is the database directory.
func OpenStore(provider, path string) (Store, error) {
	switch provider {
	case "memory":
		return NewMemStore(), nil
	case "sqlite", "":
		return NewSQLiteStore(path)
	case "leveldb":
		if path == "" {
			path = "./data/leveldb"
		}
		return NewLevelDBStore(path)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", provider)
	}
}
