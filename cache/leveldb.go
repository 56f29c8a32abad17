package cache

import (
	"context"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore keeps caches in a leveldb database.
//
// Key layout:
//
//	n:<cache>             cache name registry (empty value)
//	e:<cache>\x00<key>    entry bytes
type LevelDBStore struct {
	db *leveldb.DB
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func nameKey(name string) []byte {
	return []byte("n:" + name)
}

func entryPrefix(name string) []byte {
	return []byte("e:" + name + "\x00")
}

func entryKey(name, key string) []byte {
	return append(entryPrefix(name), key...)
}

func (l *LevelDBStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := l.db.Put(nameKey(name), nil, nil); err != nil {
		return nil, err
	}
	return leveldbCache{store: l, name: name}, nil
}

func (l *LevelDBStore) Has(ctx context.Context, name string) (bool, error) {
	return l.db.Has(nameKey(name), nil)
}

func (l *LevelDBStore) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := l.db.Has(nameKey(name), nil)
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete(nameKey(name))
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	return existed, l.db.Write(batch, nil)
}

func (l *LevelDBStore) Names(ctx context.Context) ([]string, error) {
	return l.suffixes([]byte("n:"))
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}

// suffixes returns every key with the given prefix, prefix removed.
// Iteration order is leveldb's key order, i.e. sorted.
func (l *LevelDBStore) suffixes(prefix []byte) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	out := make([]string, 0)
	for it.Next() {
		out = append(out, string(it.Key()[len(prefix):]))
	}
	return out, it.Error()
}

type leveldbCache struct {
	store *LevelDBStore
	name  string
}

func (c leveldbCache) Name() string {
	return c.name
}

func (c leveldbCache) Match(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.store.db.Get(entryKey(c.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c leveldbCache) Put(ctx context.Context, key string, bytes []byte) error {
	batch := new(leveldb.Batch)
	batch.Put(nameKey(c.name), nil)
	batch.Put(entryKey(c.name, key), bytes)
	return c.store.db.Write(batch, nil)
}

func (c leveldbCache) Delete(ctx context.Context, key string) (bool, error) {
	k := entryKey(c.name, key)
	existed, err := c.store.db.Has(k, nil)
	if err != nil {
		return false, err
	}
	return existed, c.store.db.Delete(k, nil)
}

func (c leveldbCache) Keys(ctx context.Context) ([]string, error) {
	return c.store.suffixes(entryPrefix(c.name))
}
