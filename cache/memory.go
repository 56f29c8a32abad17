package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStore keeps all caches in memory.
type MemStore struct {
	mutex  *sync.RWMutex
	caches map[string]map[string][]byte
	closed bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		mutex:  &sync.RWMutex{},
		caches: make(map[string]map[string][]byte),
	}
}

func (m *MemStore) Open(ctx context.Context, name string) (Cache, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.caches[name]; !ok {
		m.caches[name] = make(map[string][]byte)
	}
	return memCache{store: m, name: name}, nil
}

func (m *MemStore) Has(ctx context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.caches[name]
	return ok, nil
}

func (m *MemStore) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.caches[name]
	delete(m.caches, name)
	return ok, nil
}

func (m *MemStore) Names(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	m.caches = nil
	return nil
}

type memCache struct {
	store *MemStore
	name  string
}

func (c memCache) Name() string {
	return c.name
}

func (c memCache) Match(ctx context.Context, key string) ([]byte, bool, error) {
	c.store.mutex.RLock()
	defer c.store.mutex.RUnlock()
	if c.store.closed {
		return nil, false, ErrClosed
	}
	bytes, ok := c.store.caches[c.name][key]
	return bytes, ok, nil
}

func (c memCache) Put(ctx context.Context, key string, bytes []byte) error {
	c.store.mutex.Lock()
	defer c.store.mutex.Unlock()
	if c.store.closed {
		return ErrClosed
	}
	entries, ok := c.store.caches[c.name]
	if !ok {
		entries = make(map[string][]byte)
		c.store.caches[c.name] = entries
	}
	// stored bytes must not change if the caller reuses its slice
	entries[key] = append([]byte(nil), bytes...)
	return nil
}

func (c memCache) Delete(ctx context.Context, key string) (bool, error) {
	c.store.mutex.Lock()
	defer c.store.mutex.Unlock()
	if c.store.closed {
		return false, ErrClosed
	}
	_, ok := c.store.caches[c.name][key]
	delete(c.store.caches[c.name], key)
	return ok, nil
}

func (c memCache) Keys(ctx context.Context) ([]string, error) {
	c.store.mutex.RLock()
	defer c.store.mutex.RUnlock()
	if c.store.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(c.store.caches[c.name]))
	for key := range c.store.caches[c.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
