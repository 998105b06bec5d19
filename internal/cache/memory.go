package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process TurnCache built on go-cache for TTL expiry, with an
// additional bounded entry count enforced by least-recently-used eviction.
// go-cache handles expiration sweeps; the LRU index here only tracks order.
//
// Safe for concurrent use. Writers serialize on mu; go-cache reads remain
// concurrent with the background TTL sweep.
type Memory struct {
	ttl        time.Duration
	maxEntries int

	store *gocache.Cache

	mu    sync.Mutex
	order *list.List               // front = most recently used
	index map[string]*list.Element // key -> order element
}

// MemoryConfig configures a Memory cache.
type MemoryConfig struct {
	TTL        time.Duration // entry lifetime (default 5m)
	MaxEntries int           // bound on live entries (default 1024)
}

// NewMemory creates a Memory cache. Zero config fields get defaults.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	return &Memory{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		store:      gocache.New(cfg.TTL, cfg.TTL/2),
		order:      list.New(),
		index:      make(map[string]*list.Element),
	}
}

// Get implements TurnCache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.store.Get(key)
	if !ok {
		m.forget(key)
		return nil, ErrNotFound
	}

	m.mu.Lock()
	if el, ok := m.index[key]; ok {
		m.order.MoveToFront(el)
	}
	m.mu.Unlock()

	return v.([]byte), nil
}

// Set implements TurnCache. When the entry count would exceed the bound, the
// least recently used entry is evicted first.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if el, ok := m.index[key]; ok {
		m.order.MoveToFront(el)
	} else {
		if m.order.Len() >= m.maxEntries {
			m.evictOldestLocked()
		}
		m.index[key] = m.order.PushFront(key)
	}
	m.mu.Unlock()

	m.store.Set(key, value, m.ttl)
	return nil
}

// Delete implements TurnCache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	m.forget(key)
	return nil
}

// Len returns the number of tracked entries, counting expired-but-unswept
// entries. Intended for tests and metrics.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// evictOldestLocked removes the least recently used entry. Caller holds mu.
func (m *Memory) evictOldestLocked() {
	back := m.order.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	m.order.Remove(back)
	delete(m.index, key)
	m.store.Delete(key)
}

// forget drops key from the LRU index without touching the store.
func (m *Memory) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[key]; ok {
		m.order.Remove(el)
		delete(m.index, key)
	}
}
