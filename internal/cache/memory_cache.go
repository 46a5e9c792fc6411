package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
	stamp   uint64
}

// MemoryCache - кеш в памяти процесса с TTL и ограничением числа записей.
// При переполнении вытесняется самая старая запись.
type MemoryCache struct {
	mu      sync.Mutex
	config  CacheConfig
	entries map[string]*memoryEntry
	stamp   uint64
	now     func() time.Time

	hits, misses int64
}

// NewMemoryCache создаёт кеш в памяти
func NewMemoryCache(cfg CacheConfig) *MemoryCache {
	cfg.applyDefaults()
	return &MemoryCache{
		config:  cfg,
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && m.now().After(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		m.misses++
		return nil, ErrCacheMiss
	}
	m.hits++
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	ttl = m.config.clampTTL(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.config.MaxEntries {
		m.evictOldest()
	}
	m.stamp++
	buf := make([]byte, len(value))
	copy(buf, value)
	m.entries[key] = &memoryEntry{value: buf, expires: m.now().Add(ttl), stamp: m.stamp}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Purge(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Close() error { return m.Purge(context.Background()) }

func (m *MemoryCache) GetMetrics() *CacheMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := &CacheMetrics{
		TotalRequests: m.hits + m.misses,
		CacheHits:     m.hits,
		CacheMisses:   m.misses,
		TotalKeys:     int64(len(m.entries)),
		LastUpdate:    m.now(),
	}
	if metrics.TotalRequests > 0 {
		metrics.HitRatio = float64(m.hits) / float64(metrics.TotalRequests)
	}
	return metrics
}

func (m *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest uint64
	for k, e := range m.entries {
		if oldestKey == "" || e.stamp < oldest {
			oldestKey, oldest = k, e.stamp
		}
	}
	delete(m.entries, oldestKey)
}
