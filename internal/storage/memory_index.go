package storage

import (
	"context"
	"sync"
)

// MemoryShardIndex реализует ShardIndex в памяти.
// Используется по умолчанию и в тестах.
// ВНИМАНИЕ: индекс теряется при перезапуске сервера!
type MemoryShardIndex struct {
	mu     sync.RWMutex
	data   map[string]ShardRecord // имя -> запись
	closed bool
}

// NewMemoryShardIndex создаёт пустой индекс в памяти
func NewMemoryShardIndex() *MemoryShardIndex {
	return &MemoryShardIndex{data: make(map[string]ShardRecord)}
}

func (m *MemoryShardIndex) Put(ctx context.Context, rec ShardRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrIndexClosed
	}
	m.data[rec.Name] = rec
	return nil
}

func (m *MemoryShardIndex) Get(ctx context.Context, name string) (ShardRecord, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return ShardRecord{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ShardRecord{}, false, ErrIndexClosed
	}
	rec, ok := m.data[name]
	return rec, ok, nil
}

func (m *MemoryShardIndex) BySeed(ctx context.Context, seed int) ([]ShardRecord, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []ShardRecord
	for _, r := range all {
		if r.Seed == seed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryShardIndex) List(ctx context.Context) ([]ShardRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrIndexClosed
	}
	out := make([]ShardRecord, 0, len(m.data))
	for _, r := range m.data {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryShardIndex) Delete(ctx context.Context, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryShardIndex) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
