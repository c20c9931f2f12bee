package store

import (
	"context"
	"iter"
	"strings"
	"sync"
)

// MemoryEngine is an in-process Engine backed by a map. It deep-copies
// on every Put and Get so that callers can never alias the stored bytes,
// the same discipline the teacher's in-memory graph engine uses for its
// node/edge maps.
type MemoryEngine struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Engine = (*MemoryEngine)(nil)

// NewMemoryEngine returns an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string][]byte)}
}

func (m *MemoryEngine) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = copyBytes(data)
	return nil
}

func (m *MemoryEngine) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return copyBytes(v), true, nil
}

func (m *MemoryEngine) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryEngine) List(_ context.Context, prefix string) (iter.Seq[string], error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	return func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}, nil
}

func (m *MemoryEngine) PutIfAbsent(_ context.Context, key string, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = copyBytes(data)
	return true, nil
}

func (m *MemoryEngine) EstimateSize(_ context.Context) (SizeEstimate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, v := range m.data {
		total += int64(len(v))
	}
	return SizeEstimate{Keys: int64(len(m.data)), Bytes: total, Approximate: false}, nil
}

func (m *MemoryEngine) Close() error {
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
