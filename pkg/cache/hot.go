package cache

import (
	"github.com/dgraph-io/ristretto/v2"
)

// Hot holds deserialized entities (nouns, verbs, metadata) keyed by id.
// It is backed by ristretto rather than a hand-rolled LRU because the
// hot tier needs cost-aware, highly-concurrent admission — exactly what
// ristretto is built for — unlike the warm tier, which only ever stores
// opaque byte blobs and gets by with a plain container/list LRU.
type Hot[V any] struct {
	cache *ristretto.Cache[string, V]
}

// NewHot creates a hot-tier cache budgeted at maxBytes, estimating
// roughly ~10x counters per expected entry the way ristretto's own docs
// recommend.
func NewHot[V any](maxBytes int64) (*Hot[V], error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxBytes / 100 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Hot[V]{cache: cache}, nil
}

// Get returns the cached value for key, if present.
func (h *Hot[V]) Get(key string) (V, bool) {
	return h.cache.Get(key)
}

// Put stores value under key with the given cost (typically its
// serialized size in bytes, so the budget tracks real memory use).
func (h *Hot[V]) Put(key string, value V, cost int64) {
	h.cache.Set(key, value, cost)
}

// Delete evicts key immediately.
func (h *Hot[V]) Delete(key string) {
	h.cache.Del(key)
}

// Close releases ristretto's background goroutines.
func (h *Hot[V]) Close() {
	h.cache.Close()
}
