// Package cache provides brainy's three-tier lookup cache: a hot tier
// of deserialized entities (pkg/cache/hot.go, backed by ristretto), a
// warm tier of serialized blobs (this file, a container/list LRU), and
// a negative tier recording proven-absent ids (pkg/cache/negative.go).
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// warmEntry is one LRU node, grounded on the teacher's cacheEntry shape
// in pkg/cache/query_cache.go: a key/value pair plus an optional
// expiry.
type warmEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Warm is a bounded LRU cache of serialized entity blobs. Unlike Hot, it
// never deserializes its values, so it can cheaply hold many more
// entries per byte of memory budget.
type Warm struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
	maxBytes int64
	curBytes int64
	ttl      time.Duration // zero means entries never expire on their own

	hits   atomic.Int64
	misses atomic.Int64
}

// NewWarm creates a warm-tier cache bounded by maxBytes of stored value
// data. A zero ttl means entries are only evicted by LRU pressure.
func NewWarm(maxBytes int64, ttl time.Duration) *Warm {
	return &Warm{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		maxBytes: maxBytes,
		ttl:      ttl,
	}
}

// Get returns the cached blob for key, if present and not expired.
func (w *Warm) Get(key string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.items[key]
	if !ok {
		w.misses.Add(1)
		return nil, false
	}
	entry := el.Value.(*warmEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		w.removeElement(el)
		w.misses.Add(1)
		return nil, false
	}

	w.ll.MoveToFront(el)
	w.hits.Add(1)
	return entry.value, true
}

// Put stores value under key, evicting the least-recently-used entries
// if the budget is exceeded.
func (w *Warm) Put(key string, value []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var expiresAt time.Time
	if w.ttl > 0 {
		expiresAt = time.Now().Add(w.ttl)
	}

	if el, ok := w.items[key]; ok {
		old := el.Value.(*warmEntry)
		w.curBytes += int64(len(value)) - int64(len(old.value))
		old.value = value
		old.expiresAt = expiresAt
		w.ll.MoveToFront(el)
	} else {
		entry := &warmEntry{key: key, value: value, expiresAt: expiresAt}
		el := w.ll.PushFront(entry)
		w.items[key] = el
		w.curBytes += int64(len(value))
	}

	for w.curBytes > w.maxBytes && w.ll.Len() > 0 {
		w.removeElement(w.ll.Back())
	}
}

// Delete removes key from the cache.
func (w *Warm) Delete(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.items[key]; ok {
		w.removeElement(el)
	}
}

func (w *Warm) removeElement(el *list.Element) {
	entry := el.Value.(*warmEntry)
	w.ll.Remove(el)
	delete(w.items, entry.key)
	w.curBytes -= int64(len(entry.value))
}

// Stats reports hit/miss counters for observability.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Bytes   int64
}

// Stats returns a snapshot of this cache's counters.
func (w *Warm) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Hits:    w.hits.Load(),
		Misses:  w.misses.Load(),
		Entries: w.ll.Len(),
		Bytes:   w.curBytes,
	}
}
