package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWarmPutGet(t *testing.T) {
	w := NewWarm(1024, 0)
	w.Put("a", []byte("hello"))

	v, ok := w.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), v)

	_, ok = w.Get("missing")
	assert.False(t, ok)
}

func TestWarmEvictsLeastRecentlyUsed(t *testing.T) {
	w := NewWarm(10, 0) // 10 bytes total budget

	w.Put("a", []byte("12345")) // 5 bytes
	w.Put("b", []byte("12345")) // 5 bytes, now at budget

	// Touch "a" so it's most-recently-used.
	_, _ = w.Get("a")

	w.Put("c", []byte("12345")) // forces eviction of "b"

	_, ok := w.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = w.Get("a")
	assert.True(t, ok)
	_, ok = w.Get("c")
	assert.True(t, ok)
}

func TestWarmExpiresEntries(t *testing.T) {
	w := NewWarm(1024, time.Millisecond)
	w.Put("a", []byte("hello"))

	time.Sleep(5 * time.Millisecond)
	_, ok := w.Get("a")
	assert.False(t, ok)
}

func TestWarmDelete(t *testing.T) {
	w := NewWarm(1024, 0)
	w.Put("a", []byte("hello"))
	w.Delete("a")
	_, ok := w.Get("a")
	assert.False(t, ok)
}

func TestWarmStats(t *testing.T) {
	w := NewWarm(1024, 0)
	w.Put("a", []byte("hello"))
	_, _ = w.Get("a")
	_, _ = w.Get("missing")

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
