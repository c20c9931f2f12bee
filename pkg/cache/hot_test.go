package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotPutGet(t *testing.T) {
	h, err := NewHot[string](1 << 20)
	require.NoError(t, err)
	defer h.Close()

	h.Put("a", "hello", 5)
	// ristretto's admission is async; give it a moment to land.
	time.Sleep(10 * time.Millisecond)

	v, ok := h.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestHotDelete(t *testing.T) {
	h, err := NewHot[string](1 << 20)
	require.NoError(t, err)
	defer h.Close()

	h.Put("a", "hello", 5)
	time.Sleep(10 * time.Millisecond)
	h.Delete("a")

	_, ok := h.Get("a")
	assert.False(t, ok)
}
