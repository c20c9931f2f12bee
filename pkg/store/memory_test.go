package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEnginePutGet(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()

	require.NoError(t, e.Put(ctx, "a", []byte("hello")))
	data, found, err := e.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	_, found, err = e.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryEngineGetDoesNotAliasStoredBytes(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	original := []byte("hello")
	require.NoError(t, e.Put(ctx, "a", original))

	data, _, err := e.Get(ctx, "a")
	require.NoError(t, err)
	data[0] = 'X'

	data2, _, err := e.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data2, "mutating a Get result must not affect stored state")
}

func TestMemoryEnginePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()

	created, err := e.PutIfAbsent(ctx, "lock", []byte("owner-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.PutIfAbsent(ctx, "lock", []byte("owner-2"))
	require.NoError(t, err)
	assert.False(t, created)

	data, _, err := e.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("owner-1"), data)
}

func TestMemoryEngineDeleteAndList(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	require.NoError(t, e.Put(ctx, "nouns/1", []byte("a")))
	require.NoError(t, e.Put(ctx, "nouns/2", []byte("b")))
	require.NoError(t, e.Put(ctx, "verbs/1", []byte("c")))

	require.NoError(t, e.Delete(ctx, "nouns/1"))
	_, found, err := e.Get(ctx, "nouns/1")
	require.NoError(t, err)
	assert.False(t, found)

	it, err := e.List(ctx, "nouns/")
	require.NoError(t, err)
	var keys []string
	for k := range it {
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"nouns/2"}, keys)
}

func TestMemoryEngineEstimateSize(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	require.NoError(t, e.Put(ctx, "a", []byte("hello")))
	require.NoError(t, e.Put(ctx, "b", []byte("world!")))

	est, err := e.EstimateSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), est.Keys)
	assert.Equal(t, int64(11), est.Bytes)
}
