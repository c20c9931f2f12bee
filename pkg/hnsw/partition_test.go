package hnsw

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/soulcraft-research/brainy/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionedAddAndSearch(t *testing.T) {
	ctx := context.Background()
	p := NewPartitioned(4, func() *Index { return New(2, testConfig()) })

	for i, v := range [][2]float32{{0, 0}, {1, 1}, {5, 5}, {10, 10}} {
		id := string(rune('a' + i))
		require.NoError(t, p.Add(ctx, id, v[:]))
	}

	results, err := p.Search([]float32{0, 0}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestPartitionedSizeSumsShards(t *testing.T) {
	ctx := context.Background()
	p := NewPartitioned(3, func() *Index { return New(2, testConfig()) })
	for i := 0; i < 9; i++ {
		id := string(rune('a' + i))
		require.NoError(t, p.Add(ctx, id, []float32{float32(i), float32(i)}))
	}
	assert.Equal(t, 9, p.Size())
}

func TestPartitionedDelete(t *testing.T) {
	ctx := context.Background()
	p := NewPartitioned(4, func() *Index { return New(2, testConfig()) })
	require.NoError(t, p.Add(ctx, "a", []float32{0, 0}))
	require.NoError(t, p.Delete(ctx, "a", true))
	assert.Equal(t, 0, p.Size())
}

// TestConcurrentWritersAcrossShardsPreserveCount is P7: N concurrent
// writers inserting disjoint id ranges into a shared Partitioned index
// must together produce exactly K nodes, with no lost or duplicated
// inserts from shard-selection races.
func TestConcurrentWritersAcrossShardsPreserveCount(t *testing.T) {
	const writers = 8
	const perWriter = 100

	p := NewPartitioned(16, func() *Index { return New(2, testConfig()) })

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("writer%d-%d", w, i)
				require.NoError(t, p.Add(context.Background(), id, []float32{float32(w), float32(i)}))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, p.Size())
}

func TestOpenPartitionedPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	newIndex := func() *Index { return New(2, testConfig()) }

	p, err := OpenPartitioned(ctx, eng, "index/", 4, newIndex)
	require.NoError(t, err)
	require.NoError(t, p.Add(ctx, "a", []float32{1, 1}))
	require.NoError(t, p.Add(ctx, "b", []float32{9, 9}))

	reopened, err := OpenPartitioned(ctx, eng, "index/", 4, newIndex)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Size())

	results, err := reopened.Search([]float32{1, 1}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}
