package hnsw

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/soulcraft-research/brainy/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig(vector.Euclidean)
	cfg.M = 4
	cfg.EfConstruction = 32
	cfg.EfSearch = 32
	return cfg
}

func TestAddAndSearchFindsNearest(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{0, 0}))
	require.NoError(t, idx.Add("b", []float32{10, 10}))
	require.NoError(t, idx.Add("c", []float32{0.1, 0.1}))

	results, err := idx.Search([]float32{0, 0}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx := New(3, testConfig())
	_, err := idx.Search([]float32{1, 2}, 1, SearchOptions{})
	require.Error(t, err)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(2, testConfig())
	results, err := idx.Search([]float32{0, 0}, 5, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSoftDeleteExcludesFromSearch(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{0, 0}))
	require.NoError(t, idx.Add("b", []float32{5, 5}))

	idx.Delete("a", false)

	results, err := idx.Search([]float32{0, 0}, 2, SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHardDeleteRemovesNode(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{0, 0}))
	require.NoError(t, idx.Add("b", []float32{5, 5}))
	require.NoError(t, idx.Add("c", []float32{10, 10}))

	idx.Delete("b", true)
	assert.Equal(t, 2, idx.Size())

	results, err := idx.Search([]float32{5, 5}, 3, SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "b", r.ID)
	}
}

func TestSearchIsDeterministicOnTies(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("b", []float32{1, 0}))
	require.NoError(t, idx.Add("a", []float32{1, 0}))

	results, err := idx.Search([]float32{1, 0}, 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID, "equal-distance ties break lexicographically by id")
	assert.Equal(t, "b", results[1].ID)
}

func TestAddDimensionMismatch(t *testing.T) {
	idx := New(3, testConfig())
	err := idx.Add("a", []float32{1, 2})
	require.Error(t, err)
}

// TestRecallFloorAgainstBruteForce is P6: for a modest-dimension random
// dataset with a generous ef_search, HNSW's top-10 must overlap a
// brute-force top-10 at least 95% of the time.
func TestRecallFloorAgainstBruteForce(t *testing.T) {
	const (
		n    = 1000
		dim  = 32
		k    = 10
		ef   = 200
		tryN = 20
	)

	rng := rand.New(rand.NewSource(7))
	cfg := DefaultConfig(vector.Euclidean)
	cfg.EfSearch = ef
	idx := New(dim, cfg)

	vectors := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("v%d", i)
		v := randomVector(rng, dim)
		vectors[id] = v
		require.NoError(t, idx.Add(id, v))
	}

	var totalOverlap, totalExpected int
	for q := 0; q < tryN; q++ {
		query := randomVector(rng, dim)

		bruteIDs := bruteForceTopK(vectors, query, k)
		hnswResults, err := idx.Search(query, k, SearchOptions{EfSearch: ef})
		require.NoError(t, err)

		hnswSet := make(map[string]bool, len(hnswResults))
		for _, r := range hnswResults {
			hnswSet[r.ID] = true
		}
		for _, id := range bruteIDs {
			if hnswSet[id] {
				totalOverlap++
			}
		}
		totalExpected += len(bruteIDs)
	}

	recall := float64(totalOverlap) / float64(totalExpected)
	assert.GreaterOrEqual(t, recall, 0.95, "recall@%d was %.3f over %d queries", k, recall, tryN)
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func bruteForceTopK(vectors map[string][]float32, query []float32, k int) []string {
	type scored struct {
		id   string
		dist float64
	}
	scoredAll := make([]scored, 0, len(vectors))
	for id, v := range vectors {
		d, err := vector.Distance(vector.Euclidean, query, v)
		if err != nil {
			continue
		}
		scoredAll = append(scoredAll, scored{id: id, dist: d})
	}
	sort.Slice(scoredAll, func(i, j int) bool { return scoredAll[i].dist < scoredAll[j].dist })
	if len(scoredAll) > k {
		scoredAll = scoredAll[:k]
	}
	ids := make([]string, len(scoredAll))
	for i, s := range scoredAll {
		ids[i] = s.id
	}
	return ids
}

func TestDeleteMissingIDIsNoop(t *testing.T) {
	idx := New(2, testConfig())
	assert.NotPanics(t, func() {
		idx.Delete("missing", true)
	})
}

func TestReAddSameIDIsIdempotentUpsert(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{0, 0}))
	require.NoError(t, idx.Add("b", []float32{1, 1}))
	require.NoError(t, idx.Add("c", []float32{10, 10}))
	sizeBefore := idx.Size()

	require.NoError(t, idx.Add("a", []float32{0.5, 0.5}))
	assert.Equal(t, sizeBefore, idx.Size(), "re-adding an existing id must not grow the index")

	results, err := idx.Search([]float32{0.5, 0.5}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	for _, n := range idx.nodes {
		for l, neighbors := range n.neighbors {
			for _, nb := range neighbors {
				other, ok := idx.nodes[nb]
				if !ok || len(other.neighbors) <= l {
					continue
				}
				assert.Contains(t, other.neighbors[l], n.id, "edge %s->%s at layer %d must be bidirectional", n.id, nb, l)
			}
		}
	}
}

func TestSizeCountsTombstonedNodes(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{0, 0}))
	idx.Delete("a", false)
	assert.Equal(t, 1, idx.Size())
}
