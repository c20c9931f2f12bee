package hnsw

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/soulcraft-research/brainy/pkg/store"
)

// Partitioned composes several Index shards into one logical index over
// a larger id space than a single in-memory Index can comfortably hold,
// as spec.md §4.D's "partitioned/on-disk operation" requires. Each id is
// assigned to exactly one shard by xxhash, the same hash brainy's
// pkg/coordinator ring and pkg/store/objectstore.go sharding use, so the
// three subsystems agree on "which instance owns this key" without
// sharing state.
//
// When eng is non-nil (see OpenPartitioned/Attach) every Add/Delete
// persists the owning shard's full adjacency graph back to eng under
// "<prefix><partition>/shard.json", the "/index/<partition>/" layout
// spec.md §4.A prescribes; without it (plain NewPartitioned) the index
// is purely in-memory, which is how pkg/hnsw's own tests and any
// short-lived/embedded use exercise it.
type Partitioned struct {
	mu       sync.RWMutex
	shards   []*Index
	newIndex func() *Index
	eng      store.Engine
	prefix   string
}

// NewPartitioned creates n shards, each built by newIndex, with no
// storage backing. Call Attach (or use OpenPartitioned) to make
// subsequent writes durable.
func NewPartitioned(n int, newIndex func() *Index) *Partitioned {
	p := &Partitioned{shards: make([]*Index, n), newIndex: newIndex}
	for i := range p.shards {
		p.shards[i] = newIndex()
	}
	return p
}

// OpenPartitioned builds a Partitioned index backed by eng: each
// shard's adjacency is loaded from its persisted snapshot if one
// exists, so a restart resumes from the last durable graph state
// instead of an empty index. Subsequent Add/Delete calls persist the
// owning shard back to eng synchronously.
func OpenPartitioned(ctx context.Context, eng store.Engine, prefix string, n int, newIndex func() *Index) (*Partitioned, error) {
	p := NewPartitioned(n, newIndex)
	p.Attach(eng, prefix)

	for i, shard := range p.shards {
		data, found, err := eng.Get(ctx, p.shardKey(i))
		if err != nil {
			return nil, fmt.Errorf("hnsw: load shard %d: %w", i, err)
		}
		if !found {
			continue
		}
		if err := shard.loadSnapshot(data); err != nil {
			return nil, fmt.Errorf("hnsw: shard %d: %w", i, err)
		}
	}
	return p, nil
}

// Attach wires eng/prefix onto an already-constructed Partitioned so
// future Add/Delete calls persist shards, without reloading any
// existing snapshot (used by callers that just wiped storage, e.g.
// Database.Clear, and know there is nothing to load).
func (p *Partitioned) Attach(eng store.Engine, prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eng = eng
	p.prefix = prefix
}

func (p *Partitioned) shardKey(i int) string {
	return fmt.Sprintf("%s%d/shard.json", p.prefix, i)
}

func (p *Partitioned) shardIndexFor(id string) int {
	return int(xxhash.Sum64String(id) % uint64(len(p.shards)))
}

// Add routes id/vec to its owning shard and, if storage-backed,
// persists that shard's adjacency graph before returning.
func (p *Partitioned) Add(ctx context.Context, id string, vec []float32) error {
	p.mu.RLock()
	i := p.shardIndexFor(id)
	shard := p.shards[i]
	p.mu.RUnlock()

	if err := shard.Add(id, vec); err != nil {
		return err
	}
	return p.persistShard(ctx, i, shard)
}

// Delete routes the delete to id's owning shard and, if storage-backed,
// persists that shard's adjacency graph before returning.
func (p *Partitioned) Delete(ctx context.Context, id string, hard bool) error {
	p.mu.RLock()
	i := p.shardIndexFor(id)
	shard := p.shards[i]
	p.mu.RUnlock()

	shard.Delete(id, hard)
	return p.persistShard(ctx, i, shard)
}

func (p *Partitioned) persistShard(ctx context.Context, i int, shard *Index) error {
	p.mu.RLock()
	eng := p.eng
	p.mu.RUnlock()
	if eng == nil {
		return nil
	}
	data, err := shard.marshalSnapshot()
	if err != nil {
		return fmt.Errorf("hnsw: marshal shard %d: %w", i, err)
	}
	return eng.Put(ctx, p.shardKey(i), data)
}

// Search broadcasts the query to every shard and merges the results,
// since a partitioned index gives up the ability to route a query to a
// single shard (every shard may hold a near neighbor).
func (p *Partitioned) Search(query []float32, k int, opts SearchOptions) ([]Result, error) {
	p.mu.RLock()
	shards := append([]*Index{}, p.shards...)
	p.mu.RUnlock()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		merged   []Result
		firstErr error
	)

	for _, shard := range shards {
		shard := shard
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := shard.Search(query, k, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			merged = append(merged, res...)
		}()
	}
	wg.Wait()

	if firstErr != nil && len(merged) == 0 {
		return nil, firstErr
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Size returns the total node count across all shards.
func (p *Partitioned) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, s := range p.shards {
		total += s.Size()
	}
	return total
}
