// Package hnsw implements the Hierarchical Navigable Small World graph
// index brainy uses for approximate nearest-neighbor search over noun
// vectors.
package hnsw

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/soulcraft-research/brainy/pkg/errs"
	"github.com/soulcraft-research/brainy/pkg/vector"
)

// Config holds HNSW geometry parameters.
type Config struct {
	M              int // max connections per node per layer
	EfConstruction int // candidate list size while inserting
	EfSearch       int // candidate list size while searching (can be overridden per-query)
	Distance       vector.Metric

	// ReconnectThreshold is the minimum neighbor count a node may fall to
	// before a hard delete triggers re-linking through its former
	// neighbors' own neighbor lists, per spec.md's delete semantics.
	ReconnectThreshold int
}

// DefaultConfig returns the teacher's defaults, generalized with an
// explicit Distance and ReconnectThreshold.
func DefaultConfig(distance vector.Metric) Config {
	return Config{
		M:                  16,
		EfConstruction:     200,
		EfSearch:           100,
		Distance:           distance,
		ReconnectThreshold: 4,
	}
}

func (c Config) levelMultiplier() float64 {
	return 1.0 / math.Log(float64(c.M))
}

type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string // neighbors[l] = neighbor ids at layer l
	deleted   bool       // soft-tombstoned: excluded from search, still linked
	mu        sync.RWMutex
}

// Index is a single-partition HNSW graph. pkg/hnsw/partition.go composes
// several Index values into a sharded index over a larger id space.
type Index struct {
	config     Config
	dimensions int

	mu         sync.RWMutex
	nodes      map[string]*node
	entryPoint string
	maxLevel   int
}

// New creates an empty index over vectors of the given dimensionality.
func New(dimensions int, config Config) *Index {
	if config.M == 0 {
		config = DefaultConfig(vector.Cosine)
	}
	return &Index{
		config:     config,
		dimensions: dimensions,
		nodes:      make(map[string]*node),
		maxLevel:   0,
	}
}

// Add inserts id/vec into the index, or re-links it if id already
// exists (the orphan-completion path the WAL replay uses).
func (h *Index) Add(id string, vec []float32) error {
	if len(vec) != h.dimensions {
		return fmt.Errorf("hnsw: %w: got %d want %d", errs.DimensionMismatch, len(vec), h.dimensions)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	stored := make([]float32, len(vec))
	copy(stored, vec)

	level := h.randomLevel()
	n := &node{
		id:        id,
		vector:    stored,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]string, 0, h.config.M)
	}

	// Re-adding an existing id (P4's idempotent upsert) must not leave
	// stale back-edges pointing at the old node's neighbor set, so unlink
	// it first; the loop below then re-links fresh neighbors.
	if existing, ok := h.nodes[id]; ok {
		h.unlinkBackEdges(id, existing)
	}

	h.nodes[id] = n

	if h.entryPoint == "" {
		h.entryPoint = id
		h.maxLevel = level
		return nil
	}

	ep := h.entryPoint
	epLevel := h.nodes[ep].level

	for l := epLevel; l > level; l-- {
		ep = h.searchLayerSingle(stored, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := h.searchLayer(stored, ep, h.config.EfConstruction, l)
		neighbors := h.selectNeighborsHeuristic(stored, candidates, h.config.M)
		n.neighbors[l] = neighbors

		for _, neighborID := range neighbors {
			neighbor := h.nodes[neighborID]
			neighbor.mu.Lock()
			if len(neighbor.neighbors) > l {
				if len(neighbor.neighbors[l]) < h.config.M {
					neighbor.neighbors[l] = append(neighbor.neighbors[l], id)
				} else {
					merged := append(append([]string{}, neighbor.neighbors[l]...), id)
					neighbor.neighbors[l] = h.selectNeighborsHeuristic(neighbor.vector, merged, h.config.M)
				}
			}
			neighbor.mu.Unlock()
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entryPoint = id
		h.maxLevel = level
	}

	return nil
}

// Delete removes id. A soft delete tombstones the node so it is
// excluded from search results (I5) but keeps its adjacency intact for
// other nodes' traversal. A hard delete additionally unlinks it from
// every neighbor and, where removal drops a neighbor below
// ReconnectThreshold, re-links that neighbor to the best remaining
// candidates among its former co-neighbors, and promotes a new entry
// point if id was it.
func (h *Index) Delete(id string, hard bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, exists := h.nodes[id]
	if !exists {
		return
	}

	if !hard {
		n.mu.Lock()
		n.deleted = true
		n.mu.Unlock()
		return
	}

	h.unlinkBackEdges(id, n)

	delete(h.nodes, id)

	if h.entryPoint == id {
		h.entryPoint = ""
		h.maxLevel = 0
		for nid, other := range h.nodes {
			if h.entryPoint == "" || other.level > h.maxLevel {
				h.maxLevel = other.level
				h.entryPoint = nid
			}
		}
	}
}

// unlinkBackEdges removes every back-edge n's former neighbors hold
// pointing at id, re-linking any neighbor whose out-degree drops below
// ReconnectThreshold. Caller holds h.mu for writing.
func (h *Index) unlinkBackEdges(id string, n *node) {
	for l := 0; l <= n.level; l++ {
		for _, neighborID := range n.neighbors[l] {
			neighbor, ok := h.nodes[neighborID]
			if !ok || neighborID == id {
				continue
			}
			neighbor.mu.Lock()
			if len(neighbor.neighbors) > l {
				neighbor.neighbors[l] = removeID(neighbor.neighbors[l], id)
				if len(neighbor.neighbors[l]) < h.config.ReconnectThreshold {
					h.reconnectLocked(neighbor, l)
				}
			}
			neighbor.mu.Unlock()
		}
	}
}

// reconnectLocked re-links neighbor at layer l by re-running neighbor
// selection over its remaining neighbors' own neighbor lists (its
// "friends of friends"), giving it fresh candidates to replace the link
// that was just removed. Caller holds neighbor.mu.
func (h *Index) reconnectLocked(neighbor *node, l int) {
	candidateSet := map[string]struct{}{}
	for _, existingID := range neighbor.neighbors[l] {
		candidateSet[existingID] = struct{}{}
		if fof, ok := h.nodes[existingID]; ok && len(fof.neighbors) > l {
			for _, id := range fof.neighbors[l] {
				if id != neighbor.id {
					candidateSet[id] = struct{}{}
				}
			}
		}
	}
	candidates := make([]string, 0, len(candidateSet))
	for id := range candidateSet {
		candidates = append(candidates, id)
	}
	neighbor.neighbors[l] = h.selectNeighborsHeuristic(neighbor.vector, candidates, h.config.M)
}

func removeID(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Result is one hit returned by Search.
type Result struct {
	ID       string
	Distance float64
}

// SearchOptions overrides Index.Search's defaults.
type SearchOptions struct {
	// EfSearch overrides config.EfSearch for this query, letting callers
	// trade recall for latency per-request.
	EfSearch int
}

// Search returns the k nearest neighbors to query. Results are ordered
// ascending by distance, with ties broken lexicographically by id (P10)
// so repeated searches over an unchanged index are fully deterministic.
// Tombstoned (soft-deleted) nodes are excluded (I5). Unresolved neighbor
// ids encountered mid-traversal (e.g. a concurrent hard delete) are
// skipped rather than causing an error.
func (h *Index) Search(query []float32, k int, opts SearchOptions) ([]Result, error) {
	if len(query) != h.dimensions {
		return nil, fmt.Errorf("hnsw: %w: got %d want %d", errs.DimensionMismatch, len(query), h.dimensions)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return nil, nil
	}

	ef := opts.EfSearch
	if ef <= 0 {
		ef = h.config.EfSearch
	}

	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.searchLayerSingle(query, ep, l)
	}

	candidates := h.searchLayer(query, ep, ef, 0)

	type scored struct {
		id   string
		dist float64
	}
	scoredResults := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		n, ok := h.nodes[id]
		if !ok {
			continue
		}
		n.mu.RLock()
		deleted := n.deleted
		vec := n.vector
		n.mu.RUnlock()
		if deleted {
			continue
		}
		d, err := vector.Distance(h.config.Distance, query, vec)
		if err != nil {
			continue
		}
		scoredResults = append(scoredResults, scored{id: id, dist: d})
	}

	sort.Slice(scoredResults, func(i, j int) bool {
		if scoredResults[i].dist != scoredResults[j].dist {
			return scoredResults[i].dist < scoredResults[j].dist
		}
		return scoredResults[i].id < scoredResults[j].id
	})

	if len(scoredResults) > k {
		scoredResults = scoredResults[:k]
	}

	out := make([]Result, len(scoredResults))
	for i, s := range scoredResults {
		out[i] = Result{ID: s.id, Distance: s.dist}
	}
	return out, nil
}

// Size returns the number of nodes currently indexed, including
// soft-deleted ones.
func (h *Index) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// shardSnapshot is the on-disk form of a single shard: entry point, top
// layer, and every node's vector, level, neighbor lists, and tombstone
// state. pkg/hnsw/partition.go writes this under "/index/<partition>/"
// through store.Engine so a restart resumes the graph instead of
// rebuilding it from scratch, per spec.md §4.A's index-shard layout.
type shardSnapshot struct {
	EntryPoint string         `json:"entry_point"`
	MaxLevel   int            `json:"max_level"`
	Nodes      []nodeSnapshot `json:"nodes"`
}

type nodeSnapshot struct {
	ID        string     `json:"id"`
	Vector    []float32  `json:"vector"`
	Level     int        `json:"level"`
	Neighbors [][]string `json:"neighbors"`
	Deleted   bool       `json:"deleted"`
}

// marshalSnapshot serializes the shard's full adjacency graph.
func (h *Index) marshalSnapshot() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := shardSnapshot{EntryPoint: h.entryPoint, MaxLevel: h.maxLevel, Nodes: make([]nodeSnapshot, 0, len(h.nodes))}
	for _, n := range h.nodes {
		n.mu.RLock()
		ns := nodeSnapshot{
			ID:        n.id,
			Vector:    append([]float32{}, n.vector...),
			Level:     n.level,
			Neighbors: make([][]string, len(n.neighbors)),
			Deleted:   n.deleted,
		}
		for l, neighbors := range n.neighbors {
			ns.Neighbors[l] = append([]string{}, neighbors...)
		}
		n.mu.RUnlock()
		snap.Nodes = append(snap.Nodes, ns)
	}
	return json.Marshal(snap)
}

// loadSnapshot replaces the shard's contents with a previously
// marshaled snapshot.
func (h *Index) loadSnapshot(data []byte) error {
	var snap shardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("hnsw: unmarshal shard snapshot: %w", errs.Corruption)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes = make(map[string]*node, len(snap.Nodes))
	for _, ns := range snap.Nodes {
		h.nodes[ns.ID] = &node{
			id:        ns.ID,
			vector:    ns.Vector,
			level:     ns.Level,
			neighbors: ns.Neighbors,
			deleted:   ns.Deleted,
		}
	}
	h.entryPoint = snap.EntryPoint
	h.maxLevel = snap.MaxLevel
	return nil
}

func (h *Index) dist(query []float32, id string) float64 {
	n := h.nodes[id]
	d, err := vector.Distance(h.config.Distance, query, n.vector)
	if err != nil {
		return math.Inf(1)
	}
	return d
}

func (h *Index) searchLayerSingle(query []float32, entryID string, level int) string {
	current := entryID
	currentDist := h.dist(query, current)

	for {
		changed := false
		n := h.nodes[current]
		n.mu.RLock()
		neighbors := n.neighbors[level]
		n.mu.RUnlock()

		for _, neighborID := range neighbors {
			if _, ok := h.nodes[neighborID]; !ok {
				continue
			}
			d := h.dist(query, neighborID)
			if d < currentDist {
				current = neighborID
				currentDist = d
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	return current
}

func (h *Index) searchLayer(query []float32, entryID string, ef int, level int) []string {
	visited := map[string]bool{entryID: true}

	candidates := &distHeap{}
	results := &distHeap{}

	entryDist := h.dist(query, entryID)
	heap.Push(candidates, distItem{id: entryID, dist: entryDist, isMax: false})
	heap.Push(results, distItem{id: entryID, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)

		if results.Len() >= ef {
			furthest := (*results)[0]
			if closest.dist > furthest.dist {
				break
			}
		}

		n, ok := h.nodes[closest.id]
		if !ok {
			continue
		}
		n.mu.RLock()
		neighbors := n.neighbors[level]
		n.mu.RUnlock()

		for _, neighborID := range neighbors {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			if _, ok := h.nodes[neighborID]; !ok {
				continue
			}

			d := h.dist(query, neighborID)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, distItem{id: neighborID, dist: d, isMax: false})
				heap.Push(results, distItem{id: neighborID, dist: d, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	resultList := make([]string, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		item := heap.Pop(results).(distItem)
		resultList[i] = item.id
	}
	return resultList
}

// selectNeighborsHeuristic implements the heuristic pruning rule: a
// candidate is kept only if it is not "dominated" by an already-kept
// candidate, i.e. no kept candidate is closer to it than it is to the
// query. This keeps the neighbor set spread across directions instead
// of clustering on the single nearest cluster, which plain top-M
// selection (the teacher's selectNeighbors) does not guard against.
func (h *Index) selectNeighborsHeuristic(query []float32, candidates []string, m int) []string {
	type distNode struct {
		id   string
		dist float64
	}
	dists := make([]distNode, 0, len(candidates))
	for _, cid := range candidates {
		n, ok := h.nodes[cid]
		if !ok {
			continue
		}
		d, err := vector.Distance(h.config.Distance, query, n.vector)
		if err != nil {
			continue
		}
		dists = append(dists, distNode{id: cid, dist: d})
	}
	sort.Slice(dists, func(i, j int) bool {
		if dists[i].dist != dists[j].dist {
			return dists[i].dist < dists[j].dist
		}
		return dists[i].id < dists[j].id
	})

	selected := make([]string, 0, m)
	for _, cand := range dists {
		if len(selected) >= m {
			break
		}
		dominated := false
		for _, keptID := range selected {
			kept := h.nodes[keptID]
			dToKept, err := vector.Distance(h.config.Distance, kept.vector, h.nodes[cand.id].vector)
			if err != nil {
				continue
			}
			if dToKept < cand.dist {
				dominated = true
				break
			}
		}
		if !dominated {
			selected = append(selected, cand.id)
		}
	}

	// If the heuristic pruned too aggressively (sparse regions of the
	// space), backfill with the closest remaining candidates so a node
	// is never left with fewer neighbors than M allows.
	if len(selected) < m {
		have := map[string]bool{}
		for _, id := range selected {
			have[id] = true
		}
		for _, cand := range dists {
			if len(selected) >= m {
				break
			}
			if !have[cand.id] {
				selected = append(selected, cand.id)
			}
		}
	}

	return selected
}

func (h *Index) randomLevel() int {
	r := rand.Float64()
	return int(-math.Log(r) * h.config.levelMultiplier())
}

type distItem struct {
	id    string
	dist  float64
	isMax bool
}

type distHeap []distItem

func (dh distHeap) Len() int { return len(dh) }
func (dh distHeap) Less(i, j int) bool {
	if dh[i].isMax {
		return dh[i].dist > dh[j].dist
	}
	return dh[i].dist < dh[j].dist
}
func (dh distHeap) Swap(i, j int) { dh[i], dh[j] = dh[j], dh[i] }

func (dh *distHeap) Push(x any) {
	*dh = append(*dh, x.(distItem))
}

func (dh *distHeap) Pop() any {
	old := *dh
	n := len(old)
	x := old[n-1]
	*dh = old[:n-1]
	return x
}
