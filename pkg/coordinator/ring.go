package coordinator

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Ring assigns partitions to instances by consistent hashing over
// instance ids, the same xxhash brainy uses for object-store key
// sharding and HNSW partitioning, so all three subsystems agree on
// placement without sharing state.
type Ring struct {
	partitions  int
	instanceIDs []string
}

// NewRing builds a ring with the given partition count over instanceIDs.
func NewRing(partitions int, instanceIDs []string) *Ring {
	sorted := append([]string{}, instanceIDs...)
	sort.Strings(sorted)
	return &Ring{partitions: partitions, instanceIDs: sorted}
}

// Owner returns the instance id that owns partition p.
func (r *Ring) Owner(p int) string {
	if len(r.instanceIDs) == 0 {
		return ""
	}
	if len(r.instanceIDs) == 1 {
		return r.instanceIDs[0]
	}

	best := r.instanceIDs[0]
	bestScore := r.score(best, p)
	for _, id := range r.instanceIDs[1:] {
		score := r.score(id, p)
		if score < bestScore {
			best = id
			bestScore = score
		}
	}
	return best
}

// score combines partition and instance id into a single hash so
// ownership is deterministic but spread across instances; the instance
// with the lowest score for a given partition owns it (rendezvous
// hashing), which keeps reassignment minimal when instances join or
// leave compared to simple modulo sharding.
func (r *Ring) score(instanceID string, partition int) uint64 {
	key := instanceID + "#" + strconv.Itoa(partition)
	return xxhash.Sum64String(key)
}

// PartitionsOwnedBy returns every partition instanceID currently owns.
func (r *Ring) PartitionsOwnedBy(instanceID string) []int {
	var owned []int
	for p := 0; p < r.partitions; p++ {
		if r.Owner(p) == instanceID {
			owned = append(owned, p)
		}
	}
	return owned
}
