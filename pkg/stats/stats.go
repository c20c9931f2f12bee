// Package stats implements brainy's day-partitioned statistics store:
// process-local counters that periodically flush and merge into a
// shared per-day blob, protected by the same distributed lock protocol
// pkg/coordinator uses for partition writes.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soulcraft-research/brainy/pkg/store"
)

const lockKey = "locks/statistics.lock"

// Counters holds the per-service counter set spec.md §4.C describes.
// Keys are "<service>:<counter>" so Merge can tell which counters came
// from the same service (max-merged) from which are disjoint
// (sum-merged).
type Counters map[string]int64

// Statistics is the merged, day-scoped view GetStatistics returns.
type Statistics struct {
	Day      string   `json:"day"`
	Counters Counters `json:"counters"`
}

// Merge combines other into s using spec.md's rule: a counter key
// already present in s is treated as the same counter reported by the
// same service and takes the max of the two values (idempotent under
// re-delivery); a key present only in other is a disjoint service's
// counter and is added in full.
func (s *Statistics) Merge(other Statistics) {
	if s.Counters == nil {
		s.Counters = Counters{}
	}
	for k, v := range other.Counters {
		if existing, ok := s.Counters[k]; ok {
			if v > existing {
				s.Counters[k] = v
			}
		} else {
			s.Counters[k] = v
		}
	}
}

// Store accumulates process-local counters and periodically flushes
// them into the shared day blob.
type Store struct {
	eng     store.Engine
	service string

	mu    sync.Mutex
	local Counters

	adds     atomic.Int64
	verbs    atomic.Int64
	metadata atomic.Int64
}

// New creates a Store that flushes under the given service name (e.g.
// an instance id), so concurrent instances' counters merge rather than
// clobbering one another.
func New(eng store.Engine, service string) *Store {
	return &Store{eng: eng, service: service, local: Counters{}}
}

// RecordAdd increments the local add counter.
func (s *Store) RecordAdd() { s.adds.Add(1) }

// RecordVerb increments the local verb counter.
func (s *Store) RecordVerb() { s.verbs.Add(1) }

// RecordMetadata increments the local metadata-update counter.
func (s *Store) RecordMetadata() { s.metadata.Add(1) }

func dayKey(t time.Time) string {
	return "statistics/" + t.UTC().Format("20060102") + ".json"
}

// Flush merges this process's accumulated counters into today's shared
// blob under the statistics lock, then resets the local counters.
func (s *Store) Flush(ctx context.Context) error {
	key := dayKey(time.Now())

	got, err := store.AcquireLock(ctx, s.eng, lockKey, s.service, 30*time.Second)
	if err != nil {
		return err
	}
	if !got {
		return fmt.Errorf("stats: could not acquire statistics lock")
	}
	defer store.ReleaseLock(ctx, s.eng, lockKey, s.service)

	current := Statistics{Day: time.Now().UTC().Format("20060102"), Counters: Counters{}}
	existing, found, err := s.eng.Get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if err := json.Unmarshal(existing, &current); err != nil {
			return fmt.Errorf("stats: unmarshal day blob %q: %w", key, err)
		}
	}

	delta := Statistics{
		Counters: Counters{
			s.service + ":adds":     s.adds.Load(),
			s.service + ":verbs":    s.verbs.Load(),
			s.service + ":metadata": s.metadata.Load(),
		},
	}
	current.Merge(delta)

	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("stats: marshal day blob: %w", err)
	}
	if err := s.eng.Put(ctx, key, data); err != nil {
		return err
	}

	s.adds.Store(0)
	s.verbs.Store(0)
	s.metadata.Store(0)
	return nil
}

// Read merges today's and yesterday's day blobs (so a read near
// midnight still sees counters flushed just before the rollover), with
// no lock required since it is read-only.
func (s *Store) Read(ctx context.Context) (Statistics, error) {
	now := time.Now()
	result := Statistics{Day: now.UTC().Format("20060102"), Counters: Counters{}}

	for _, t := range []time.Time{now, now.Add(-24 * time.Hour)} {
		data, found, err := s.eng.Get(ctx, dayKey(t))
		if err != nil {
			return Statistics{}, err
		}
		if !found {
			continue
		}
		var day Statistics
		if err := json.Unmarshal(data, &day); err != nil {
			return Statistics{}, fmt.Errorf("stats: unmarshal day blob %q: %w", dayKey(t), err)
		}
		result.Merge(day)
	}

	return result, nil
}
