package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soulcraft-research/brainy/pkg/errs"
)

// LockBody is the JSON payload written at a lock key. It is also the
// format coordinator.Coordinator reads back to decide whether a lock is
// stale.
type LockBody struct {
	Owner     string    `json:"owner"`
	Acquired  time.Time `json:"acquired"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcquireLock attempts to take ownership of key for ttl, using the
// engine's PutIfAbsent for the initial grab and a reclaim step if the
// existing holder's lease has expired. This mirrors the bookkeeping
// shape of an in-process lock map, translated to ownership over a
// storage key so it works across separate instances (spec.md §4.F).
func AcquireLock(ctx context.Context, eng Engine, key, owner string, ttl time.Duration) (bool, error) {
	body := LockBody{Owner: owner, Acquired: time.Now(), ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("store: marshal lock body: %w", err)
	}

	created, err := eng.PutIfAbsent(ctx, key, data)
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}

	// Someone holds it; reclaim only if their lease has expired. This
	// races with other reclaimers, so re-check after the write by
	// reading the key back — last writer during the race wins the lock
	// and everyone else observes it on their own retry.
	existing, found, err := eng.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		// Raced with a concurrent Delete; try the PutIfAbsent path again.
		created, err := eng.PutIfAbsent(ctx, key, data)
		return created, err
	}

	var current LockBody
	if err := json.Unmarshal(existing, &current); err != nil {
		return false, fmt.Errorf("store: unmarshal lock body %q: %w", key, errs.Corruption)
	}
	if time.Now().Before(current.ExpiresAt) {
		// Re-entrant: the caller already holds this lock, so renewing it
		// before it expires is a refresh, not a conflict.
		if current.Owner == owner {
			if err := eng.Put(ctx, key, data); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if err := eng.Put(ctx, key, data); err != nil {
		return false, err
	}
	after, found, err := eng.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	var winner LockBody
	if err := json.Unmarshal(after, &winner); err != nil {
		return false, fmt.Errorf("store: unmarshal lock body %q: %w", key, errs.Corruption)
	}
	return winner.Owner == owner, nil
}

// RefreshLock extends the TTL on a lock this owner currently holds. It
// fails (without error) if the key is held by a different owner.
func RefreshLock(ctx context.Context, eng Engine, key, owner string, ttl time.Duration) (bool, error) {
	existing, found, err := eng.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	var current LockBody
	if err := json.Unmarshal(existing, &current); err != nil {
		return false, fmt.Errorf("store: unmarshal lock body %q: %w", key, errs.Corruption)
	}
	if current.Owner != owner {
		return false, nil
	}

	current.ExpiresAt = time.Now().Add(ttl)
	data, err := json.Marshal(current)
	if err != nil {
		return false, fmt.Errorf("store: marshal lock body: %w", err)
	}
	return true, eng.Put(ctx, key, data)
}

// ReleaseLock deletes key if it is currently held by owner.
func ReleaseLock(ctx context.Context, eng Engine, key, owner string) error {
	existing, found, err := eng.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	var current LockBody
	if err := json.Unmarshal(existing, &current); err != nil {
		return fmt.Errorf("store: unmarshal lock body %q: %w", key, errs.Corruption)
	}
	if current.Owner != owner {
		return nil
	}
	return eng.Delete(ctx, key)
}

// CollectStaleLocks scans keys under prefix and deletes any whose lease
// has expired, reclaiming space left behind by instances that crashed
// without releasing their lock.
func CollectStaleLocks(ctx context.Context, eng Engine, prefix string) (int, error) {
	it, err := eng.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	var reaped int
	for key := range it {
		data, found, err := eng.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var body LockBody
		if err := json.Unmarshal(data, &body); err != nil {
			continue
		}
		if time.Now().After(body.ExpiresAt) {
			if err := eng.Delete(ctx, key); err == nil {
				reaped++
			}
		}
	}
	return reaped, nil
}
