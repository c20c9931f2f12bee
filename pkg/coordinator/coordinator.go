// Package coordinator manages multi-instance concerns: roles, partition
// assignment, the shared manifest, and the distributed write lock per
// partition.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soulcraft-research/brainy/pkg/config"
	"github.com/soulcraft-research/brainy/pkg/errs"
	"github.com/soulcraft-research/brainy/pkg/store"
	"go.uber.org/zap"
)

const manifestKey = "manifest.json"

// Manifest is the cluster-wide view of geometry, partition assignment,
// and a logical clock, written by whichever instance currently holds
// the manifest lock.
type Manifest struct {
	Dimension     int            `json:"dimension"`
	Distance      string         `json:"distance"`
	M             int            `json:"m"`
	Partitions    int            `json:"partitions"`
	InstanceIDs   []string       `json:"instance_ids"`
	LogicalClock  uint64         `json:"logical_clock"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Coordinator tracks this instance's role and partition ownership, and
// keeps the shared manifest refreshed.
type Coordinator struct {
	eng        store.Engine
	instanceID string
	role       config.Role
	partitions int
	refresh    time.Duration
	logger     *zap.Logger

	ring *Ring
}

// New creates a Coordinator for this instance. partitions is the total
// partition count for the deployment (fixed at cluster creation time).
// The refresh interval is fixed at 10s; RefreshManifest is called by the
// caller's own ticker.
func New(eng store.Engine, instanceID string, role config.Role, partitions int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		eng:        eng,
		instanceID: instanceID,
		role:       role,
		partitions: partitions,
		refresh:    10 * time.Second,
		logger:     logger,
		ring:       NewRing(partitions, []string{instanceID}),
	}
}

// Role returns this instance's configured role.
func (c *Coordinator) Role() config.Role { return c.role }

// OwnedPartitions returns the partitions this instance currently owns
// according to the last-loaded manifest.
func (c *Coordinator) OwnedPartitions() []int {
	return c.ring.PartitionsOwnedBy(c.instanceID)
}

// lockKeyFor returns the storage key for a partition's write lock.
func lockKeyFor(partition int) string {
	return fmt.Sprintf("locks/partition-%d.lock", partition)
}

// AcquireWrite takes the per-partition write lock for ttl. Only
// RoleWriter and RoleHybrid instances may hold a write lock;
// RoleReader instances get errs.RoleViolation.
func (c *Coordinator) AcquireWrite(ctx context.Context, partition int, ttl time.Duration) (bool, error) {
	if c.role == config.RoleReader {
		return false, fmt.Errorf("coordinator: %w: reader instances cannot acquire write locks", errs.RoleViolation)
	}
	got, err := store.AcquireLock(ctx, c.eng, lockKeyFor(partition), c.instanceID, ttl)
	if err != nil {
		return false, err
	}
	if got {
		c.logger.Debug("acquired partition write lock", zap.Int("partition", partition), zap.String("instance", c.instanceID))
	}
	return got, nil
}

// RefreshWrite extends this instance's lease on partition's write lock.
func (c *Coordinator) RefreshWrite(ctx context.Context, partition int, ttl time.Duration) (bool, error) {
	return store.RefreshLock(ctx, c.eng, lockKeyFor(partition), c.instanceID, ttl)
}

// ReleaseWrite releases this instance's write lock on partition.
func (c *Coordinator) ReleaseWrite(ctx context.Context, partition int) error {
	return store.ReleaseLock(ctx, c.eng, lockKeyFor(partition), c.instanceID)
}

// Join registers this instance in the manifest's instance list and
// rebuilds the local ring, then writes the manifest back (bumping the
// logical clock), reaping any lock this instance might have abandoned
// on a previous crash first.
func (c *Coordinator) Join(ctx context.Context, cfg config.Config) error {
	if _, err := store.CollectStaleLocks(ctx, c.eng, "locks/"); err != nil {
		c.logger.Warn("stale lock collection failed", zap.Error(err))
	}

	got, err := store.AcquireLock(ctx, c.eng, "locks/manifest.lock", c.instanceID, 30*time.Second)
	if err != nil {
		return err
	}
	if !got {
		return fmt.Errorf("coordinator: %w: manifest lock held by another instance", errs.Conflict)
	}
	defer store.ReleaseLock(ctx, c.eng, "locks/manifest.lock", c.instanceID)

	m, err := c.loadManifest(ctx)
	if err != nil {
		return err
	}

	found := false
	for _, id := range m.InstanceIDs {
		if id == c.instanceID {
			found = true
			break
		}
	}
	if !found {
		m.InstanceIDs = append(m.InstanceIDs, c.instanceID)
	}

	m.Dimension = cfg.Dimension
	m.Distance = string(cfg.Distance)
	m.M = cfg.M
	if m.Partitions == 0 {
		m.Partitions = c.partitions
	}
	m.LogicalClock++
	m.UpdatedAt = time.Now()

	c.ring = NewRing(m.Partitions, m.InstanceIDs)
	return c.saveManifest(ctx, m)
}

// RefreshManifest reloads the manifest and rebuilds the local ring,
// picking up instance joins/leaves and rebalancing this instance's
// partition ownership accordingly. Call this on a periodic ticker
// (every c.refresh, default 10s).
func (c *Coordinator) RefreshManifest(ctx context.Context) error {
	m, err := c.loadManifest(ctx)
	if err != nil {
		return err
	}
	before := c.ring.PartitionsOwnedBy(c.instanceID)
	c.ring = NewRing(m.Partitions, m.InstanceIDs)
	after := c.ring.PartitionsOwnedBy(c.instanceID)

	if len(before) != len(after) {
		c.logger.Info("partition ownership changed",
			zap.Int("before", len(before)), zap.Int("after", len(after)))
	}
	return nil
}

func (c *Coordinator) loadManifest(ctx context.Context) (Manifest, error) {
	data, found, err := c.eng.Get(ctx, manifestKey)
	if err != nil {
		return Manifest{}, err
	}
	if !found {
		return Manifest{Partitions: c.partitions}, nil
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("coordinator: unmarshal manifest: %w", errs.Corruption)
	}
	return m, nil
}

func (c *Coordinator) saveManifest(ctx context.Context, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("coordinator: marshal manifest: %w", err)
	}
	return c.eng.Put(ctx, manifestKey, data)
}
