// Package brainy is the database facade: Open builds a Database from
// config.Config by composing a storage adapter, the HNSW vector index,
// the graph layer, the multi-tier cache, and (in multi-instance
// deployments) the coordinator into one handle.
package brainy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/soulcraft-research/brainy/pkg/cache"
	"github.com/soulcraft-research/brainy/pkg/config"
	"github.com/soulcraft-research/brainy/pkg/coordinator"
	"github.com/soulcraft-research/brainy/pkg/embed"
	"github.com/soulcraft-research/brainy/pkg/encryption"
	"github.com/soulcraft-research/brainy/pkg/errs"
	"github.com/soulcraft-research/brainy/pkg/filter"
	"github.com/soulcraft-research/brainy/pkg/graph"
	"github.com/soulcraft-research/brainy/pkg/hnsw"
	"github.com/soulcraft-research/brainy/pkg/stats"
	"github.com/soulcraft-research/brainy/pkg/store"
	"go.uber.org/zap"
)

const (
	nounPrefix      = "nouns/"
	metaSuffix      = "/metadata"
	indexKeyPrefix  = "index/"
	statsFlushEvery = 30 * time.Second

	// writeLockTTL is how long a write-lock lease lasts once acquired;
	// every write re-acquires (and so refreshes, per the reentrant rule
	// in store.AcquireLock) its partition's lock, approximating the
	// standing per-process lease spec.md §4.F describes without a
	// separate background refresh goroutine.
	writeLockTTL = 30 * time.Second

	// searchExpansionStart/Max bound the filter-after-ANN retry loop
	// spec.md §4.G describes: fetch k*expansion raw HNSW hits, apply the
	// metadata filter, and widen the net if too few survive.
	searchExpansionStart = 2
	searchExpansionMax   = 8
)

// Database is brainy's single entry point: one collection's storage,
// index, graph, cache, and (optionally) cluster coordination.
type Database struct {
	cfg      config.Config
	eng      store.Engine
	idx      *hnsw.Partitioned
	graph    *graph.Graph
	stats    *stats.Store
	coord    *coordinator.Coordinator
	enc      *encryption.Encryptor
	embedder embed.Embedder
	logger   *zap.Logger
	wal      *store.WAL

	hot  *cache.Hot[*store.Noun]
	warm *cache.Warm
	neg  *cache.Negative
}

// AddOptions controls Add's optional behaviors.
type AddOptions struct {
	// Encrypt routes md.Extra's string values through the configured
	// encryption.Encryptor before they are persisted.
	Encrypt bool
}

// SearchOptions controls Search's optional behaviors.
type SearchOptions struct {
	EfSearch int

	// Filter, if non-nil, is evaluated against each hit's metadata after
	// the ANN pass (spec.md §4.G's "filter-after-ANN"); only hits that
	// satisfy it are returned.
	Filter *filter.Expr

	// IncludeRelationships, if true, populates each hit's Relationships
	// with its outgoing verbs via one Adjacency call per hit.
	IncludeRelationships bool
}

// SearchHit is one ranked result from Search/SearchByFilter.
type SearchHit struct {
	ID            store.NounID
	Distance      float64
	Metadata      *store.NounMetadata
	Relationships []*store.Verb
	Partial       bool
}

// Open builds a Database from cfg: selects the storage backend,
// constructs the HNSW index and graph layer over it, wires the cache
// tiers to cfg.Memory's budget, joins the cluster coordinator, and (for
// every role but RoleReader and every backend but BackendMemory)
// replays any write-ahead log left by a prior crash before resetting it
// for this run.
func Open(ctx context.Context, cfg config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("brainy: open storage: %w", err)
	}

	var enc *encryption.Encryptor
	if cfg.Encryption.Enabled {
		enc, err = encryption.NewEncryptorWithPassword(cfg.Encryption.Passphrase, encryption.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("brainy: init encryption: %w", err)
		}
	} else {
		enc = encryption.NewEncryptor(nil, false)
	}

	idx, err := hnsw.OpenPartitioned(ctx, eng, indexKeyPrefix, cfg.Partitions, newIndexFactory(cfg))
	if err != nil {
		return nil, fmt.Errorf("brainy: open hnsw index: %w", err)
	}

	hot, err := cache.NewHot[*store.Noun](cfg.Memory.HotBytes)
	if err != nil {
		return nil, fmt.Errorf("brainy: init hot cache: %w", err)
	}

	coord := coordinator.New(eng, cfg.InstanceID, cfg.Role, cfg.Partitions, logger)
	if err := coord.Join(ctx, cfg); err != nil {
		return nil, fmt.Errorf("brainy: join coordinator: %w", err)
	}

	var wal *store.WAL
	if cfg.Role != config.RoleReader && cfg.Storage.Backend != config.BackendMemory {
		walDir := filepath.Join(walRoot(cfg.Storage), "wal", cfg.InstanceID)
		wal, err = store.NewWAL(store.DefaultWALConfig(walDir))
		if err != nil {
			return nil, fmt.Errorf("brainy: open wal: %w", err)
		}
		if err := replayWAL(ctx, walDir, idx); err != nil {
			return nil, fmt.Errorf("brainy: replay wal: %w", err)
		}
		if err := wal.Reset(); err != nil {
			return nil, fmt.Errorf("brainy: reset wal: %w", err)
		}
	}

	db := &Database{
		cfg:      cfg,
		eng:      eng,
		idx:      idx,
		graph:    graph.New(eng),
		stats:    stats.New(eng, cfg.InstanceID),
		coord:    coord,
		enc:      enc,
		logger:   logger,
		wal:      wal,
		hot:      hot,
		warm:     cache.NewWarm(cfg.Memory.WarmBytes, 0),
		neg:      cache.NewNegative(cfg.Memory.NegativeSize, 5*time.Minute),
	}
	return db, nil
}

// WithEmbedder attaches an Embedder used to turn text into vectors in
// Add/Search when called with a string instead of a []float32.
func (db *Database) WithEmbedder(e embed.Embedder) *Database {
	db.embedder = e
	return db
}

func openEngine(cfg config.Config) (store.Engine, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return store.NewMemoryEngine(), nil
	case config.BackendFilesystem:
		return store.NewFilesystemEngine(cfg.Storage.Root)
	case config.BackendObjectStore:
		return nil, fmt.Errorf("brainy: objectstore backend requires an aws.Config; use store.NewObjectStoreEngine directly and pass the result via a custom Open path")
	default:
		return nil, fmt.Errorf("brainy: %w: unknown storage backend %q", errs.InvalidArgument, cfg.Storage.Backend)
	}
}

func newIndexFactory(cfg config.Config) func() *hnsw.Index {
	hnswCfg := hnsw.Config{
		M:                  cfg.M,
		EfConstruction:     cfg.EfConstruction,
		EfSearch:           cfg.EfSearch,
		Distance:           cfg.Distance,
		ReconnectThreshold: 4,
	}
	return func() *hnsw.Index { return hnsw.New(cfg.Dimension, hnswCfg) }
}

// walRoot picks a local directory for the instance's write-ahead log.
// An object-store-backed writer still needs a local crash-recovery log
// for its own in-flight operations (per spec.md §7), so only the
// memory backend — which has no crash to recover from, since nothing
// outlives the process either way — skips WAL wiring entirely; every
// other backend nests its WAL under its configured root.
func walRoot(sc config.StorageConfig) string {
	if sc.Root != "" {
		return sc.Root
	}
	return "data/brainy"
}

// walNounPayload is the WAL record for a noun insert: enough to redo
// the HNSW insertion (storage's own put is separately durable once it
// succeeds) on replay.
type walNounPayload struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// walDeletePayload is the WAL record for a noun delete.
type walDeletePayload struct {
	ID   string `json:"id"`
	Hard bool   `json:"hard"`
}

// replayWAL reapplies every insert/delete entry found in dir's WAL
// against idx. This is spec.md §4.D's "orphan completion": a crash
// between writing a noun's storage blob and updating its HNSW
// back-edges leaves a node with no edges, which replaying the insert
// fixes, since hnsw.Index.Add re-links an existing id's neighbors
// (P4's idempotent-upsert path) rather than erroring.
func replayWAL(ctx context.Context, dir string, idx *hnsw.Partitioned) error {
	return store.Replay(dir, func(entry store.WALEntry) error {
		switch entry.Operation {
		case store.OpInsertNoun:
			var p walNounPayload
			if err := json.Unmarshal(entry.Data, &p); err != nil {
				return fmt.Errorf("brainy: wal decode insert: %w", err)
			}
			return idx.Add(ctx, p.ID, p.Vector)
		case store.OpDeleteNoun:
			var p walDeletePayload
			if err := json.Unmarshal(entry.Data, &p); err != nil {
				return fmt.Errorf("brainy: wal decode delete: %w", err)
			}
			return idx.Delete(ctx, p.ID, p.Hard)
		default:
			return nil
		}
	})
}

func generateID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// partitionFor computes which HNSW/coordinator partition id belongs to,
// using the same hash and modulus hnsw.Partitioned shards with, so the
// facade can ask the coordinator for the right partition's write lock
// without the two packages sharing state.
func (db *Database) partitionFor(id string) int {
	return int(xxhash.Sum64String(id) % uint64(db.cfg.Partitions))
}

// acquireWrite enforces I7/role routing for a mutation touching id: a
// reader instance is rejected outright (RoleViolation); a writer or
// hybrid instance must hold (or successfully acquire) id's partition
// write-lock, or the call is a Conflict with whoever else holds it.
func (db *Database) acquireWrite(ctx context.Context, id string) error {
	if db.cfg.Role == config.RoleReader {
		return fmt.Errorf("brainy: %w: reader instances cannot write", errs.RoleViolation)
	}
	partition := db.partitionFor(id)
	ok, err := db.coord.AcquireWrite(ctx, partition, writeLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("brainy: %w: partition %d write lock held by another instance", errs.Conflict, partition)
	}
	return nil
}

// resolveVector turns vecOrText into a []float32, embedding text via
// db.embedder if a string was given.
func (db *Database) resolveVector(ctx context.Context, vecOrText any) ([]float32, error) {
	switch v := vecOrText.(type) {
	case []float32:
		return v, nil
	case string:
		if db.embedder == nil {
			return nil, fmt.Errorf("brainy: %w: no embedder configured for text input", errs.InvalidArgument)
		}
		return db.embedder.Embed(ctx, v)
	default:
		return nil, fmt.Errorf("brainy: %w: add/search input must be []float32 or string", errs.InvalidArgument)
	}
}

// Add inserts a new noun (or replaces an existing one if id is
// non-empty and already present), generating an id when none is given.
func (db *Database) Add(ctx context.Context, vecOrText any, md *store.NounMetadata, id string, opts AddOptions) (store.NounID, error) {
	vec, err := db.resolveVector(ctx, vecOrText)
	if err != nil {
		return "", err
	}
	if len(vec) != db.cfg.Dimension {
		return "", fmt.Errorf("brainy: %w: got %d want %d", errs.DimensionMismatch, len(vec), db.cfg.Dimension)
	}

	if id == "" {
		id = generateID("n")
	}
	nounID := store.NounID(id)

	if err := db.acquireWrite(ctx, id); err != nil {
		return "", err
	}

	if md == nil {
		md = &store.NounMetadata{}
	}
	now := time.Now()
	md.CreatedAt = now
	md.UpdatedAt = now
	md.IsPlaceholder = false

	if opts.Encrypt && db.enc.IsEnabled() && md.Extra != nil {
		encrypted := make(map[string]any, len(md.Extra))
		for k, v := range md.Extra {
			s, ok := v.(string)
			if !ok {
				encrypted[k] = v
				continue
			}
			field, err := db.enc.EncryptField(s)
			if err != nil {
				return "", fmt.Errorf("brainy: encrypt field %q: %w", k, err)
			}
			encrypted[k] = field
		}
		md.Extra = encrypted
	}

	if db.wal != nil {
		if _, err := db.wal.Append(store.OpInsertNoun, walNounPayload{ID: id, Vector: vec}); err != nil {
			return "", fmt.Errorf("brainy: wal append: %w", err)
		}
	}

	noun := store.Noun{ID: nounID, Vector: vec}
	data, err := json.Marshal(noun)
	if err != nil {
		return "", fmt.Errorf("brainy: marshal noun: %w", err)
	}
	if err := db.eng.Put(ctx, nounKey(nounID), data); err != nil {
		return "", err
	}
	mdData, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("brainy: marshal metadata: %w", err)
	}
	if err := db.eng.Put(ctx, metadataKey(nounID), mdData); err != nil {
		return "", err
	}

	if err := db.idx.Add(ctx, string(nounID), vec); err != nil {
		return "", err
	}

	db.hot.Put(string(nounID), &noun, int64(len(data)))
	db.neg.Forget(string(nounID))
	db.stats.RecordAdd()

	return nounID, nil
}

// AddVerb creates a directed, typed edge from source to target,
// synthesizing placeholder nouns for either endpoint that does not yet
// exist. Write-lock gating follows the source noun's partition.
func (db *Database) AddVerb(ctx context.Context, source, target store.NounID, verbType string, md map[string]any, vec []float32) (store.VerbID, error) {
	if err := db.acquireWrite(ctx, string(source)); err != nil {
		return "", err
	}

	id := store.VerbID(generateID("v"))
	if _, err := db.graph.AddVerb(ctx, id, source, target, verbType, vec, md); err != nil {
		return "", err
	}
	db.stats.RecordVerb()
	return id, nil
}

// GetVerb looks up a verb by id.
func (db *Database) GetVerb(ctx context.Context, id store.VerbID) (*store.Verb, error) {
	return db.graph.GetVerb(ctx, id)
}

// Adjacency returns the verbs incident to id, per graph.Direction.
func (db *Database) Adjacency(ctx context.Context, id store.NounID, dir graph.Direction, verbType string) ([]*store.Verb, error) {
	return db.graph.Adjacency(ctx, id, dir, verbType)
}

// Get returns a noun and its metadata, checking the negative cache, then
// the hot cache, then the storage adapter for the noun; its metadata is
// read through the warm cache before the storage adapter. Get is
// always permitted regardless of role (spec.md §4.G: a write-only
// instance still answers existence checks by going direct to storage).
func (db *Database) Get(ctx context.Context, id store.NounID) (*store.Noun, *store.NounMetadata, error) {
	key := string(id)
	if db.neg.Known(key) {
		return nil, nil, errs.NotFound
	}
	if noun, ok := db.hot.Get(key); ok {
		md, err := db.getMetadata(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		return noun, md, nil
	}

	data, found, err := db.eng.Get(ctx, nounKey(id))
	if err != nil {
		return nil, nil, err
	}
	if !found {
		db.neg.MarkAbsent(key)
		return nil, nil, errs.NotFound
	}

	var noun store.Noun
	if err := json.Unmarshal(data, &noun); err != nil {
		return nil, nil, fmt.Errorf("brainy: unmarshal noun %q: %w", id, errs.Corruption)
	}
	db.hot.Put(key, &noun, int64(len(data)))

	md, err := db.getMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &noun, md, nil
}

func (db *Database) getMetadata(ctx context.Context, id store.NounID) (*store.NounMetadata, error) {
	key := string(id) + metaSuffix
	if blob, ok := db.warm.Get(key); ok {
		var md store.NounMetadata
		if err := json.Unmarshal(blob, &md); err == nil {
			return db.decryptMetadata(&md)
		}
	}

	data, found, err := db.eng.Get(ctx, metadataKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return &store.NounMetadata{}, nil
	}
	db.warm.Put(key, data)

	var md store.NounMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("brainy: unmarshal metadata %q: %w", id, errs.Corruption)
	}
	return db.decryptMetadata(&md)
}

func (db *Database) decryptMetadata(md *store.NounMetadata) (*store.NounMetadata, error) {
	if !db.enc.IsEnabled() || md.Extra == nil {
		return md, nil
	}
	decrypted := make(map[string]any, len(md.Extra))
	for k, v := range md.Extra {
		s, ok := v.(string)
		if !ok {
			decrypted[k] = v
			continue
		}
		plain, err := db.enc.DecryptField(s)
		if err != nil {
			return nil, fmt.Errorf("brainy: decrypt field %q: %w", k, err)
		}
		decrypted[k] = plain
	}
	md.Extra = decrypted
	return md, nil
}

// Delete removes id. A soft delete tombstones the noun's metadata and
// its HNSW entry (excluded from search, adjacency intact); a hard
// delete unlinks it from the HNSW graph and removes its storage
// entries outright.
func (db *Database) Delete(ctx context.Context, id store.NounID, hard bool) error {
	if err := db.acquireWrite(ctx, string(id)); err != nil {
		return err
	}

	if db.wal != nil {
		if _, err := db.wal.Append(store.OpDeleteNoun, walDeletePayload{ID: string(id), Hard: hard}); err != nil {
			return fmt.Errorf("brainy: wal append: %w", err)
		}
	}

	if err := db.idx.Delete(ctx, string(id), hard); err != nil {
		return err
	}
	db.hot.Delete(string(id))
	db.warm.Delete(string(id) + metaSuffix)

	if !hard {
		md, err := db.getMetadata(ctx, id)
		if err != nil && err != errs.NotFound {
			return err
		}
		if md == nil {
			md = &store.NounMetadata{}
		}
		md.Tombstoned = true
		md.UpdatedAt = time.Now()
		data, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("brainy: marshal metadata: %w", err)
		}
		return db.eng.Put(ctx, metadataKey(id), data)
	}

	if err := db.eng.Delete(ctx, nounKey(id)); err != nil {
		return err
	}
	if err := db.eng.Delete(ctx, metadataKey(id)); err != nil {
		return err
	}
	db.neg.MarkAbsent(string(id))
	return nil
}

// Search returns the k nearest nouns to query (a []float32 vector or a
// string embedded via the configured Embedder), honoring ctx
// cancellation by returning whatever results were gathered so far with
// Partial set. A write-only instance is rejected with RoleViolation
// (spec.md §4.G).
func (db *Database) Search(ctx context.Context, query any, k int, opts SearchOptions) ([]SearchHit, error) {
	if db.cfg.Role == config.RoleWriter {
		return nil, fmt.Errorf("brainy: %w: write-only instances cannot search", errs.RoleViolation)
	}

	vec, err := db.resolveVector(ctx, query)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, k)
	for expansion := searchExpansionStart; ; expansion *= 2 {
		raw, err := db.idx.Search(vec, k*expansion, hnsw.SearchOptions{EfSearch: opts.EfSearch})
		if err != nil {
			return nil, err
		}

		ids := make([]string, len(raw))
		for i, r := range raw {
			ids[i] = r.ID
		}
		cache.Prefetch(ctx, ids, func(ctx context.Context, id string) error {
			_, err := db.getMetadata(ctx, store.NounID(id))
			return err
		})

		hits = hits[:0]
		partial := false
		for _, r := range raw {
			select {
			case <-ctx.Done():
				partial = true
			default:
			}
			if partial {
				break
			}

			md, err := db.getMetadata(ctx, store.NounID(r.ID))
			if err != nil && err != errs.NotFound {
				return nil, err
			}
			if md != nil && (md.Tombstoned || md.IsPlaceholder) {
				continue
			}
			if opts.Filter != nil {
				extra := map[string]any{}
				if md != nil {
					extra = md.Extra
				}
				if !filter.Eval(*opts.Filter, extra) {
					continue
				}
			}
			hits = append(hits, SearchHit{ID: store.NounID(r.ID), Distance: r.Distance, Metadata: md})
			if len(hits) >= k {
				break
			}
		}
		if partial {
			for i := range hits {
				hits[i].Partial = true
			}
		}

		doneExpanding := partial || len(hits) >= k || expansion >= searchExpansionMax || len(raw) < k*expansion
		if doneExpanding {
			break
		}
	}

	if opts.IncludeRelationships {
		for i := range hits {
			verbs, err := db.graph.Adjacency(ctx, hits[i].ID, graph.Outgoing, "")
			if err != nil {
				return nil, err
			}
			hits[i].Relationships = verbs
		}
	}

	return hits, nil
}

// SearchByFilter scans stored noun metadata for matches against f,
// returning up to k hits with Distance left at zero since this path
// does no vector ranking. Intended for metadata-only queries; combine
// with Search client-side for hybrid ranking.
func (db *Database) SearchByFilter(ctx context.Context, f filter.Expr, k int) ([]SearchHit, error) {
	keys, err := db.eng.List(ctx, nounPrefix)
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for key := range keys {
		if len(key) > len(nounPrefix)+len(metaSuffix)-1 && hasMetaSuffix(key) {
			continue
		}
		id := store.NounID(key[len(nounPrefix):])

		md, err := db.getMetadata(ctx, id)
		if err != nil {
			if err == errs.NotFound {
				continue
			}
			return nil, err
		}
		if md.Tombstoned || md.IsPlaceholder {
			continue
		}
		if !filter.Eval(f, md.Extra) {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Metadata: md})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

func hasMetaSuffix(key string) bool {
	return len(key) >= len(metaSuffix) && key[len(key)-len(metaSuffix):] == metaSuffix
}

// GetStatistics returns this collection's merged today/yesterday usage
// counters.
func (db *Database) GetStatistics(ctx context.Context) (stats.Statistics, error) {
	return db.stats.Read(ctx)
}

// FlushStatistics merges local counters into the shared day blob; call
// periodically (e.g. every statsFlushEvery) rather than on every Add.
func (db *Database) FlushStatistics(ctx context.Context) error {
	return db.stats.Flush(ctx)
}

// Clear removes every noun and verb and resets the in-memory index and
// caches, leaving the coordinator's manifest untouched.
func (db *Database) Clear(ctx context.Context) error {
	keys, err := db.eng.List(ctx, "")
	if err != nil {
		return err
	}
	for key := range keys {
		if key == "manifest.json" {
			continue
		}
		if err := db.eng.Delete(ctx, key); err != nil {
			return err
		}
	}

	db.idx = hnsw.NewPartitioned(db.cfg.Partitions, newIndexFactory(db.cfg))
	db.idx.Attach(db.eng, indexKeyPrefix)
	hot, err := cache.NewHot[*store.Noun](db.cfg.Memory.HotBytes)
	if err != nil {
		return fmt.Errorf("brainy: init hot cache: %w", err)
	}
	db.hot.Close()
	db.hot = hot
	db.warm = cache.NewWarm(db.cfg.Memory.WarmBytes, 0)
	db.neg = cache.NewNegative(db.cfg.Memory.NegativeSize, 5*time.Minute)
	return nil
}

// Close releases resources held by the storage adapter, the WAL (if
// this instance holds one), and the hot cache.
func (db *Database) Close() error {
	db.hot.Close()
	if db.wal != nil {
		if err := db.wal.Close(); err != nil {
			return err
		}
	}
	return db.eng.Close()
}

func nounKey(id store.NounID) string     { return nounPrefix + string(id) }
func metadataKey(id store.NounID) string { return nounPrefix + string(id) + metaSuffix }
