// Package config handles brainy configuration via environment variables,
// the same LoadFromEnv/Validate shape the teacher uses, renamed from its
// Neo4j-compatible NORNICDB_ prefix to BRAINY_.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/soulcraft-research/brainy/pkg/vector"
	"go.uber.org/zap"
)

// Role is the part an instance plays in a multi-instance deployment.
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleHybrid Role = "hybrid"
)

// StorageBackend selects which pkg/store.Engine implementation to use.
type StorageBackend string

const (
	BackendMemory     StorageBackend = "memory"
	BackendFilesystem StorageBackend = "filesystem"
	BackendObjectStore StorageBackend = "objectstore"
)

// PerformanceTier indirects a named tier into concrete cache/search
// defaults, the same indirection the teacher's feature-flag-adjacent
// settings use instead of asking operators to tune raw numbers.
type PerformanceTier string

const (
	TierLow      PerformanceTier = "low"
	TierBalanced PerformanceTier = "balanced"
	TierHigh     PerformanceTier = "high"
)

// Config holds all brainy configuration.
type Config struct {
	// Dimension is the fixed vector width for this collection.
	Dimension int
	// Distance selects the HNSW distance metric.
	Distance vector.Metric

	// HNSW geometry.
	M              int
	EfConstruction int
	EfSearch       int

	Storage StorageConfig
	Memory  MemoryBudget

	Role       Role
	InstanceID string
	// Partitions is the fixed shard count the HNSW index and the
	// coordinator's consistent-hash ring both divide the id space into.
	Partitions int

	Encryption EncryptionConfig

	Logger *zap.Logger
}

// StorageConfig selects and configures the storage adapter.
type StorageConfig struct {
	Backend StorageBackend

	// Filesystem backend.
	Root string

	// Object store backend.
	S3Bucket    string
	S3Region    string
	S3KeyPrefix string
}

// MemoryBudget sizes the cache tier, expressed as a tier name that maps
// to concrete byte budgets, or explicit overrides.
type MemoryBudget struct {
	Tier         PerformanceTier
	HotBytes     int64
	WarmBytes    int64
	NegativeSize int
}

// EncryptionConfig controls the optional at-rest encryption path.
type EncryptionConfig struct {
	Enabled bool
	// Passphrase, if set, derives the AES-256 key via PBKDF2. Empty
	// means encryption.Encryptor must be configured with a key manager
	// directly by the caller.
	Passphrase string
}

// LoadFromEnv builds a Config from BRAINY_* environment variables,
// falling back to sensible defaults for anything unset.
func LoadFromEnv() Config {
	logger, _ := zap.NewProduction()
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := Config{
		Dimension:      envInt("BRAINY_DIMENSION", 768),
		Distance:       vector.Metric(envString("BRAINY_DISTANCE", string(vector.Cosine))),
		M:              envInt("BRAINY_HNSW_M", 16),
		EfConstruction: envInt("BRAINY_HNSW_EF_CONSTRUCTION", 200),
		EfSearch:       envInt("BRAINY_HNSW_EF_SEARCH", 64),
		Storage: StorageConfig{
			Backend:     StorageBackend(envString("BRAINY_STORAGE_BACKEND", string(BackendMemory))),
			Root:        envString("BRAINY_STORAGE_ROOT", "data/brainy"),
			S3Bucket:    envString("BRAINY_S3_BUCKET", ""),
			S3Region:    envString("BRAINY_S3_REGION", "us-east-1"),
			S3KeyPrefix: envString("BRAINY_S3_KEY_PREFIX", ""),
		},
		Memory: MemoryBudget{
			Tier:         PerformanceTier(envString("BRAINY_PERFORMANCE_TIER", string(TierBalanced))),
			NegativeSize: envInt("BRAINY_NEGATIVE_CACHE_SIZE", 10_000),
		},
		Role:       Role(envString("BRAINY_ROLE", string(RoleHybrid))),
		InstanceID: envString("BRAINY_INSTANCE_ID", defaultInstanceID()),
		Partitions: envInt("BRAINY_PARTITIONS", 16),
		Encryption: EncryptionConfig{
			Enabled:    envBool("BRAINY_ENCRYPTION_ENABLED", false),
			Passphrase: envString("BRAINY_ENCRYPTION_KEY", ""),
		},
		Logger: logger,
	}

	cfg.Memory.HotBytes, cfg.Memory.WarmBytes = tierBudgets(cfg.Memory.Tier)
	if v := os.Getenv("BRAINY_HOT_CACHE_BYTES"); v != "" {
		cfg.Memory.HotBytes = envInt64("BRAINY_HOT_CACHE_BYTES", cfg.Memory.HotBytes)
	}
	if v := os.Getenv("BRAINY_WARM_CACHE_BYTES"); v != "" {
		cfg.Memory.WarmBytes = envInt64("BRAINY_WARM_CACHE_BYTES", cfg.Memory.WarmBytes)
	}

	return cfg
}

func tierBudgets(tier PerformanceTier) (hot, warm int64) {
	switch tier {
	case TierLow:
		return 32 << 20, 64 << 20
	case TierHigh:
		return 512 << 20, 1 << 30
	default: // TierBalanced
		return 128 << 20, 256 << 20
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "instance-0"
	}
	return host
}

// Validate checks the configuration for internally-inconsistent or
// out-of-range values.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("config: dimension must be positive, got %d", c.Dimension)
	}
	if !c.Distance.Valid() {
		return fmt.Errorf("config: unknown distance metric %q", c.Distance)
	}
	if c.M <= 0 {
		return fmt.Errorf("config: M must be positive, got %d", c.M)
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("config: ef_construction must be positive, got %d", c.EfConstruction)
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("config: ef_search must be positive, got %d", c.EfSearch)
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("config: partitions must be positive, got %d", c.Partitions)
	}
	switch c.Role {
	case RoleReader, RoleWriter, RoleHybrid:
	default:
		return fmt.Errorf("config: unknown role %q", c.Role)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFilesystem:
	case BackendObjectStore:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("config: BRAINY_S3_BUCKET is required for the objectstore backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}
