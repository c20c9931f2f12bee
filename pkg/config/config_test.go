package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 768, cfg.Dimension)
	assert.Equal(t, RoleHybrid, cfg.Role)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("BRAINY_DIMENSION", "384")
	t.Setenv("BRAINY_DISTANCE", "euclidean")
	t.Setenv("BRAINY_ROLE", "writer")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 384, cfg.Dimension)
	assert.EqualValues(t, "euclidean", cfg.Distance)
	assert.Equal(t, RoleWriter, cfg.Role)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.Dimension = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadFromEnv()
	cfg.Distance = "bogus"
	assert.Error(t, cfg.Validate())

	cfg = LoadFromEnv()
	cfg.Storage.Backend = BackendObjectStore
	cfg.Storage.S3Bucket = ""
	assert.Error(t, cfg.Validate())
}

func TestPerformanceTierSelectsBudgets(t *testing.T) {
	hot, warm := tierBudgets(TierLow)
	hotHigh, warmHigh := tierBudgets(TierHigh)
	assert.Less(t, hot, hotHigh)
	assert.Less(t, warm, warmHigh)
}
