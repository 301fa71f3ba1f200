package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vectordb/pkg/distance"
)

func TestDefaultConfigMatchesSpec(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 16, cfg.HNSWM)
	assert.Equal(t, 200, cfg.HNSWEfConstruction)
	assert.Equal(t, 50, cfg.HNSWEfSearchDefault)
	assert.EqualValues(t, 1_000_000, cfg.MaxElements)
	assert.Equal(t, distance.Cosine, cfg.Metric)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdb.yaml")
	yaml := "dimension: 128\nmetric: l2\nhnsw_m: 32\nthread_pool_size: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.EqualValues(t, 128, cfg.Dimension)
	assert.Equal(t, distance.L2, cfg.Metric)
	assert.Equal(t, 32, cfg.HNSWM)
	assert.Equal(t, 4, cfg.ThreadPoolSize)
	// Fields the file didn't set still carry their defaults.
	assert.Equal(t, 200, cfg.HNSWEfConstruction)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dimension: 64\nthread_pool_size: 2\n"), 0o644))

	t.Setenv("VDB_NUM_THREADS", "8")
	t.Setenv("VDB_SIMD", "scalar")

	cfg, err := LoadFromEnvOrFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ThreadPoolSize, "env override should win over file")
	assert.Equal(t, "scalar", cfg.SIMDOverride)
	assert.EqualValues(t, 64, cfg.Dimension, "file value should survive when env doesn't override it")
}

func TestValidateRejectsZeroDimension(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSIMDOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimension = 4
	cfg.SIMDOverride = "neon"
	assert.Error(t, cfg.Validate())
}

func TestResolvedThreadPoolSizeFallsBackToCPUCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThreadPoolSize = 0
	assert.Positive(t, cfg.ResolvedThreadPoolSize())

	cfg.ThreadPoolSize = 3
	assert.Equal(t, 3, cfg.ResolvedThreadPoolSize())
}
