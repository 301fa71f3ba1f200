// Package config loads the database configuration envelope: the
// dimension/metric/HNSW-parameter set fixed at creation, plus the
// runtime knobs (SIMD override, thread pool size) that may vary
// between opens of the same database.
//
// Configuration can come from three places, in ascending priority:
// compiled-in defaults, an optional YAML file, and environment
// variables — env always wins on conflict, the same precedence the
// teacher's own apoc/config.go uses for its LoadFromEnvOrFile.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/vectordb/pkg/distance"
)

// Config is the full configuration envelope, spec.md §6.
type Config struct {
	// Dimension is the fixed vector width, required at creation.
	Dimension uint32 `yaml:"dimension"`
	// Metric selects cosine or L2 distance, default cosine.
	Metric distance.Metric `yaml:"-"`
	// MetricName is Metric's YAML-friendly string form ("cosine"/"l2").
	MetricName string `yaml:"metric"`

	// HNSWM is the base neighbor count per layer, default 16.
	HNSWM int `yaml:"hnsw_m"`
	// HNSWEfConstruction is the insert-time beam width, default 200.
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`
	// HNSWEfSearchDefault is the query-time beam width when a call
	// doesn't override it, default 50.
	HNSWEfSearchDefault int `yaml:"hnsw_ef_search_default"`

	// MaxElements is a soft capacity hint, default 10^6.
	MaxElements uint64 `yaml:"max_elements"`

	// SIMDOverride names a distance kernel tier ("auto", "avx512",
	// "avx2", "scalar"); LoadFromEnv sets it from VDB_SIMD. Validate
	// checks it, but the distance package's dispatch does not read this
	// field: it selects its tier from VDB_SIMD and CPU probing only.
	SIMDOverride string `yaml:"simd_override"`
	// ThreadPoolSize is the configured worker count; 0 = CPU count (see
	// ResolvedThreadPoolSize). Optimize does not consult it.
	ThreadPoolSize int `yaml:"thread_pool_size"`
	// Seed is the HNSW level-assignment RNG seed. DefaultConfig fills it
	// from the wall clock; any value set here, zero included, is used
	// as the seed as-is.
	Seed int64 `yaml:"seed"`

	// LogLevel mirrors VDB_LOG_LEVEL ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`
	// ModelsDir mirrors VDB_MODELS_DIR, passed through unused by the
	// core — it exists only so the encoder collaborator (out of
	// scope, pkg/encoder) has somewhere to find its model files.
	ModelsDir string `yaml:"models_dir"`
}

// DefaultConfig returns the compiled-in defaults, spec.md §6.
func DefaultConfig() Config {
	return Config{
		Metric:              distance.Cosine,
		MetricName:          "cosine",
		HNSWM:               16,
		HNSWEfConstruction:  200,
		HNSWEfSearchDefault: 50,
		MaxElements:         1_000_000,
		SIMDOverride:        "auto",
		ThreadPoolSize:      0,
		Seed:                time.Now().UnixNano(),
		LogLevel:            "info",
	}
}

// LoadConfig reads a YAML config file, falling back to DefaultConfig
// for any field the file doesn't set.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveMetric(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv applies VDB_* environment overrides on top of cfg.
// Unset variables leave cfg's existing values untouched, so callers
// typically pass DefaultConfig() or a LoadConfig() result in.
func LoadFromEnv(cfg Config) Config {
	if v := os.Getenv("VDB_SIMD"); v != "" {
		cfg.SIMDOverride = v
	}
	if v := os.Getenv("VDB_NUM_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ThreadPoolSize = n
		}
	}
	if v := os.Getenv("VDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VDB_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	return cfg
}

// LoadFromEnvOrFile loads filePath if non-empty (or DefaultConfig
// otherwise), then applies environment overrides — env always wins on
// conflict, matching the teacher's apoc.LoadFromEnvOrFile precedence.
func LoadFromEnvOrFile(filePath string) (Config, error) {
	cfg := DefaultConfig()
	if filePath != "" {
		loaded, err := LoadConfig(filePath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	cfg = LoadFromEnv(cfg)
	return cfg, cfg.resolveMetric()
}

// resolveMetric parses MetricName into Metric, defaulting to cosine
// when MetricName is empty.
func (c *Config) resolveMetric() error {
	if c.MetricName == "" {
		c.MetricName = "cosine"
	}
	m, ok := distance.ParseMetric(c.MetricName)
	if !ok {
		return fmt.Errorf("config: unknown metric %q", c.MetricName)
	}
	c.Metric = m
	return nil
}

// Validate checks the envelope for the constraints spec.md §6 pins.
func (c *Config) Validate() error {
	if c.Dimension == 0 {
		return fmt.Errorf("config: dimension must be > 0")
	}
	if c.HNSWM <= 0 {
		return fmt.Errorf("config: hnsw_m must be > 0")
	}
	if c.HNSWEfConstruction <= 0 {
		return fmt.Errorf("config: hnsw_ef_construction must be > 0")
	}
	if c.HNSWEfSearchDefault <= 0 {
		return fmt.Errorf("config: hnsw_ef_search_default must be > 0")
	}
	if c.ThreadPoolSize < 0 {
		return fmt.Errorf("config: thread_pool_size must be >= 0")
	}
	switch c.SIMDOverride {
	case "auto", "avx512", "avx2", "scalar":
	default:
		return fmt.Errorf("config: unknown simd_override %q", c.SIMDOverride)
	}
	return nil
}

// ResolvedThreadPoolSize returns ThreadPoolSize, or the number of
// logical CPUs when it is 0, spec.md §6's "0 = CPU count".
func (c *Config) ResolvedThreadPoolSize() int {
	if c.ThreadPoolSize > 0 {
		return c.ThreadPoolSize
	}
	return runtime.NumCPU()
}
