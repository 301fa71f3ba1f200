// Package vectordb is the database façade: it sequences writes across
// the vector arena, metadata store, and HNSW graph, and presents the
// single public surface spec.md §4.E pins — open, create, insert,
// search, tombstone, flush, optimize, stats, close.
//
// Mirrors the teacher's pkg/nornicdb/db.go shape: a struct guarded by
// a sync.RWMutex (many concurrent readers, one writer at a time), a
// lifecycle of Create/Open/Close, and vdberrors-typed failures
// throughout. Concurrent writers across processes are excluded by a
// gofrs/flock lockfile, grounded on Aman-CERP-amanmcp's
// internal/embed/lock.go.
package vectordb

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/vectordb/pkg/arena"
	"github.com/orneryd/vectordb/pkg/config"
	"github.com/orneryd/vectordb/pkg/hnsw"
	"github.com/orneryd/vectordb/pkg/metadata"
	"github.com/orneryd/vectordb/pkg/planner"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// histogramAttr is the one attribute the façade maintains a
// planner.Histogram for. Doc type is the filter spec.md's worked
// examples lean on most heavily; other attributes still fall back to
// planner.Estimate's sampling.
const histogramAttr = "doc_type"

const (
	vectorsFileName  = "vectors.bin"
	metadataFileName = "metadata.jsonl"
	graphFileName    = "index.hnsw"
	configFileName   = "config.yaml"
	lockFileName     = "lockfile"
)

// DB is one open database directory. All exported methods are safe
// for concurrent use; mu excludes concurrent writers from each other
// and from readers, while Search/Stats only need the read lock since
// arena and graph are internally lock-free/self-synchronizing on
// their own read paths.
type DB struct {
	dir string
	cfg config.Config

	mu        rwLocker
	arena     *arena.Arena
	meta      *metadata.Store
	graph     *hnsw.Graph
	histogram *planner.Histogram

	lock   *flock.Flock
	logger *log.Logger
	tracer trace.Tracer
}

// rwLocker is sync.RWMutex's interface, broken out only so tests can
// substitute a spy; production always uses the real mutex.
type rwLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

func newLogger(cfg config.Config) *log.Logger {
	prefix := fmt.Sprintf("[vectordb:%s] ", cfg.LogLevel)
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

func acquireLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "vectordb.acquireLock", err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "vectordb.acquireLock", err)
	}
	if !ok {
		return nil, vdberrors.New(vdberrors.Concurrency, "vectordb.acquireLock", "database already open for writing by another process")
	}
	return fl, nil
}

// Create initializes a new database directory with the given
// configuration and returns it opened.
func Create(dir string, cfg config.Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, vdberrors.New(vdberrors.InvalidArgument, "vectordb.Create", err.Error())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "vectordb.Create", err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	a, err := arena.Create(filepath.Join(dir, vectorsFileName), cfg.Dimension, cfg.Metric)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	m, err := metadata.Create(filepath.Join(dir, metadataFileName))
	if err != nil {
		a.Close()
		lock.Unlock()
		return nil, err
	}

	g := hnsw.New(hnswConfigFrom(cfg), a)

	if err := writeConfigFile(dir, cfg); err != nil {
		m.Close()
		a.Close()
		lock.Unlock()
		return nil, err
	}

	return &DB{
		dir: dir, cfg: cfg,
		mu: &sync.RWMutex{}, arena: a, meta: m, graph: g, histogram: planner.NewHistogram(),
		lock: lock, logger: newLogger(cfg), tracer: otel.Tracer("github.com/orneryd/vectordb"),
	}, nil
}

// Open opens an existing database directory, replaying its stores.
func Open(dir string) (*DB, error) {
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(dir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	cfg = config.LoadFromEnv(cfg)

	a, err := arena.Open(filepath.Join(dir, vectorsFileName))
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	m, err := metadata.Open(filepath.Join(dir, metadataFileName))
	if err != nil {
		a.Close()
		lock.Unlock()
		return nil, err
	}

	g, err := hnsw.Load(filepath.Join(dir, graphFileName), hnswConfigFrom(cfg), a)
	if err != nil {
		m.Close()
		a.Close()
		lock.Unlock()
		return nil, err
	}

	hist := planner.NewHistogram()
	for _, rec := range m.LiveRecords() {
		hist.Observe(histogramAttr, rec.DocType)
	}

	return &DB{
		dir: dir, cfg: cfg,
		mu: &sync.RWMutex{}, arena: a, meta: m, graph: g, histogram: hist,
		lock: lock, logger: newLogger(cfg), tracer: otel.Tracer("github.com/orneryd/vectordb"),
	}, nil
}

func hnswConfigFrom(cfg config.Config) hnsw.Config {
	return hnsw.Config{
		M:                cfg.HNSWM,
		M0:               cfg.HNSWM * 2,
		EfConstruction:   cfg.HNSWEfConstruction,
		EfSearch:         cfg.HNSWEfSearchDefault,
		LevelMult:        1.0 / math.Log(float64(cfg.HNSWM)),
		Metric:           cfg.Metric,
		Seed:             cfg.Seed,
		UseHeuristic:     true,
		ExtendCandidates: false,
	}
}

func writeConfigFile(dir string, cfg config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return vdberrors.Wrap(vdberrors.IO, "vectordb.writeConfigFile", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), data, 0o644); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "vectordb.writeConfigFile", err)
	}
	return nil
}

func loadConfigFile(dir string) (config.Config, error) {
	cfg, err := config.LoadConfig(filepath.Join(dir, configFileName))
	if err != nil {
		return config.Config{}, vdberrors.Wrap(vdberrors.IO, "vectordb.loadConfigFile", err)
	}
	return cfg, nil
}

// Flush ensures all pending writes to every store are durable.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.flushLocked()
}

func (db *DB) flushLocked() error {
	if err := db.arena.Flush(); err != nil {
		return err
	}
	if err := db.meta.Flush(); err != nil {
		return err
	}
	return db.graph.Save(filepath.Join(db.dir, graphFileName))
}

// Close flushes and releases all resources. Safe to call once; a
// second call is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.lock == nil {
		return nil
	}

	flushErr := db.flushLocked()
	metaErr := db.meta.Close()
	arenaErr := db.arena.Close()
	unlockErr := db.lock.Unlock()
	db.lock = nil

	if flushErr != nil {
		return flushErr
	}
	if metaErr != nil {
		return metaErr
	}
	if arenaErr != nil {
		return arenaErr
	}
	if unlockErr != nil {
		return vdberrors.Wrap(vdberrors.IO, "vectordb.Close", unlockErr)
	}
	return nil
}
