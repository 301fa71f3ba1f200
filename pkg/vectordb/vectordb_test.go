package vectordb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vectordb/pkg/config"
	"github.com/orneryd/vectordb/pkg/metadata"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

func testConfig(dim uint32) config.Config {
	cfg := config.DefaultConfig()
	cfg.Dimension = dim
	cfg.Seed = 42
	return cfg
}

func vec(xs ...float32) []float32 { return xs }

func TestCreateOpenInsertSearchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(4))
	require.NoError(t, err)

	id, err := db.Insert(context.Background(), vec(1, 0, 0, 0), metadata.Record{DocType: "Journal"})
	require.NoError(t, err)

	results, err := db.Search(context.Background(), vec(1, 0, 0, 0), 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, "Journal", results[0].Metadata.DocType)

	require.NoError(t, db.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	results, err = reopened.Search(context.Background(), vec(1, 0, 0, 0), 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestSecondOpenForWriteFailsWithConcurrency(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(4))
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(dir)
	assert.True(t, vdberrors.Is(err, vdberrors.Concurrency), "second Open error = %v, want Concurrency", err)
}

func TestArenaLenEqualsLiveAndTombstonedCounts(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(2))
	require.NoError(t, err)
	defer db.Close()

	var lastID uint32
	for i := 0; i < 10; i++ {
		id, err := db.Insert(context.Background(), vec(float32(i+1), 1), metadata.Record{})
		require.NoError(t, err, "Insert %d", i)
		lastID = id
	}
	for id := uint32(0); id < 4; id++ {
		require.NoError(t, db.Tombstone(context.Background(), id), "Tombstone(%d)", id)
	}

	stats := db.Stats()
	assert.Equal(t, lastID+1, stats.Count)
	assert.Equal(t, stats.Count, stats.LiveCount+4, "arena.len() != live_count + tombstoned_count")
}

func TestSearchWithFilterExcludesNonMatching(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(3))
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 100; i++ {
		dt := "Journal"
		if i%2 == 1 {
			dt = "Chart"
		}
		v := vec(float32(i%7+1), float32((i+1)%5+1), float32((i+2)%3+1))
		_, err := db.Insert(context.Background(), v, metadata.Record{DocType: dt})
		require.NoError(t, err, "Insert %d", i)
	}

	results, err := db.Search(context.Background(), vec(1, 2, 3), 10, metadata.DocTypeEquals{T: "Chart"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results, "expected at least one filtered hit")
	for _, r := range results {
		assert.Equal(t, "Chart", r.Metadata.DocType, "filtered search returned non-matching hit: %+v", r)
	}
}

func TestDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(8))
	require.NoError(t, err)

	ids := make([]uint32, 0, 1000)
	for i := 0; i < 1000; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32((i+j)%13 + 1)
		}
		id, err := db.Insert(context.Background(), v, metadata.Record{AssetTag: "A"})
		require.NoError(t, err, "Insert %d", i)
		ids = append(ids, id)
	}
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	stats := reopened.Stats()
	assert.Equal(t, uint32(1000), stats.LiveCount)

	probe := make([]float32, 8)
	for j := range probe {
		probe[j] = float32((500+j)%13 + 1)
	}
	results, err := reopened.Search(context.Background(), probe, 5, nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestOpenRejectsCorruptedArena(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(4))
	require.NoError(t, err)
	_, err = db.Insert(context.Background(), vec(1, 0, 0, 0), metadata.Record{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	vectorsPath := filepath.Join(dir, vectorsFileName)
	f, err := os.OpenFile(vectorsPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 8), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(dir)
	assert.True(t, vdberrors.Is(err, vdberrors.Corruption), "Open over corrupted vectors.bin = %v, want Corruption", err)
}

func TestHistogramTracksInsertAndTombstone(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(2))
	require.NoError(t, err)
	defer db.Close()

	var chartID uint32
	for i := 0; i < 10; i++ {
		dt := "Journal"
		if i == 3 {
			dt = "Chart"
		}
		id, err := db.Insert(context.Background(), vec(float32(i+1), 1), metadata.Record{DocType: dt})
		require.NoError(t, err, "Insert %d", i)
		if dt == "Chart" {
			chartID = id
		}
	}
	assert.InDelta(t, 0.1, db.histogram.Selectivity("doc_type", "Chart"), 1e-9)

	require.NoError(t, db.Tombstone(context.Background(), chartID))
	assert.Equal(t, 0.0, db.histogram.Selectivity("doc_type", "Chart"))

	results, err := db.Search(context.Background(), vec(1, 1), 5, metadata.DocTypeEquals{T: "Journal"}, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "Journal", r.Metadata.DocType)
	}
}

func TestHistogramRebuildsOnReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(2))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		dt := "Journal"
		if i%2 == 0 {
			dt = "Chart"
		}
		_, err := db.Insert(context.Background(), vec(float32(i+1), 1), metadata.Record{DocType: dt})
		require.NoError(t, err, "Insert %d", i)
	}
	require.NoError(t, db.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.InDelta(t, 0.5, reopened.histogram.Selectivity("doc_type", "Chart"), 1e-9)
}

func TestOptimizePreservesIDsAndFindability(t *testing.T) {
	dir := t.TempDir()
	db, err := Create(dir, testConfig(3))
	require.NoError(t, err)
	defer db.Close()

	var survivorID uint32
	for i := 0; i < 20; i++ {
		v := vec(float32(i+1), float32(i+2), float32(i+3))
		id, err := db.Insert(context.Background(), v, metadata.Record{DocType: "Journal"})
		require.NoError(t, err, "Insert %d", i)
		if i == 10 {
			survivorID = id
		}
		if i%3 == 0 {
			require.NoError(t, db.Tombstone(context.Background(), id), "Tombstone(%d)", id)
		}
	}

	beforeStats := db.Stats()

	require.NoError(t, db.Optimize(context.Background()))

	afterStats := db.Stats()
	assert.Equal(t, beforeStats.Count, afterStats.Count, "Optimize changed arena count")
	assert.Equal(t, beforeStats.LiveCount, afterStats.LiveCount, "Optimize changed live count")

	survivorVec := vec(float32(survivorID+1), float32(survivorID+2), float32(survivorID+3))
	results, err := db.Search(context.Background(), survivorVec, 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, survivorID, results[0].ID)

	_, err = os.Stat(filepath.Join(dir, graphFileName))
	assert.NoError(t, err, "expected rebuilt graph file on disk")
}
