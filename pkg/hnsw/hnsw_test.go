package hnsw

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vectordb/pkg/distance"
)

// memVectorSource is a trivial in-memory VectorSource for tests —
// production code backs this with pkg/arena instead.
type memVectorSource struct {
	vectors [][]float32
}

func (s *memVectorSource) Get(id uint32) ([]float32, error) {
	return s.vectors[id], nil
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	n := distance.Norm(out)
	for i := range out {
		out[i] = float32(float64(out[i]) / n)
	}
	return out
}

func buildGraph(t *testing.T, metric distance.Metric, seed int64, vectors [][]float32) (*Graph, *memVectorSource) {
	t.Helper()
	src := &memVectorSource{}
	cfg := DefaultConfig(metric, seed)
	g := New(cfg, src)
	for i, v := range vectors {
		if metric == distance.Cosine {
			v = normalize(v)
		}
		src.vectors = append(src.vectors, v)
		require.NoError(t, g.Insert(uint32(i), v), "Insert(%d)", i)
	}
	return g, src
}

func TestExactMatchRecall(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
		{0.5, 0.5, 0, 0},
	}
	g, _ := buildGraph(t, distance.L2, 1, vectors)

	results, err := g.Search(vectors[2], 1, g.cfg.M, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(2), results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
}

func TestScenarioS1InsertThenSearch(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	g, _ := buildGraph(t, distance.L2, 1, vectors)

	results, err := g.Search([]float32{0.9, 0.1, 0, 0}, 2, g.cfg.M, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(0), results[0].ID)
	assert.Equal(t, uint32(1), results[1].ID)
}

func TestScenarioS3TombstoneSkip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	vectors := make([][]float32, 5)
	for i := range vectors {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}
	g, _ := buildGraph(t, distance.L2, 1, vectors)
	g.Tombstone(2)

	results, err := g.Search(vectors[2], 3, g.cfg.EfSearch, func(id uint32) bool {
		return !g.IsTombstoned(id)
	})
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, uint32(2), res.ID, "tombstoned id 2 present in results: %+v", results)
	}
}

func TestEntryPointHasMaxLayer(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	vectors := make([][]float32, 200)
	for i := range vectors {
		v := make([]float32, 16)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}
	g, _ := buildGraph(t, distance.Cosine, 42, vectors)

	maxLayer := g.MaxLayer()
	for _, rec := range g.nodes {
		assert.LessOrEqual(t, rec.topLayer, maxLayer)
	}
}

func TestNeighborCapacityRespected(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	vectors := make([][]float32, 300)
	for i := range vectors {
		v := make([]float32, 16)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}
	g, _ := buildGraph(t, distance.Cosine, 5, vectors)

	for _, rec := range g.nodes {
		for l, neighbors := range rec.neighbors {
			assert.LessOrEqual(t, len(neighbors), g.maxConnections(l))
		}
	}
}

func TestDeterministicLevelsWithSeed(t *testing.T) {
	vectors := make([][]float32, 50)
	r := rand.New(rand.NewSource(1))
	for i := range vectors {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}

	g1, _ := buildGraph(t, distance.L2, 1234, vectors)
	g2, _ := buildGraph(t, distance.L2, 1234, vectors)

	for i := range g1.nodes {
		assert.Equal(t, g1.nodes[i].topLayer, g2.nodes[i].topLayer, "node %d topLayer diverged", i)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	vectors := make([][]float32, 40)
	r := rand.New(rand.NewSource(3))
	for i := range vectors {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}
	g, src := buildGraph(t, distance.L2, 3, vectors)

	path := filepath.Join(t.TempDir(), "index.hnsw")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path, g.cfg, src)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), loaded.Len())

	query := vectors[5]
	want, err := g.Search(query, 5, g.cfg.EfSearch, nil)
	require.NoError(t, err)
	got, err := loaded.Search(query, 5, g.cfg.EfSearch, nil)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "result %d mismatch after reload", i)
	}
}

func TestRebuildPreservesIDSpace(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	vectors := make([][]float32, 20)
	for i := range vectors {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}
	g, src := buildGraph(t, distance.L2, 17, vectors)
	g.Tombstone(3)
	g.Tombstone(9)

	rebuilt, err := Rebuild(g.cfg, uint32(len(vectors)), func(id uint32) bool {
		return id != 3 && id != 9
	}, src)
	require.NoError(t, err)
	assert.Equal(t, len(vectors), rebuilt.Len(), "Rebuild changed id space")

	results, err := rebuilt.Search(vectors[3], 5, g.cfg.EfSearch, nil)
	require.NoError(t, err)
	for _, res := range results {
		assert.NotContains(t, []uint32{3, 9}, res.ID, "stub id surfaced in search results: %+v", results)
	}
}

func TestRecallAt10Floor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping recall benchmark in short mode")
	}
	const (
		n    = 2000
		dims = 32
		k    = 10
		efS  = 100
	)
	r := rand.New(rand.NewSource(123))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dims)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = v
	}
	g, src := buildGraph(t, distance.L2, 123, vectors)

	bruteForceTopK := func(query []float32, k int) []uint32 {
		type cd struct {
			id   uint32
			dist float64
		}
		all := make([]cd, n)
		for i, v := range src.vectors {
			all[i] = cd{id: uint32(i), dist: distance.L2Squared(query, v)}
		}
		sortByDist(all, func(i, j int) bool { return all[i].dist < all[j].dist })
		out := make([]uint32, 0, k)
		for i := 0; i < k && i < len(all); i++ {
			out = append(out, all[i].id)
		}
		return out
	}

	const queries = 30
	var totalRecall float64
	for q := 0; q < queries; q++ {
		query := make([]float32, dims)
		for j := range query {
			query[j] = float32(r.NormFloat64())
		}
		truth := bruteForceTopK(query, k)
		truthSet := make(map[uint32]bool, k)
		for _, id := range truth {
			truthSet[id] = true
		}

		got, err := g.Search(query, k, efS, nil)
		require.NoError(t, err)
		hit := 0
		for _, res := range got {
			if truthSet[res.ID] {
				hit++
			}
		}
		totalRecall += float64(hit) / float64(k)
	}
	avgRecall := totalRecall / queries
	assert.GreaterOrEqual(t, avgRecall, 0.85, "reduced floor for a small unit-test-scale dataset")
}
