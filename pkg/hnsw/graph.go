// Package hnsw implements the core Hierarchical Navigable Small World
// graph: layered adjacency over vector ids, insertion with
// diversity-preserving neighbor selection, and greedy multi-layer
// search.
//
// The graph holds ids and adjacency only — it never owns vector
// storage. Callers (the façade) supply a VectorSource that resolves an
// id to its stored vector, so the graph can live entirely in memory
// while vectors stay memory-mapped in pkg/arena.
//
// Per spec.md §9's graph-ownership note, nodes are not heap-allocated
// objects linked by pointers to one another: adjacency records live in
// a single flat slice indexed by id, and edges are plain uint32 ids
// into that slice (and, transitively, into the arena).
//
// Grounded on pkg/search/hnsw_index.go from the teacher repo (greedy
// descent, dual-heap searchLayer, per-node RWMutex) with one semantic
// change the spec requires: neighbor selection uses a
// diversity-preserving heuristic rather than plain k-closest
// truncation, adapted from the persistent HNSW reference
// implementation's selectNeighborsHeuristic.
package hnsw

import (
	"math"
	"math/rand"
	"sync"

	"github.com/orneryd/vectordb/pkg/distance"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// Config holds the construction/search parameters, spec.md §4.D.
type Config struct {
	M                int     // max connections per node per layer (except layer 0)
	M0               int     // max connections at layer 0, conventionally 2*M
	EfConstruction   int     // candidate list size during insertion
	EfSearch         int     // default candidate list size during search
	LevelMult        float64 // 1/ln(M)
	Metric           distance.Metric
	Seed             int64
	UseHeuristic     bool // diversity-preserving selection vs plain truncation
	ExtendCandidates bool
}

// DefaultConfig mirrors the teacher's DefaultHNSWConfig defaults,
// adjusted to spec.md §6's configuration-envelope defaults.
func DefaultConfig(metric distance.Metric, seed int64) Config {
	return Config{
		M:                16,
		M0:                32,
		EfConstruction:   200,
		EfSearch:         50,
		LevelMult:        1.0 / math.Log(16.0),
		Metric:           metric,
		Seed:             seed,
		UseHeuristic:     true,
		ExtendCandidates: false,
	}
}

// VectorSource resolves an id to its stored (already-normalized for
// cosine) vector. The graph never caches the result across calls.
type VectorSource interface {
	Get(id uint32) ([]float32, error)
}

// nodeRecord is one graph vertex's adjacency: its top layer and one
// neighbor list per layer 0..topLayer. Records live in Graph.nodes, a
// flat slice indexed by id — never referenced by pointer from another
// record.
type nodeRecord struct {
	topLayer  int
	neighbors [][]uint32
	mu        sync.RWMutex
}

// Graph is the layered adjacency structure. All exported methods lock
// internally; Insert and Tombstone take the write lock, Search takes
// the read lock, matching spec.md §5's single-writer/many-readers
// model when driven by the façade.
type Graph struct {
	cfg        Config
	mu         sync.RWMutex
	nodes      []*nodeRecord // index == id
	entryPoint uint32
	hasEntry   bool
	maxLayer   int
	tombstoned map[uint32]bool
	rng        *rand.Rand
	src        VectorSource

	heapPool sync.Pool // *searchScratch, spec.md §9 scratch reuse
}

// New creates an empty graph over src, using cfg's seed for
// deterministic level assignment.
func New(cfg Config, src VectorSource) *Graph {
	g := &Graph{
		cfg:        cfg,
		tombstoned: make(map[uint32]bool),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		src:        src,
	}
	g.heapPool.New = func() any { return newSearchScratch() }
	return g
}

// Len returns the number of nodes in the graph, tombstoned or not.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EntryPoint and MaxLayer expose the graph's current entry id/layer,
// used by the on-disk header writer.
func (g *Graph) EntryPoint() (uint32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint, g.hasEntry
}

func (g *Graph) MaxLayer() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxLayer
}

// Rebuild constructs a fresh graph over ids [0, n) using live to
// decide which ids get real graph presence — tombstoned ids become
// stub records, preserving the id space per spec.md §9's optimize
// open-question resolution (ids are never renumbered; only the graph
// is rewritten). src must resolve every live id to its arena vector.
func Rebuild(cfg Config, n uint32, live func(id uint32) bool, src VectorSource) (*Graph, error) {
	g := New(cfg, src)
	for id := uint32(0); id < n; id++ {
		if !live(id) {
			g.nodes = append(g.nodes, stubRecord())
			continue
		}
		vec, err := src.Get(id)
		if err != nil {
			return nil, err
		}
		if err := g.Insert(id, vec); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) randomLevel() int {
	r := g.rng.Float64()
	if r <= 0 {
		r = 1e-300
	}
	return int(-math.Log(r) * g.cfg.LevelMult)
}

func (g *Graph) vectorOf(id uint32) ([]float32, error) {
	return g.src.Get(id)
}

func (g *Graph) dist(a, b []float32) float64 {
	return distance.Of(g.cfg.Metric, a, b)
}

// maxConnections returns the per-layer neighbor cap: M0 at layer 0, M
// above it, per the standard HNSW construction.
func (g *Graph) maxConnections(level int) int {
	if level == 0 {
		return g.cfg.M0
	}
	return g.cfg.M
}

// stubRecord marks a position in the id space that has no graph
// presence: used by Rebuild to preserve the id space across tombstone
// compaction (spec.md §9's "preserve ids; rewrite only the graph"
// resolution of its optimize open question) without requiring every
// id to have actually been inserted. A stub is never reachable: it is
// never present in any other node's neighbor list because it never
// entered a searchLayer candidate set.
func stubRecord() *nodeRecord { return &nodeRecord{topLayer: -1} }

// Insert adds id (whose vector is already stored via src) to the
// graph. The graph is indexed by position: ids are expected to arrive
// in strictly increasing order (an id already present is rejected;
// mirroring the arena's append-only id
// assignment); any gap below id is backfilled with inert stub records
// so Rebuild can skip tombstoned ids while still preserving the id
// space. vec is passed directly to avoid a redundant src.Get on the
// node being inserted.
func (g *Graph) Insert(id uint32, vec []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if int(id) < len(g.nodes) {
		return vdberrors.New(vdberrors.InvalidArgument, "hnsw.Insert", "id already present")
	}
	for len(g.nodes) < int(id) {
		g.nodes = append(g.nodes, stubRecord())
	}

	level := g.randomLevel()
	rec := &nodeRecord{topLayer: level, neighbors: make([][]uint32, level+1)}
	for i := range rec.neighbors {
		rec.neighbors[i] = make([]uint32, 0, g.maxConnections(i))
	}
	g.nodes = append(g.nodes, rec)

	if !g.hasEntry {
		g.entryPoint = id
		g.hasEntry = true
		g.maxLayer = level
		return nil
	}

	ep := g.entryPoint
	epLevel := g.nodes[ep].topLayer

	for l := epLevel; l > level; l-- {
		next, err := g.greedyStep(vec, ep, l)
		if err != nil {
			return err
		}
		ep = next
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		candidates, err := g.searchLayer(vec, ep, g.cfg.EfConstruction, l)
		if err != nil {
			return err
		}
		selected, err := g.selectNeighbors(vec, candidates, g.maxConnections(l))
		if err != nil {
			return err
		}
		rec.neighbors[l] = selected

		for _, nbID := range selected {
			nb := g.nodes[nbID]
			nb.mu.Lock()
			if len(nb.neighbors) > l {
				if len(nb.neighbors[l]) < g.maxConnections(l) {
					nb.neighbors[l] = append(nb.neighbors[l], id)
				} else {
					merged := append(append([]uint32{}, nb.neighbors[l]...), id)
					nbVec, err := g.vectorOf(nbID)
					if err == nil {
						pruned, perr := g.selectNeighbors(nbVec, merged, g.maxConnections(l))
						if perr == nil {
							nb.neighbors[l] = pruned
						}
					}
				}
			}
			nb.mu.Unlock()
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > g.maxLayer {
		g.entryPoint = id
		g.maxLayer = level
	}

	return nil
}

// Tombstone marks id as logically deleted: it is skipped as a search
// result but still traversed as a graph hop, per spec.md §4.D.
func (g *Graph) Tombstone(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tombstoned[id] = true
}

// IsTombstoned reports whether id has been tombstoned in the graph.
func (g *Graph) IsTombstoned(id uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tombstoned[id]
}

// greedyStep returns the single closest neighbor of entry (or entry
// itself) to query at level, matching the teacher's searchLayerSingle.
func (g *Graph) greedyStep(query []float32, entry uint32, level int) (uint32, error) {
	current := entry
	curVec, err := g.vectorOf(current)
	if err != nil {
		return 0, err
	}
	currentDist := g.dist(query, curVec)

	for {
		rec := g.nodes[current]
		rec.mu.RLock()
		var neighbors []uint32
		if level < len(rec.neighbors) {
			neighbors = append(neighbors, rec.neighbors[level]...)
		}
		rec.mu.RUnlock()

		changed := false
		for _, nbID := range neighbors {
			nbVec, err := g.vectorOf(nbID)
			if err != nil {
				continue
			}
			d := g.dist(query, nbVec)
			if d < currentDist {
				current = nbID
				currentDist = d
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current, nil
}

// SearchResult is one hit from Search: id, raw distance (not
// similarity), per spec.md §6's search() return shape.
type SearchResult struct {
	ID       uint32
	Distance float64
}

// Accept, when non-nil, is called per candidate id before it is
// counted toward k; returning false skips it without stopping
// traversal (used both for tombstone-skip and for post-filter
// predicates from the façade/planner).
type Accept func(id uint32) bool

// Search returns up to k nearest neighbors of query. ef, if <= 0,
// falls back to cfg.EfSearch. Tombstoned ids are always excluded from
// results but are still traversed as graph hops, matching spec.md
// §4.D's tombstone-skip-but-traversable rule. accept, if non-nil,
// applies an additional predicate (e.g. a post-filter).
func (g *Graph) Search(query []float32, k int, ef int, accept Accept) ([]SearchResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil, nil
	}
	if ef <= 0 {
		ef = g.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	ep := g.entryPoint
	for l := g.maxLayer; l > 0; l-- {
		next, err := g.greedyStep(query, ep, l)
		if err != nil {
			return nil, err
		}
		ep = next
	}

	candidates, err := g.searchLayer(query, ep, ef, 0)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, k)
	for _, id := range candidates {
		if g.tombstoned[id] {
			continue
		}
		if accept != nil && !accept(id) {
			continue
		}
		vec, err := g.vectorOf(id)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: g.dist(query, vec)})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// selectNeighbors picks up to m ids from candidates closest to query.
// When cfg.UseHeuristic is set it applies the diversity-preserving
// heuristic (a candidate is only kept if it is closer to query than
// to every neighbor already selected); otherwise it falls back to
// plain distance-sorted truncation, matching the teacher's simpler
// selectNeighbors for comparison/testing.
func (g *Graph) selectNeighbors(query []float32, candidates []uint32, m int) ([]uint32, error) {
	if len(candidates) <= m {
		return candidates, nil
	}
	if !g.cfg.UseHeuristic {
		return g.selectClosest(query, candidates, m)
	}
	return g.selectNeighborsHeuristic(query, candidates, m)
}

func (g *Graph) selectClosest(query []float32, candidates []uint32, m int) ([]uint32, error) {
	type cd struct {
		id   uint32
		dist float64
	}
	dists := make([]cd, 0, len(candidates))
	for _, id := range candidates {
		v, err := g.vectorOf(id)
		if err != nil {
			return nil, err
		}
		dists = append(dists, cd{id: id, dist: g.dist(query, v)})
	}
	sortByDist(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })
	if len(dists) > m {
		dists = dists[:m]
	}
	out := make([]uint32, len(dists))
	for i, c := range dists {
		out[i] = c.id
	}
	return out, nil
}

// selectNeighborsHeuristic is grounded on the persistent HNSW
// reference implementation's selectNeighborsHeuristic: sort candidates
// by distance to query, then greedily keep a candidate only while it
// is closer to query than to every neighbor already accepted. This
// spreads the connections directionally instead of clustering them,
// which is what keeps the graph navigable at low M.
func (g *Graph) selectNeighborsHeuristic(query []float32, candidates []uint32, m int) ([]uint32, error) {
	candidateSet := make(map[uint32]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = true
	}
	if g.cfg.ExtendCandidates {
		for _, c := range candidates {
			rec := g.nodes[c]
			if len(rec.neighbors) == 0 {
				continue
			}
			rec.mu.RLock()
			for _, nb := range rec.neighbors[0] {
				candidateSet[nb] = true
			}
			rec.mu.RUnlock()
		}
	}

	type cd struct {
		id   uint32
		dist float64
		vec  []float32
	}
	work := make([]cd, 0, len(candidateSet))
	for id := range candidateSet {
		v, err := g.vectorOf(id)
		if err != nil {
			continue
		}
		work = append(work, cd{id: id, dist: g.dist(query, v), vec: v})
	}
	sortByDist(work, func(i, j int) bool { return work[i].dist < work[j].dist })

	selected := make([]cd, 0, m)
	for _, cand := range work {
		if len(selected) >= m {
			break
		}
		good := true
		for _, sel := range selected {
			if g.dist(cand.vec, sel.vec) < cand.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, cand)
		}
	}

	// If the heuristic filtered out too many, backfill with the
	// next-closest rejected candidates so layers don't thin out.
	if len(selected) < m {
		selectedSet := make(map[uint32]bool, len(selected))
		for _, s := range selected {
			selectedSet[s.id] = true
		}
		for _, cand := range work {
			if len(selected) >= m {
				break
			}
			if selectedSet[cand.id] {
				continue
			}
			selected = append(selected, cand)
		}
	}

	out := make([]uint32, len(selected))
	for i, s := range selected {
		out[i] = s.id
	}
	return out, nil
}

// sortByDist is a tiny insertion sort helper kept local to avoid
// pulling in sort.Slice's reflection-based comparator for what is
// always a small (<= efConstruction) slice.
func sortByDist[T any](s []T, less func(i, j int) bool) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
