package vectordb

import (
	"context"
	"sort"

	"github.com/orneryd/vectordb/pkg/distance"
	"github.com/orneryd/vectordb/pkg/hnsw"
	"github.com/orneryd/vectordb/pkg/metadata"
	"github.com/orneryd/vectordb/pkg/planner"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// Result is one search hit: the matching id, its distance under the
// database's metric, and its metadata record.
type Result struct {
	ID       uint32
	Distance float64
	Metadata metadata.Record
}

// samplerAdapter bridges pkg/metadata.Store to planner.Sampler. The
// planner is deliberately ignorant of metadata's wire format (see
// pkg/planner's package doc); this is the one place the two meet.
type samplerAdapter struct{ store *metadata.Store }

func (a samplerAdapter) Sample(n int) []planner.Record {
	recs := a.store.Sample(n)
	out := make([]planner.Record, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out
}

func (a samplerAdapter) LiveCount() uint32 { return a.store.LiveCount() }

func matchesPredicate(rec planner.Record, predicate metadata.Predicate) bool {
	r := rec.(metadata.Record)
	return metadata.Matches(&r, predicate)
}

// histogramSelectivity answers the planner's selectivity question from
// db.histogram instead of sampling, when filter is a predicate shape
// the maintained histogram actually tracks. ok is false for any other
// predicate, telling the caller to fall back to planner.Estimate.
func (db *DB) histogramSelectivity(filter metadata.Predicate) (float64, bool) {
	pred, ok := filter.(metadata.DocTypeEquals)
	if !ok {
		return 0, false
	}
	return db.histogram.Selectivity(histogramAttr, pred.T), true
}

// Search returns up to k nearest neighbors of v, optionally restricted
// to ids whose metadata satisfies filter. efSearch overrides the
// database's default beam width when positive; otherwise the
// configured default applies.
func (db *DB) Search(ctx context.Context, v []float32, k int, filter metadata.Predicate, efSearch int) ([]Result, error) {
	_, span := db.tracer.Start(ctx, "vectordb.Search")
	defer span.End()

	if uint32(len(v)) != db.cfg.Dimension {
		return nil, vdberrors.New(vdberrors.InvalidArgument, "vectordb.Search", "vector dimension mismatch")
	}
	if k <= 0 {
		return nil, vdberrors.New(vdberrors.InvalidArgument, "vectordb.Search", "k must be > 0")
	}
	if efSearch <= 0 {
		efSearch = db.cfg.HNSWEfSearchDefault
	}
	if db.cfg.Metric == distance.Cosine {
		norm := distance.Norm(v)
		if norm == 0 {
			return nil, vdberrors.New(vdberrors.InvalidArgument, "vectordb.Search", "all-zero query under cosine metric")
		}
		q := make([]float32, len(v))
		for i := range v {
			q[i] = float32(float64(v[i]) / norm)
		}
		v = q
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if filter == nil {
		results, err := db.graph.Search(v, k, efSearch, db.liveAccept())
		if err != nil {
			return nil, err
		}
		return db.hydrate(results), nil
	}

	selectivity, ok := db.histogramSelectivity(filter)
	if !ok {
		matches := func(r planner.Record) bool { return matchesPredicate(r, filter) }
		selectivity = planner.Estimate(samplerAdapter{store: db.meta}, matches)
	}
	plan := planner.Decide(selectivity)

	if plan.Strategy == planner.PreFilter {
		return db.searchPreFilter(v, k, filter)
	}
	return db.searchPostFilter(v, k, efSearch, plan.Oversample, filter)
}

func (db *DB) liveAccept() hnsw.Accept {
	return func(id uint32) bool { return !db.meta.IsTombstoned(id) }
}

// searchPreFilter enumerates ids matching filter directly from the
// metadata store, bypassing the graph entirely, and brute-force sorts
// them by distance — cheaper than searching the graph and discarding
// when filter is selective (spec.md §4.D).
func (db *DB) searchPreFilter(v []float32, k int, filter metadata.Predicate) ([]Result, error) {
	ids := db.meta.MatchingIDs(filter)
	type cand struct {
		id   uint32
		dist float64
	}
	cands := make([]cand, 0, len(ids))
	for _, id := range ids {
		vec, err := db.arena.Get(id)
		if err != nil {
			continue
		}
		cands = append(cands, cand{id: id, dist: distance.Of(db.cfg.Metric, v, vec)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > k {
		cands = cands[:k]
	}
	results := make([]hnsw.SearchResult, len(cands))
	for i, c := range cands {
		results[i] = hnsw.SearchResult{ID: c.id, Distance: c.dist}
	}
	return db.hydrate(results), nil
}

// searchPostFilter runs an oversampled ANN search and discards hits
// that fail filter, retaining the first k that pass.
func (db *DB) searchPostFilter(v []float32, k, efSearch, oversample int, filter metadata.Predicate) ([]Result, error) {
	accept := func(id uint32) bool {
		return !db.meta.IsTombstoned(id) && db.meta.Matches(id, filter)
	}
	results, err := db.graph.Search(v, k, efSearch*oversample, accept)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return db.hydrate(results), nil
}

func (db *DB) hydrate(results []hnsw.SearchResult) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		rec, _ := db.meta.Get(r.ID)
		out[i] = Result{ID: r.ID, Distance: r.Distance, Metadata: rec}
	}
	return out
}
