// Package planner implements the query planner: given a filter
// predicate, it estimates selectivity and decides whether the façade
// should pre-filter (evaluate the predicate over the whole live set,
// then compute distances directly against the accepted ids, bypassing
// the graph) or post-filter (run an oversampled ANN search, then drop
// results that fail the predicate).
//
// The planner is pure: Estimate and Decide have no side effects and
// nothing is cached across calls, per spec.md §4.F.
package planner

// sampleSize is the fixed sample the planner draws from the metadata
// store to estimate selectivity, spec.md §4.F.
const sampleSize = 1024

// Sampler is the minimal view into the metadata store the planner
// needs: a bounded sample of live records and the live record count.
// Predicate testing is passed separately to Estimate as a closure.
type Sampler interface {
	Sample(n int) []Record
	LiveCount() uint32
}

// Record is the subset of metadata.Record the planner's predicate
// evaluation needs. metadata.Predicate implementations take a
// *metadata.Record, so the façade adapts by passing a closure rather
// than this package importing metadata directly — this keeps planner
// free of a dependency on the metadata wire format.
type Record any

// Strategy names the chosen filtering approach.
type Strategy int

const (
	// PreFilter evaluates the predicate over the full live set first,
	// then computes distances against only the accepted ids, without
	// an ANN search. Cheap when the predicate is selective (few
	// matches).
	PreFilter Strategy = iota
	// PostFilter runs an oversampled ANN search and discards results
	// failing the predicate afterward. Cheap when the predicate is
	// broad (most records match).
	PostFilter
)

func (s Strategy) String() string {
	if s == PreFilter {
		return "pre-filter"
	}
	return "post-filter"
}

// Plan is the planner's decision: which strategy to use, and for
// PostFilter, how large an oversample factor to request from the ANN
// search so that, after filtering, at least k results remain with high
// probability.
type Plan struct {
	Strategy   Strategy
	Selectivity float64 // estimated fraction of live records matching
	Oversample int       // ef multiplier to request when PostFilter
}

// preFilterThreshold is spec.md §4.D's cutoff: below this estimated
// selectivity, enumerating matching ids directly from the metadata
// store and computing distances against only those bypasses the graph
// entirely, which is cheaper than searching it and filtering after.
const preFilterThreshold = 0.01

// Estimate samples up to sampleSize live records from sampler and
// returns the fraction satisfying matches. Returns 1.0 (match
// everything) if the sample is empty, so an empty/near-empty database
// never triggers a degenerate pre-filter plan.
func Estimate(sampler Sampler, matches func(Record) bool) float64 {
	sample := sampler.Sample(sampleSize)
	if len(sample) == 0 {
		return 1.0
	}
	hits := 0
	for _, rec := range sample {
		if matches(rec) {
			hits++
		}
	}
	return float64(hits) / float64(len(sample))
}

// Decide chooses pre- vs post-filter given an estimated selectivity,
// applying spec.md §4.D's exact formula: below preFilterThreshold,
// pre-filter; otherwise post-filter with oversample = 2 when
// selectivity >= 0.5, else max(4, 1/selectivity).
func Decide(selectivity float64) Plan {
	if selectivity < preFilterThreshold {
		return Plan{Strategy: PreFilter, Selectivity: selectivity, Oversample: 1}
	}

	oversample := 2
	if selectivity < 0.5 {
		oversample = int(1.0 / selectivity)
		if oversample < 4 {
			oversample = 4
		}
	}
	return Plan{Strategy: PostFilter, Selectivity: selectivity, Oversample: oversample}
}
