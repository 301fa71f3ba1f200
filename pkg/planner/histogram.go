package planner

import (
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Histogram is the optional maintained-selectivity alternative to
// per-call sampling, spec.md §4.F: "sampling metadata records ... or
// via maintained per-attribute histograms when available". The
// façade may keep one of these per recognized attribute and update it
// incrementally on insert/tombstone instead of re-sampling on every
// search.
//
// Keys are attribute-name+bucket pairs hashed with xxhash rather than
// built with fmt.Sprintf, keeping attribute-bucket lookups off the
// allocate-a-string-per-call path during the sampling hot loop.
type Histogram struct {
	buckets map[uint64]uint32
	total   uint32
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{buckets: make(map[uint64]uint32)}
}

func bucketKey(attr string, bucket string) uint64 {
	h := xxhash.New()
	h.WriteString(attr)
	h.WriteString("\x00")
	h.WriteString(bucket)
	return h.Sum64()
}

// Observe records one occurrence of attr==bucket.
func (h *Histogram) Observe(attr, bucket string) {
	h.buckets[bucketKey(attr, bucket)]++
	h.total++
}

// Forget removes one occurrence of attr==bucket, used when a record
// is tombstoned so the histogram stays a live-set estimate.
func (h *Histogram) Forget(attr, bucket string) {
	k := bucketKey(attr, bucket)
	if h.buckets[k] > 0 {
		h.buckets[k]--
		h.total--
	}
}

// Selectivity returns the estimated fraction of live records matching
// attr==bucket. Returns 1.0 when the histogram has no observations
// yet, matching Estimate's empty-sample behavior.
func (h *Histogram) Selectivity(attr, bucket string) float64 {
	if h.total == 0 {
		return 1.0
	}
	count := h.buckets[bucketKey(attr, bucket)]
	return float64(count) / float64(h.total)
}

// ObserveNumericBucket records one occurrence of a numeric attribute
// falling into a coarse bucket (the integer floor of its value),
// giving NumericCompare predicates a histogram-backed estimate
// without needing exact value tracking.
func (h *Histogram) ObserveNumericBucket(attr string, value float64) {
	h.Observe(attr, strconv.FormatInt(int64(math.Floor(value)), 10))
}
