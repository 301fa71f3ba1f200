package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSampler struct {
	records []Record
}

func (f fakeSampler) Sample(n int) []Record {
	if n >= len(f.records) {
		return f.records
	}
	return f.records[:n]
}

func (f fakeSampler) LiveCount() uint32 { return uint32(len(f.records)) }

func TestEstimateEmptySampleMatchesEverything(t *testing.T) {
	s := fakeSampler{}
	got := Estimate(s, func(Record) bool { return false })
	assert.Equal(t, 1.0, got)
}

func TestEstimateCountsMatches(t *testing.T) {
	s := fakeSampler{records: []Record{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	got := Estimate(s, func(r Record) bool { return r.(int)%2 == 0 })
	assert.Equal(t, 0.5, got)
}

func TestDecidePrefersPreFilterWhenSelective(t *testing.T) {
	plan := Decide(0.005)
	assert.Equal(t, PreFilter, plan.Strategy)
}

func TestDecidePrefersPostFilterAboveThreshold(t *testing.T) {
	plan := Decide(0.9)
	assert.Equal(t, PostFilter, plan.Strategy)
	assert.Equal(t, 2, plan.Oversample)
}

func TestDecideOversampleFloorAndFormula(t *testing.T) {
	// selectivity 0.1 -> 1/0.1 = 10, above the floor of 4.
	plan := Decide(0.1)
	assert.Equal(t, PostFilter, plan.Strategy)
	assert.Equal(t, 10, plan.Oversample)

	// selectivity 0.4 -> 1/0.4 = 2.5 -> 2, below the floor of 4, so
	// the floor applies.
	plan = Decide(0.4)
	assert.Equal(t, PostFilter, plan.Strategy)
	assert.Equal(t, 4, plan.Oversample)
}

func TestHistogramSelectivity(t *testing.T) {
	h := NewHistogram()
	for i := 0; i < 100; i++ {
		bucket := "Chart"
		if i%2 == 0 {
			bucket = "Journal"
		}
		h.Observe("doc_type", bucket)
	}
	assert.Equal(t, 0.5, h.Selectivity("doc_type", "Journal"))

	h.Forget("doc_type", "Journal")
	assert.Less(t, h.Selectivity("doc_type", "Journal"), 0.5)
}

func TestHistogramEmptyMatchesEverything(t *testing.T) {
	h := NewHistogram()
	assert.Equal(t, 1.0, h.Selectivity("doc_type", "Journal"))
}
