package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
		epsilon  float64
	}{
		{"identical unit vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 0.0, 1e-6},
		{"orthogonal unit vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 1.0, 1e-6},
		{"opposite unit vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2.0, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, tt.epsilon)
		})
	}
}

func TestL2Squared(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}
	assert.InDelta(t, 2.0, L2Squared(a, b), 1e-6)
}

// TestSIMDAgreement asserts the three dispatch tiers agree within
// 10^-5 relative error on a fuzzer-generated set of vector pairs, per
// spec.md property 9.
func TestSIMDAgreement(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	dims := []int{1, 3, 7, 8, 15, 16, 17, 33, 128}

	for _, d := range dims {
		a := randomVector(r, d)
		b := randomVector(r, d)

		scalarDot := dotScalar(a, b)
		avx2Dot := dot8(a, b)
		avx512Dot := dot16(a, b)

		assertClose(t, "dot avx2 vs scalar", avx2Dot, scalarDot)
		assertClose(t, "dot avx512 vs scalar", avx512Dot, scalarDot)

		scalarL2 := l2SquaredScalar(a, b)
		avx2L2 := l2Squared8(a, b)
		avx512L2 := l2Squared16(a, b)

		assertClose(t, "l2 avx2 vs scalar", avx2L2, scalarL2)
		assertClose(t, "l2 avx512 vs scalar", avx512L2, scalarL2)
	}
}

// assertClose checks relative error, which plain assert.InDelta can't
// express since it only takes an absolute tolerance.
func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	denom := math.Abs(want)
	if denom < 1e-12 {
		denom = 1
	}
	assert.LessOrEqualf(t, math.Abs(got-want)/denom, 1e-5, "%s: got %v want %v", label, got, want)
}

func randomVector(r *rand.Rand, d int) []float32 {
	v := make([]float32, d)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestActiveTierDefault(t *testing.T) {
	tier := ActiveTier()
	assert.Contains(t, []Tier{TierScalar, TierAVX2, TierAVX512}, tier)
}

func TestParseMetric(t *testing.T) {
	m, ok := ParseMetric("cosine")
	assert.True(t, ok)
	assert.Equal(t, Cosine, m)

	m, ok = ParseMetric("l2")
	assert.True(t, ok)
	assert.Equal(t, L2, m)

	_, ok = ParseMetric("jaccard")
	assert.False(t, ok)
}
