// Package distance provides vectorized distance kernels for vectordb.
//
// This package consolidates the two metrics the database supports:
// cosine distance (on pre-normalized vectors) and squared L2 distance.
// Use these functions instead of hand-rolling a loop elsewhere so that
// every caller benefits from the same runtime CPU dispatch.
//
// Main Functions:
//   - CosineDistance: 1 - dot(a, b), assumes both inputs are unit vectors
//   - L2Squared: sum((a[i]-b[i])^2), no square root taken
//   - Dot: plain dot product, used by callers that already know vectors
//     are normalized and want a similarity rather than a distance
//
// Dispatch:
//
// A package-level kernel table is selected once at process start based
// on CPU feature probing (github.com/klauspost/cpuid/v2): a 16-lane
// path, an 8-lane path, and a scalar fallback. VDB_SIMD overrides the
// choice for testing ("auto", "avx512", "avx2", "scalar").
package distance

import "math"

// Metric identifies which distance function a database instance uses.
type Metric uint8

const (
	Cosine Metric = iota
	L2
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case L2:
		return "l2"
	default:
		return "unknown"
	}
}

// ParseMetric parses the configuration-envelope metric string.
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "", "cosine":
		return Cosine, true
	case "l2":
		return L2, true
	default:
		return 0, false
	}
}

// kernel holds the two distance primitives selected by dispatch.go.
// Every field operates on equal-length float32 slices and returns a
// float64 so that accumulation precision decisions stay visible at the
// call site rather than hidden in a generic type.
type kernel struct {
	dot       func(a, b []float32) float64
	l2Squared func(a, b []float32) float64
}

// Dot returns the dot product of a and b using the dispatched kernel.
// For normalized vectors this equals cosine similarity.
func Dot(a, b []float32) float64 {
	return active.dot(a, b)
}

// CosineDistance returns 1 - dot(a, b). Callers must pass pre-normalized
// vectors; the kernel does not normalize or validate norms, matching
// spec.md's contract that normalization is the arena's job.
func CosineDistance(a, b []float32) float64 {
	return 1 - active.dot(a, b)
}

// L2Squared returns the squared Euclidean distance between a and b.
// The square root is never taken: callers only need monotonicity.
func L2Squared(a, b []float32) float64 {
	return active.l2Squared(a, b)
}

// Of returns the distance between a and b for the given metric.
func Of(m Metric, a, b []float32) float64 {
	if m == L2 {
		return L2Squared(a, b)
	}
	return CosineDistance(a, b)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return math.Sqrt(active.dot(v, v))
}
