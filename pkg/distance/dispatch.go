package distance

import (
	"os"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Tier names the selected kernel implementation. It is exported so
// callers (mainly tests and the façade's Stats()) can report which
// path is active without reaching into package internals.
type Tier string

const (
	TierScalar Tier = "scalar"
	TierAVX2   Tier = "avx2"  // 8 lanes
	TierAVX512 Tier = "avx512" // 16 lanes
)

var (
	dispatchOnce sync.Once
	active       kernel
	activeTier   Tier
)

// ActiveTier returns the kernel tier currently in effect, selecting it
// on first use.
func ActiveTier() Tier {
	dispatchOnce.Do(selectKernel)
	return activeTier
}

func init() {
	dispatchOnce.Do(selectKernel)
}

// selectKernel runs CPU feature probing exactly once at process start
// and wires the package-level dispatch table. VDB_SIMD forces a
// specific path for testing; any other value falls through to "auto".
func selectKernel() {
	switch os.Getenv("VDB_SIMD") {
	case "scalar":
		setTier(TierScalar)
		return
	case "avx2":
		setTier(TierAVX2)
		return
	case "avx512":
		setTier(TierAVX512)
		return
	}

	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		setTier(TierAVX512)
	case cpuid.CPU.Supports(cpuid.AVX2):
		setTier(TierAVX2)
	default:
		setTier(TierScalar)
	}
}

func setTier(t Tier) {
	activeTier = t
	switch t {
	case TierAVX512:
		active = kernel{dot: dot16, l2Squared: l2Squared16}
	case TierAVX2:
		active = kernel{dot: dot8, l2Squared: l2Squared8}
	default:
		active = kernel{dot: dotScalar, l2Squared: l2SquaredScalar}
	}
}

// dotScalar is the portable fallback: one float32 accumulator,
// processed one lane at a time. Every wide kernel handles its tail
// remainder with the same one-lane loop.
func dotScalar(a, b []float32) float64 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return float64(sum)
}

func l2SquaredScalar(a, b []float32) float64 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float64(sum)
}

// dot8 processes 8 lanes per iteration (the width a real AVX2 kernel
// would use), then hands the remainder to the scalar tail. Go has no
// portable AVX2 intrinsics, so this is expressed as explicit
// loop-unrolled accumulation, which the compiler can still
// auto-vectorize on amd64; the dispatch indirection and tail handling
// are what matter for correctness, per spec.
func dot8(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	lanes := 8
	full := n - n%lanes
	var acc [8]float32
	for i := 0; i < full; i += lanes {
		acc[0] += a[i+0] * b[i+0]
		acc[1] += a[i+1] * b[i+1]
		acc[2] += a[i+2] * b[i+2]
		acc[3] += a[i+3] * b[i+3]
		acc[4] += a[i+4] * b[i+4]
		acc[5] += a[i+5] * b[i+5]
		acc[6] += a[i+6] * b[i+6]
		acc[7] += a[i+7] * b[i+7]
	}
	var sum float32
	for _, v := range acc {
		sum += v
	}
	for i := full; i < n; i++ {
		sum += a[i] * b[i]
	}
	return float64(sum)
}

func l2Squared8(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	lanes := 8
	full := n - n%lanes
	var acc [8]float32
	for i := 0; i < full; i += lanes {
		for l := 0; l < lanes; l++ {
			d := a[i+l] - b[i+l]
			acc[l] += d * d
		}
	}
	var sum float32
	for _, v := range acc {
		sum += v
	}
	for i := full; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float64(sum)
}

// dot16 is the 16-lane tier, mirroring a 512-bit-wide kernel. Same
// shape as dot8 with double the accumulator width.
func dot16(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	lanes := 16
	full := n - n%lanes
	var acc [16]float32
	for i := 0; i < full; i += lanes {
		for l := 0; l < lanes; l++ {
			acc[l] += a[i+l] * b[i+l]
		}
	}
	var sum float32
	for _, v := range acc {
		sum += v
	}
	for i := full; i < n; i++ {
		sum += a[i] * b[i]
	}
	return float64(sum)
}

func l2Squared16(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	lanes := 16
	full := n - n%lanes
	var acc [16]float32
	for i := 0; i < full; i += lanes {
		for l := 0; l < lanes; l++ {
			d := a[i+l] - b[i+l]
			acc[l] += d * d
		}
	}
	var sum float32
	for _, v := range acc {
		sum += v
	}
	for i := full; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float64(sum)
}
