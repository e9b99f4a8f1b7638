// Package distance implements the scalar and vectorized distance
// kernels used throughout an index: cosine, L2, L1 and dot product over
// float32 slices, with CPU-feature-gated lane widths for the hand-rolled
// loops and a SIMD-accelerated dot product for cosine.
package distance

import (
	"fmt"
	"math"
	"runtime"

	"github.com/viterin/vek/vek32"
	"golang.org/x/sys/cpu"
)

// Metric selects the kernel used throughout an index. Cosine is the
// default.
type Metric int

const (
	Cosine Metric = iota
	L2
	L1
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case L2:
		return "l2"
	case L1:
		return "l1"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric parses a metric name out of configuration.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine", "":
		return Cosine, nil
	case "l2":
		return L2, nil
	case "l1":
		return L1, nil
	default:
		return 0, fmt.Errorf("distance: unknown metric %q", s)
	}
}

// Func computes the distance between two equal-length float32 vectors.
type Func func(x, y []float32) float32

// Get returns the kernel for m.
func Get(m Metric) (Func, error) {
	switch m {
	case Cosine:
		return Cosine_, nil
	case L2:
		return L2_, nil
	case L1:
		return L1_, nil
	default:
		return nil, fmt.Errorf("distance: unknown metric %d", int(m))
	}
}

// laneWidth returns the SIMD lane width the scalar fallback loops unroll
// by, gated on the CPU feature bits cpu.X86/cpu.ARM64 actually report: 8
// when AVX2 is present, 4 for NEON (mandatory on arm64) or non-AVX2
// amd64, 1 when neither applies.
func laneWidth() int {
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX2 {
			return 8
		}
		return 4
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return 4
		}
		return 1
	default:
		return 1
	}
}

// Dot returns the dot product of x and y, using vek32's SIMD-accelerated
// implementation.
func Dot(x, y []float32) float32 {
	return vek32.Dot(x, y)
}

// Cosine_ returns 1 - dot(x,y)/(|x||y|). Zero-norm vectors return the
// maximum distance 1.0 rather than NaN.
func Cosine_(x, y []float32) float32 {
	dot := vek32.Dot(x, y)
	normX := float32(math.Sqrt(float64(vek32.Dot(x, x))))
	normY := float32(math.Sqrt(float64(vek32.Dot(y, y))))
	if normX == 0 || normY == 0 {
		return 1.0
	}
	sim := dot / (normX * normY)
	if sim > 1.0 {
		sim = 1.0
	} else if sim < -1.0 {
		sim = -1.0
	}
	return 1.0 - sim
}

// L2_ returns the Euclidean distance between x and y, vectorized over
// laneWidth()-wide unrolled groups with a scalar tail.
func L2_(x, y []float32) float32 {
	lane := laneWidth()
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	full := n - n%lane

	var acc float32
	for i := 0; i < full; i += lane {
		for j := 0; j < lane; j++ {
			d := x[i+j] - y[i+j]
			acc += d * d
		}
	}
	for i := full; i < n; i++ {
		d := x[i] - y[i]
		acc += d * d
	}
	return float32(math.Sqrt(float64(acc)))
}

// L1_ returns the Manhattan distance between x and y, vectorized over
// laneWidth()-wide unrolled groups with a scalar tail.
func L1_(x, y []float32) float32 {
	lane := laneWidth()
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	full := n - n%lane

	var acc float32
	for i := 0; i < full; i += lane {
		for j := 0; j < lane; j++ {
			d := x[i+j] - y[i+j]
			if d < 0 {
				d = -d
			}
			acc += d
		}
	}
	for i := full; i < n; i++ {
		d := x[i] - y[i]
		if d < 0 {
			d = -d
		}
		acc += d
	}
	return acc
}

// ScoreOf converts a raw distance into a ranking score: 1 - distance
// for cosine, -distance otherwise, so that in every metric a larger
// score means a closer match.
func ScoreOf(m Metric, d float32) float32 {
	if m == Cosine {
		return 1 - d
	}
	return -d
}
