// Package simd provides the float32 primitives the clustering kernels are
// built on. The heavy lifting is delegated to viterin/vek, which dispatches
// to AVX2/NEON at runtime and falls back to optimized pure Go elsewhere.
package simd

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// sumChunk bounds how many float32 values are reduced in one vectorized pass
// before folding into a float64 accumulator. Keeps long reductions from
// drifting while still letting vek do the work.
const sumChunk = 4096

// Dot returns the dot product of a and b.
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

// SquaredDistance returns the squared Euclidean distance between a and b.
func SquaredDistance(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	d := vek32.Distance(a, b)
	return d * d
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Distance(a, b)
}

// Sum reduces x into a float64 accumulator, vectorizing in fixed-size chunks.
// Used for the prefix reductions of the weighted seeding scan, where a plain
// float32 running sum loses too much precision on large sample counts.
func Sum(x []float32) float64 {
	var total float64
	for len(x) > 0 {
		n := len(x)
		if n > sumChunk {
			n = sumChunk
		}
		total += float64(vek32.Sum(x[:n]))
		x = x[n:]
	}
	return total
}

// Norm returns the L2 norm of v, or 0 for an all-zero vector.
func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	n := vek32.Norm(v)
	if math.IsNaN(float64(n)) {
		return 0
	}
	return n
}
