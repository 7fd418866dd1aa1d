package kmcuda

import (
	"math"
	"math/rand"
	"testing"
)

// checkCrossing verifies the defining property of the scan result: the
// inclusive prefix sum reaches target exactly at the returned index.
func checkCrossing(t *testing.T, dists []float32, target float64, j int) {
	t.Helper()
	var before float64
	for i := 0; i < j; i++ {
		before += float64(dists[i])
	}
	after := before + float64(dists[j])
	if j < len(dists)-1 && !(before < target && target <= after) {
		t.Fatalf("index %d: prefix[j-1]=%v, prefix[j]=%v do not bracket target %v",
			j, before, after, target)
	}
}

func TestSelectSample(t *testing.T) {
	ones := make([]float32, 1000)
	for i := range ones {
		ones[i] = 1
	}

	t.Run("linear path", func(t *testing.T) {
		// guess below the threshold forces the plain prefix walk
		j := selectSample(ones, 500, 50)
		if j != 499 {
			t.Fatalf("selectSample() = %d, want 499", j)
		}
	})

	t.Run("forward correction", func(t *testing.T) {
		// the bulk prefix undershoots the target and the walk advances
		j := selectSample(ones, 500, 400)
		if j != 499 {
			t.Fatalf("selectSample() = %d, want 499", j)
		}
	})

	t.Run("backward correction", func(t *testing.T) {
		// the bulk prefix overshoots and the walk retreats
		j := selectSample(ones, 500, 700)
		if j != 499 {
			t.Fatalf("selectSample() = %d, want 499", j)
		}
	})

	t.Run("exact guess", func(t *testing.T) {
		j := selectSample(ones, 500, 500)
		if j != 499 {
			t.Fatalf("selectSample() = %d, want 499", j)
		}
	})

	t.Run("target beyond total", func(t *testing.T) {
		if j := selectSample(ones, 5000, 500); j != 999 {
			t.Fatalf("selectSample() = %d, want last index 999", j)
		}
		if j := selectSample(ones, 5000, 10); j != 999 {
			t.Fatalf("selectSample() = %d, want last index 999", j)
		}
	})

	t.Run("guess clamped to range", func(t *testing.T) {
		j := selectSample(ones, 500, 5000)
		if j != 499 {
			t.Fatalf("selectSample() = %d, want 499", j)
		}
	})

	t.Run("degenerate targets", func(t *testing.T) {
		for _, target := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
			if j := selectSample(ones, target, 500); j != 0 {
				t.Fatalf("selectSample(target=%v) = %d, want 0", target, j)
			}
		}
	})

	t.Run("zero weights are never selected", func(t *testing.T) {
		// only every fourth entry carries weight; the crossing index must
		// land on a weighted entry on both scan paths
		dists := make([]float32, 800)
		for i := 0; i < len(dists); i += 4 {
			dists[i] = 2
		}
		for _, guess := range []int{10, 300, 799} {
			j := selectSample(dists, 123, guess)
			if dists[j] == 0 {
				t.Fatalf("guess %d selected zero-weight index %d", guess, j)
			}
			checkCrossing(t, dists, 123, j)
		}
	})

	t.Run("crossing property on integer weights", func(t *testing.T) {
		r := rand.New(rand.NewSource(3))
		dists := make([]float32, 2000)
		var total float64
		for i := range dists {
			dists[i] = float32(r.Intn(8)) // integer valued, chunk sums exact
			total += float64(dists[i])
		}
		for trial := 0; trial < 50; trial++ {
			choice := r.Float64()
			target := choice * total
			guess := int(choice * float64(len(dists)))
			j := selectSample(dists, target, guess)
			checkCrossing(t, dists, target, j)
		}
	})
}

func TestNewRNGDeterminism(t *testing.T) {
	a, b := newRNG(42), newRNG(42)
	for i := 0; i < 100; i++ {
		if a.Intn(1000) != b.Intn(1000) {
			t.Fatal("identical seeds diverged")
		}
	}
}
