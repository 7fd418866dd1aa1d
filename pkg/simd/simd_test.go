package simd

import (
	"math"
	"testing"
)

func TestDot(t *testing.T) {
	if got := Dot([]float32{1, 2, 3}, []float32{4, 5, 6}); got != 32 {
		t.Errorf("Dot = %v, want 32", got)
	}
	if got := Dot(nil, nil); got != 0 {
		t.Errorf("Dot(nil) = %v, want 0", got)
	}
}

func TestDistances(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{3, 4}
	if got := Distance(a, b); math.Abs(float64(got)-5) > 1e-6 {
		t.Errorf("Distance = %v, want 5", got)
	}
	if got := SquaredDistance(a, b); math.Abs(float64(got)-25) > 1e-4 {
		t.Errorf("SquaredDistance = %v, want 25", got)
	}
	if got := Distance(a, a); got != 0 {
		t.Errorf("Distance(a, a) = %v, want 0", got)
	}
	if got := Distance(nil, nil); got != 0 {
		t.Errorf("Distance(nil) = %v, want 0", got)
	}
}

func TestSum(t *testing.T) {
	t.Run("spans chunks exactly", func(t *testing.T) {
		// integer values stay exact in float32, so the chunked reduction
		// must match the plain walk to the last bit
		x := make([]float32, 10000)
		for i := range x {
			x[i] = float32(i % 7)
		}
		var want float64
		for _, v := range x {
			want += float64(v)
		}
		if got := Sum(x); got != want {
			t.Errorf("Sum = %v, want %v", got, want)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := Sum(nil); got != 0 {
			t.Errorf("Sum(nil) = %v, want 0", got)
		}
	})

	t.Run("short slice", func(t *testing.T) {
		if got := Sum([]float32{1.5, 2.5}); got != 4 {
			t.Errorf("Sum = %v, want 4", got)
		}
	})
}

func TestNorm(t *testing.T) {
	if got := Norm([]float32{3, 4}); math.Abs(float64(got)-5) > 1e-6 {
		t.Errorf("Norm = %v, want 5", got)
	}
	if got := Norm([]float32{0, 0, 0}); got != 0 {
		t.Errorf("Norm(zero) = %v, want 0", got)
	}
	if got := Norm(nil); got != 0 {
		t.Errorf("Norm(nil) = %v, want 0", got)
	}
}
