package kmcuda

import (
	"math/rand"
	"testing"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device/cpu"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/kernels"
)

// seedCentroids runs the seeding phase in isolation and returns the centroid
// matrix it produced.
func seedCentroids(t *testing.T, method InitMethod, seed uint32, shape kernels.Shape, samples []float32) []float32 {
	t.Helper()
	backend := cpu.New(1)
	devs := []int{0}

	opts := &Options{InitMethod: method, Seed: seed, DevicePtrs: -1}
	rb := newRunBuffers(backend)
	defer rb.releaseAll()

	st, _, err := orchestrate(opts, rb, shape, devs, samples)
	if err != nil {
		t.Fatal(err)
	}
	kern := kernels.NewHost(backend)
	if err := kern.Setup(shape, devs); err != nil {
		t.Fatal(err)
	}
	if err := initCentroids(opts, backend, kern, shape, devs, st); err != nil {
		t.Fatal(err)
	}

	centroids := make([]float32, int(shape.Clusters)*int(shape.Features))
	if err := backend.SetDevice(0); err != nil {
		t.Fatal(err)
	}
	if err := backend.CopyToHost(device.Float32Bytes(centroids), st.Centroids[0], 0); err != nil {
		t.Fatal(err)
	}
	return centroids
}

func rowIsSample(row, samples []float32, f int) bool {
	for i := 0; i+f <= len(samples); i += f {
		match := true
		for d := 0; d < f; d++ {
			if samples[i+d] != row[d] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestInitCentroids(t *testing.T) {
	shape := kernels.Shape{Samples: 50, Features: 3, Clusters: 6}
	r := rand.New(rand.NewSource(1))
	samples := make([]float32, 50*3)
	for i := range samples {
		samples[i] = r.Float32()
	}
	f := int(shape.Features)

	for _, tt := range []struct {
		name   string
		method InitMethod
	}{
		{"random", InitRandom},
		{"kmeans++", InitPlusPlus},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cents := seedCentroids(t, tt.method, 9, shape, samples)

			for c := 0; c < int(shape.Clusters); c++ {
				row := cents[c*f : (c+1)*f]
				if !rowIsSample(row, samples, f) {
					t.Errorf("centroid %d is not a sample row: %v", c, row)
				}
			}

			again := seedCentroids(t, tt.method, 9, shape, samples)
			for i := range cents {
				if cents[i] != again[i] {
					t.Fatalf("same seed produced different centroids at %d", i)
				}
			}
		})
	}
}

func TestInitCentroidsMirrorsDevices(t *testing.T) {
	shape := kernels.Shape{Samples: 40, Features: 2, Clusters: 4}
	r := rand.New(rand.NewSource(2))
	samples := make([]float32, 40*2)
	for i := range samples {
		samples[i] = r.Float32()
	}

	backend := cpu.New(2)
	devs := []int{0, 1}
	opts := &Options{InitMethod: InitPlusPlus, Seed: 5, DevicePtrs: -1}
	rb := newRunBuffers(backend)
	defer rb.releaseAll()

	st, _, err := orchestrate(opts, rb, shape, devs, samples)
	if err != nil {
		t.Fatal(err)
	}
	kern := kernels.NewHost(backend)
	if err := kern.Setup(shape, devs); err != nil {
		t.Fatal(err)
	}
	if err := initCentroids(opts, backend, kern, shape, devs, st); err != nil {
		t.Fatal(err)
	}

	read := func(di int) []float32 {
		out := make([]float32, int(shape.Clusters)*int(shape.Features))
		if err := backend.SetDevice(devs[di]); err != nil {
			t.Fatal(err)
		}
		if err := backend.CopyToHost(device.Float32Bytes(out), st.Centroids[di], 0); err != nil {
			t.Fatal(err)
		}
		return out
	}
	c0, c1 := read(0), read(1)
	for i := range c0 {
		if c0[i] != c1[i] {
			t.Fatalf("devices diverge at float %d: %v vs %v", i, c0[i], c1[i])
		}
	}
}
