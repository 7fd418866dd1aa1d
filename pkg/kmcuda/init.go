package kmcuda

import (
	"fmt"
	"math"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/kernels"
	"github.com/Zhiyu-Chen/kmcuda/pkg/simd"
)

// linearScanThreshold is the index guess below which the guess-and-correct
// scan gains nothing over a plain prefix walk from the start.
const linearScanThreshold = 100

// initCentroids fills every centroid slot with a sample row, leaving all
// selected devices holding an identical copy of the centroid matrix.
func initCentroids(opts *Options, backend device.Backend, kern Kernels,
	shape kernels.Shape, devs []int, st *kernels.State) error {

	r := newRNG(opts.Seed)
	rowBytes := shape.RowBytes()
	n := int(shape.Samples)

	switch opts.InitMethod {
	case InitRandom:
		opts.infof("randomly picking initial centroids...\n")
		for c := uint32(0); c < shape.Clusters; c++ {
			src := r.Intn(n)
			// blocking checkpoints keep the host from racing too far
			// ahead and double as progress reports
			blocking := (c+1)%1000 == 0 || c == shape.Clusters-1
			if blocking {
				opts.infof("\rcentroid #%d", c+1)
			}
			for di, dev := range devs {
				if err := backend.SetDevice(dev); err != nil {
					return fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
				}
				err := backend.CopyOnDevice(st.Centroids[di], int(c)*rowBytes,
					st.SamplesFor(di), src*rowBytes, rowBytes, !blocking)
				if err != nil {
					return fmt.Errorf("%w: seed centroid %d on device %d: %v", ErrMemoryCopy, c, dev, err)
				}
			}
		}

	case InitPlusPlus:
		opts.infof("performing kmeans++...\n")
		src := r.Intn(n)
		for di, dev := range devs {
			if err := backend.SetDevice(dev); err != nil {
				return fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
			}
			err := backend.CopyOnDevice(st.Centroids[di], 0, st.SamplesFor(di), src*rowBytes, rowBytes, true)
			if err != nil {
				return fmt.Errorf("%w: seed centroid 0 on device %d: %v", ErrMemoryCopy, dev, err)
			}
		}

		hostDists := make([]float32, n)
		for i := uint32(1); i < shape.Clusters; i++ {
			if opts.Verbosity > 1 || (opts.Verbosity > 0 &&
				(shape.Clusters < 100 || i%(shape.Clusters/100) == 0)) {
				fmt.Printf("\rstep %d", i)
			}
			distSum, err := kern.PlusPlus(shape, i, devs, st.Samples, st.Centroids, hostDists)
			if err != nil {
				return fmt.Errorf("%w: min-distance pass at step %d: %v", ErrRuntime, i, err)
			}
			// one uniform draw drives both the cumulative target and the
			// index guess; under roughly uniform weights the guess lands
			// near the target's position
			choice := r.Float64()
			j := selectSample(hostDists, choice*distSum, int(choice*float64(n)))
			for di, dev := range devs {
				if err := backend.SetDevice(dev); err != nil {
					return fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
				}
				err := backend.CopyOnDevice(st.Centroids[di], int(i)*rowBytes,
					st.SamplesFor(di), j*rowBytes, rowBytes, true)
				if err != nil {
					return fmt.Errorf("%w: seed centroid %d on device %d: %v", ErrMemoryCopy, i, dev, err)
				}
			}
		}
	}

	for _, dev := range devs {
		if err := backend.SetDevice(dev); err != nil {
			return fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
		}
		if err := backend.Synchronize(); err != nil {
			return fmt.Errorf("%w: synchronize device %d: %v", ErrRuntime, dev, err)
		}
	}
	opts.infof("\rdone            \n")
	return nil
}

// selectSample returns the smallest index j whose inclusive prefix sum of
// dists reaches target. guess is a starting estimate: below
// linearScanThreshold the plain prefix walk from index 0 wins, otherwise the
// prefix up to guess is computed with a vectorized reduction and corrected by
// walking forward or backward to the crossing point. Either path yields an
// index j with prefix[j-1] < target <= prefix[j], up to the accumulation
// granularity of the bulk reduction.
//
// A target that is zero, negative, NaN or infinite (all remaining samples
// coincide with an existing centroid, or the distance kernel produced a
// non-finite sum) selects index 0.
func selectSample(dists []float32, target float64, guess int) int {
	n := len(dists)
	if !(target > 0) || math.IsInf(target, 0) {
		return 0
	}
	if guess >= n {
		guess = n - 1
	}

	if guess < linearScanThreshold {
		acc := 0.0
		for j := 0; j < n; j++ {
			acc += float64(dists[j])
			if acc >= target {
				return j
			}
		}
		return n - 1
	}

	acc := simd.Sum(dists[:guess]) // inclusive prefix of guess-1
	if acc < target {
		for j := guess; j < n; j++ {
			acc += float64(dists[j])
			if acc >= target {
				return j
			}
		}
		return n - 1
	}
	j := guess - 1
	for j > 0 && acc-float64(dists[j]) >= target {
		acc -= float64(dists[j])
		j--
	}
	return j
}
