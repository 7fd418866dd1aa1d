// Package kmcuda is the orchestration and initialization layer of a
// multi-device K-means clustering engine.
//
// Run partitions a sample matrix into K clusters with a Yinyang-accelerated
// variant of Lloyd's algorithm. This package owns argument validation, device
// resolution, cross-device buffer allocation and aliasing, and centroid
// seeding (uniform random or k-means++); the distance and refinement kernels
// are consumed through the Kernels interface.
//
// Example:
//
//	backend := cpu.New(1)
//	opts := &kmcuda.Options{
//		InitMethod: kmcuda.InitPlusPlus,
//		Tolerance:  0.01,
//		YinyangT:   0.1,
//		Seed:       42,
//		DeviceMask: 0b1,
//		DevicePtrs: -1,
//		Backend:    backend,
//	}
//	centroids := make([]float32, 5*4)
//	assignments := make([]uint32, 100)
//	err := kmcuda.Run(opts, 100, 4, 5, samples, centroids, assignments)
package kmcuda

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device/cpu"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device/cuda"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/kernels"
)

// InitMethod selects the centroid seeding strategy.
type InitMethod int

const (
	// InitRandom seeds each centroid with a uniformly random sample row.
	InitRandom InitMethod = iota
	// InitPlusPlus seeds with the weighted greedy k-means++ strategy.
	InitPlusPlus
)

// Kernels are the external collaborators of the orchestration layer: the
// per-device workspace setup, the minimum-distance pass used by weighted
// seeding, and the refinement loop. kernels.Host is the bundled
// implementation; alternative device-native kernels can be substituted.
type Kernels interface {
	Setup(s kernels.Shape, devs []int) error
	PlusPlus(s kernels.Shape, cc uint32, devs []int, samples, centroids []device.Mem, hostDists []float32) (float64, error)
	Yinyang(tolerance float32, s kernels.Shape, devs []int, st *kernels.State) error
}

// Options configures a clustering run.
type Options struct {
	// InitMethod selects random or k-means++ seeding.
	InitMethod InitMethod

	// Tolerance stops refinement once the fraction of samples changing
	// cluster in a step drops to this value or below. Must be in [0, 1].
	Tolerance float32

	// YinyangT bounds the fraction of clusters eligible for group-level
	// pruning: the refinement loop uses floor(YinyangT*clusters) centroid
	// groups. Must be in [0, 0.5]; values below 1/clusters disable the
	// group machinery entirely.
	YinyangT float32

	// Seed makes both seeding strategies reproducible.
	Seed uint32

	// DeviceMask requests device i via bit i. Zero is reserved to mean
	// "no device requested" and is rejected.
	DeviceMask uint32

	// Verbosity: 0 silent, 1 progress, >1 adds argument and memory
	// diagnostics. Diagnostic output carries no contract.
	Verbosity int32

	// DevicePtrs < 0 means the caller passes host slices to Run.
	// DevicePtrs >= 0 names the device whose memory already holds the
	// sample/centroid/assignment buffers; DevSamples, DevCentroids and
	// DevAssignments must then be set and the engine aliases them instead
	// of copying.
	DevicePtrs int32

	DevSamples     device.Mem
	DevCentroids   device.Mem
	DevAssignments device.Mem

	// Backend is the device API to run against. Nil selects the CUDA
	// bridge when the runtime library is present, else the CPU emulator.
	Backend device.Backend

	// Kernels overrides the bundled host-staged kernels.
	Kernels Kernels
}

func (o *Options) infof(format string, args ...any) {
	if o.Verbosity > 0 {
		fmt.Printf(format, args...)
	}
}

func (o *Options) debugf(format string, args ...any) {
	if o.Verbosity > 1 {
		fmt.Printf(format, args...)
	}
}

// Run clusters samplesSize rows of featuresSize features into clustersSize
// clusters. With DevicePtrs < 0, samples is read, centroids and assignments
// receive the result. With DevicePtrs >= 0 the device-resident buffers in
// opts are used directly and the host slices may be nil.
//
// Any failing step aborts the run with one of the package error sentinels;
// buffers allocated up to that point are released on every exit path.
func Run(opts *Options, samplesSize uint32, featuresSize uint16, clustersSize uint32,
	samples, centroids []float32, assignments []uint32) error {

	opts.debugf("arguments: %d %.3f %.2f %d %d %d %d %d %d %d\n",
		opts.InitMethod, opts.Tolerance, opts.YinyangT, samplesSize, featuresSize,
		clustersSize, opts.Seed, opts.DeviceMask, opts.Verbosity, opts.DevicePtrs)

	backend := opts.Backend
	if backend == nil {
		backend = defaultBackend()
	}

	if err := checkArgs(opts, backend, samplesSize, featuresSize, clustersSize,
		samples, centroids, assignments); err != nil {
		return err
	}

	devs := device.Resolve(backend, opts.DeviceMask, func(format string, args ...any) {
		opts.infof(format, args...)
	})
	if len(devs) == 0 {
		return ErrNoSuchDevice
	}

	rb := newRunBuffers(backend)
	defer rb.releaseAll()

	shape := kernels.Shape{
		Samples:  samplesSize,
		Features: featuresSize,
		Clusters: clustersSize,
		Groups:   uint32(opts.YinyangT * float32(clustersSize)),
	}
	opts.debugf("yinyang groups: %d\n", shape.Groups)

	st, mustCopyResult, err := orchestrate(opts, rb, shape, devs, samples)
	if err != nil {
		return err
	}

	if opts.Verbosity > 1 {
		if err := printMemoryStats(backend, devs[0]); err != nil {
			return err
		}
	}

	kern := opts.Kernels
	if kern == nil {
		kern = kernels.NewHost(backend)
	}
	if err := kern.Setup(shape, devs); err != nil {
		return fmt.Errorf("%w: kernel setup: %v", ErrRuntime, err)
	}

	if err := initCentroids(opts, backend, kern, shape, devs, st); err != nil {
		return err
	}

	if err := kern.Yinyang(opts.Tolerance, shape, devs, st); err != nil {
		return fmt.Errorf("%w: refinement: %v", ErrRuntime, err)
	}

	if err := collectResults(opts, backend, devs, st, mustCopyResult, shape, centroids, assignments); err != nil {
		return err
	}

	opts.debugf("return success\n")
	return nil
}

// checkArgs validates every scalar and storage parameter before any resource
// is touched. The first violated constraint decides the returned error.
func checkArgs(opts *Options, backend device.Backend, samplesSize uint32, featuresSize uint16,
	clustersSize uint32, samples, centroids []float32, assignments []uint32) error {
	if clustersSize < 2 || clustersSize == math.MaxUint32 {
		return ErrInvalidArguments
	}
	if featuresSize == 0 {
		return ErrInvalidArguments
	}
	if samplesSize < clustersSize {
		return ErrInvalidArguments
	}
	if opts.DeviceMask == 0 {
		return ErrNoSuchDevice
	}
	count, err := backend.DeviceCount()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSuchDevice, err)
	}
	if count < 32 && uint64(opts.DeviceMask) > uint64(1)<<uint(count) {
		return ErrNoSuchDevice
	}
	if opts.DevicePtrs < 0 {
		if samples == nil || centroids == nil || assignments == nil {
			return ErrInvalidArguments
		}
		if len(samples) < int(samplesSize)*int(featuresSize) ||
			len(centroids) < int(clustersSize)*int(featuresSize) ||
			len(assignments) < int(samplesSize) {
			return ErrInvalidArguments
		}
	} else {
		if opts.DevSamples == nil || opts.DevCentroids == nil || opts.DevAssignments == nil {
			return ErrInvalidArguments
		}
	}
	if opts.Tolerance < 0 || opts.Tolerance > 1 {
		return ErrInvalidArguments
	}
	if opts.YinyangT < 0 || opts.YinyangT > 0.5 {
		return ErrInvalidArguments
	}
	return nil
}

// printMemoryStats reports the primary device's memory usage. A failing
// memory-info query is fatal to the run.
func printMemoryStats(backend device.Backend, dev int) error {
	if err := backend.SetDevice(dev); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	free, total, err := backend.MemInfo()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	used := total - free
	fmt.Printf("device memory: used %d bytes (%.1f%%), free %d bytes, total %d bytes\n",
		used, float64(used)*100/float64(total), free, total)
	return nil
}

func defaultBackend() device.Backend {
	if cuda.IsAvailable() {
		if b, err := cuda.New(); err == nil {
			return b
		}
	}
	return cpu.New(1)
}

// newRNG builds the deterministic generator both seeding strategies draw
// from. A fixed seed reproduces the exact multiset of chosen sample indices.
func newRNG(seed uint32) *rand.Rand {
	return rand.New(rand.NewSource(int64(seed)))
}
