package kmcuda

import (
	"fmt"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/kernels"
)

// bufset tracks one logical buffer across devices, in lockstep with the
// resolved device list. Ownership is fixed at creation: aliased entries point
// into caller-supplied memory and are never freed here.
type bufset struct {
	mems  []device.Mem
	owned []bool
}

func (s *bufset) add(m device.Mem, owned bool) {
	s.mems = append(s.mems, m)
	s.owned = append(s.owned, owned)
}

// runBuffers collects every buffer set of a run so owned allocations have a
// single release point at run-scope exit, success or error.
type runBuffers struct {
	backend device.Backend
	sets    []*bufset
}

func newRunBuffers(b device.Backend) *runBuffers {
	return &runBuffers{backend: b}
}

func (rb *runBuffers) newSet() *bufset {
	s := &bufset{}
	rb.sets = append(rb.sets, s)
	return s
}

// perDevice allocates size bytes on every listed device into a fresh set.
func (rb *runBuffers) perDevice(devs []int, size int) (*bufset, error) {
	s := rb.newSet()
	for _, dev := range devs {
		if err := rb.backend.SetDevice(dev); err != nil {
			return nil, fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
		}
		m, err := rb.backend.Malloc(size)
		if err != nil {
			return nil, fmt.Errorf("%w: %d bytes on device %d: %v", ErrMemoryAllocation, size, dev, err)
		}
		s.add(m, true)
	}
	return s, nil
}

// releaseAll frees every owned allocation, newest set first. Aliased entries
// are left untouched.
func (rb *runBuffers) releaseAll() {
	for i := len(rb.sets) - 1; i >= 0; i-- {
		s := rb.sets[i]
		for j := len(s.mems) - 1; j >= 0; j-- {
			if !s.owned[j] {
				continue
			}
			if rb.backend.SetDevice(s.mems[j].Device()) != nil {
				continue
			}
			_ = rb.backend.Free(s.mems[j])
		}
	}
	rb.sets = nil
}

// orchestrate applies the per-buffer allocation/alias policy and returns the
// assembled kernel state plus whether results must be copied back to the
// caller at the end of the run.
//
// Samples: aliased when the caller says they are device-resident, otherwise
// allocated and mirrored to every device. Centroids/assignments: the device
// named by DevicePtrs aliases the caller's memory directly, sparing the
// result round trip; all other devices get owned allocations. Auxiliary
// group-pruning buffers exist only when at least one group is in play.
func orchestrate(opts *Options, rb *runBuffers, shape kernels.Shape, devs []int,
	samples []float32) (*kernels.State, bool, error) {

	st := &kernels.State{}
	sampleFloats := int(shape.Samples) * int(shape.Features)
	centroidFloats := int(shape.Clusters) * int(shape.Features)

	if opts.DevicePtrs < 0 {
		set, err := rb.perDevice(devs, sampleFloats*4)
		if err != nil {
			return nil, false, err
		}
		src := device.Float32Bytes(samples)
		for i, dev := range devs {
			if err := rb.backend.SetDevice(dev); err != nil {
				return nil, false, fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
			}
			if err := rb.backend.CopyToDevice(set.mems[i], 0, src, true); err != nil {
				return nil, false, fmt.Errorf("%w: samples to device %d: %v", ErrMemoryCopy, dev, err)
			}
		}
		st.Samples = set.mems
	} else {
		set := rb.newSet()
		set.add(opts.DevSamples, false)
		st.Samples = set.mems
	}

	mustCopyResult := true
	centSet := rb.newSet()
	assignSet := rb.newSet()
	for _, dev := range devs {
		if err := rb.backend.SetDevice(dev); err != nil {
			return nil, false, fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, dev, err)
		}
		if int32(dev) == opts.DevicePtrs {
			centSet.add(opts.DevCentroids, false)
			assignSet.add(opts.DevAssignments, false)
			mustCopyResult = false
		} else {
			cm, err := rb.backend.Malloc(centroidFloats * 4)
			if err != nil {
				return nil, false, fmt.Errorf("%w: centroids on device %d: %v", ErrMemoryAllocation, dev, err)
			}
			centSet.add(cm, true)
			am, err := rb.backend.Malloc(int(shape.Samples) * 4)
			if err != nil {
				return nil, false, fmt.Errorf("%w: assignments on device %d: %v", ErrMemoryAllocation, dev, err)
			}
			assignSet.add(am, true)
		}
	}
	st.Centroids = centSet.mems
	st.Assignments = assignSet.mems

	prevSet, err := rb.perDevice(devs, int(shape.Samples)*4)
	if err != nil {
		return nil, false, err
	}
	st.AssignmentsPrev = prevSet.mems

	ccountSet, err := rb.perDevice(devs, int(shape.Clusters)*4)
	if err != nil {
		return nil, false, err
	}
	st.CCounts = ccountSet.mems

	if shape.Groups >= 1 {
		ayy, err := rb.perDevice(devs, int(shape.Clusters)*4)
		if err != nil {
			return nil, false, err
		}
		st.AssignmentsYY = ayy.mems

		boundsFloats := int(shape.Samples) * (int(shape.Groups) + 1)
		byy, err := rb.perDevice(devs, boundsFloats*4)
		if err != nil {
			return nil, false, err
		}
		st.BoundsYY = byy.mems

		dyy, err := rb.perDevice(devs, (centroidFloats+int(shape.Clusters))*4)
		if err != nil {
			return nil, false, err
		}
		st.DriftsYY = dyy.mems

		pyy, err := rb.perDevice(devs, int(shape.Samples)*4)
		if err != nil {
			return nil, false, err
		}
		st.PassedYY = pyy.mems

		// The group summary fits inside the flag buffer's footprint when
		// yycSize + clusters + groups <= samples; the two views are never
		// live in the same refinement phase, so the storage is reused.
		yycFloats := int(shape.Groups) * int(shape.Features)
		if uint64(yycFloats)+uint64(shape.Clusters)+uint64(shape.Groups) <= uint64(shape.Samples) {
			cyy := rb.newSet()
			for _, m := range pyy.mems {
				cyy.add(m, false)
			}
			st.CentroidsYY = cyy.mems
		} else {
			cyy, err := rb.perDevice(devs, yycFloats*4)
			if err != nil {
				return nil, false, err
			}
			st.CentroidsYY = cyy.mems
		}
	}

	return st, mustCopyResult, nil
}
