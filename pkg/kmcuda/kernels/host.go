package kernels

import (
	"fmt"
	"math"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/simd"
)

const maxIterations = 1000

// Host is the reference kernel set. It stages device buffers through host
// memory, computes with pkg/simd and writes results back to every device.
type Host struct {
	backend device.Backend
	shape   Shape
	devs    []int

	samples     []float32
	samplesFrom device.Mem

	// weighted-seeding state: running per-sample minimum squared distance
	// to the centroids chosen so far.
	minDists []float32
	ppCount  uint32
}

// NewHost returns kernels staging through the given backend.
func NewHost(b device.Backend) *Host {
	return &Host{backend: b}
}

// Setup records the problem shape and resets per-run scratch state.
func (h *Host) Setup(s Shape, devs []int) error {
	h.shape = s
	h.devs = devs
	h.samples = nil
	h.samplesFrom = nil
	h.minDists = make([]float32, s.Samples)
	for i := range h.minDists {
		h.minDists[i] = float32(math.Inf(1))
	}
	h.ppCount = 0
	return nil
}

// PlusPlus computes, for every sample, the squared distance to the nearest of
// the first cc centroids. The per-sample distances are written to hostDists
// and their sum is returned. Consecutive calls with cc, cc+1, ... reuse the
// previous minima and only measure against the newest centroid.
func (h *Host) PlusPlus(s Shape, cc uint32, devs []int, samples, centroids []device.Mem, hostDists []float32) (float64, error) {
	x, err := h.stage(samples[0])
	if err != nil {
		return 0, err
	}
	n := int(s.Samples)
	f := int(s.Features)

	if cc == h.ppCount+1 {
		newest, err := h.readFloats(centroids[0], (int(cc)-1)*f, f)
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			d := simd.SquaredDistance(x[i*f:(i+1)*f], newest)
			if d < h.minDists[i] {
				h.minDists[i] = d
			}
		}
	} else {
		cents, err := h.readFloats(centroids[0], 0, int(cc)*f)
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			xi := x[i*f : (i+1)*f]
			best := float32(math.Inf(1))
			for c := 0; c < int(cc); c++ {
				d := simd.SquaredDistance(xi, cents[c*f:(c+1)*f])
				if d < best {
					best = d
				}
			}
			h.minDists[i] = best
		}
	}
	h.ppCount = cc

	copy(hostDists, h.minDists)
	var sum float64
	for _, d := range h.minDists {
		sum += float64(d)
	}
	return sum, nil
}

// Yinyang runs the refinement loop to convergence. The loop stops once the
// number of reassignments in a step drops to tolerance*samples or below.
// On return, centroids and assignments are identical on every device.
func (h *Host) Yinyang(tolerance float32, s Shape, devs []int, st *State) error {
	n := int(s.Samples)
	f := int(s.Features)
	k := int(s.Clusters)
	g := int(s.Groups)

	x, err := h.stage(st.SamplesFor(0))
	if err != nil {
		return err
	}
	cents, err := h.readFloats(st.Centroids[0], 0, k*f)
	if err != nil {
		return err
	}

	assign := make([]uint32, n)
	for i := range assign {
		assign[i] = ^uint32(0)
	}
	prev := make([]uint32, n)
	counts := make([]uint32, k)
	sums := make([]float64, k*f)

	var groupOf []uint32
	var ub, lb []float32
	var passed []uint32
	if g >= 1 {
		groupOf = groupCentroids(cents, k, f, g)
		if err := h.writeAllU32(st.AssignmentsYY, groupOf); err != nil {
			return err
		}
		ub = make([]float32, n)
		lb = make([]float32, n*g)
		passed = make([]uint32, n)
	}

	assignFull(x, cents, assign, ub, lb, groupOf, n, f, k, g)

	limit := uint32(float64(tolerance) * float64(n))
	oldCents := make([]float32, k*f)
	drifts := make([]float32, k)
	groupDrift := make([]float32, g)

	for iter := 0; iter < maxIterations; iter++ {
		copy(prev, assign)
		copy(oldCents, cents)

		updateCentroids(x, assign, cents, counts, sums, n, f, k)
		for c := 0; c < k; c++ {
			drifts[c] = simd.Distance(oldCents[c*f:(c+1)*f], cents[c*f:(c+1)*f])
		}

		if err := h.writeAllU32(st.CCounts, counts); err != nil {
			return err
		}

		var changed uint32
		if g >= 1 {
			for gi := range groupDrift {
				groupDrift[gi] = 0
			}
			for c := 0; c < k; c++ {
				if drifts[c] > groupDrift[groupOf[c]] {
					groupDrift[groupOf[c]] = drifts[c]
				}
			}
			// drift buffer layout: previous centroid matrix, then magnitudes
			driftBuf := make([]float32, k*f+k)
			copy(driftBuf, oldCents)
			copy(driftBuf[k*f:], drifts)
			if err := h.writeAllF32(st.DriftsYY, driftBuf); err != nil {
				return err
			}

			changed = assignPruned(x, cents, assign, ub, lb, groupOf, drifts, groupDrift, passed, n, f, k, g)

			// passed flags and the group summary share storage when the
			// footprint allows it; they are written in disjoint phases.
			if err := h.writeAllU32(st.PassedYY, passed); err != nil {
				return err
			}
			if err := h.writeAllF32(st.CentroidsYY, groupSummary(cents, groupOf, k, f, g)); err != nil {
				return err
			}
		} else {
			changed = reassignFull(x, cents, assign, n, f, k)
		}

		// every device carries the refined centroids after each step
		if err := h.writeAllF32(st.Centroids, cents); err != nil {
			return err
		}

		if changed <= limit {
			break
		}
	}

	if err := h.writeAllU32(st.Assignments, assign); err != nil {
		return err
	}
	if err := h.writeAllU32(st.AssignmentsPrev, prev); err != nil {
		return err
	}
	if g >= 1 {
		bounds := make([]float32, n*(g+1))
		for i := 0; i < n; i++ {
			bounds[i*(g+1)] = ub[i]
			copy(bounds[i*(g+1)+1:(i+1)*(g+1)], lb[i*g:(i+1)*g])
		}
		if err := h.writeAllF32(st.BoundsYY, bounds); err != nil {
			return err
		}
	}

	for _, dev := range devs {
		if err := h.backend.SetDevice(dev); err != nil {
			return fmt.Errorf("kernels: select device %d: %w", dev, err)
		}
		if err := h.backend.Synchronize(); err != nil {
			return fmt.Errorf("kernels: synchronize device %d: %w", dev, err)
		}
	}
	return nil
}

// assignFull scans every centroid for every sample, seeding assignments and,
// when groups are enabled, the upper/lower distance bounds.
func assignFull(x, cents []float32, assign []uint32, ub, lb []float32, groupOf []uint32, n, f, k, g int) {
	gmin1 := make([]float32, g)
	gmin2 := make([]float32, g)
	for i := 0; i < n; i++ {
		xi := x[i*f : (i+1)*f]
		for gi := 0; gi < g; gi++ {
			gmin1[gi] = float32(math.Inf(1))
			gmin2[gi] = float32(math.Inf(1))
		}
		best := 0
		bestD := float32(math.Inf(1))
		for c := 0; c < k; c++ {
			d := simd.Distance(xi, cents[c*f:(c+1)*f])
			if d < bestD {
				bestD = d
				best = c
			}
			if g >= 1 {
				gi := groupOf[c]
				if d < gmin1[gi] {
					gmin2[gi] = gmin1[gi]
					gmin1[gi] = d
				} else if d < gmin2[gi] {
					gmin2[gi] = d
				}
			}
		}
		assign[i] = uint32(best)
		if g >= 1 {
			ub[i] = bestD
			for gi := 0; gi < g; gi++ {
				if groupOf[best] == uint32(gi) {
					lb[i*g+gi] = gmin2[gi]
				} else {
					lb[i*g+gi] = gmin1[gi]
				}
			}
		}
	}
}

// reassignFull is the plain Lloyd assignment step used when group pruning is
// disabled. Returns the number of samples that changed cluster.
func reassignFull(x, cents []float32, assign []uint32, n, f, k int) uint32 {
	var changed uint32
	for i := 0; i < n; i++ {
		xi := x[i*f : (i+1)*f]
		best := 0
		bestD := float32(math.Inf(1))
		for c := 0; c < k; c++ {
			d := simd.SquaredDistance(xi, cents[c*f:(c+1)*f])
			if d < bestD {
				bestD = d
				best = c
			}
		}
		if assign[i] != uint32(best) {
			assign[i] = uint32(best)
			changed++
		}
	}
	return changed
}

// assignPruned is the bound-maintained assignment step. Bounds are first
// relaxed by the centroid drifts; samples whose upper bound stays below every
// group's lower bound keep their assignment without a single distance
// computation. The rest tighten the upper bound and scan only the groups
// whose lower bound fell below it.
func assignPruned(x, cents []float32, assign []uint32, ub, lb []float32, groupOf []uint32, drifts, groupDrift []float32, passed []uint32, n, f, k, g int) uint32 {
	var changed uint32
	gmin1 := make([]float32, g)
	gmin2 := make([]float32, g)
	garg := make([]int, g)
	for i := 0; i < n; i++ {
		a := assign[i]
		ub[i] += drifts[a]
		lrow := lb[i*g : (i+1)*g]
		glb := float32(math.Inf(1))
		for gi := 0; gi < g; gi++ {
			lrow[gi] -= groupDrift[gi]
			if lrow[gi] < glb {
				glb = lrow[gi]
			}
		}
		if ub[i] <= glb {
			passed[i] = 0
			continue
		}

		xi := x[i*f : (i+1)*f]
		ub[i] = simd.Distance(xi, cents[int(a)*f:(int(a)+1)*f])
		if ub[i] <= glb {
			passed[i] = 0
			continue
		}
		passed[i] = 1

		best := int(a)
		bestD := ub[i]
		for gi := 0; gi < g; gi++ {
			if lrow[gi] >= ub[i] {
				gmin1[gi] = float32(math.NaN()) // marks a pruned group
				continue
			}
			gmin1[gi] = float32(math.Inf(1))
			gmin2[gi] = float32(math.Inf(1))
			garg[gi] = -1
			for c := 0; c < k; c++ {
				if groupOf[c] != uint32(gi) {
					continue
				}
				var d float32
				if c == int(a) {
					d = ub[i]
				} else {
					d = simd.Distance(xi, cents[c*f:(c+1)*f])
				}
				if d < gmin1[gi] {
					gmin2[gi] = gmin1[gi]
					gmin1[gi] = d
					garg[gi] = c
				} else if d < gmin2[gi] {
					gmin2[gi] = d
				}
				if d < bestD {
					bestD = d
					best = c
				}
			}
		}
		for gi := 0; gi < g; gi++ {
			if gmin1[gi] != gmin1[gi] { // pruned group keeps its relaxed bound
				continue
			}
			if garg[gi] == best {
				lrow[gi] = gmin2[gi]
			} else {
				lrow[gi] = gmin1[gi]
			}
		}
		ub[i] = bestD
		if best != int(a) {
			assign[i] = uint32(best)
			changed++
		}
	}
	return changed
}

// updateCentroids recomputes each centroid as the mean of its members.
// Empty clusters keep their previous position.
func updateCentroids(x []float32, assign []uint32, cents []float32, counts []uint32, sums []float64, n, f, k int) {
	for c := range counts {
		counts[c] = 0
	}
	for i := range sums {
		sums[i] = 0
	}
	for i := 0; i < n; i++ {
		c := int(assign[i])
		counts[c]++
		for d := 0; d < f; d++ {
			sums[c*f+d] += float64(x[i*f+d])
		}
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			continue
		}
		inv := 1 / float64(counts[c])
		for d := 0; d < f; d++ {
			cents[c*f+d] = float32(sums[c*f+d] * inv)
		}
	}
}

// groupCentroids partitions the centroids into g groups with a short Lloyd
// run, seeded with evenly spaced centroids. Group quality only affects how
// much the bounds prune, not correctness.
func groupCentroids(cents []float32, k, f, g int) []uint32 {
	groupOf := make([]uint32, k)
	seeds := make([]float32, g*f)
	for gi := 0; gi < g; gi++ {
		copy(seeds[gi*f:(gi+1)*f], cents[(gi*k/g)*f:(gi*k/g+1)*f])
	}
	counts := make([]uint32, g)
	sums := make([]float64, g*f)
	for iter := 0; iter < 8; iter++ {
		changed := reassignFull(cents, seeds, groupOf, k, f, g)
		updateCentroids(cents, groupOf, seeds, counts, sums, k, f, g)
		if changed == 0 {
			break
		}
	}
	return groupOf
}

// groupSummary returns the mean centroid of each group, the matrix staged
// into the CentroidsYY buffer.
func groupSummary(cents []float32, groupOf []uint32, k, f, g int) []float32 {
	out := make([]float32, g*f)
	counts := make([]uint32, g)
	sums := make([]float64, g*f)
	updateCentroids(cents, groupOf, out, counts, sums, k, f, g)
	return out
}

func (h *Host) stage(m device.Mem) ([]float32, error) {
	if h.samples != nil && h.samplesFrom == m {
		return h.samples, nil
	}
	x, err := h.readFloats(m, 0, int(h.shape.Samples)*int(h.shape.Features))
	if err != nil {
		return nil, err
	}
	h.samples = x
	h.samplesFrom = m
	return x, nil
}

func (h *Host) readFloats(m device.Mem, off, n int) ([]float32, error) {
	if err := h.backend.SetDevice(m.Device()); err != nil {
		return nil, fmt.Errorf("kernels: select device %d: %w", m.Device(), err)
	}
	buf := make([]float32, n)
	if err := h.backend.CopyToHost(device.Float32Bytes(buf), m, off*4); err != nil {
		return nil, fmt.Errorf("kernels: stage from device %d: %w", m.Device(), err)
	}
	return buf, nil
}

func (h *Host) writeAllF32(mems []device.Mem, s []float32) error {
	return h.writeAll(mems, device.Float32Bytes(s))
}

func (h *Host) writeAllU32(mems []device.Mem, s []uint32) error {
	return h.writeAll(mems, device.Uint32Bytes(s))
}

func (h *Host) writeAll(mems []device.Mem, b []byte) error {
	for _, m := range mems {
		if err := h.backend.SetDevice(m.Device()); err != nil {
			return fmt.Errorf("kernels: select device %d: %w", m.Device(), err)
		}
		if err := h.backend.CopyToDevice(m, 0, b, false); err != nil {
			return fmt.Errorf("kernels: mirror to device %d: %w", m.Device(), err)
		}
	}
	return nil
}
