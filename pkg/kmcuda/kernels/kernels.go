// Package kernels implements the device-side collaborators of the clustering
// engine: per-device workspace setup, the per-sample minimum-distance pass
// used by weighted seeding, and the bound-pruned Lloyd refinement loop.
//
// The Host implementation stages device buffers through host memory and
// computes with pkg/simd, so it works against any device.Backend. It mirrors
// its results to every device before returning, which is the consistency
// contract the orchestration layer relies on.
package kernels

import (
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
)

// Shape carries the dimensions of a clustering problem.
type Shape struct {
	Samples  uint32
	Features uint16
	Clusters uint32
	// Groups is the number of centroid groups used for bound pruning.
	// Zero disables the group machinery and the loop degrades to plain
	// Lloyd iterations.
	Groups uint32
}

// RowBytes returns the byte size of one feature row.
func (s Shape) RowBytes() int { return int(s.Features) * 4 }

// State holds the per-device buffers the refinement loop operates on.
// Every slice is indexed in lockstep with the resolved device list, except
// Samples which may hold a single entry when the caller's samples are
// resident on one device only.
type State struct {
	Samples     []device.Mem
	Centroids   []device.Mem
	Assignments []device.Mem
	// AssignmentsPrev and CCounts are convergence bookkeeping: previous
	// assignment per sample and member count per cluster.
	AssignmentsPrev []device.Mem
	CCounts         []device.Mem

	// Group-pruning state, present only when Shape.Groups >= 1.
	AssignmentsYY []device.Mem // per-cluster group index, Clusters entries
	PassedYY      []device.Mem // per-sample "needs full scan" flag
	BoundsYY      []device.Mem // per-sample upper bound + Groups lower bounds
	DriftsYY      []device.Mem // previous centroids + per-centroid drift
	// CentroidsYY is the group summary matrix. It may alias the storage of
	// PassedYY; the two are never written in the same phase.
	CentroidsYY []device.Mem
}

// SamplesFor returns the samples buffer to read for device slot di,
// degrading to the single caller-resident buffer when only one exists.
func (st *State) SamplesFor(di int) device.Mem {
	if di < len(st.Samples) {
		return st.Samples[di]
	}
	return st.Samples[0]
}
