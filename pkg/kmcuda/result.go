package kmcuda

import (
	"fmt"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/kernels"
)

// collectResults copies the converged centroids and assignments from the
// primary device back to the caller. When the primary device's buffers alias
// the caller's memory the results are already in place and nothing is copied.
// Device-resident callers on a non-primary device receive peer copies.
func collectResults(opts *Options, backend device.Backend, devs []int, st *kernels.State,
	mustCopyResult bool, shape kernels.Shape, centroids []float32, assignments []uint32) error {

	if !mustCopyResult {
		return nil
	}

	primary := devs[0]
	if err := backend.SetDevice(primary); err != nil {
		return fmt.Errorf("%w: select device %d: %v", ErrNoSuchDevice, primary, err)
	}

	centroidBytes := int(shape.Clusters) * shape.RowBytes()
	assignmentBytes := int(shape.Samples) * 4

	if opts.DevicePtrs < 0 {
		dst := device.Float32Bytes(centroids)[:centroidBytes]
		if err := backend.CopyToHost(dst, st.Centroids[0], 0); err != nil {
			return fmt.Errorf("%w: centroids to host: %v", ErrMemoryCopy, err)
		}
		adst := device.Uint32Bytes(assignments)[:assignmentBytes]
		if err := backend.CopyToHost(adst, st.Assignments[0], 0); err != nil {
			return fmt.Errorf("%w: assignments to host: %v", ErrMemoryCopy, err)
		}
		return nil
	}

	if err := backend.CopyPeer(opts.DevCentroids, st.Centroids[0], centroidBytes); err != nil {
		return fmt.Errorf("%w: centroids to device %d: %v", ErrMemoryCopy, opts.DevicePtrs, err)
	}
	if err := backend.CopyPeer(opts.DevAssignments, st.Assignments[0], assignmentBytes); err != nil {
		return fmt.Errorf("%w: assignments to device %d: %v", ErrMemoryCopy, opts.DevicePtrs, err)
	}
	return nil
}
