package kmcuda

import "errors"

// Errors returned by Run. The first failing check wins; there is no retry or
// local recovery anywhere in this layer.
var (
	// ErrInvalidArguments reports a malformed scalar parameter or missing
	// caller storage.
	ErrInvalidArguments = errors.New("kmcuda: invalid arguments")

	// ErrNoSuchDevice reports a device mask that selects no usable device.
	ErrNoSuchDevice = errors.New("kmcuda: no such device")

	// ErrMemoryAllocation reports a failed device allocation.
	ErrMemoryAllocation = errors.New("kmcuda: memory allocation failed")

	// ErrMemoryCopy reports a failed host/device or peer copy.
	ErrMemoryCopy = errors.New("kmcuda: memory copy failed")

	// ErrRuntime reports a failed device diagnostic call.
	ErrRuntime = errors.New("kmcuda: runtime error")
)
