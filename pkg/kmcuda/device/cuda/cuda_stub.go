//go:build !(linux || darwin)

// Package cuda bridges the clustering engine to the NVIDIA CUDA runtime.
// This is the stub for platforms where the purego bridge is not built.
package cuda

import (
	"errors"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
)

// Errors
var (
	ErrNotAvailable = errors.New("cuda: CUDA runtime library not found")
	ErrRuntime      = errors.New("cuda: runtime call failed")
)

// Backend is a stub; New always fails on this platform.
type Backend struct{}

// IsAvailable returns false on platforms without the purego bridge.
func IsAvailable() bool { return false }

// New returns ErrNotAvailable on this platform.
func New() (*Backend, error) { return nil, ErrNotAvailable }

// WrapPtr is a stub.
func (b *Backend) WrapPtr(dev int, ptr uintptr, size int) device.Mem { return nil }

func (b *Backend) Name() string                          { return "cuda" }
func (b *Backend) DeviceCount() (int, error)             { return 0, ErrNotAvailable }
func (b *Backend) SetDevice(dev int) error               { return ErrNotAvailable }
func (b *Backend) MemInfo() (uint64, uint64, error)      { return 0, 0, ErrNotAvailable }
func (b *Backend) Malloc(size int) (device.Mem, error)   { return nil, ErrNotAvailable }
func (b *Backend) Free(m device.Mem) error               { return ErrNotAvailable }
func (b *Backend) CopyToDevice(dst device.Mem, dstOff int, src []byte, async bool) error {
	return ErrNotAvailable
}
func (b *Backend) CopyToHost(dst []byte, src device.Mem, srcOff int) error {
	return ErrNotAvailable
}
func (b *Backend) CopyOnDevice(dst device.Mem, dstOff int, src device.Mem, srcOff, n int, async bool) error {
	return ErrNotAvailable
}
func (b *Backend) CopyPeer(dst, src device.Mem, n int) error { return ErrNotAvailable }
func (b *Backend) Synchronize() error                        { return ErrNotAvailable }
