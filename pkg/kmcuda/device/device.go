// Package device abstracts the compute devices a clustering run executes on.
//
// A Backend exposes a CUDA-runtime-shaped API: an active device selected with
// SetDevice, byte-addressed device memory, and copies between host, device and
// peer devices. Copies issued with async=true are ordered against later
// operations on the same device's default work queue; Synchronize drains it.
//
// Two backends ship with this module: a CPU emulator (package cpu) used for
// tests and CPU-only hosts, and a purego bridge to the CUDA runtime library
// (package cuda).
package device

import "unsafe"

// Mem is device memory allocated by, or registered with, a Backend.
// A Mem stays bound to the device it was created on.
type Mem interface {
	// Device returns the index of the device holding this memory.
	Device() int
	// Size returns the allocation size in bytes.
	Size() int
}

// Backend is the device API consumed by the clustering engine.
//
// All memory operations act relative to the current device set by SetDevice,
// mirroring the CUDA runtime. Implementations are not required to be safe for
// concurrent use; the engine drives a single host thread.
type Backend interface {
	// Name identifies the backend ("cpu", "cuda").
	Name() string

	// DeviceCount reports the number of devices the backend can see.
	DeviceCount() (int, error)

	// SetDevice makes dev the current device. Selection failure is how a
	// dead or inaccessible device announces itself during resolution.
	SetDevice(dev int) error

	// MemInfo reports free and total memory of the current device in bytes.
	MemInfo() (free, total uint64, err error)

	// Malloc allocates size bytes on the current device.
	Malloc(size int) (Mem, error)

	// Free releases memory previously returned by Malloc. Memory registered
	// by other means (caller-aliased) must never be passed here.
	Free(m Mem) error

	// CopyToDevice copies len(src) bytes from host memory to dst at byte
	// offset dstOff.
	CopyToDevice(dst Mem, dstOff int, src []byte, async bool) error

	// CopyToHost copies len(dst) bytes from src at byte offset srcOff to
	// host memory. Always blocking.
	CopyToHost(dst []byte, src Mem, srcOff int) error

	// CopyOnDevice copies n bytes between two allocations on the current
	// device.
	CopyOnDevice(dst Mem, dstOff int, src Mem, srcOff, n int, async bool) error

	// CopyPeer copies n bytes from src to dst where the two allocations may
	// live on different devices.
	CopyPeer(dst, src Mem, n int) error

	// Synchronize blocks until all queued work on the current device has
	// completed.
	Synchronize() error
}

// Float32Bytes reinterprets a float32 slice as its underlying bytes without
// copying. The returned slice aliases s.
func Float32Bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}

// Uint32Bytes reinterprets a uint32 slice as its underlying bytes without
// copying. The returned slice aliases s.
func Uint32Bytes(s []uint32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}
