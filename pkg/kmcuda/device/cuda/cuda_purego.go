//go:build linux || darwin

// Package cuda bridges the clustering engine to the NVIDIA CUDA runtime.
//
// The runtime library is loaded dynamically with purego, so no CGO toolchain
// or CUDA SDK is needed at build time. On hosts without libcudart the package
// reports unavailability and callers fall back to the cpu backend.
//
// Library search order:
//   - libcudart.so / libcudart.so.12 / libcudart.so.11.0 (Linux)
//   - libcudart.dylib (macOS, legacy CUDA installs)
package cuda

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
)

// cudaMemcpyKind values from driver_types.h.
const (
	memcpyHostToDevice   = 1
	memcpyDeviceToHost   = 2
	memcpyDeviceToDevice = 3
)

// Errors
var (
	ErrNotAvailable = errors.New("cuda: CUDA runtime library not found")
	ErrRuntime      = errors.New("cuda: runtime call failed")
)

// CUDA runtime function pointers, registered on first use.
var (
	cudartLib uintptr
	cudartMu  sync.Mutex
	cudartErr error

	cudaGetDeviceCount    func(count *int32) int32
	cudaSetDevice         func(dev int32) int32
	cudaMalloc            func(ptr *uintptr, size uint64) int32
	cudaFree              func(ptr uintptr) int32
	cudaMemcpy            func(dst, src uintptr, n uint64, kind int32) int32
	cudaMemcpyAsync       func(dst, src uintptr, n uint64, kind int32, stream uintptr) int32
	cudaMemcpyPeer        func(dst uintptr, dstDev int32, src uintptr, srcDev int32, n uint64) int32
	cudaDeviceSynchronize func() int32
	cudaMemGetInfo        func(free, total *uint64) int32
)

func libraryCandidates() []string {
	return []string{
		"libcudart.so",
		"libcudart.so.12",
		"libcudart.so.11.0",
		"libcudart.dylib",
	}
}

func initCudart() error {
	cudartMu.Lock()
	defer cudartMu.Unlock()

	if cudartLib != 0 {
		return nil
	}
	if cudartErr != nil {
		return cudartErr
	}

	var lib uintptr
	var err error
	for _, name := range libraryCandidates() {
		lib, err = purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil && lib != 0 {
			break
		}
	}
	if lib == 0 {
		cudartErr = ErrNotAvailable
		return cudartErr
	}
	cudartLib = lib

	purego.RegisterLibFunc(&cudaGetDeviceCount, lib, "cudaGetDeviceCount")
	purego.RegisterLibFunc(&cudaSetDevice, lib, "cudaSetDevice")
	purego.RegisterLibFunc(&cudaMalloc, lib, "cudaMalloc")
	purego.RegisterLibFunc(&cudaFree, lib, "cudaFree")
	purego.RegisterLibFunc(&cudaMemcpy, lib, "cudaMemcpy")
	purego.RegisterLibFunc(&cudaMemcpyAsync, lib, "cudaMemcpyAsync")
	purego.RegisterLibFunc(&cudaMemcpyPeer, lib, "cudaMemcpyPeer")
	purego.RegisterLibFunc(&cudaDeviceSynchronize, lib, "cudaDeviceSynchronize")
	purego.RegisterLibFunc(&cudaMemGetInfo, lib, "cudaMemGetInfo")

	return nil
}

// IsAvailable reports whether the CUDA runtime can be loaded and sees at
// least one device.
func IsAvailable() bool {
	if err := initCudart(); err != nil {
		return false
	}
	var count int32
	if cudaGetDeviceCount(&count) != 0 {
		return false
	}
	return count > 0
}

// Backend drives CUDA devices through the dynamically loaded runtime.
type Backend struct {
	current int
}

type mem struct {
	dev  int
	ptr  uintptr
	size int
}

func (m *mem) Device() int { return m.dev }
func (m *mem) Size() int   { return m.size }

// New returns a CUDA backend, or ErrNotAvailable when the runtime library
// cannot be loaded.
func New() (*Backend, error) {
	if err := initCudart(); err != nil {
		return nil, err
	}
	return &Backend{}, nil
}

// WrapPtr registers an existing device pointer (for example one produced by
// another library on the same device) so the engine can alias it. The
// pointer is never freed by this package.
func (b *Backend) WrapPtr(dev int, ptr uintptr, size int) device.Mem {
	return &mem{dev: dev, ptr: ptr, size: size}
}

func (b *Backend) Name() string { return "cuda" }

func (b *Backend) DeviceCount() (int, error) {
	var count int32
	if rc := cudaGetDeviceCount(&count); rc != 0 {
		return 0, fmt.Errorf("%w: cudaGetDeviceCount rc=%d", ErrRuntime, rc)
	}
	return int(count), nil
}

func (b *Backend) SetDevice(dev int) error {
	if rc := cudaSetDevice(int32(dev)); rc != 0 {
		return fmt.Errorf("%w: cudaSetDevice(%d) rc=%d", ErrRuntime, dev, rc)
	}
	b.current = dev
	return nil
}

func (b *Backend) MemInfo() (free, total uint64, err error) {
	if rc := cudaMemGetInfo(&free, &total); rc != 0 {
		return 0, 0, fmt.Errorf("%w: cudaMemGetInfo rc=%d", ErrRuntime, rc)
	}
	return free, total, nil
}

func (b *Backend) Malloc(size int) (device.Mem, error) {
	var ptr uintptr
	if rc := cudaMalloc(&ptr, uint64(size)); rc != 0 {
		return nil, fmt.Errorf("%w: cudaMalloc(%d) rc=%d", ErrRuntime, size, rc)
	}
	return &mem{dev: b.current, ptr: ptr, size: size}, nil
}

func (b *Backend) Free(m device.Mem) error {
	cm := m.(*mem)
	if rc := cudaFree(cm.ptr); rc != 0 {
		return fmt.Errorf("%w: cudaFree rc=%d", ErrRuntime, rc)
	}
	cm.ptr = 0
	return nil
}

func (b *Backend) CopyToDevice(dst device.Mem, dstOff int, src []byte, async bool) error {
	if len(src) == 0 {
		return nil
	}
	cm := dst.(*mem)
	hp := uintptr(unsafe.Pointer(&src[0]))
	var rc int32
	if async {
		rc = cudaMemcpyAsync(cm.ptr+uintptr(dstOff), hp, uint64(len(src)), memcpyHostToDevice, 0)
	} else {
		rc = cudaMemcpy(cm.ptr+uintptr(dstOff), hp, uint64(len(src)), memcpyHostToDevice)
	}
	if rc != 0 {
		return fmt.Errorf("%w: H2D copy rc=%d", ErrRuntime, rc)
	}
	return nil
}

func (b *Backend) CopyToHost(dst []byte, src device.Mem, srcOff int) error {
	if len(dst) == 0 {
		return nil
	}
	cm := src.(*mem)
	hp := uintptr(unsafe.Pointer(&dst[0]))
	if rc := cudaMemcpy(hp, cm.ptr+uintptr(srcOff), uint64(len(dst)), memcpyDeviceToHost); rc != 0 {
		return fmt.Errorf("%w: D2H copy rc=%d", ErrRuntime, rc)
	}
	return nil
}

func (b *Backend) CopyOnDevice(dst device.Mem, dstOff int, src device.Mem, srcOff, n int, async bool) error {
	cd, cs := dst.(*mem), src.(*mem)
	var rc int32
	if async {
		rc = cudaMemcpyAsync(cd.ptr+uintptr(dstOff), cs.ptr+uintptr(srcOff), uint64(n), memcpyDeviceToDevice, 0)
	} else {
		rc = cudaMemcpy(cd.ptr+uintptr(dstOff), cs.ptr+uintptr(srcOff), uint64(n), memcpyDeviceToDevice)
	}
	if rc != 0 {
		return fmt.Errorf("%w: D2D copy rc=%d", ErrRuntime, rc)
	}
	return nil
}

func (b *Backend) CopyPeer(dst, src device.Mem, n int) error {
	cd, cs := dst.(*mem), src.(*mem)
	if rc := cudaMemcpyPeer(cd.ptr, int32(cd.dev), cs.ptr, int32(cs.dev), uint64(n)); rc != 0 {
		return fmt.Errorf("%w: peer copy rc=%d", ErrRuntime, rc)
	}
	return nil
}

func (b *Backend) Synchronize() error {
	if rc := cudaDeviceSynchronize(); rc != 0 {
		return fmt.Errorf("%w: cudaDeviceSynchronize rc=%d", ErrRuntime, rc)
	}
	return nil
}
