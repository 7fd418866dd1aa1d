// Package cpu emulates a multi-device compute backend on host memory.
//
// Every emulated device is backed by ordinary Go slices, so all transfers are
// plain copies. The emulator keeps per-operation counters and supports fault
// injection (marking a device unavailable), which makes it the backend of
// choice for tests and for hosts without a GPU.
package cpu

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
)

// Errors
var (
	ErrNoSuchDevice  = errors.New("cpu: no such device")
	ErrUnavailable   = errors.New("cpu: device marked unavailable")
	ErrOutOfMemory   = errors.New("cpu: allocation exceeds device memory")
	ErrForeignMemory = errors.New("cpu: memory does not belong to this backend")
	ErrOutOfRange    = errors.New("cpu: copy out of range")
	ErrWrongDevice   = errors.New("cpu: memory not resident on current device")
)

// Stats counts operations issued against the backend. Useful for asserting
// copy behavior (e.g. that a device-resident caller incurs zero host copies).
type Stats struct {
	Allocs         int64
	Frees          int64
	HostToDevice   int64
	DeviceToHost   int64
	DeviceToDevice int64
	Peer           int64
	Syncs          int64
}

// Backend emulates n independent devices sharing the host's memory.
type Backend struct {
	devices     int
	current     int
	totalMem    uint64
	allocated   []int64 // per device, bytes
	unavailable []bool

	allocs         atomic.Int64
	frees          atomic.Int64
	hostToDevice   atomic.Int64
	deviceToHost   atomic.Int64
	deviceToDevice atomic.Int64
	peer           atomic.Int64
	syncs          atomic.Int64
}

type mem struct {
	dev     int
	buf     []byte
	backend *Backend
	wrapped bool
}

func (m *mem) Device() int { return m.dev }
func (m *mem) Size() int   { return len(m.buf) }

// New creates an emulator exposing the given number of devices. Each device
// reports 8 GiB of memory.
func New(devices int) *Backend {
	if devices < 1 {
		devices = 1
	}
	return &Backend{
		devices:     devices,
		totalMem:    8 << 30,
		allocated:   make([]int64, devices),
		unavailable: make([]bool, devices),
	}
}

// SetUnavailable marks a device as failing its selection probe, emulating a
// dead or permission-denied device.
func (b *Backend) SetUnavailable(dev int) {
	if dev >= 0 && dev < b.devices {
		b.unavailable[dev] = true
	}
}

// Wrap registers caller-owned host memory as if it were resident on dev.
// The engine reads and writes the slice in place; it is never freed here.
func (b *Backend) Wrap(dev int, buf []byte) device.Mem {
	return &mem{dev: dev, buf: buf, backend: b, wrapped: true}
}

// WrapFloat32 is Wrap for a float32 slice.
func (b *Backend) WrapFloat32(dev int, s []float32) device.Mem {
	return b.Wrap(dev, device.Float32Bytes(s))
}

// WrapUint32 is Wrap for a uint32 slice.
func (b *Backend) WrapUint32(dev int, s []uint32) device.Mem {
	return b.Wrap(dev, device.Uint32Bytes(s))
}

// Stats returns a snapshot of the operation counters.
func (b *Backend) Stats() Stats {
	return Stats{
		Allocs:         b.allocs.Load(),
		Frees:          b.frees.Load(),
		HostToDevice:   b.hostToDevice.Load(),
		DeviceToHost:   b.deviceToHost.Load(),
		DeviceToDevice: b.deviceToDevice.Load(),
		Peer:           b.peer.Load(),
		Syncs:          b.syncs.Load(),
	}
}

func (b *Backend) Name() string { return "cpu" }

func (b *Backend) DeviceCount() (int, error) { return b.devices, nil }

func (b *Backend) SetDevice(dev int) error {
	if dev < 0 || dev >= b.devices {
		return fmt.Errorf("%w: %d", ErrNoSuchDevice, dev)
	}
	if b.unavailable[dev] {
		return fmt.Errorf("%w: %d", ErrUnavailable, dev)
	}
	b.current = dev
	return nil
}

func (b *Backend) MemInfo() (free, total uint64, err error) {
	used := uint64(b.allocated[b.current])
	if used > b.totalMem {
		used = b.totalMem
	}
	return b.totalMem - used, b.totalMem, nil
}

func (b *Backend) Malloc(size int) (device.Mem, error) {
	if uint64(b.allocated[b.current])+uint64(size) > b.totalMem {
		return nil, ErrOutOfMemory
	}
	b.allocated[b.current] += int64(size)
	b.allocs.Add(1)
	return &mem{dev: b.current, buf: make([]byte, size), backend: b}, nil
}

func (b *Backend) Free(m device.Mem) error {
	cm, err := b.own(m)
	if err != nil {
		return err
	}
	if cm.wrapped {
		return ErrForeignMemory
	}
	b.allocated[cm.dev] -= int64(len(cm.buf))
	cm.buf = nil
	b.frees.Add(1)
	return nil
}

func (b *Backend) CopyToDevice(dst device.Mem, dstOff int, src []byte, async bool) error {
	cm, err := b.own(dst)
	if err != nil {
		return err
	}
	if cm.dev != b.current {
		return ErrWrongDevice
	}
	if dstOff < 0 || dstOff+len(src) > len(cm.buf) {
		return ErrOutOfRange
	}
	copy(cm.buf[dstOff:], src)
	b.hostToDevice.Add(1)
	return nil
}

func (b *Backend) CopyToHost(dst []byte, src device.Mem, srcOff int) error {
	cm, err := b.own(src)
	if err != nil {
		return err
	}
	if cm.dev != b.current {
		return ErrWrongDevice
	}
	if srcOff < 0 || srcOff+len(dst) > len(cm.buf) {
		return ErrOutOfRange
	}
	copy(dst, cm.buf[srcOff:])
	b.deviceToHost.Add(1)
	return nil
}

func (b *Backend) CopyOnDevice(dst device.Mem, dstOff int, src device.Mem, srcOff, n int, async bool) error {
	cd, err := b.own(dst)
	if err != nil {
		return err
	}
	cs, err := b.own(src)
	if err != nil {
		return err
	}
	if dstOff < 0 || dstOff+n > len(cd.buf) || srcOff < 0 || srcOff+n > len(cs.buf) {
		return ErrOutOfRange
	}
	copy(cd.buf[dstOff:dstOff+n], cs.buf[srcOff:srcOff+n])
	b.deviceToDevice.Add(1)
	return nil
}

func (b *Backend) CopyPeer(dst, src device.Mem, n int) error {
	cd, err := b.own(dst)
	if err != nil {
		return err
	}
	cs, err := b.own(src)
	if err != nil {
		return err
	}
	if n > len(cd.buf) || n > len(cs.buf) {
		return ErrOutOfRange
	}
	copy(cd.buf[:n], cs.buf[:n])
	b.peer.Add(1)
	return nil
}

func (b *Backend) Synchronize() error {
	b.syncs.Add(1)
	return nil
}

func (b *Backend) own(m device.Mem) (*mem, error) {
	cm, ok := m.(*mem)
	if !ok || cm.backend != b {
		return nil, ErrForeignMemory
	}
	return cm, nil
}
