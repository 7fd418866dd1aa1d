package cpu

import (
	"errors"
	"testing"

	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
)

func TestBackendBasics(t *testing.T) {
	b := New(2)

	count, err := b.DeviceCount()
	if err != nil || count != 2 {
		t.Fatalf("DeviceCount() = %d, %v", count, err)
	}
	if b.Name() != "cpu" {
		t.Errorf("Name() = %q", b.Name())
	}
	if err := b.SetDevice(2); !errors.Is(err, ErrNoSuchDevice) {
		t.Errorf("SetDevice(2) = %v, want %v", err, ErrNoSuchDevice)
	}
	if err := b.SetDevice(-1); !errors.Is(err, ErrNoSuchDevice) {
		t.Errorf("SetDevice(-1) = %v, want %v", err, ErrNoSuchDevice)
	}

	b.SetUnavailable(1)
	if err := b.SetDevice(1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SetDevice(1) = %v, want %v", err, ErrUnavailable)
	}
	if err := b.SetDevice(0); err != nil {
		t.Fatalf("SetDevice(0) = %v", err)
	}
}

func TestMallocFreeAccounting(t *testing.T) {
	b := New(1)
	if err := b.SetDevice(0); err != nil {
		t.Fatal(err)
	}

	free0, total, err := b.MemInfo()
	if err != nil {
		t.Fatal(err)
	}
	if free0 != total {
		t.Fatalf("fresh device reports %d free of %d", free0, total)
	}

	m, err := b.Malloc(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	if m.Device() != 0 || m.Size() != 1<<20 {
		t.Errorf("mem on device %d, size %d", m.Device(), m.Size())
	}
	free1, _, _ := b.MemInfo()
	if free1 != free0-(1<<20) {
		t.Errorf("free after alloc = %d, want %d", free1, free0-(1<<20))
	}

	if err := b.Free(m); err != nil {
		t.Fatal(err)
	}
	free2, _, _ := b.MemInfo()
	if free2 != free0 {
		t.Errorf("free after release = %d, want %d", free2, free0)
	}

	if _, err := b.Malloc(int(total) + 1); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("oversized Malloc = %v, want %v", err, ErrOutOfMemory)
	}

	s := b.Stats()
	if s.Allocs != 1 || s.Frees != 1 {
		t.Errorf("stats = %+v, want 1 alloc and 1 free", s)
	}
}

func TestCopies(t *testing.T) {
	b := New(2)
	if err := b.SetDevice(0); err != nil {
		t.Fatal(err)
	}
	m, err := b.Malloc(8)
	if err != nil {
		t.Fatal(err)
	}

	src := []byte{1, 2, 3, 4}
	if err := b.CopyToDevice(m, 2, src, false); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 4)
	if err := b.CopyToHost(dst, m, 2); err != nil {
		t.Fatal(err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("round trip mismatch at %d: %v", i, dst)
		}
	}

	t.Run("out of range", func(t *testing.T) {
		if err := b.CopyToDevice(m, 6, src, false); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("CopyToDevice = %v, want %v", err, ErrOutOfRange)
		}
		if err := b.CopyToHost(make([]byte, 16), m, 0); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("CopyToHost = %v, want %v", err, ErrOutOfRange)
		}
	})

	t.Run("residency enforced", func(t *testing.T) {
		if err := b.SetDevice(1); err != nil {
			t.Fatal(err)
		}
		if err := b.CopyToDevice(m, 0, src, false); !errors.Is(err, ErrWrongDevice) {
			t.Errorf("CopyToDevice from wrong device = %v, want %v", err, ErrWrongDevice)
		}
		if err := b.SetDevice(0); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("on device", func(t *testing.T) {
		n, err := b.Malloc(8)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.CopyOnDevice(n, 0, m, 2, 4, false); err != nil {
			t.Fatal(err)
		}
		out := make([]byte, 4)
		if err := b.CopyToHost(out, n, 0); err != nil {
			t.Fatal(err)
		}
		if out[0] != 1 || out[3] != 4 {
			t.Fatalf("on-device copy produced %v", out)
		}
	})

	t.Run("peer", func(t *testing.T) {
		if err := b.SetDevice(1); err != nil {
			t.Fatal(err)
		}
		p, err := b.Malloc(4)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.CopyPeer(p, m, 4); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("oversized peer copy = %v, want %v", err, ErrOutOfRange)
		}
		if err := b.CopyPeer(p, m, 2); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("foreign memory", func(t *testing.T) {
		other := New(1)
		if err := other.SetDevice(0); err != nil {
			t.Fatal(err)
		}
		fm, err := other.Malloc(4)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Free(fm); !errors.Is(err, ErrForeignMemory) {
			t.Errorf("Free of foreign memory = %v, want %v", err, ErrForeignMemory)
		}
	})
}

func TestWrappedMemory(t *testing.T) {
	b := New(1)
	if err := b.SetDevice(0); err != nil {
		t.Fatal(err)
	}

	backing := make([]float32, 4)
	m := b.WrapFloat32(0, backing)

	payload := []float32{1, 2, 3, 4}
	if err := b.CopyToDevice(m, 0, device.Float32Bytes(payload), false); err != nil {
		t.Fatal(err)
	}
	// writes land in the caller's slice
	for i, v := range payload {
		if backing[i] != v {
			t.Fatalf("backing[%d] = %v, want %v", i, backing[i], v)
		}
	}

	// wrapped memory is never freed by the backend
	if err := b.Free(m); !errors.Is(err, ErrForeignMemory) {
		t.Errorf("Free of wrapped memory = %v, want %v", err, ErrForeignMemory)
	}
	if s := b.Stats(); s.Allocs != 0 {
		t.Errorf("wrapping counted as an allocation: %+v", s)
	}
}
