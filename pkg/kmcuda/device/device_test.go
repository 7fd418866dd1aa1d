package device

import (
	"math"
	"testing"
)

func TestFloat32Bytes(t *testing.T) {
	s := []float32{7, -2.25, float32(math.Inf(1))}
	b := Float32Bytes(s)
	if len(b) != 12 {
		t.Fatalf("len = %d, want 12", len(b))
	}
	// the view shares storage with the slice in both directions
	b[0] = 0
	b[1] = 0
	b[2] = 0xc0
	b[3] = 0x3f // 1.5 little-endian
	if s[0] != 1.5 {
		t.Errorf("write through view: s[0] = %v", s[0])
	}
	s[1] = 4
	if Float32Bytes(s)[4] != 0 || Float32Bytes(s)[7] != 0x40 {
		t.Error("view does not track the slice")
	}

	if Float32Bytes(nil) != nil {
		t.Error("nil slice should yield a nil view")
	}
}

func TestUint32Bytes(t *testing.T) {
	s := []uint32{0x04030201}
	b := Uint32Bytes(s)
	if len(b) != 4 {
		t.Fatalf("len = %d, want 4", len(b))
	}
	if b[0] != 1 || b[1] != 2 || b[2] != 3 || b[3] != 4 {
		t.Errorf("little-endian view = %v", b)
	}
	b[0] = 9
	if s[0] != 0x04030209 {
		t.Errorf("write through view: s[0] = %#x", s[0])
	}
}
