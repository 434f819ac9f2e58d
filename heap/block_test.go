package heap

import (
	"testing"
	"unsafe"
)

func withBlockMemory(t *testing.T, size uintptr) *block {
	t.Helper()
	total := blockHeaderSize + size
	// Over-allocate and round up to a heapAlign boundary: Go's allocator
	// does not guarantee 32-byte alignment for arbitrary slice sizes, and
	// validate() checks for it.
	buf := make([]byte, total+heapAlign)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (raw + heapAlign - 1) &^ (heapAlign - 1)
	t.Cleanup(func() { _ = buf }) // keep buf alive for the duration of t
	return blockAt(aligned)
}

func TestBlockInitAllocatedValidatesAndCanary(t *testing.T) {
	b := withBlockMemory(t, 64)
	b.init(64, false)

	if !b.validate() {
		t.Fatal("freshly initialized allocated block failed validate()")
	}
	if !b.validateCanary() {
		t.Fatal("freshly initialized allocated block failed validateCanary()")
	}
	if b.isFree() {
		t.Fatal("allocated block reports isFree()")
	}
}

func TestBlockInitFreePoisonsPayload(t *testing.T) {
	b := withBlockMemory(t, 64)
	b.init(64, true)

	if !b.isFree() {
		t.Fatal("free block does not report isFree()")
	}
	payload := unsafe.Slice((*byte)(unsafe.Pointer(b.userPtr())), 64)
	for i, v := range payload {
		if v != poisonValue {
			t.Fatalf("payload[%d] = %#x, want poison %#x", i, v, poisonValue)
		}
	}
}

func TestBlockCorruptedChecksumFailsValidate(t *testing.T) {
	b := withBlockMemory(t, 64)
	b.init(64, false)
	b.size = 96 // tamper without recomputing checksum

	if b.validate() {
		t.Fatal("validate() should fail after tampering with size")
	}
}

func TestBlockCorruptedCanaryFailsValidateCanary(t *testing.T) {
	b := withBlockMemory(t, 64)
	b.init(64, false)

	canaryPtr := (*uint64)(unsafe.Pointer(b.userPtr() + b.size - 8))
	*canaryPtr ^= 0xffffffffffffffff

	if b.validateCanary() {
		t.Fatal("validateCanary() should fail after tampering with the canary word")
	}
}

func TestSmallBlockHasNoCanary(t *testing.T) {
	b := withBlockMemory(t, 8)
	b.init(8, false)
	if !b.validateCanary() {
		t.Fatal("blocks smaller than 16 bytes have no canary and must trivially validate")
	}
}

func TestAlignSize(t *testing.T) {
	cases := map[uintptr]uintptr{
		1:  32,
		31: 32,
		32: 32,
		33: 64,
		64: 64,
	}
	for in, want := range cases {
		if got := alignSize(in); got != want {
			t.Errorf("alignSize(%d) = %d, want %d", in, got, want)
		}
	}
}
