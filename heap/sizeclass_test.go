package heap

import "testing"

// Boundaries here follow get_size_class in backend.rs exactly, including
// its log2-based classification for sizes above 64 — note that 4096 itself
// misses every case arm (it lands on log2_size==12, which the original's
// match only up to 11) and so classifies as no fast-cache class at all,
// just like the original.
func TestSizeClassIndexBoundaries(t *testing.T) {
	cases := []struct {
		size    uintptr
		wantIdx int
	}{
		{1, 0}, {16, 0},
		{17, 1}, {32, 1},
		{48, 2},
		{63, 3}, {64, 3},
		{65, 4}, {127, 4},
		{128, 5}, {255, 5},
		{256, 6}, {511, 6},
		{512, 7}, {1023, 7},
		{1024, 8}, {2047, 8},
		{2048, 9}, {4095, 9},
		{4096, -1},
		{4097, -1},
	}
	for _, c := range cases {
		got := sizeClassIndex(c.size)
		if got != c.wantIdx {
			t.Errorf("sizeClassIndex(%d) = %d, want %d", c.size, got, c.wantIdx)
		}
	}
}

func TestPercpuSizeClassIndexBoundaries(t *testing.T) {
	cases := []struct {
		size    uintptr
		wantIdx int
	}{
		{0, -1},
		{32, 0}, {33, 1},
		{64, 1}, {65, 2},
		{4096, 7}, {4097, -1},
	}
	for _, c := range cases {
		got := percpuSizeClassIndex(c.size)
		if got != c.wantIdx {
			t.Errorf("percpuSizeClassIndex(%d) = %d, want %d", c.size, got, c.wantIdx)
		}
	}
}
