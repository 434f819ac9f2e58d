package heap

import "unsafe"

func pointerSlice(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func zeroMemory(addr, n uintptr) {
	buf := pointerSlice(addr, n)
	for i := range buf {
		buf[i] = 0
	}
}

func copyMemory(dst, src, n uintptr) {
	copy(pointerSlice(dst, n), pointerSlice(src, n))
}
