package heap

import "unsafe"

// Magic values stamped into every block header, distinguishing a live
// allocation from a free block purely by inspecting memory — the first line
// of corruption detection. Grounded on HEAP_MAGIC_ALLOC/HEAP_MAGIC_FREE in
// backend.rs.
const (
	magicAlloc uint32 = 0xA110CA7E
	magicFree  uint32 = 0xF4EE1157
)

const (
	heapAlign      = 32 // AVX2-friendly alignment, per HEAP_ALIGN in backend.rs
	minBlockSize   = 32
	maxAllocSize   = 1 << 28
	poisonValue    = 0xCC
	canaryMixConst = 0x5AFE6AAD5AFE6AAD
	canaryXORConst = 0xDEADBEEFDEADBEEF
)

const (
	flagFree    uint8 = 1 << 0
	flagInCache uint8 = 1 << 1
)

// block is the in-band header prefixing every live or free allocation.
// Fields mirror HeapBlock in backend.rs field-for-field so the checksum
// formula (which hashes address, magic, size, flags in that order) carries
// over unchanged.
type block struct {
	magic     uint32
	checksum  uint32
	size      uintptr
	flags     uint8
	_         [7]byte // pad, matches the explicit _pad in backend.rs
	next      uintptr // address of next block, 0 if none
	prev      uintptr // address of previous block, 0 if none
	cacheNext uintptr // address of next block in a fast-cache free list, 0 if none

	// backend.rs's #[repr(C, align(32))] rounds the struct's size up to
	// the next multiple of 32, not just its alignment: 48 bytes of fields
	// become 64. Dropping this pad would leave userPtr() off the
	// heapAlign boundary.
	_ [16]byte
}

const blockHeaderSize = unsafe.Sizeof(block{})

func blockAt(addr uintptr) *block {
	return (*block)(unsafe.Pointer(addr))
}

func (b *block) addr() uintptr {
	return uintptr(unsafe.Pointer(b))
}

func (b *block) isFree() bool  { return b.flags&flagFree != 0 }
func (b *block) inCache() bool { return b.flags&flagInCache != 0 }

func (b *block) setFree(v bool) {
	if v {
		b.flags |= flagFree
	} else {
		b.flags &^= flagFree
	}
}

func (b *block) setInCache(v bool) {
	if v {
		b.flags |= flagInCache
	} else {
		b.flags &^= flagInCache
	}
}

// userPtr returns the address of the allocation's payload, immediately
// after the header.
func (b *block) userPtr() uintptr {
	return b.addr() + blockHeaderSize
}

// blockFromUserPtr recovers the header preceding a payload address returned
// by kmalloc.
func blockFromUserPtr(ptr uintptr) *block {
	return blockAt(ptr - blockHeaderSize)
}

const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

// computeChecksum is the FNV-1a-style mix over address, magic, size and
// flags described in backend.rs's compute_checksum. It deliberately does
// not hash the payload — only the header is checked for corruption this
// way, the payload is checked separately via the canary.
func (b *block) computeChecksum() uint32 {
	hash := fnvOffsetBasis
	hash = (hash ^ uint32(b.addr())) * fnvPrime
	hash = (hash ^ b.magic) * fnvPrime
	hash = (hash ^ uint32(b.size)) * fnvPrime
	hash = (hash ^ uint32(b.flags)) * fnvPrime
	return hash
}

// computeCanary derives a per-block guard value from its address alone, per
// compute_canary in backend.rs. It is deliberately cheap and deliberately
// weak (a single secret constant, not a per-boot random seed) — noted as a
// known limitation carried over unchanged from the original.
func computeCanary(addr uintptr) uint64 {
	return uint64(addr)*canaryMixConst ^ canaryXORConst
}

// init stamps a fresh header for size bytes of payload, marking it free or
// allocated, writing the trailing canary for allocated blocks of at least
// 16 bytes, and poisoning the first 512 bytes (at most) of free blocks'
// payload so a use-after-free there reads back 0xCC instead of residual
// data.
func (b *block) init(size uintptr, isFree bool) {
	if isFree {
		b.magic = magicFree
	} else {
		b.magic = magicAlloc
	}
	b.size = size
	b.setFree(isFree)
	b.setInCache(false)
	b.cacheNext = 0

	if !isFree && size >= 16 {
		canaryPtr := (*uint64)(unsafe.Pointer(b.userPtr() + size - 8))
		*canaryPtr = computeCanary(b.addr())
	}

	if isFree {
		poisonSize := size
		if poisonSize > 512 {
			poisonSize = 512
		}
		payload := unsafe.Slice((*byte)(unsafe.Pointer(b.userPtr())), poisonSize)
		for i := range payload {
			payload[i] = poisonValue
		}
	}

	b.checksum = b.computeChecksum()
}

// stampCanary (re)writes the trailing guard word for the block's current
// address and size. Callers must invoke this any time a block transitions
// from free to allocated, or has its size changed while allocated (split),
// since validateCanary always reads the guard at the block's *current*
// size.
func (b *block) stampCanary() {
	if b.size < 16 {
		return
	}
	canaryPtr := (*uint64)(unsafe.Pointer(b.userPtr() + b.size - 8))
	*canaryPtr = computeCanary(b.addr())
}

// validate checks magic, alignment, size bounds and checksum. It does not
// check the canary — see validateCanary for that, which only applies to
// live allocations.
func (b *block) validate() bool {
	addr := b.addr()
	validMagic := b.magic == magicAlloc || b.magic == magicFree
	validAlign := addr&(heapAlign-1) == 0
	validSize := b.size > 0 && b.size <= maxAllocSize && b.size&(heapAlign-1) == 0
	validChecksum := b.checksum == b.computeChecksum()

	ok := validMagic && validAlign && validSize && validChecksum
	if !ok {
		corruptionCounter.Add(1)
	}
	return ok
}

// validateCanary checks the trailing guard value written by init for
// allocated blocks of at least 16 bytes; free blocks and smaller blocks
// have none and trivially pass.
func (b *block) validateCanary() bool {
	if b.isFree() || b.size < 16 {
		return true
	}
	canaryPtr := (*uint64)(unsafe.Pointer(b.userPtr() + b.size - 8))
	expected := computeCanary(b.addr())
	ok := *canaryPtr == expected
	if !ok {
		corruptionCounter.Add(1)
	}
	return ok
}

// adjacentTo reports whether other immediately follows b's payload in
// memory, the precondition for coalescing two blocks into one.
func (b *block) adjacentTo(other uintptr) bool {
	return b.userPtr()+b.size == other
}

// coalesceWithNext merges b with its immediate successor in the block list
// if the successor is free, not cached, and physically adjacent. Returns
// whether a merge happened.
func (b *block) coalesceWithNext() bool {
	if b.next == 0 {
		return false
	}
	next := blockAt(b.next)
	if !next.isFree() || next.inCache() {
		return false
	}
	if !b.adjacentTo(b.next) {
		return false
	}

	b.size += blockHeaderSize + next.size
	b.next = next.next
	if b.next != 0 {
		blockAt(b.next).prev = b.addr()
	}

	next.magic = 0 // defuse the merged-away header

	b.checksum = b.computeChecksum()
	coalesceCounter.Add(1)
	return true
}

func alignSize(size uintptr) uintptr {
	return (size + heapAlign - 1) &^ (heapAlign - 1)
}
