// Package heap implements the kernel heap: a segregated-fit allocator with
// in-band block headers, per-size-class fast caches, split/coalesce, and
// magic/checksum/canary corruption detection, grounded on
// original_source/mm/rust/src/backend.rs. An optional per-CPU caching layer
// (percpu.go) fronts it, and config.go exposes the same runtime-tunable
// performance modes as the original.
package heap

import (
	"sync/atomic"

	"github.com/assembler-0/VoidFrame/klog"
	"github.com/assembler-0/VoidFrame/lock"
	"github.com/assembler-0/VoidFrame/machine"
)

const (
	maxScan           = 8   // find_free_block's scan cap, backend.rs
	coalesceSweepCap  = 16  // coalesce_free_blocks's per-call cap, backend.rs
	largeAllocThresh  = 4096
)

// fastCache is a single size class's LIFO free list, tracked alongside hit
// and miss counters purely for GetStats.
type fastCache struct {
	freeList uintptr
	count    int32
	hits     uint64
	misses   uint64
}

// Backend is the segregated-fit allocator core. The zero value is not
// usable; call NewBackend. A Backend owns one block list and one set of
// fast caches, guarded by a single internal spinlock — see DESIGN.md for
// why a Spinlock rather than a Mutex is used here.
type Backend struct {
	mu   *lock.Spinlock
	head uintptr // address of the first block.head, 0 if the heap is empty

	fastCaches  [numSizeClasses]fastCache
	freeCounter uintptr

	totalAllocated atomic.Uintptr
	peakAllocated  atomic.Uintptr
	allocCount     atomic.Uint64
	freeCount      atomic.Uint64
}

var (
	coalesceCounter   atomic.Uint64
	corruptionCounter atomic.Uint64
)

// NewBackend returns an empty heap backend.
func NewBackend() *Backend {
	return &Backend{mu: lock.New()}
}

// Kmalloc allocates size bytes, returning 0 on failure (invalid size, or
// the page allocator is exhausted). size==0 is rejected, matching the
// original's null-on-zero-size convention.
func (h *Backend) Kmalloc(size uintptr) uintptr {
	if size == 0 || size > maxAllocSize {
		return 0
	}

	aligned := alignSize(max(size, 16))
	h.allocCount.Add(1)

	if class := sizeClassIndex(aligned); class >= 0 {
		if addr := h.popFastCache(class, aligned); addr != 0 {
			b := blockAt(addr)
			if !h.checkBlock(b) {
				return 0
			}
			b.cacheNext = 0
			b.setInCache(false)
			b.setFree(false)
			b.magic = magicAlloc
			b.checksum = b.computeChecksum()

			h.accountAlloc(b.size)
			return b.userPtr()
		}
	}

	b := h.findFreeBlock(aligned)
	if b != nil {
		if !h.checkBlock(b) {
			return 0
		}
		b.setFree(false)
		b.magic = magicAlloc
		b.checksum = b.computeChecksum()

		if b.size > aligned*2 {
			h.splitBlock(b, aligned)
		} else {
			b.stampCanary()
		}
	} else {
		b = h.createNewBlock(aligned)
	}

	if b == nil {
		return 0
	}

	h.accountAlloc(b.size)
	return b.userPtr()
}

func (h *Backend) accountAlloc(size uintptr) {
	total := h.totalAllocated.Add(size)
	h.updatePeak(total)
}

func (h *Backend) updatePeak(total uintptr) {
	for {
		peak := h.peakAllocated.Load()
		if total <= peak {
			return
		}
		if h.peakAllocated.CompareAndSwap(peak, total) {
			return
		}
	}
}

// checkBlock validates a block's header, gated by the current
// validationLevel: level 0 skips the checksum check and only requires a
// recognized magic value (the fast path), level 1+ runs the full
// validate(). Matches the VALIDATION_LEVEL semantics config.go exposes.
func (h *Backend) checkBlock(b *block) bool {
	if validationLevel.Load() == 0 {
		return b.magic == magicAlloc || b.magic == magicFree
	}
	return b.validate()
}

// checkCanary validates a block's trailing guard, skipped entirely at
// validationLevel 0.
func (h *Backend) checkCanary(b *block) bool {
	if validationLevel.Load() == 0 {
		return true
	}
	return b.validateCanary()
}

// popFastCache pops the head of class's fast cache if it holds at least
// size bytes; a class spans several aligned sizes, so a smaller head block
// is left in place and counted as a miss.
func (h *Backend) popFastCache(class int, size uintptr) uintptr {
	h.mu.Lock()
	cache := &h.fastCaches[class]
	addr := cache.freeList
	if addr == 0 || blockAt(addr).size < size {
		cache.misses++
		h.mu.Unlock()
		return 0
	}
	cache.freeList = blockAt(addr).cacheNext
	cache.count--
	cache.hits++
	h.mu.Unlock()
	return addr
}

// Kfree releases a payload pointer obtained from Kmalloc/Krealloc/Kcalloc.
// A zero pointer is a no-op. Invalid or corrupted blocks are dropped with a
// klog warning rather than freed, matching backend.rs's fail-safe behavior
// (leaking is preferable to corrupting the free list further).
func (h *Backend) Kfree(ptr uintptr) {
	if ptr == 0 {
		return
	}

	b := blockFromUserPtr(ptr)
	if b.magic != magicAlloc || !h.checkBlock(b) || !h.checkCanary(b) {
		klog.Warn("heap: kfree on invalid or corrupted block, dropping")
		return
	}

	size := b.size
	poisonPayload(ptr, size)

	b.setFree(true)
	b.magic = magicFree
	b.checksum = b.computeChecksum()

	h.totalAllocated.Add(^(size - 1)) // -size
	h.freeCount.Add(1)

	if validationLevel.Load() >= 2 {
		if errs := h.Validate(); errs > 0 {
			klog.Error("heap: secure-mode post-free validate found corrupt blocks")
		}
	}

	if class := sizeClassIndex(size); class >= 0 {
		h.mu.Lock()
		cache := &h.fastCaches[class]
		if int(cache.count) < fastCacheCapacity() {
			b.cacheNext = cache.freeList
			cache.freeList = b.addr()
			cache.count++
			b.setInCache(true)
			b.checksum = b.computeChecksum()
			h.mu.Unlock()
			return
		}

		h.freeCounter++
		shouldCoalesce := h.freeCounter >= coalesceThreshold()
		if shouldCoalesce {
			h.freeCounter = 0
		}
		h.mu.Unlock()

		if shouldCoalesce {
			h.coalesceFreeBlocks()
		}
	}
}

func poisonPayload(ptr, size uintptr) {
	n := size
	if n >= 8 {
		n -= 8
	} else {
		n = 0
	}
	if n == 0 {
		return
	}
	buf := pointerSlice(ptr, n)
	for i := range buf {
		buf[i] = poisonValue
	}
}

// Krealloc resizes the allocation at ptr, preserving its contents up to the
// smaller of the old and new sizes minus the 8-byte canary slot (when the
// block moves, the last 8 bytes of that range are not copied). ptr==0
// behaves as Kmalloc, new_size==0 behaves as Kfree and returns 0.
func (h *Backend) Krealloc(ptr, newSize uintptr) uintptr {
	if ptr == 0 {
		return h.Kmalloc(newSize)
	}
	if newSize == 0 {
		h.Kfree(ptr)
		return 0
	}

	b := blockFromUserPtr(ptr)
	if !b.validate() || b.magic != magicAlloc {
		return 0
	}

	oldSize := b.size
	alignedNew := alignSize(max(newSize, 16))

	if alignedNew <= oldSize && oldSize <= alignedNew*2 {
		return ptr
	}

	newPtr := h.Kmalloc(newSize)
	if newPtr != 0 {
		copySize := min(oldSize, newSize)
		if copySize >= 8 {
			copySize -= 8
		} else {
			copySize = 0
		}
		copyMemory(newPtr, ptr, copySize)
		h.Kfree(ptr)
	}
	return newPtr
}

// Kcalloc allocates space for count objects of size bytes each, zeroed.
// Returns 0 on overflow or allocation failure.
func (h *Backend) Kcalloc(count, size uintptr) uintptr {
	if count == 0 || size == 0 {
		return 0
	}
	total := count * size
	if size != 0 && total/size != count {
		return 0 // overflow
	}
	ptr := h.Kmalloc(total)
	if ptr != 0 {
		zeroMemory(ptr, total)
	}
	return ptr
}

// Stats is a point-in-time snapshot of allocator counters, field order
// matching HeapStats in backend.rs.
type Stats struct {
	TotalAllocated  uintptr
	PeakAllocated   uintptr
	AllocCount      uint64
	FreeCount       uint64
	CacheHits       uint64
	CacheMisses     uint64
	CoalesceCount   uint64
	CorruptionCount uint64
}

// GetStats returns a snapshot of the backend's counters, including
// aggregated fast-cache hit/miss totals across all size classes.
func (h *Backend) GetStats() Stats {
	h.mu.Lock()
	var hits, misses uint64
	for i := range h.fastCaches {
		hits += h.fastCaches[i].hits
		misses += h.fastCaches[i].misses
	}
	h.mu.Unlock()

	return Stats{
		TotalAllocated:  h.totalAllocated.Load(),
		PeakAllocated:   h.peakAllocated.Load(),
		AllocCount:      h.allocCount.Load(),
		FreeCount:       h.freeCount.Load(),
		CacheHits:       hits,
		CacheMisses:     misses,
		CoalesceCount:   coalesceCounter.Load(),
		CorruptionCount: corruptionCounter.Load(),
	}
}

// Validate walks the entire block list checking every header, returning the
// number of corrupt blocks found.
func (h *Backend) Validate() int {
	h.mu.Lock()
	current := h.head
	h.mu.Unlock()

	errors := 0
	for current != 0 {
		b := blockAt(current)
		if !b.validate() {
			errors++
		}
		current = b.next
	}
	return errors
}

// findFreeBlock scans at most maxScan blocks from the head of the list for
// a free, uncached block large enough to satisfy size, preferring an exact
// fit and otherwise the smallest block within 1.5x of size.
func (h *Backend) findFreeBlock(size uintptr) *block {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.head
	var best uintptr
	bestSize := ^uintptr(0)
	scanned := 0

	for current != 0 && scanned < maxScan {
		b := blockAt(current)
		if b.isFree() && !b.inCache() && b.size >= size {
			if b.size == size {
				return b
			}
			if b.size < bestSize && b.size <= size+size/2 {
				best = current
				bestSize = b.size
			}
		}
		current = b.next
		scanned++
	}

	if best == 0 {
		return nil
	}
	return blockAt(best)
}

// splitBlock carves a needed_size-byte block out of the front of block,
// turning the remainder (if large enough to host a header and
// minBlockSize) into a new free block linked immediately after it.
func (h *Backend) splitBlock(b *block, neededSize uintptr) {
	remaining := b.size - neededSize
	if remaining < minBlockSize+blockHeaderSize {
		return
	}

	newAddr := b.userPtr() + neededSize
	newBlock := blockAt(newAddr)
	newBlock.init(remaining-blockHeaderSize, true)

	h.mu.Lock()
	newBlock.next = b.next
	newBlock.prev = b.addr()
	if b.next != 0 {
		blockAt(b.next).prev = newAddr
	}
	b.next = newAddr
	h.mu.Unlock()

	b.size = neededSize
	b.checksum = b.computeChecksum()
	b.stampCanary()
}

// createNewBlock obtains fresh backing pages from the machine page
// allocator, sized per the chunk policy in backend.rs step 5 (4 KiB
// granularity below 64 KiB, 64 KiB granularity above), links the new block
// onto the head of the list, and splits off the unused remainder when it is
// more than 3x what was asked for.
func (h *Backend) createNewBlock(size uintptr) *block {
	chunkSize := chunkSizeFor(size)
	totalSize := blockHeaderSize + chunkSize

	mem := h.allocChunk(totalSize)
	if mem == 0 {
		return nil
	}

	b := blockAt(mem)
	b.init(chunkSize, false)

	h.mu.Lock()
	b.next = h.head
	b.prev = 0
	if h.head != 0 {
		blockAt(h.head).prev = mem
	}
	h.head = mem
	h.mu.Unlock()

	if chunkSize > size*3 && chunkSize-size >= minBlockSize+blockHeaderSize {
		h.splitBlock(b, size)
	}

	return b
}

func chunkSizeFor(size uintptr) uintptr {
	switch {
	case size <= 1024:
		chunks := (size + 4095) / 4096
		return chunks * 4096
	case size <= 65536:
		return (size + 4095) &^ 4095
	default:
		return (size + 65535) &^ 65535
	}
}

// allocChunk rounds totalSize up to whole machine pages and pulls them from
// machine.Current as a single contiguous span (backend.rs's VMemAlloc
// collaborator, distinct from the page-granular primitive package vm uses),
// returning the base address of a zero-filled region, or 0 on exhaustion.
func (h *Backend) allocChunk(totalSize uintptr) uintptr {
	pages := (totalSize + machine.PageSize - 1) / machine.PageSize
	return machine.Current.AllocPages(pages)
}

// coalesceFreeBlocks walks the list merging adjacent free, uncached blocks,
// stopping after coalesceSweepCap merges to bound the time spent here
// (triggered periodically from Kfree, not on every free).
func (h *Backend) coalesceFreeBlocks() {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.head
	merged := 0
	for current != 0 && merged < coalesceSweepCap {
		b := blockAt(current)
		if b.isFree() && !b.inCache() && b.coalesceWithNext() {
			merged++
			continue
		}
		current = b.next
	}
}

func max(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func min(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}
