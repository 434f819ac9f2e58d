// Package cabi is the C-ABI façade over the lock and heap packages: thin
// //export wrappers operating on opaque handles drawn from fixed-capacity
// pools, so a host kernel written in C (or anything else that can link
// against a cgo archive) can use this module's primitives without knowing
// Go exists on the other side of the call. Grounded on
// original_source/kernel/atomic/rust/src/ffi.rs and
// original_source/mm/rust/src/backend.rs's rust_heap_get_stats/
// rust_heap_validate exports.
package cabi

/*
#include <stdint.h>
#include <stdbool.h>
*/
import "C"

import (
	"unsafe"

	"github.com/assembler-0/VoidFrame/heap"
	"github.com/assembler-0/VoidFrame/lock"
)

var (
	spinlockPool = lock.NewSpinlockPool()
	mcsLockPool  = lock.NewMCSLockPool()
	mcsNodePool  = lock.NewMCSNodePool()
	rwlockPool   = lock.NewRWLockPool()

	heapBackend = heap.NewBackend()
	heapFront   = heap.NewPercpu(heapBackend)
)

//export voidframe_spinlock_new
func voidframe_spinlock_new() unsafe.Pointer {
	return unsafe.Pointer(spinlockPool.New())
}

//export voidframe_spinlock_new_with_order
func voidframe_spinlock_new_with_order(order C.uint32_t) unsafe.Pointer {
	return unsafe.Pointer(spinlockPool.NewWithOrder(uint32(order)))
}

//export voidframe_spinlock_free
func voidframe_spinlock_free(l unsafe.Pointer) {
	if l == nil {
		return
	}
	spinlockPool.Release((*lock.Spinlock)(l))
}

//export voidframe_spinlock_lock
func voidframe_spinlock_lock(l unsafe.Pointer) {
	if l == nil {
		return
	}
	(*lock.Spinlock)(l).Lock()
}

//export voidframe_spinlock_unlock
func voidframe_spinlock_unlock(l unsafe.Pointer) {
	if l == nil {
		return
	}
	(*lock.Spinlock)(l).Unlock()
}

//export voidframe_spinlock_try_lock
func voidframe_spinlock_try_lock(l unsafe.Pointer) C.bool {
	if l == nil {
		return false
	}
	return C.bool((*lock.Spinlock)(l).TryLock())
}

//export voidframe_spinlock_contention_level
func voidframe_spinlock_contention_level(l unsafe.Pointer) C.uint32_t {
	if l == nil {
		return 0
	}
	return C.uint32_t((*lock.Spinlock)(l).ContentionLevel())
}

//export voidframe_spinlock_lock_order
func voidframe_spinlock_lock_order(l unsafe.Pointer) C.uint32_t {
	if l == nil {
		return 0
	}
	return C.uint32_t((*lock.Spinlock)(l).LockOrder())
}

//export voidframe_spinlock_owner_cpu
func voidframe_spinlock_owner_cpu(l unsafe.Pointer) C.uint32_t {
	if l == nil {
		return C.uint32_t(lock.NoOwner)
	}
	return C.uint32_t((*lock.Spinlock)(l).OwnerCPU())
}

//export voidframe_spinlock_lock_irqsave
func voidframe_spinlock_lock_irqsave(l unsafe.Pointer) C.uint64_t {
	if l == nil {
		return 0
	}
	return C.uint64_t((*lock.Spinlock)(l).LockIRQSave())
}

//export voidframe_spinlock_unlock_irqrestore
func voidframe_spinlock_unlock_irqrestore(l unsafe.Pointer, flags C.uint64_t) {
	if l == nil {
		return
	}
	(*lock.Spinlock)(l).UnlockIRQRestore(uint64(flags))
}

//export voidframe_mcs_lock_new
func voidframe_mcs_lock_new() unsafe.Pointer {
	return unsafe.Pointer(mcsLockPool.New())
}

//export voidframe_mcs_lock_free
func voidframe_mcs_lock_free(l unsafe.Pointer) {
	if l == nil {
		return
	}
	mcsLockPool.Release((*lock.MCSLock)(l))
}

//export voidframe_mcs_node_new
func voidframe_mcs_node_new() unsafe.Pointer {
	return unsafe.Pointer(mcsNodePool.New())
}

//export voidframe_mcs_node_free
func voidframe_mcs_node_free(n unsafe.Pointer) {
	if n == nil {
		return
	}
	mcsNodePool.Release((*lock.MCSNode)(n))
}

//export voidframe_mcs_lock
func voidframe_mcs_lock(l, n unsafe.Pointer) {
	if l == nil || n == nil {
		return
	}
	(*lock.MCSLock)(l).Lock((*lock.MCSNode)(n))
}

//export voidframe_mcs_unlock
func voidframe_mcs_unlock(l, n unsafe.Pointer) {
	if l == nil || n == nil {
		return
	}
	(*lock.MCSLock)(l).Unlock((*lock.MCSNode)(n))
}

//export voidframe_mcs_try_lock
func voidframe_mcs_try_lock(l, n unsafe.Pointer) C.bool {
	if l == nil || n == nil {
		return false
	}
	return C.bool((*lock.MCSLock)(l).TryLock((*lock.MCSNode)(n)))
}

//export voidframe_rwlock_new
func voidframe_rwlock_new() unsafe.Pointer {
	return unsafe.Pointer(rwlockPool.New())
}

//export voidframe_rwlock_free
func voidframe_rwlock_free(l unsafe.Pointer) {
	if l == nil {
		return
	}
	rwlockPool.Release((*lock.RWLock)(l))
}

//export voidframe_rwlock_read_lock
func voidframe_rwlock_read_lock(l unsafe.Pointer, owner C.uint32_t) {
	if l == nil {
		return
	}
	(*lock.RWLock)(l).ReadLock(uint32(owner))
}

//export voidframe_rwlock_read_unlock
func voidframe_rwlock_read_unlock(l unsafe.Pointer, owner C.uint32_t) {
	if l == nil {
		return
	}
	(*lock.RWLock)(l).ReadUnlock(uint32(owner))
}

//export voidframe_rwlock_write_lock
func voidframe_rwlock_write_lock(l unsafe.Pointer, owner C.uint32_t) {
	if l == nil {
		return
	}
	(*lock.RWLock)(l).WriteLock(uint32(owner))
}

//export voidframe_rwlock_write_unlock
func voidframe_rwlock_write_unlock(l unsafe.Pointer) {
	if l == nil {
		return
	}
	(*lock.RWLock)(l).WriteUnlock()
}

//export voidframe_kmalloc
func voidframe_kmalloc(size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(heapFront.Kmalloc(uintptr(size)))
}

//export voidframe_kfree
func voidframe_kfree(ptr unsafe.Pointer) {
	heapFront.Kfree(uintptr(ptr))
}

//export voidframe_krealloc
func voidframe_krealloc(ptr unsafe.Pointer, newSize C.size_t) unsafe.Pointer {
	return unsafe.Pointer(heapFront.Krealloc(uintptr(ptr), uintptr(newSize)))
}

//export voidframe_kcalloc
func voidframe_kcalloc(count, size C.size_t) unsafe.Pointer {
	return unsafe.Pointer(heapFront.Kcalloc(uintptr(count), uintptr(size)))
}

//export voidframe_heap_enable_percpu
func voidframe_heap_enable_percpu() {
	heapFront.EnablePercpu()
}

//export voidframe_heap_disable_percpu
func voidframe_heap_disable_percpu() {
	heapFront.DisablePercpu()
}

//export voidframe_heap_flush_cpu
func voidframe_heap_flush_cpu(cpu C.int) {
	heapFront.FlushCPU(int(cpu))
}

//export voidframe_heap_get_percpu_stats
func voidframe_heap_get_percpu_stats(cpu C.int, hits, misses *C.uint64_t) {
	if hits == nil || misses == nil {
		return
	}
	h, m := heapFront.PercpuStats(int(cpu))
	*hits = C.uint64_t(h)
	*misses = C.uint64_t(m)
}

// HeapStats mirrors the C layout a host kernel expects from
// voidframe_heap_get_stats, field order matching HeapStats in backend.rs.
// The export takes it as an untyped pointer, since cgo cannot export a
// function whose signature names a Go struct type.
type HeapStats struct {
	TotalAllocated  C.size_t
	PeakAllocated   C.size_t
	AllocCount      C.uint64_t
	FreeCount       C.uint64_t
	CacheHits       C.uint64_t
	CacheMisses     C.uint64_t
	CoalesceCount   C.uint64_t
	CorruptionCount C.uint64_t
}

//export voidframe_heap_get_stats
func voidframe_heap_get_stats(outPtr unsafe.Pointer) {
	if outPtr == nil {
		return
	}
	out := (*HeapStats)(outPtr)
	s := heapBackend.GetStats()
	out.TotalAllocated = C.size_t(s.TotalAllocated)
	out.PeakAllocated = C.size_t(s.PeakAllocated)
	out.AllocCount = C.uint64_t(s.AllocCount)
	out.FreeCount = C.uint64_t(s.FreeCount)
	out.CacheHits = C.uint64_t(s.CacheHits)
	out.CacheMisses = C.uint64_t(s.CacheMisses)
	out.CoalesceCount = C.uint64_t(s.CoalesceCount)
	out.CorruptionCount = C.uint64_t(s.CorruptionCount)
}

//export voidframe_heap_validate
func voidframe_heap_validate() C.int {
	return C.int(heapBackend.Validate())
}

//export voidframe_heap_set_performance_mode
func voidframe_heap_set_performance_mode(mode C.int) {
	heap.SetPerformanceMode(heap.PerfMode(mode))
}

//export voidframe_heap_tune_parameters
func voidframe_heap_tune_parameters(validation, cacheSize, coalesceThreshold, smallThreshold C.uint32_t) {
	heap.TuneParameters(uint32(validation), uint32(cacheSize), uint32(coalesceThreshold), uint32(smallThreshold))
}
