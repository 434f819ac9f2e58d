package heap

import (
	"sync/atomic"

	"github.com/assembler-0/VoidFrame/lock"
	"github.com/assembler-0/VoidFrame/machine"
)

const (
	percpuCacheSize   = 32
	maxCPUs           = 64
	percpuSizeClasses = 8
)

// percpuCache is one CPU's LIFO stack of free objects for one size class.
type percpuCache struct {
	objects [percpuCacheSize]uintptr
	count   int
	hits    uint64
	misses  uint64
}

// Percpu fronts a Backend with a per-CPU cache layer, giving the hot
// kmalloc/kfree path a lock that is almost always uncontended (one per
// logical CPU rather than one for the whole heap), grounded on
// original_source/mm/rust/src/rust_heap.rs.
type Percpu struct {
	backend *Backend
	enabled atomic.Bool

	mus    [maxCPUs]*lock.Spinlock
	caches [maxCPUs][percpuSizeClasses]percpuCache
}

// NewPercpu wraps backend with an enabled per-CPU cache layer.
func NewPercpu(backend *Backend) *Percpu {
	p := &Percpu{backend: backend}
	p.enabled.Store(true)
	for i := range p.mus {
		p.mus[i] = lock.New()
	}
	return p
}

// EnablePercpu turns the per-CPU fast path back on.
func (p *Percpu) EnablePercpu() { p.enabled.Store(true) }

// DisablePercpu routes every call straight to the backend, bypassing
// per-CPU caches (they are left populated, not flushed).
func (p *Percpu) DisablePercpu() { p.enabled.Store(false) }

func (p *Percpu) cpuIndex() int {
	return int(machine.Current.ThisCPUID() % maxCPUs)
}

// Kmalloc services size from the calling CPU's cache when possible,
// falling through to the backend on a miss or when percpu caching is
// disabled or the size doesn't fit an eight-class bucket.
func (p *Percpu) Kmalloc(size uintptr) uintptr {
	if !p.enabled.Load() {
		return p.backend.Kmalloc(size)
	}

	if class := percpuSizeClassIndex(size); class >= 0 {
		cpu := p.cpuIndex()
		p.mus[cpu].Lock()
		cache := &p.caches[cpu][class]
		if cache.count > 0 && blockFromUserPtr(cache.objects[cache.count-1]).size >= size {
			cache.count--
			ptr := cache.objects[cache.count]
			cache.hits++
			p.mus[cpu].Unlock()
			if ptr != 0 {
				return ptr
			}
		} else {
			cache.misses++
			p.mus[cpu].Unlock()
		}
	}

	return p.backend.Kmalloc(size)
}

// Kfree returns ptr to the calling CPU's cache for its size class when
// there is room, otherwise releases it to the backend.
func (p *Percpu) Kfree(ptr uintptr) {
	if ptr == 0 {
		return
	}
	if !p.enabled.Load() {
		p.backend.Kfree(ptr)
		return
	}

	size := blockFromUserPtr(ptr).size
	if class := percpuSizeClassIndex(size); class >= 0 {
		cpu := p.cpuIndex()
		p.mus[cpu].Lock()
		cache := &p.caches[cpu][class]
		if cache.count < percpuCacheSize {
			cache.objects[cache.count] = ptr
			cache.count++
			p.mus[cpu].Unlock()
			return
		}
		p.mus[cpu].Unlock()
	}

	p.backend.Kfree(ptr)
}

// Krealloc and Kcalloc pass straight through to the backend; only the
// hot allocate/free paths are per-CPU cached, matching rust_krealloc and
// rust_kcalloc in rust_heap.rs.
func (p *Percpu) Krealloc(ptr, newSize uintptr) uintptr { return p.backend.Krealloc(ptr, newSize) }
func (p *Percpu) Kcalloc(count, size uintptr) uintptr   { return p.backend.Kcalloc(count, size) }

// FlushCPU releases every object cached for cpu back to the backend. A
// no-op for an out-of-range cpu.
func (p *Percpu) FlushCPU(cpu int) {
	if cpu < 0 || cpu >= maxCPUs {
		return
	}
	p.mus[cpu].Lock()
	var drained []uintptr
	for class := 0; class < percpuSizeClasses; class++ {
		cache := &p.caches[cpu][class]
		for i := 0; i < cache.count; i++ {
			if cache.objects[i] != 0 {
				drained = append(drained, cache.objects[i])
			}
		}
		cache.count = 0
	}
	p.mus[cpu].Unlock()

	for _, ptr := range drained {
		p.backend.Kfree(ptr)
	}
}

// PercpuStats returns aggregated hit/miss counters across all size classes
// for one CPU.
func (p *Percpu) PercpuStats(cpu int) (hits, misses uint64) {
	if cpu < 0 || cpu >= maxCPUs {
		return 0, 0
	}
	p.mus[cpu].Lock()
	defer p.mus[cpu].Unlock()
	for class := 0; class < percpuSizeClasses; class++ {
		hits += p.caches[cpu][class].hits
		misses += p.caches[cpu][class].misses
	}
	return hits, misses
}

// Backend returns the underlying Backend for callers that need direct
// access to GetStats/Validate.
func (p *Percpu) Backend() *Backend { return p.backend }
