package machine

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Sim is a Provider backed by ordinary Go facilities, for use under go test
// and the cmd/voidframe-selftest harness. It never ships into a
// freestanding kernel image.
type Sim struct {
	cpuSeq atomic.Uint32

	mu    sync.Mutex
	pages map[uintptr][]byte // keeps page backing arrays alive and GC-pinned by reference
}

// NewSim constructs a fresh simulated machine.
func NewSim() *Sim {
	return &Sim{pages: make(map[uintptr][]byte)}
}

func (s *Sim) Timestamp() uint64 {
	return uint64(time.Now().UnixNano())
}

func (s *Sim) Pause() {
	// A real PAUSE is a hint; runtime.Gosched would actually deschedule,
	// which would change contention behavior under test. A tight empty
	// loop iteration is the closer analogue.
	for i := 0; i < 1; i++ {
	}
}

// cpuTokenTLS pins a simulated CPU id to the calling goroutine, keyed by
// goroutineTag(). Tests that care about owner_cpu semantics call BindCPU
// explicitly; everything else gets a fresh id assigned on first use.
var cpuTokenTLS sync.Map

// BindCPU associates the calling goroutine with a fixed simulated CPU id
// for the remainder of its lifetime. Tests that exercise owner-cpu
// tracking call this once per worker goroutine; goroutines that never call
// it are assigned a fresh id on first use of ThisCPUID.
func (s *Sim) BindCPU(id uint32) {
	cpuTokenTLS.Store(goroutineTag(), id)
}

func (s *Sim) ThisCPUID() uint32 {
	if v, ok := cpuTokenTLS.Load(goroutineTag()); ok {
		return v.(uint32)
	}
	id := s.cpuSeq.Add(1) - 1
	cpuTokenTLS.Store(goroutineTag(), id)
	return id
}

func (s *Sim) YieldCPU() {
	// best-effort: let other goroutines run
	runtimeGosched()
}

func (s *Sim) SaveIRQ() uint64 {
	return 0
}

func (s *Sim) RestoreIRQ(uint64) {}

func (s *Sim) DisableIRQ() {}

func (s *Sim) AllocPage() uintptr {
	buf := make([]byte, PageSize)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	s.mu.Lock()
	s.pages[addr] = buf
	s.mu.Unlock()
	return addr
}

func (s *Sim) FreePage(addr uintptr) {
	s.mu.Lock()
	delete(s.pages, addr)
	s.mu.Unlock()
}

func (s *Sim) AllocPages(count uintptr) uintptr {
	if count == 0 {
		return 0
	}
	buf := make([]byte, count*PageSize)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	s.mu.Lock()
	s.pages[addr] = buf
	s.mu.Unlock()
	return addr
}

func (s *Sim) FreePages(addr uintptr, _ uintptr) {
	s.mu.Lock()
	delete(s.pages, addr)
	s.mu.Unlock()
}

func (s *Sim) Panic(msg string) {
	panic("machine: fatal: " + msg)
}
