// Package machine declares the primitive contract the kernel-support core
// needs from its host: a page-granular physical allocator and a handful of
// CPU intrinsics. Every other package in this module (lock, vm, heap) is
// written against the Provider interface, never against a concrete
// implementation, so the same code runs under a real kernel (Host) and
// under go test (Sim).
package machine

import "unsafe"

// PageSize is the granularity of AllocPage/FreePage.
const PageSize = 4096

// Provider is the machine primitive contract from spec.md §6.
//
// Implementations must be safe to call concurrently from multiple logical
// CPUs; AllocPage/FreePage additionally must be safe to call with
// interrupts disabled (no blocking).
type Provider interface {
	// Timestamp returns a monotonic cycle counter (TSC-like). Subtraction
	// across a wraparound must still produce the correct elapsed count
	// given unsigned arithmetic.
	Timestamp() uint64

	// Pause is a spin-wait hint (x86 PAUSE).
	Pause()

	// ThisCPUID returns the logical id of the calling CPU (APIC id or
	// equivalent).
	ThisCPUID() uint32

	// YieldCPU cooperatively yields. May return immediately if there is
	// nothing else to run.
	YieldCPU()

	// SaveIRQ returns an opaque token encoding the current interrupt-flag
	// state, DisableIRQ clears it, RestoreIRQ restores a previously saved
	// token.
	SaveIRQ() uint64
	RestoreIRQ(flags uint64)
	DisableIRQ()

	// AllocPage returns the base address of a freshly allocated,
	// zero-filled PageSize-aligned page, or 0 on exhaustion.
	AllocPage() uintptr
	// FreePage returns a page obtained from AllocPage.
	FreePage(addr uintptr)

	// AllocPages returns the base address of count contiguous,
	// zero-filled PageSize-aligned pages, or 0 on exhaustion. This is an
	// addition to spec.md §6's page-granular alloc_page/free_page pair:
	// the heap package's chunk allocator needs a contiguous multi-page
	// span the way the original's backend.rs leans on its own VMemAlloc
	// collaborator (distinct from vmm.rs's single-page AllocPage, which
	// package vm still uses exclusively for page-table pages).
	AllocPages(count uintptr) uintptr
	// FreePages returns count pages obtained from AllocPages.
	FreePages(addr uintptr, count uintptr)

	// Panic reports a fatal, unrecoverable condition and never returns.
	Panic(msg string)
}

// Current is the Provider in effect for this process/kernel image. It
// defaults to a Sim instance so packages are testable out of the box;
// a freestanding build's init() replaces it with Host.
var Current Provider = NewSim()

// AddrToPointer models the identity-mapped relationship this
// core assumes between the kernel's virtual address space and the
// page-allocator's physical addresses for pages it hands out directly
// (the VM mapper in package vm is what establishes non-identity mappings
// for everything else). Under Sim these are the identity function over a
// Go-heap-backed arena; under a real kernel the higher half is identity
// mapped to physical memory by the boot code, which is out of scope here.
func AddrToPointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr) //nolint:govet // intentional: addr came from AllocPage
}
