// Package vm implements the minimal virtual-memory mapping primitive the
// kernel heap depends on: a 4-level x86-64 page table walker supporting a
// single operation, Map, grounded on
// original_source/rust_core/src/vmm.rs.
package vm

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/assembler-0/VoidFrame/machine"
)

// Flags is the set of page table entry attribute bits a caller may request
// for a leaf mapping. Present is implied by Map and need not be set by the
// caller.
type Flags uint64

const (
	Present  Flags = 1 << 0
	Writable Flags = 1 << 1
	User     Flags = 1 << 2
	NoCache  Flags = 1 << 4
)

const (
	ptIndexMask = 0x1FF
	pml4Shift   = 39
	pdpShift    = 30
	pdShift     = 21
	ptShift     = 12
	ptAddrMask  = 0x000FFFFFFFFFF000
)

var (
	// ErrNotInitialised is returned by Map when Init has not yet succeeded.
	ErrNotInitialised = errors.New("vm: mapper not initialised")
	// ErrAlreadyMapped is returned by Map when the target leaf entry is
	// already present.
	ErrAlreadyMapped = errors.New("vm: address already mapped")
	// ErrNoMemory is returned by Map or Init when a page table page could
	// not be allocated.
	ErrNoMemory = errors.New("vm: out of memory for page tables")
)

// pageTableEntry is the raw 8-byte layout of one x86-64 page table entry.
type pageTableEntry uint64

func (e pageTableEntry) present() bool    { return e&pageTableEntry(Present) != 0 }
func (e pageTableEntry) address() uint64  { return uint64(e) & ptAddrMask }
func withAddress(addr uint64) pageTableEntry {
	return pageTableEntry(addr & ptAddrMask)
}
func (e pageTableEntry) withFlags(flags Flags) pageTableEntry {
	return pageTableEntry(uint64(e)&ptAddrMask | uint64(flags))
}

// Mapper walks a single PML4 hierarchy. Its zero value is not usable; call
// Init first. A Mapper is safe only under external synchronization: Map
// takes no lock of its own, mirroring how the original vmm.rs leaves
// concurrency control to whatever calls RustVMemMap.
type Mapper struct {
	pml4Phys atomic.Uint64
}

// New returns an uninitialised Mapper. Call Init before the first Map.
func New() *Mapper {
	return &Mapper{}
}

// Init allocates and zero-fills the PML4 table. A second call is a no-op
// that returns nil and keeps the already-installed root.
func (m *Mapper) Init() error {
	if m.pml4Phys.Load() != 0 {
		return nil
	}
	page := machine.Current.AllocPage()
	if page == 0 {
		return ErrNoMemory
	}
	m.pml4Phys.Store(uint64(page))
	return nil
}

// PML4PhysAddr returns the physical address of the root table, or 0 if Init
// has not run.
func (m *Mapper) PML4PhysAddr() uint64 {
	return m.pml4Phys.Load()
}

// Map installs a leaf translation for vaddr -> paddr with the given flags.
// Intermediate PDP/PD/PT tables are allocated and zero-filled on demand.
// The leaf entry must not already be present.
func (m *Mapper) Map(vaddr, paddr uint64, flags Flags) error {
	root := m.pml4Phys.Load()
	if root == 0 {
		return ErrNotInitialised
	}

	pdpPhys, err := getOrCreateTable(root, vaddr, 0)
	if err != nil {
		return err
	}
	pdPhys, err := getOrCreateTable(pdpPhys, vaddr, 1)
	if err != nil {
		return err
	}
	ptPhys, err := getOrCreateTable(pdPhys, vaddr, 2)
	if err != nil {
		return err
	}

	ptIndex := (vaddr >> ptShift) & ptIndexMask
	entryPtr := entryAt(ptPhys, ptIndex)
	entry := loadEntry(entryPtr)
	if entry.present() {
		return ErrAlreadyMapped
	}

	entry = withAddress(paddr).withFlags(flags | Present)
	storeEntry(entryPtr, entry)
	return nil
}

// getOrCreateTable returns the physical address of the next-level table
// reached by vaddr's index at the given level (0=PDP, 1=PD, 2=PT),
// allocating and linking a fresh zero-filled page if the entry is absent.
func getOrCreateTable(tablePhys, vaddr uint64, level uint) (uint64, error) {
	shift := uint64(pml4Shift) - uint64(level)*9
	index := (vaddr >> shift) & ptIndexMask

	entryPtr := entryAt(tablePhys, index)
	entry := loadEntry(entryPtr)
	if entry.present() {
		return entry.address(), nil
	}

	newPhys := machine.Current.AllocPage()
	if newPhys == 0 {
		return 0, ErrNoMemory
	}

	newEntry := withAddress(uint64(newPhys)).withFlags(Present | Writable)
	storeEntry(entryPtr, newEntry)
	return uint64(newPhys), nil
}

func entryAt(tablePhys, index uint64) *pageTableEntry {
	base := machine.AddrToPointer(uintptr(tablePhys))
	return (*pageTableEntry)(unsafe.Pointer(uintptr(base) + uintptr(index)*8))
}

func loadEntry(p *pageTableEntry) pageTableEntry {
	return pageTableEntry(atomic.LoadUint64((*uint64)(unsafe.Pointer(p))))
}

func storeEntry(p *pageTableEntry, v pageTableEntry) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p)), uint64(v))
}
