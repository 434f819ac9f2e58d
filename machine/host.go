//go:build voidframe_host

package machine

// Host is the Provider wired up on a real freestanding x86-64 build. Its
// methods are implemented in assembly (rdtsc, pause, lapic id read,
// pushfq/popfq/cli for the IRQ primitives) and by linking against the
// surrounding kernel's page allocator and panic handler — the "external
// collaborators" spec.md §1 places out of scope for this module. Only the
// declarations live here; the bodies are provided by the host kernel's
// build, the same division of labor the original source draws between
// rust_core/rust_heap and the C kernel it links into (VMemAlloc,
// PrintKernelError, Panic, ...).
type Host struct{}

func (Host) Timestamp() uint64 {
	return hostTimestamp()
}

func (Host) Pause() {
	hostPause()
}

func (Host) ThisCPUID() uint32 {
	return hostThisCPUID()
}

func (Host) YieldCPU() {
	hostYieldCPU()
}

func (Host) SaveIRQ() uint64 {
	return hostSaveIRQ()
}

func (Host) RestoreIRQ(flags uint64) {
	hostRestoreIRQ(flags)
}

func (Host) DisableIRQ() {
	hostDisableIRQ()
}

func (Host) AllocPage() uintptr {
	return hostAllocPage()
}

func (Host) FreePage(addr uintptr) {
	hostFreePage(addr)
}

func (Host) AllocPages(count uintptr) uintptr {
	return hostAllocPages(count)
}

func (Host) FreePages(addr uintptr, count uintptr) {
	hostFreePages(addr, count)
}

func (Host) Panic(msg string) {
	hostPanic(msg)
}

// The hostXxx functions below are provided by the kernel's assembly and
// linker glue for a voidframe_host build; this module supplies only their
// signatures.
func hostTimestamp() uint64
func hostPause()
func hostThisCPUID() uint32
func hostYieldCPU()
func hostSaveIRQ() uint64
func hostRestoreIRQ(flags uint64)
func hostDisableIRQ()
func hostAllocPage() uintptr
func hostFreePage(addr uintptr)
func hostAllocPages(count uintptr) uintptr
func hostFreePages(addr uintptr, count uintptr)
func hostPanic(msg string)

func init() {
	Current = Host{}
}
