// Package lock implements the kernel-support core's synchronization
// primitive suite: an adaptive spinlock with owner tracking and deadlock
// detection, a fair MCS queue lock, and a recursive writer-preferring
// reader/writer lock. All three are translated directly from
// original_source/kernel/atomic/rust/src (spinlock.rs, mcs.rs, rwlock.rs),
// keeping the original's tuning values as package constants, and built only
// on sync/atomic — no
// hosted sync.Mutex, since these primitives are what a hosted mutex would
// be built on top of.
package lock

import (
	"sync/atomic"

	"github.com/assembler-0/VoidFrame/klog"
	"github.com/assembler-0/VoidFrame/machine"
)

// NoOwner is the sentinel stored in Spinlock.ownerCPU while unheld.
const NoOwner = ^uint32(0)

const (
	contentionThreshold  = 100   // contention-counter level at which pause-spin gives way to backoff
	yieldThreshold       = 1000  // attempts before switching to yield_cpu
	maxBackoffCycles     = 1024  // cap on linear/exponential backoff delay, in cycles
	maxPauseExponent     = 64    // cap on the doubling per-round pause count of the low-contention phase
	deadlockTimeoutCyc   = 100_000_000
	maxHoldTimeCycles    = 500_000_000
)

// Spinlock is a cache-line sized adaptive test-and-set lock with owner
// tracking and a deadlock-detection safety latch. The zero value is
// unlocked but reports owner CPU 0 instead of NoOwner; New establishes
// NoOwner, so always construct with New rather than a bare Spinlock{}.
type Spinlock struct {
	locked      atomic.Bool
	ownerCPU    atomic.Uint32
	acquireTime atomic.Uint64
	contention  atomic.Uint32
	lockOrder   uint32

	_ [64 - 4 - 4 - 8 - 4 - 4]byte // pad to a cache line; sizes are Bool(4)+Uint32(4)+Uint64(8)+Uint32(4)+uint32(4)
}

// New returns an unlocked Spinlock with no ordering rank.
func New() *Spinlock {
	return NewWithOrder(0)
}

// NewWithOrder returns an unlocked Spinlock carrying the given lock_order
// rank, reserved for a future lockdep-style ordering discipline (see
// DESIGN.md — this field is stored and read back but never checked here).
func NewWithOrder(order uint32) *Spinlock {
	l := &Spinlock{lockOrder: order}
	l.ownerCPU.Store(NoOwner)
	return l
}

// LockOrder returns the rank this lock was constructed with.
func (l *Spinlock) LockOrder() uint32 { return l.lockOrder }

// OwnerCPU returns the id of the CPU currently holding the lock, or
// NoOwner.
func (l *Spinlock) OwnerCPU() uint32 { return l.ownerCPU.Load() }

// ContentionLevel returns the advisory contention counter.
func (l *Spinlock) ContentionLevel() uint32 { return l.contention.Load() }

// TryLock attempts a single acquire swap. Returns true if the lock was
// acquired.
func (l *Spinlock) TryLock() bool {
	if l.locked.CompareAndSwap(false, true) {
		l.onAcquired()
		return true
	}
	return false
}

func (l *Spinlock) onAcquired() {
	l.ownerCPU.Store(machine.Current.ThisCPUID())
	l.acquireTime.Store(machine.Current.Timestamp())
}

// Lock acquires the spinlock, spinning through three escalating phases
// (pause-spin, linear backoff, yield) and checking for a stuck holder
// between rounds.
func (l *Spinlock) Lock() {
	m := machine.Current
	start := m.Timestamp()
	backoff := uint64(1)
	pauseExp := 1
	attempts := uint32(0)

	for {
		// Fast path.
		if !l.locked.Load() && l.locked.CompareAndSwap(false, true) {
			l.onAcquired()
			return
		}

		now := m.Timestamp()
		if now-start > deadlockTimeoutCyc {
			if l.handleDeadlock(m) {
				// self-deadlock: reported, caller is spinning on its own
				// lock. Keep trying — the spec treats this as advisory,
				// not fatal.
				start = now
				continue
			}
			start = now
		}

		attempts++
		switch {
		case l.contention.Load() < contentionThreshold:
			for i := 0; i < pauseExp; i++ {
				if !l.locked.Load() {
					break
				}
				m.Pause()
			}
			if pauseExp < maxPauseExponent {
				pauseExp *= 2
				if pauseExp > maxPauseExponent {
					pauseExp = maxPauseExponent
				}
			}
		case attempts < yieldThreshold:
			backoffDelay(m, backoff)
			if backoff*2 > maxBackoffCycles {
				backoff = maxBackoffCycles
			} else {
				backoff *= 2
			}
		default:
			m.YieldCPU()
			attempts = 0
			pauseExp = 1
			l.contention.Add(1)
		}
	}
}

// handleDeadlock implements the between-rounds deadlock check. It returns
// true if the caller already holds this lock (self-deadlock, reported but
// not fatal); otherwise it checks whether the current holder has held the
// lock past maxHoldTimeCycles and, if so, calls Panic (never returns from
// that branch).
func (l *Spinlock) handleDeadlock(m machine.Provider) (selfDeadlock bool) {
	owner := l.ownerCPU.Load()
	if owner == m.ThisCPUID() {
		klog.Warn("spinlock: self-deadlock detected")
		return true
	}
	if owner != NoOwner {
		held := m.Timestamp() - l.acquireTime.Load()
		if held > maxHoldTimeCycles {
			m.Panic("spinlock: holder exceeded max hold time")
		}
	}
	backoffDelay(m, maxBackoffCycles)
	l.contention.Add(1)
	return false
}

func backoffDelay(m machine.Provider, cycles uint64) {
	start := m.Timestamp()
	for m.Timestamp()-start < cycles {
		m.Pause()
	}
}

// Unlock releases the spinlock, clearing owner/acquire-time before the
// release-store so a subsequent acquirer never observes stale owner state,
// then saturating-decrements the contention counter.
func (l *Spinlock) Unlock() {
	l.ownerCPU.Store(NoOwner)
	l.acquireTime.Store(0)
	l.locked.Store(false)
	for {
		c := l.contention.Load()
		if c == 0 {
			return
		}
		if l.contention.CompareAndSwap(c, c-1) {
			return
		}
	}
}

// LockIRQSave disables interrupts (after saving the prior flag state) and
// acquires the lock, returning an opaque token for UnlockIRQRestore.
func (l *Spinlock) LockIRQSave() uint64 {
	m := machine.Current
	flags := m.SaveIRQ()
	m.DisableIRQ()
	l.Lock()
	return flags
}

// UnlockIRQRestore releases the lock and restores the interrupt-flag state
// captured by the matching LockIRQSave.
func (l *Spinlock) UnlockIRQRestore(flags uint64) {
	l.Unlock()
	machine.Current.RestoreIRQ(flags)
}
