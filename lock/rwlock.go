package lock

import (
	"sync/atomic"

	"github.com/assembler-0/VoidFrame/machine"
)

const rwBackoffCap = 64

// RWLock is a recursive, writer-preferring reader/writer lock. A holder
// identified by an externally supplied owner id may reenter as writer, and
// may freely call the read operations while holding the write lock (they
// become no-ops) — see spec.md §4.3 and the Open Question in DESIGN.md
// about the owner-id space being the caller's responsibility.
type RWLock struct {
	readers        atomic.Uint32
	writer         atomic.Bool
	waitingWriters atomic.Uint32
	owner          atomic.Uint32
	recursion      atomic.Uint32
}

// NewRWLock returns an unheld RWLock.
func NewRWLock() *RWLock {
	return &RWLock{}
}

func spinWait(m machine.Provider, backoff *uint32) {
	for i := uint32(0); i < *backoff; i++ {
		m.Pause()
	}
	if *backoff*2 > rwBackoffCap {
		*backoff = rwBackoffCap
	} else {
		*backoff *= 2
	}
}

// ReadLock acquires a shared hold for ownerID. Writer-preferring: blocks
// while a writer holds the lock or any writer is waiting, so a stream of
// readers cannot starve a pending writer.
func (l *RWLock) ReadLock(ownerID uint32) {
	if l.writer.Load() && l.owner.Load() == ownerID {
		return // the current writer may freely read
	}

	m := machine.Current
	backoff := uint32(1)
	for {
		for l.writer.Load() || l.waitingWriters.Load() > 0 {
			spinWait(m, &backoff)
		}

		l.readers.Add(1)
		if !l.writer.Load() {
			return
		}
		// A writer slipped in between our checks; roll back and retry.
		l.readers.Add(^uint32(0)) // -1
		backoff = 1
	}
}

// ReadUnlock releases a shared hold acquired by ReadLock(ownerID).
func (l *RWLock) ReadUnlock(ownerID uint32) {
	if l.writer.Load() && l.owner.Load() == ownerID {
		return
	}
	l.readers.Add(^uint32(0)) // -1
}

// WriteLock acquires (or recursively re-enters) an exclusive hold for
// ownerID.
func (l *RWLock) WriteLock(ownerID uint32) {
	if l.writer.Load() && l.owner.Load() == ownerID {
		l.recursion.Add(1)
		return
	}

	m := machine.Current
	l.waitingWriters.Add(1)

	backoff := uint32(1)
	for !l.writer.CompareAndSwap(false, true) {
		spinWait(m, &backoff)
	}

	backoff = 1
	for l.readers.Load() > 0 {
		spinWait(m, &backoff)
	}

	l.waitingWriters.Add(^uint32(0)) // -1
	l.owner.Store(ownerID)
	l.recursion.Store(1)
}

// WriteUnlock releases one level of write recursion, fully releasing the
// lock only when the recursion count reaches zero.
func (l *RWLock) WriteUnlock() {
	if l.recursion.Load() > 1 {
		l.recursion.Add(^uint32(0)) // -1
		return
	}
	l.recursion.Store(0)
	l.owner.Store(0)
	l.writer.Store(false)
}
