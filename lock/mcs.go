package lock

import (
	"sync/atomic"

	"github.com/assembler-0/VoidFrame/machine"
)

// MCSNode is a single waiter's queue entry. It must outlive the critical
// section it was used to acquire and must not be reused concurrently by
// two acquisitions.
type MCSNode struct {
	next   atomic.Pointer[MCSNode]
	locked atomic.Bool
	_      [64 - 8 - 1]byte
}

// MCSLock is a fair queue lock: every waiter spins only on its own node,
// never on shared state, which is what makes it NUMA-friendly relative to
// a plain test-and-set spinlock under heavy contention.
type MCSLock struct {
	tail atomic.Pointer[MCSNode]
}

// NewMCSLock returns an empty (unheld) MCS lock.
func NewMCSLock() *MCSLock {
	return &MCSLock{}
}

// Lock enqueues node and blocks until it is this node's turn.
func (l *MCSLock) Lock(node *MCSNode) {
	node.next.Store(nil)
	node.locked.Store(true)

	prev := l.tail.Swap(node)
	if prev == nil {
		return
	}
	prev.next.Store(node)
	m := machine.Current
	for node.locked.Load() {
		m.Pause()
	}
}

// TryLock attempts to become the sole holder without blocking. Succeeds
// only if the queue was empty.
func (l *MCSLock) TryLock(node *MCSNode) bool {
	node.locked.Store(false)
	return l.tail.CompareAndSwap(nil, node)
}

// Unlock releases node's hold and wakes the next waiter in FIFO order, if
// any.
func (l *MCSLock) Unlock(node *MCSNode) {
	if node.next.Load() == nil {
		if l.tail.CompareAndSwap(node, nil) {
			return
		}
		// A successor is in the process of linking itself in; wait for
		// it to finish before handing off.
		m := machine.Current
		for node.next.Load() == nil {
			m.Pause()
		}
	}
	next := node.next.Load()
	if next != nil {
		next.locked.Store(false)
	}
}
