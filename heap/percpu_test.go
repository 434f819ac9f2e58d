package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assembler-0/VoidFrame/heap"
	"github.com/assembler-0/VoidFrame/machine"
)

func newPercpu(t *testing.T) *heap.Percpu {
	t.Helper()
	machine.Current = machine.NewSim()
	return heap.NewPercpu(heap.NewBackend())
}

func TestPercpuRoundTrip(t *testing.T) {
	p := newPercpu(t)

	ptr := p.Kmalloc(64)
	require.NotZero(t, ptr)
	p.Kfree(ptr)

	ptr2 := p.Kmalloc(64)
	require.NotZero(t, ptr2)
}

func TestPercpuDisableFallsThroughToBackend(t *testing.T) {
	p := newPercpu(t)
	p.DisablePercpu()

	ptr := p.Kmalloc(128)
	require.NotZero(t, ptr)
	p.Kfree(ptr)

	p.EnablePercpu()
	ptr2 := p.Kmalloc(128)
	require.NotZero(t, ptr2)
}

func TestPercpuFlushReturnsObjectsToBackend(t *testing.T) {
	p := newPercpu(t)
	sim := machine.Current.(*machine.Sim)
	sim.BindCPU(3)

	ptr := p.Kmalloc(64)
	require.NotZero(t, ptr)
	p.Kfree(ptr) // lands in CPU 3's cache, not the backend free list

	statsBefore := p.Backend().GetStats()

	p.FlushCPU(3)

	statsAfter := p.Backend().GetStats()
	require.GreaterOrEqual(t, statsAfter.FreeCount, statsBefore.FreeCount)
}

func TestPercpuStatsOutOfRangeIsZero(t *testing.T) {
	p := newPercpu(t)
	hits, misses := p.PercpuStats(-1)
	require.Zero(t, hits)
	require.Zero(t, misses)
	hits, misses = p.PercpuStats(1000)
	require.Zero(t, hits)
	require.Zero(t, misses)
}
