package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assembler-0/VoidFrame/machine"
	"github.com/assembler-0/VoidFrame/vm"
)

func TestMapBeforeInitFails(t *testing.T) {
	machine.Current = machine.NewSim()
	m := vm.New()
	err := m.Map(0x1000, 0x2000, vm.Writable)
	require.ErrorIs(t, err, vm.ErrNotInitialised)
}

func TestInitIsIdempotent(t *testing.T) {
	machine.Current = machine.NewSim()
	m := vm.New()
	require.NoError(t, m.Init())
	root := m.PML4PhysAddr()
	require.NotZero(t, root)
	require.NoError(t, m.Init())
	require.Equal(t, root, m.PML4PhysAddr())
}

func TestMapThenRemapFails(t *testing.T) {
	machine.Current = machine.NewSim()
	m := vm.New()
	require.NoError(t, m.Init())

	const vaddr = uint64(0x0000_0000_4000_1000)
	const paddr = uint64(0x0000_0000_0020_0000)

	require.NoError(t, m.Map(vaddr, paddr, vm.Writable))
	err := m.Map(vaddr, paddr, vm.Writable)
	require.ErrorIs(t, err, vm.ErrAlreadyMapped)
}

func TestMapDistinctAddressesAcrossLevels(t *testing.T) {
	machine.Current = machine.NewSim()
	m := vm.New()
	require.NoError(t, m.Init())

	addrs := []uint64{
		0x0000_0000_0000_1000,
		0x0000_0000_4000_2000,
		0x0000_0080_0000_3000, // different PML4 index (1)
		0x0000_1000_0000_4000, // different PML4 index
	}
	for i, vaddr := range addrs {
		err := m.Map(vaddr, uint64(i+1)*0x1000, vm.Writable|vm.User)
		require.NoError(t, err, "mapping %#x should succeed", vaddr)
	}
}
