// Command voidframe-selftest exercises every primitive in this module end
// to end under the simulated machine, the way a host kernel's early boot
// self-test would before trusting the allocator and locks with real work.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/assembler-0/VoidFrame/heap"
	"github.com/assembler-0/VoidFrame/klog"
	"github.com/assembler-0/VoidFrame/lock"
	"github.com/assembler-0/VoidFrame/vm"
)

func main() {
	klog.SetSink(klog.StderrSink{})

	if err := runSpinlock(); err != nil {
		fail("spinlock", err)
	}
	if err := runMCS(); err != nil {
		fail("mcs", err)
	}
	if err := runRWLock(); err != nil {
		fail("rwlock", err)
	}
	if err := runVM(); err != nil {
		fail("vm", err)
	}
	if err := runHeap(); err != nil {
		fail("heap", err)
	}

	fmt.Println("all self-tests passed")
}

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "self-test failed at %s: %v\n", stage, err)
	os.Exit(1)
}

func runSpinlock() error {
	l := lock.New()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != 8000 {
		return fmt.Errorf("counter = %d, want 8000", counter)
	}
	return nil
}

func runMCS() error {
	l := lock.NewMCSLock()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var node lock.MCSNode
			for j := 0; j < 1000; j++ {
				l.Lock(&node)
				counter++
				l.Unlock(&node)
			}
		}()
	}
	wg.Wait()
	if counter != 8000 {
		return fmt.Errorf("counter = %d, want 8000", counter)
	}
	return nil
}

func runRWLock() error {
	rw := lock.NewRWLock()
	rw.WriteLock(7)
	rw.ReadLock(7)
	rw.ReadUnlock(7)
	rw.WriteUnlock()
	return nil
}

func runVM() error {
	m := vm.New()
	if err := m.Init(); err != nil {
		return err
	}
	if err := m.Map(0x0000_0000_4000_1000, 0x0000_0000_0020_0000, vm.Writable); err != nil {
		return err
	}
	if err := m.Map(0x0000_0000_4000_1000, 0x0000_0000_0020_0000, vm.Writable); err == nil {
		return fmt.Errorf("remapping the same address should have failed")
	}
	return nil
}

func runHeap() error {
	backend := heap.NewBackend()
	front := heap.NewPercpu(backend)

	var ptrs []uintptr
	for i := 0; i < 1000; i++ {
		ptr := front.Kmalloc(64)
		if ptr == 0 {
			return fmt.Errorf("kmalloc(64) returned null on iteration %d", i)
		}
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		front.Kfree(ptr)
	}
	// Percpu keeps freed blocks in per-CPU caches without handing them to
	// the backend; flush every CPU slot so the backend counters balance.
	for cpu := 0; cpu < 64; cpu++ {
		front.FlushCPU(cpu)
	}

	stats := backend.GetStats()
	if stats.AllocCount != stats.FreeCount {
		return fmt.Errorf("alloc_count=%d free_count=%d mismatch", stats.AllocCount, stats.FreeCount)
	}
	if errs := backend.Validate(); errs != 0 {
		return fmt.Errorf("validate found %d corrupt blocks", errs)
	}
	return nil
}
