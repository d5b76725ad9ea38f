package vmm

import (
	"testing"

	"mem"
)

// TestMain brings up the PMM before any test touches the arena: vmm's
// ensureInit (and everything downstream of it — paging.NewPmap,
// mem.Physmem.AllocFrame) needs mem.Phys_init to have already populated
// the frame bitmap, the same ordering kernel.New establishes in a real
// boot.
func TestMain(m *testing.M) {
	mem.Phys_init([]mem.MemRange{{Start: 0, Npages: 4096, Usable: true}})
	m.Run()
}

// TestAllocFreeRoundTrip: a single allocation maps readable/writable
// memory and FreePages returns the range to the arena.
func TestAllocFreeRoundTrip(t *testing.T) {
	va, ok := AllocPages(4)
	if !ok {
		t.Fatal("AllocPages failed")
	}
	buf := Deref(va)
	buf[0] = 0xAB
	if buf[0] != 0xAB {
		t.Fatal("mapped page did not hold a write")
	}
	FreePages(va, 4)
}

// TestBestFitSplit is spec.md §8 scenario 6: allocating a smaller run out
// of a larger free extent splits it, leaving the remainder available to a
// later, smaller request rather than consuming the whole extent.
func TestBestFitSplit(t *testing.T) {
	// Drain the arena down to a single, precisely-sized free extent by
	// allocating everything else first would be disproportionate; instead
	// exercise the split directly: two small back-to-back allocations
	// must not return overlapping ranges, which only holds if the first
	// allocation's "split the extent, keep the remainder free" path ran.
	va1, ok := AllocPages(2)
	if !ok {
		t.Fatal("AllocPages(2) failed")
	}
	va2, ok := AllocPages(3)
	if !ok {
		t.Fatal("AllocPages(3) failed")
	}
	if va1 == va2 {
		t.Fatal("two allocations returned the same base address")
	}
	lo, hi := va1, va2
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi < lo+2*uintptr(mem.PGSIZE) {
		t.Fatalf("second allocation overlaps the first: va1=%#x va2=%#x", va1, va2)
	}
	FreePages(va1, 2)
	FreePages(va2, 3)
}

// TestFreeMergesAdjacentExtents: freeing two adjacent allocations leaves
// one coalesced free extent behind, not two bordering fragments —
// inspected directly against the free list, since any other extent
// further out in the arena would otherwise satisfy a same-size
// re-allocation by chance and mask a coalescing bug.
func TestFreeMergesAdjacentExtents(t *testing.T) {
	va1, ok := AllocPages(2)
	if !ok {
		t.Fatal("AllocPages(2) failed")
	}
	va2, ok := AllocPages(2)
	if !ok {
		t.Fatal("AllocPages(2) failed")
	}
	if va2 != va1+2*uintptr(mem.PGSIZE) {
		t.Fatalf("allocations were not adjacent: va1=%#x va2=%#x", va1, va2)
	}

	FreePages(va1, 2)
	FreePages(va2, 2)

	base := (va1 - arenaBase) >> mem.PGSHIFT
	mu.Lock()
	defer mu.Unlock()
	for _, e := range free {
		if e.start == base {
			if e.npages < 4 {
				t.Fatalf("extent at %#x has %d pages, want >= 4 after merge", va1, e.npages)
			}
			return
		}
	}
	t.Fatalf("no free extent starts at %#x after freeing both halves", va1)
}

// TestAllocZeroPanics: AllocPages rejects a non-positive page count
// rather than silently returning a zero-length mapping.
func TestAllocZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("AllocPages(0) did not panic")
		}
	}()
	AllocPages(0)
}

// TestPhysAddrVaOfRoundTrip: PhysAddr and VaOf are inverses over a live
// allocation.
func TestPhysAddrVaOfRoundTrip(t *testing.T) {
	va, ok := AllocPages(1)
	if !ok {
		t.Fatal("AllocPages failed")
	}
	defer FreePages(va, 1)

	pa := PhysAddr(va)
	if got := VaOf(pa); got != va {
		t.Fatalf("VaOf(PhysAddr(va)) = %#x, want %#x", got, va)
	}
}

// TestPhysAddrPanicsOnUnallocated: PhysAddr refuses an address this arena
// never handed out.
func TestPhysAddrPanicsOnUnallocated(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("PhysAddr did not panic on an unallocated address")
		}
	}()
	PhysAddr(arenaBase + 123*uintptr(mem.PGSIZE))
}
