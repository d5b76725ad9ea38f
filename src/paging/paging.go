// Package paging implements the i386 two-level page table walker
// (spec.md §3 Paging / §4.2): page directory and page table lookups,
// mapping and unmapping leaf entries, and tearing down a full user address
// space.
//
// The teacher's vm package reaches physical memory through a direct-map
// window (Physmem.Dmap), which only exists because amd64 has room to map
// all of physical RAM at a fixed offset. i386's 4 GiB address space has no
// such room, so instead paging hands out page-table-page frames from
// mem.Physmem and keeps its own registry from physical address back to the
// *mem.Pmap_t Go object backing that frame (mem.Physmem.Raw gives every
// other data frame its storage the same hosted way).
package paging

import (
	"sync"

	"mem"
)

var (
	regmu sync.RWMutex
	reg   = map[mem.Pa_t]*mem.Pmap_t{}
)

// NewPmap allocates a fresh, zeroed page table page and returns both its
// physical address and the Go object backing it.
func NewPmap() (mem.Pa_t, *mem.Pmap_t, bool) {
	pa, ok := mem.Physmem.AllocFrame()
	if !ok {
		return 0, nil, false
	}
	pm := &mem.Pmap_t{}
	regmu.Lock()
	reg[pa] = pm
	regmu.Unlock()
	return pa, pm, true
}

// PmapFor resolves a physical address known to hold a page table page to
// its Go object. It panics if pa was never handed out by NewPmap, which
// means a PTE pointed somewhere that isn't a page table — a kernel bug.
func PmapFor(pa mem.Pa_t) *mem.Pmap_t {
	regmu.RLock()
	defer regmu.RUnlock()
	pm, ok := reg[pa&mem.PTE_ADDR]
	if !ok {
		panic("paging: address is not a registered page table frame")
	}
	return pm
}

// FreePmap releases a page table page back to the frame allocator.
func FreePmap(pa mem.Pa_t) {
	regmu.Lock()
	delete(reg, pa&mem.PTE_ADDR)
	regmu.Unlock()
	mem.Physmem.FreeFrame(pa & mem.PTE_ADDR)
}

// i386 non-PAE addresses split into a 10-bit page directory index, a
// 10-bit page table index, and a 12-bit page offset.
const (
	pdidxShift = 22
	ptidxShift = 12
	idxMask    = 0x3ff
)

func indices(va uintptr) (pdidx, ptidx int) {
	return int((va >> pdidxShift) & idxMask), int((va >> ptidxShift) & idxMask)
}

// Walk returns a pointer to the leaf PTE for va within the address space
// rooted at pgdir. If create is false, a missing intermediate page table
// reports ok == false rather than allocating one; perms is OR'd into the
// new page directory entry when an intermediate table is created.
func Walk(pgdir *mem.Pmap_t, va uintptr, create bool, perms mem.Pa_t) (pte *mem.Pa_t, ok bool) {
	pdidx, ptidx := indices(va)
	pde := &pgdir[pdidx]
	var pt *mem.Pmap_t
	if *pde&mem.PTE_P == 0 {
		if !create {
			return nil, false
		}
		pa, npt, ok := NewPmap()
		if !ok {
			return nil, false
		}
		*pde = pa | perms | mem.PTE_P | mem.PTE_U | mem.PTE_W
		pt = npt
	} else {
		pt = PmapFor(*pde)
	}
	return &pt[ptidx], true
}

// Lookup returns the present PTE value for va, or 0, false if unmapped.
func Lookup(pgdir *mem.Pmap_t, va uintptr) (mem.Pa_t, bool) {
	pte, ok := Walk(pgdir, va, false, 0)
	if !ok || *pte&mem.PTE_P == 0 {
		return 0, false
	}
	return *pte, true
}

// Map installs a leaf mapping va -> pa with perms, creating intermediate
// page tables as needed. It returns false only on allocation failure.
func Map(pgdir *mem.Pmap_t, va uintptr, pa mem.Pa_t, perms mem.Pa_t) bool {
	pte, ok := Walk(pgdir, va, true, mem.PTE_U|mem.PTE_W)
	if !ok {
		return false
	}
	*pte = (pa & mem.PTE_ADDR) | perms | mem.PTE_P
	return true
}

// Unmap clears the leaf mapping for va and returns the physical address
// that was mapped there, or 0 if none was mapped.
func Unmap(pgdir *mem.Pmap_t, va uintptr) mem.Pa_t {
	pte, ok := Walk(pgdir, va, false, 0)
	if !ok || *pte&mem.PTE_P == 0 {
		return 0
	}
	pa := *pte & mem.PTE_ADDR
	*pte = 0
	return pa
}

// FreeUserMappings walks every present page directory entry of pgdir,
// invoking free on every present leaf page whose PTE_NOFREE bit is clear
// (spec.md §3: shared and MMIO mappings must survive teardown of the
// address space that merely borrowed them), then releases the
// intermediate page table pages themselves.
func FreeUserMappings(pgdir *mem.Pmap_t, free func(mem.Pa_t)) {
	for pdidx := 0; pdidx < 1024; pdidx++ {
		pde := pgdir[pdidx]
		if pde&mem.PTE_P == 0 {
			continue
		}
		ptpa := pde & mem.PTE_ADDR
		pt := PmapFor(ptpa)
		for ptidx := 0; ptidx < 1024; ptidx++ {
			pte := pt[ptidx]
			if pte&mem.PTE_P == 0 {
				continue
			}
			if pte&mem.PTE_NOFREE != 0 {
				continue
			}
			free(pte & mem.PTE_ADDR)
		}
		pgdir[pdidx] = 0
		FreePmap(ptpa)
	}
}

// Deref returns the backing storage of the data page at physical address
// pa, for code (fb, vm's pmap helpers, vmm) that needs to read or write a
// mapped page's contents directly.
func Deref(pa mem.Pa_t) *mem.Bytepg_t {
	return mem.Physmem.Raw(pa & mem.PTE_ADDR)
}
