// Package vmm manages the kernel's own virtual address arena
// [0xC0000000, 0x100000000) (spec.md §4.3): a best-fit allocator over page
// ranges, backed by frames drawn from mem.Physmem and installed into the
// kernel page directory through paging.Map. Every other kernel consumer of
// pages for its own bookkeeping (slab caches, VMM region nodes themselves
// in a non-degenerate design, page-table pages for new address spaces)
// goes through here rather than calling mem.Physmem directly, the way
// spec.md's alloc_pages/free_pages sit between the PMM and everyone else.
//
// spec.md describes the arena as two rb-trees (by address, and by
// (size, start)) drawn from a statically sized free-node pool. This
// hosted build keeps the same external contract — best-fit split/merge
// under one lock (its free slice and va/pa maps still allocate as they
// grow) — using a single
// address-sorted slice of free extents instead: no rb-tree or ordered-map
// library exists anywhere in the example corpus to ground a real one on,
// and a linear scan over a few thousand extents is adequate for a
// teaching kernel's arena (see DESIGN.md).
package vmm

import (
	"sort"
	"sync"

	"mem"
	"paging"
)

const (
	arenaBase  = uintptr(0xC0000000)
	arenaLimit = uintptr(0x100000000)
)

type extent_t struct {
	start  uintptr // in pages, relative to arenaBase
	npages int
}

var (
	mu      sync.Mutex
	once    sync.Once
	free    []extent_t
	kpmPa   mem.Pa_t
	kpm     *mem.Pmap_t
	backed  = map[uintptr]mem.Pa_t{} // va (page number) -> physical frame
	reverse = map[mem.Pa_t]uintptr{} // physical frame -> va (page number)
)

// ensureInit lazily builds the arena's free list and kernel page
// directory on first use. This cannot be a plain package init(): Go runs
// init() at program startup, before kernel.New ever gets to call
// mem.Phys_init, so paging.NewPmap's mem.Physmem.AllocFrame would always
// run against an empty, not-yet-initialized bitmap and kpm would be
// permanently nil. Every entry point that touches kpm calls this first
// instead, by which point mem.Phys_init has always already run.
func ensureInit() {
	once.Do(func() {
		total := int((arenaLimit - arenaBase) >> mem.PGSHIFT)
		free = []extent_t{{start: 0, npages: total}}
		kpmPa, kpm, _ = paging.NewPmap()
	})
}

// KernelPmap returns the page directory every kernel virtual-memory
// mapping made through this package lives in.
func KernelPmap() (*mem.Pmap_t, mem.Pa_t) {
	ensureInit()
	return kpm, kpmPa
}

func pageToVa(pg uintptr) uintptr {
	return arenaBase + pg<<mem.PGSHIFT
}

// bestFit finds the smallest free extent that can satisfy n pages,
// returning its index or -1.
func bestFit(n int) int {
	best := -1
	for i, e := range free {
		if e.npages < n {
			continue
		}
		if best == -1 || e.npages < free[best].npages {
			best = i
		}
	}
	return best
}

// AllocPages reserves n contiguous pages of kernel virtual address space,
// backs each with a fresh physical frame, and maps them PRESENT+RW. It
// returns the base virtual address.
func AllocPages(n int) (uintptr, bool) {
	if n <= 0 {
		panic("vmm: non-positive page count")
	}
	ensureInit()
	mu.Lock()
	idx := bestFit(n)
	if idx < 0 {
		mu.Unlock()
		return 0, false
	}
	e := free[idx]
	free = append(free[:idx], free[idx+1:]...)
	if e.npages > n {
		free = append(free, extent_t{start: e.start + uintptr(n), npages: e.npages - n})
		sort.Slice(free, func(i, j int) bool { return free[i].start < free[j].start })
	}
	mu.Unlock()

	base := e.start
	for i := 0; i < n; i++ {
		pa, ok := mem.Physmem.AllocFrame()
		if !ok {
			freeRange(base, i) // undo the pages already mapped
			return 0, false
		}
		va := pageToVa(base + uintptr(i))
		if !paging.Map(kpm, va, pa, mem.PTE_P|mem.PTE_W) {
			mem.Physmem.FreeFrame(pa)
			freeRange(base, i)
			return 0, false
		}
		mu.Lock()
		backed[base+uintptr(i)] = pa
		reverse[pa] = base + uintptr(i)
		mu.Unlock()
	}
	return pageToVa(base), true
}

// freeRange unmaps and releases the first n pages starting at base
// (relative page number), then returns the extent to the arena.
func freeRange(base uintptr, n int) {
	for i := 0; i < n; i++ {
		va := pageToVa(base + uintptr(i))
		mu.Lock()
		pa, ok := backed[base+uintptr(i)]
		delete(backed, base+uintptr(i))
		delete(reverse, pa)
		mu.Unlock()
		if ok {
			paging.Unmap(kpm, va)
			mem.Physmem.FreeFrame(pa)
		}
	}
	releaseExtent(base, n)
}

func releaseExtent(start uintptr, n int) {
	if n == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	free = append(free, extent_t{start: start, npages: n})
	sort.Slice(free, func(i, j int) bool { return free[i].start < free[j].start })
	// coalesce adjacent extents
	merged := free[:0]
	for _, e := range free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.start+uintptr(last.npages) == e.start {
				last.npages += e.npages
				continue
			}
		}
		merged = append(merged, e)
	}
	free = merged
}

// FreePages releases n pages starting at virtual address va, previously
// returned by AllocPages.
func FreePages(va uintptr, n int) {
	if va < arenaBase || n <= 0 {
		panic("vmm: bad range")
	}
	base := (va - arenaBase) >> mem.PGSHIFT
	freeRange(base, n)
}

// PhysAddr returns the physical frame backing the kernel page at va, for
// callers (slab) that need to tag their own per-page bookkeeping in
// mem.Page_t rather than going through Deref.
func PhysAddr(va uintptr) mem.Pa_t {
	mu.Lock()
	defer mu.Unlock()
	pa, ok := backed[(va-arenaBase)>>mem.PGSHIFT]
	if !ok {
		panic("vmm: address not allocated from this arena")
	}
	return pa
}

// VaOf reverse-looks-up the kernel virtual address backed by pa. It
// panics if pa was not handed out by this arena's AllocPages.
func VaOf(pa mem.Pa_t) uintptr {
	mu.Lock()
	defer mu.Unlock()
	pg, ok := reverse[pa]
	if !ok {
		panic("vmm: physical address not owned by this arena")
	}
	return pageToVa(pg)
}

// Deref returns the backing storage of the kernel page mapped at va.
func Deref(va uintptr) *mem.Bytepg_t {
	mu.Lock()
	pa, ok := backed[(va-arenaBase)>>mem.PGSHIFT]
	mu.Unlock()
	if !ok {
		panic("vmm: address not allocated from this arena")
	}
	return paging.Deref(pa)
}
