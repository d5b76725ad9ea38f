// Package slab implements the SLUB-style kernel object allocator of
// spec.md §4.4: nine power-of-two size classes from 8 to 2048 bytes, each
// backed by whole pages drawn from vmm (not directly from mem.Physmem —
// spec.md's alloc_pages/free_pages sit between the PMM and every other
// page consumer), with objects threaded together by an intrusive freelist
// stored in the object's own bytes while free. A cache keeps a doubly
// linked list of its partial pages using the frame-index links
// mem.Page_t carries for exactly this purpose; a page that becomes fully
// free is unlinked and returned to vmm rather than cached.
package slab

import (
	"math/bits"
	"sync"

	"mem"
	"vmm"
)

// SizeClasses are the nine power-of-two object sizes spec.md §4.4 names.
var SizeClasses = [9]int{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

const noLink = ^uint32(0)

// Cache_t allocates fixed-size objects of one size class.
type Cache_t struct {
	mu       sync.Mutex
	objsize  int
	perpage  int    // objects per backing page
	partial  uint32 // frame index of first partial page, or noLink
	fullPage map[uint32]bool
	vaOf     map[uint32]uintptr // frame index -> kernel virtual address, for returning pages to vmm
}

// NewCache creates a cache for the given object size, which must be one
// of SizeClasses.
func NewCache(objsize int) *Cache_t {
	ok := false
	for _, sz := range SizeClasses {
		if sz == objsize {
			ok = true
			break
		}
	}
	if !ok {
		panic("slab: not a supported size class")
	}
	return &Cache_t{
		objsize:  objsize,
		perpage:  mem.PGSIZE / objsize,
		partial:  noLink,
		fullPage: map[uint32]bool{},
		vaOf:     map[uint32]uintptr{},
	}
}

// readNext/writeNext thread the intrusive freelist through an object's own
// bytes: a free slot's first 4 bytes hold the offset of the next free slot
// within the page, or noLink to terminate the chain.
func readNext(raw *mem.Bytepg_t, off uint32) uint32 {
	b := raw[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func writeNext(raw *mem.Bytepg_t, off, next uint32) {
	b := raw[off : off+4]
	b[0] = byte(next)
	b[1] = byte(next >> 8)
	b[2] = byte(next >> 16)
	b[3] = byte(next >> 24)
}

// newPage carves a fresh page into c.perpage free slots, chains them into
// a freelist, and returns its frame index.
func (c *Cache_t) newPage() (uint32, bool) {
	va, ok := vmm.AllocPages(1)
	if !ok {
		return 0, false
	}
	pa := vmm.PhysAddr(va)
	fn := mem.Physmem.FrameIndex(pa)
	pg, _ := mem.Physmem.PageAt(fn)
	pg.SlabCache = c
	pg.Objects = 0
	pg.PartialPrev, pg.PartialNext = noLink, noLink
	c.vaOf[fn] = va

	raw := vmm.Deref(va)
	for i := 0; i < c.perpage; i++ {
		off := uint32(i * c.objsize)
		var next uint32
		if i == c.perpage-1 {
			next = noLink
		} else {
			next = off + uint32(c.objsize)
		}
		writeNext(raw, off, next)
	}
	pg.Freelist = 0
	return fn, true
}

// pushPartial links frame fn to the head of c's partial-page list.
func (c *Cache_t) pushPartial(fn uint32) {
	pg, _ := mem.Physmem.PageAt(fn)
	pg.PartialNext = c.partial
	pg.PartialPrev = noLink
	if c.partial != noLink {
		head, _ := mem.Physmem.PageAt(c.partial)
		head.PartialPrev = fn
	}
	c.partial = fn
}

// unlinkPartial removes frame fn from c's partial-page list.
func (c *Cache_t) unlinkPartial(fn uint32) {
	pg, _ := mem.Physmem.PageAt(fn)
	if pg.PartialPrev != noLink {
		prev, _ := mem.Physmem.PageAt(pg.PartialPrev)
		prev.PartialNext = pg.PartialNext
	} else {
		c.partial = pg.PartialNext
	}
	if pg.PartialNext != noLink {
		next, _ := mem.Physmem.PageAt(pg.PartialNext)
		next.PartialPrev = pg.PartialPrev
	}
	pg.PartialPrev, pg.PartialNext = noLink, noLink
}

// Alloc returns a zeroed object of the cache's size class, allocating a
// fresh backing page from vmm if every existing page is full.
func (c *Cache_t) Alloc() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn := c.partial
	if fn == noLink {
		nfn, ok := c.newPage()
		if !ok {
			return nil, false
		}
		fn = nfn
		c.pushPartial(fn)
	}

	pg, pa := mem.Physmem.PageAt(fn)
	raw := mem.Physmem.Raw(pa)
	off := pg.Freelist
	if off == noLink {
		panic("slab: partial page has no free slot")
	}
	pg.Freelist = readNext(raw, off)
	pg.Objects++

	if pg.Objects == int32(c.perpage) {
		c.unlinkPartial(fn)
		c.fullPage[fn] = true
	}

	obj := raw[off : off+uint32(c.objsize)]
	for i := range obj {
		obj[i] = 0
	}
	return obj, true
}

// Free returns obj, previously returned by Alloc, to its backing page. It
// panics if obj does not point into a page owned by this cache — a
// use-after-free or double-free by the caller.
func (c *Cache_t) Free(obj []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pa := mem.Physmem.AddrOf(obj)
	fn := mem.Physmem.FrameIndex(pa)
	pg, pagepa := mem.Physmem.PageAt(fn)
	sc, ok := pg.SlabCache.(*Cache_t)
	if !ok || sc != c {
		panic("slab: object freed to the wrong cache")
	}

	raw := mem.Physmem.Raw(pagepa)
	off := uint32(mem.Physmem.OffsetOf(obj))

	wasFull := pg.Objects == int32(c.perpage)
	writeNext(raw, off, pg.Freelist)
	pg.Freelist = off
	pg.Objects--

	switch {
	case wasFull:
		delete(c.fullPage, fn)
		c.pushPartial(fn)
	case pg.Objects == 0:
		c.unlinkPartial(fn)
		pg.SlabCache = nil
		va := c.vaOf[fn]
		delete(c.vaOf, fn)
		vmm.FreePages(va, 1)
	}
}

var caches [len(SizeClasses)]*Cache_t

func init() {
	for i, sz := range SizeClasses {
		caches[i] = NewCache(sz)
	}
}

// classIndex computes spec.md §4.4's cache index: bsr(size-1)-2, clamped
// to [0, len(SizeClasses)), for size <= 2048. It returns -1 for larger
// requests, which Kmalloc services with whole pages instead.
func classIndex(size int) int {
	if size <= 0 {
		panic("slab: non-positive size")
	}
	if size > 2048 {
		return -1
	}
	bsr := bits.Len(uint(size-1)) - 1
	if size == 1 {
		bsr = 0
	}
	idx := bsr - 2
	if idx < 0 {
		idx = 0
	}
	return idx
}

// largeAlloc records the page count of a multi-page Kmalloc allocation so
// Kfree can round-trip it, keyed by the allocation's starting frame index
// the way spec.md says to stash it "in the first page descriptor".
var (
	largeMu sync.Mutex
	large   = map[uint32]int{}
)

// Kmalloc allocates size bytes from the appropriately sized cache, or
// directly from vmm for requests over 2048 bytes.
func Kmalloc(size int) ([]byte, bool) {
	idx := classIndex(size)
	if idx >= 0 {
		return caches[idx].Alloc()
	}
	npages := (size + mem.PGSIZE - 1) / mem.PGSIZE
	va, ok := vmm.AllocPages(npages)
	if !ok {
		return nil, false
	}
	fn := mem.Physmem.FrameIndex(vmm.PhysAddr(va))
	largeMu.Lock()
	large[fn] = npages
	largeMu.Unlock()
	buf := vmm.Deref(va)
	return buf[:size], true
}

// Kfree releases memory obtained from Kmalloc.
func Kfree(obj []byte) {
	pa := mem.Physmem.AddrOf(obj)
	fn := mem.Physmem.FrameIndex(pa)
	pg, _ := mem.Physmem.PageAt(fn)
	if sc, ok := pg.SlabCache.(*Cache_t); ok {
		sc.Free(obj)
		return
	}
	largeMu.Lock()
	npages, ok := large[fn]
	delete(large, fn)
	largeMu.Unlock()
	if !ok {
		panic("slab: Kfree on unknown allocation")
	}
	// obj's backing va is recovered via the arena's own bookkeeping: the
	// caller is expected to have allocated it through Kmalloc, so the
	// frame's virtual address round-trips through vmm's reverse map.
	va := vmm.VaOf(pa)
	vmm.FreePages(va, npages)
}
