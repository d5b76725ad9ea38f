// Package fb is the single-owner framebuffer arbiter of spec.md §4.12:
// fb_acquire/fb_release enforce exactly one owning task, fb_map installs
// a fixed eager mapping of the physical framebuffer into the owner's
// address space (outside the lazily-faulted Vmregion machinery, since
// this range is never demand-paged — Map inserts it whole), and
// fb_present validates and blits a caller-supplied source buffer into it.
// Release clears ownership only; it does not remove pages already mapped
// into the former owner's address space.
package fb

import (
	"sync"

	"defs"
	"hal"
	"mem"
	"paging"
)

// Geometry describes the fixed physical framebuffer this kernel was
// booted with (spec.md §3's boot-time geometry; populated from
// kernel.Config_t at boot).
type Geometry struct {
	Base   mem.Pa_t // physical base address
	Width  int      // pixels
	Height int       // pixels
	Bpp    int      // bytes per pixel
	Stride int      // bytes per scanline
}

// UserBase is the fixed user virtual address every owner's mapping is
// installed at (SPEC_FULL.md §3 address layout).
const UserBase = 0xB1000000

var (
	mu     sync.Mutex
	geom   Geometry
	owner  defs.Tid_t
	mapped bool
)

// Init records the boot-time framebuffer geometry. Called once from
// kernel bring-up.
func Init(g Geometry) {
	mu.Lock()
	geom = g
	mu.Unlock()
}

// Acquire implements fb_acquire(pid): succeeds (returns true) only if the
// framebuffer is currently unowned.
func Acquire(pid defs.Tid_t) bool {
	mu.Lock()
	defer mu.Unlock()
	if owner != 0 {
		return false
	}
	owner = pid
	return true
}

// Release implements fb_release(pid): only the current owner may
// release.
func Release(pid defs.Tid_t) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	if owner != pid {
		return -defs.EPERM
	}
	owner = 0
	mapped = false
	return 0
}

// Owner reports the current owning pid, or 0 if unowned.
func Owner() defs.Tid_t {
	mu.Lock()
	defer mu.Unlock()
	return owner
}

func npages() int {
	sz := geom.Stride * geom.Height
	return (sz + mem.PGSIZE - 1) / mem.PGSIZE
}

// Map implements fb_map: the caller (already the verified owner) maps
// the physical framebuffer into pgdir at UserBase. The PAT bit is set
// per page when hal.HasPAT reports write-combining support (spec.md
// §4.12); every page is marked PTE_NOFREE so address-space teardown
// never hands these physical frames back to the allocator — they belong
// to the device, not to this process.
func Map(pid defs.Tid_t, pgdir *mem.Pmap_t) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	if owner != pid {
		return -defs.EPERM
	}
	if mapped {
		return -defs.EBUSY
	}
	perms := mem.PTE_U | mem.PTE_W | mem.PTE_NOFREE
	if hal.HasPAT {
		perms |= mem.PTE_PAT
	}
	n := npages()
	for i := 0; i < n; i++ {
		va := UserBase + uintptr(i)*uintptr(mem.PGSIZE)
		pa := geom.Base + mem.Pa_t(i*mem.PGSIZE)
		if !paging.Map(pgdir, va, pa, perms) {
			return -defs.ENOMEM
		}
	}
	mapped = true
	return 0
}

// Rect_t is one source rectangle fb_present blits, in source-buffer
// coordinates.
type Rect_t struct {
	X, Y, W, H int
}

// Present implements fb_present(src, stride, rects): clips every
// rectangle to the screen, rejects misaligned ones (4-pixel alignment
// per spec.md §4.12), walks the destination page table to confirm every
// touched row is actually mapped, then blits.
func Present(pgdir *mem.Pmap_t, src []uint8, srcStride int, rects []Rect_t) defs.Err_t {
	mu.Lock()
	g := geom
	m := mapped
	mu.Unlock()
	if !m {
		return -defs.ENODEV
	}
	for _, r := range rects {
		cr, ok := clip(r, g.Width, g.Height)
		if !ok {
			continue
		}
		if cr.X%4 != 0 || cr.W%4 != 0 {
			return -defs.EINVAL
		}
		if err := blit(pgdir, src, srcStride, cr, g); err != 0 {
			return err
		}
	}
	return 0
}

func clip(r Rect_t, w, h int) (Rect_t, bool) {
	x0, y0 := r.X, r.Y
	x1, y1 := r.X+r.W, r.Y+r.H
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}
	if x1 <= x0 || y1 <= y0 {
		return Rect_t{}, false
	}
	return Rect_t{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// blit copies one clipped, row-walked rectangle from src into the mapped
// framebuffer. This hosted kernel has no SSE2/AVX non-temporal-store
// path to hand-write — the spec's "SIMD memcpy" instruction is a
// hardware detail with no portable Go equivalent, so a plain row-by-row
// copy stands in, the same substitution the teacher itself makes for
// every other piece of inline assembly this nucleus doesn't execute on
// real hardware.
func blit(pgdir *mem.Pmap_t, src []uint8, srcStride int, r Rect_t, g Geometry) defs.Err_t {
	rowBytes := r.W * g.Bpp
	for row := 0; row < r.H; row++ {
		dstOff := (r.Y+row)*g.Stride + r.X*g.Bpp
		dstVA := UserBase + uintptr(dstOff)
		pageVA := dstVA &^ uintptr(mem.PGOFFSET)
		dstPa, ok := paging.Lookup(pgdir, pageVA)
		if !ok {
			return -defs.EFAULT
		}
		srcOff := (r.Y+row)*srcStride + r.X*g.Bpp
		if srcOff < 0 || srcOff+rowBytes > len(src) {
			return -defs.EFAULT
		}
		dstPage := paging.Deref(dstPa)
		within := int(dstVA & uintptr(mem.PGOFFSET))
		if within+rowBytes > mem.PGSIZE {
			// a row straddling a page boundary needs both pages walked;
			// copy byte-range-by-byte-range across the split instead.
			copySplitRow(pgdir, dstVA, src[srcOff:srcOff+rowBytes])
			continue
		}
		copy(dstPage[within:within+rowBytes], src[srcOff:srcOff+rowBytes])
	}
	return 0
}

func copySplitRow(pgdir *mem.Pmap_t, dstVA uintptr, row []uint8) {
	off := 0
	for off < len(row) {
		pageVA := dstVA &^ uintptr(mem.PGOFFSET)
		within := int(dstVA & uintptr(mem.PGOFFSET))
		n := mem.PGSIZE - within
		if n > len(row)-off {
			n = len(row) - off
		}
		if pa, ok := paging.Lookup(pgdir, pageVA); ok {
			copy(paging.Deref(pa)[within:within+n], row[off:off+n])
		}
		dstVA += uintptr(n)
		off += n
	}
}
