// Package vm is the per-task address space (spec.md §4.3's VMM applied to
// user address spaces, as opposed to the kernel's own arena in vmm):
// Vm_t, demand-paging fault resolution, and the user-memory access helpers
// (Userbuf_t, Useriovec_t) syscall handlers use to safely touch user
// pointers. Where the teacher reaches physical memory through an amd64
// direct-map window (mem.Physmem.Dmap), this i386 build has none — Deref
// goes through paging.Deref instead, which is the hosted-simulation
// backing store paging already keeps per frame.
package vm

import (
	"defs"
	"mem"
	"paging"
)

// Local names for the PTE bits and shift this package uses unqualified,
// matching the teacher's style of treating these as vm-package-local
// constants rather than always spelling out the mem. prefix.
const (
	PGSHIFT    = mem.PGSHIFT
	PGOFFSET   = mem.PGOFFSET
	PTE_P      = mem.PTE_P
	PTE_W      = mem.PTE_W
	PTE_U      = mem.PTE_U
	PTE_COW    = mem.PTE_COW
	PTE_PS     = mem.PTE_PS
	PTE_PCD    = mem.PTE_PCD
	PTE_ADDR   = mem.PTE_ADDR
	PTE_WASCOW = mem.PTE_WASCOW
)

// USERMIN is the lowest virtual address a user mapping may occupy — below
// it sits the unmapped null-pointer guard page.
const USERMIN = mem.PGSIZE

// Deref returns the backing bytes of the data page at pa, as a
// word-addressed view (mem.BytesAsPage centralizes the unsafe conversion).
func Deref(pa mem.Pa_t) *mem.Pg_t {
	return mem.BytesAsPage(paging.Deref(pa))
}

// DerefBytes returns the same page as a byte slice, for callers (Userbuf)
// that index it by byte offset rather than by word.
func DerefBytes(pa mem.Pa_t) *mem.Bytepg_t {
	return paging.Deref(pa)
}

func pmap_walk(pgdir *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	pte, ok := paging.Walk(pgdir, uintptr(va), true, perms)
	if !ok {
		return nil, -defs.ENOMEM
	}
	return pte, 0
}

// Pmap_lookup returns the PTE for va without creating intermediate tables.
func Pmap_lookup(pgdir *mem.Pmap_t, va int) *mem.Pa_t {
	pte, ok := paging.Walk(pgdir, uintptr(va), false, 0)
	if !ok {
		return nil
	}
	return pte
}

// Walk exposes paging.Walk under the name vmregion.go's Ptefor expects.
func Walk(pgdir *mem.Pmap_t, va uintptr, create bool, perms mem.Pa_t) (*mem.Pa_t, bool) {
	return paging.Walk(pgdir, va, create, perms)
}

// Uvmfree_inner tears down every user mapping in pgdir and frees the
// pages it owned (spec.md §3's "PTE_NOFREE holders survive teardown").
func Uvmfree_inner(pgdir *mem.Pmap_t, p_pgdir mem.Pa_t, vmr *Vmregion_t) {
	paging.FreeUserMappings(pgdir, func(pa mem.Pa_t) {
		mem.Physmem.FreeFrame(pa)
	})
}

// tlb_shootdown is the cross-CPU invalidation entry point; smp.Shootdown
// is the real implementation, assigned by smp.Init to avoid an import
// cycle (vm cannot import smp, which imports proc).
var ShootdownFunc func(pmap mem.Pa_t, startva uintptr, pgcount int)

func tlb_shootdown(p_pmap mem.Pa_t, tlbp uintptr, startva uintptr, pgcount int) {
	if ShootdownFunc != nil {
		ShootdownFunc(p_pmap, startva, pgcount)
	}
}
