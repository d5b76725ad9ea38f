package sysent

import (
	"defs"
	"mem"
	"proc"
	"util"
)

// mmap flag bits. spec.md §6's mmap row gives only a bare "flags" word
// with no bit layout, so this nucleus defines its own — anonymous vs.
// file-backed, private-copy vs. shared — the same two axes Vmadd_anon/
// Vmadd_file/Vmadd_shareanon/Vmadd_sharefile already split on.
const (
	MAP_SHARED = 1 << 0
	MAP_ANON   = 1 << 1
)

// mmapBase is the search window mmap carves new mappings from: above the
// heap (which grows from elfloader.Loaded.BreakStart) and below the fixed
// stack region at [0xB0000000, 0xB0400000), so neither can collide with a
// late-arriving mmap.
const mmapBase = 0x90000000

func sysMmap(t *proc.Task_t, fdn, size, flags int) int {
	if size <= 0 {
		return 0
	}
	length := util.Roundup(size, mem.PGSIZE)
	as := t.Mem.Vm
	as.Lock_pmap()
	start := as.Unusedva_inner(mmapBase, length)
	as.Unlock_pmap()
	if start == 0 {
		return 0
	}
	perms := mem.PTE_U | mem.PTE_W

	if flags&MAP_ANON != 0 {
		if flags&MAP_SHARED != 0 {
			as.Vmadd_shareanon(start, length, perms)
		} else {
			as.Vmadd_anon(start, length, perms)
		}
		return start
	}

	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0
	}
	if flags&MAP_SHARED != 0 {
		as.Vmadd_sharefile(start, length, perms, f.Fops, 0, nil)
	} else {
		as.Vmadd_file(start, length, perms, f.Fops, 0)
	}
	return start
}

// sysMunmap un-presents every page in [uva, uva+length) directly, without
// removing the Vmregion_t bookkeeping entry a full munmap would (vm's
// region tree has no removal method, only insert) — a later access in the
// unmapped range still faults against the stale entry and gets re-paged
// in, rather than SIGSEGV'ing as real munmap would. Documented as an
// explicit scope limitation; nothing in this nucleus re-mmaps a range it
// has just munmap'd.
func sysMunmap(t *proc.Task_t, uva uintptr, length int) defs.Err_t {
	if err := checkUserRange(uva, length); err != 0 {
		return err
	}
	pages := util.Roundup(length, mem.PGSIZE) / mem.PGSIZE
	as := t.Mem.Vm
	as.Lock_pmap()
	for i := 0; i < pages; i++ {
		as.Page_remove(int(uva) + i*mem.PGSIZE)
	}
	as.Tlbshoot(uva, pages)
	as.Unlock_pmap()
	return 0
}
