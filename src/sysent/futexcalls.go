package sysent

import (
	"defs"
	"futex"
	"mem"
	"proc"
	"vm"
)

// userPhys resolves uva to its backing physical address, faulting the
// page in first (Userreadn) so Pmap_lookup always finds a present PTE —
// futex.Table_t keys its wait queues by physical address (spec.md §4.14
// "shared futexes key on physical address, not virtual"), so every
// waiter on the same shared mapping collides on the same key regardless
// of where each task mapped it.
func userPhys(t *proc.Task_t, uva uintptr) (uintptr, defs.Err_t) {
	if err := checkUserRange(uva, 4); err != 0 {
		return 0, err
	}
	if _, err := t.Mem.Vm.Userreadn(int(uva), 4); err != 0 {
		return 0, err
	}
	pte := vm.Pmap_lookup(t.Mem.Vm.Pmap, int(uva))
	if pte == nil {
		return 0, -defs.EFAULT
	}
	pa := uintptr(*pte & mem.PTE_ADDR)
	return pa + (uva & uintptr(mem.PGOFFSET)), 0
}

func sysFutexWait(t *proc.Task_t, uva uintptr, expected uint32) defs.Err_t {
	pa, err := userPhys(t, uva)
	if err != 0 {
		return err
	}
	read := func() (uint32, defs.Err_t) {
		v, err := t.Mem.Vm.Userreadn(int(uva), 4)
		if err != 0 {
			return 0, err
		}
		return uint32(v), 0
	}
	return futex.Global.Wait(pa, expected, read, t)
}

func sysFutexWake(t *proc.Task_t, uva uintptr, n int) (int, defs.Err_t) {
	pa, err := userPhys(t, uva)
	if err != 0 {
		return 0, err
	}
	return futex.Global.Wake(pa, n)
}
