// Package fault is the #PF handler of spec.md §4.9: decides between a
// kernel higher-half lazy-PDE clone, demand paging of an already-declared
// vm region (stack/heap growth and mmap faults are the same case once the
// region is registered, which vm.Vm_t.Pgfault already resolves), and
// escalation (SIGSEGV or panic) when nothing claims the address.
package fault

import (
	"fmt"

	"defs"
	"mem"
	"proc"
	"vmm"
)

// KernelHalf is the virtual address spec.md §6 draws the kernel/user
// boundary at.
const KernelHalf = 0xC0000000

// Handle resolves a page fault at virtual address cr2 in task t, with
// ecode carrying the PTE_U/PTE_W bits the fault occurred with (mirroring
// the hardware error code's present/write/user bits). kernelMode is true
// when the fault happened while executing kernel code on t's behalf
// (e.g. during a copy_to_user), matching spec.md §4.9 case 5 vs. 6.
func Handle(t *proc.Task_t, cr2 uintptr, ecode uintptr, kernelMode bool) {
	if cr2 >= KernelHalf {
		if handleKernelHalf(t, cr2) {
			return
		}
	}

	err := t.Mem.Vm.Pgfault(t.Pid, cr2, ecode)
	if err == 0 {
		return
	}

	if kernelMode {
		panic(fmt.Sprintf("fault: unhandled kernel-mode #PF at %#x (pid %d): %d", cr2, t.Pid, err))
	}

	deliverSegv(t)
}

// handleKernelHalf implements spec.md §4.9 case 1: if the kernel's master
// directory has the PDE for cr2 present but this task's directory does
// not, copy the PDE across and invalidate locally — the price of not
// eagerly propagating kernel-half page table edits to every task at
// creation time. Returns true if it resolved the fault this way.
func handleKernelHalf(t *proc.Task_t, cr2 uintptr) bool {
	kpmap, _ := vmm.KernelPmap()
	pdi := cr2 >> 22
	if kpmap[pdi]&mem.PTE_P == 0 {
		return false
	}
	mine := t.Mem.Vm.Pmap
	if mine[pdi]&mem.PTE_P != 0 {
		return false // already present; case 5 (stale TLB) handles this
	}
	mine[pdi] = kpmap[pdi]
	if t.CPU != nil {
		t.CPU.Invlpg(cr2)
	}
	return true
}

// deliverSegv hands t to SegvHandler, which kernel.New sets to raise
// SIGSEGV as pending through signal.Send (signal.Deliver then applies a
// handler or the default kill). The indirection avoids fault importing
// signal, which itself needs proc.Task_t and would cycle back. With no
// SegvHandler set, t is killed directly.
var SegvHandler func(t *proc.Task_t)

func deliverSegv(t *proc.Task_t) {
	if SegvHandler != nil {
		SegvHandler(t)
		return
	}
	t.Kill(defs.SIGSEGV | 0x80) // WIFSIGNALED-style status, matching spec.md §4.13 default-action kill
}
