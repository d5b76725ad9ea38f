package sysent

import (
	"path"
	"time"

	"bounds"
	"defs"
	"elfloader"
	"fd"
	"proc"
	"res"
	"smp"
)

// trampoline is the goroutine body every spawned/cloned user task runs
// instead of a real instruction stream: this hosted kernel has no trap
// frame to return into, so the task's only observable behavior is what
// sysExit/kill drive through Task_t.Kill directly. Blocking forever here
// means the goroutine leaks until the host process exits — an accepted
// scope limitation of running "user code" without a CPU to execute it on.
func trampoline(arg any) {
	select {}
}

// sysSpawn implements spawn_elf (spec.md §4.6, §4.16): resolve the path,
// build a child task sharing nothing but the caller's cwd and a duplicated
// fd table (fork-style, not exec-in-place), and load the ELF image into
// its fresh address space. argUva is accepted but unused — this nucleus's
// spawned tasks never read argv/envp, since nothing ever decodes them.
func sysSpawn(t *proc.Task_t, pathUva uintptr, flags int, argUva uintptr) (int, defs.Err_t) {
	p, err := resolvePath(t, pathUva)
	if err != 0 {
		return 0, err
	}
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_PROC_SPAWN_ELF)) {
		return 0, -defs.ENOMEM
	}
	defer res.Resapply(bounds.Bounds(bounds.B_PROC_SPAWN_ELF))

	fds, err := t.Fds.Clone()
	if err != 0 {
		return 0, err
	}
	child := proc.CreateUserTask(path.Base(p), t.Cwd, fds, t, trampoline, nil)

	loaded, err := elfloader.Load(child, p)
	if err != 0 {
		child.Kill(-1)
		return 0, err
	}
	child.Mem.HeapStart = loaded.BreakStart

	smp.Spawn(child, time.Now().UnixMilli())
	return int(child.Pid), 0
}

// sysWaitpid implements waitpid(2): block for the child (or any child when
// pid<=0) to become a zombie, reap it, and hand its exit status back
// through statusUva when non-zero.
func sysWaitpid(t *proc.Task_t, pid defs.Tid_t, statusUva uintptr) (int, defs.Err_t) {
	cpid, status, err := t.Wait(pid)
	if err != 0 {
		return 0, err
	}
	if statusUva != 0 {
		if err := t.Mem.Vm.Userwriten(int(statusUva), 4, status); err != 0 {
			return 0, err
		}
	}
	return int(cpid), 0
}

// cloneFlags bits, spec.md §4.6 clone_thread's mem/fd sharing axes.
const (
	CLONE_SHARE_MEM = 1 << 0
	CLONE_SHARE_FDS = 1 << 1
)

// sysClone implements clone_thread/fork (spec.md §4.6): a1 carries the
// sharing flags, a2/a3 are unused — this nucleus's trampoline has no
// caller-supplied entry point or stack argument to thread through, unlike
// a real clone(2)'s child-function pointer.
func sysClone(t *proc.Task_t, flags, a2, a3 uintptr) (int, defs.Err_t) {
	shareMem := flags&CLONE_SHARE_MEM != 0
	shareFds := flags&CLONE_SHARE_FDS != 0
	nt, err := t.Fork(shareMem, shareFds, trampoline, nil)
	if err != 0 {
		return 0, err
	}
	smp.Spawn(nt, time.Now().UnixMilli())
	return int(nt.Pid), 0
}

// sysDup2 implements dup2(2): clone oldfd's Fd_t into newfd, closing
// whatever was already there (proc.FdTable_t.AddAt's contract).
func sysDup2(t *proc.Task_t, oldfd, newfd int) (int, defs.Err_t) {
	f, ok := t.Fds.Get(oldfd)
	if !ok {
		return 0, -defs.EBADF
	}
	if oldfd == newfd {
		return newfd, 0
	}
	nf, err := fd.Copyfd(f)
	if err != 0 {
		return 0, err
	}
	if err := t.Fds.AddAt(nf, newfd); err != 0 {
		return 0, err
	}
	return newfd, 0
}
