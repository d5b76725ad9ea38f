// Package proc is the Task/PID/FD lifecycle of spec.md §4.6: task
// creation (kernel threads and spawn_elf), the shared proc_mem address
// space, the fd_table, and kill/exit/reap. It ties together mem, vm,
// sched, ksync, fd, tinfo and hal — the packages below it in the
// dependency graph know nothing about Task_t; proc is where they meet.
package proc

import (
	"sync"
	"sync/atomic"

	"accnt"
	"bounds"
	"defs"
	"fd"
	"hal"
	"hashtable"
	"ksync"
	"mem"
	"paging"
	"res"
	"sched"
	"tinfo"
	"vm"
)

// State_t is a task's scheduling state (spec.md §3 Task).
type State_t int

const (
	UNUSED State_t = iota
	RUNNABLE
	RUNNING
	ZOMBIE
	WAITING
)

// KSTACK_SIZE is the per-task kernel stack allocation, spec.md §4.6.
const KSTACK_SIZE = 32 * 1024

var nextpid int32 // atomically incremented; pid 0 is never issued

func allocpid() defs.Tid_t {
	return defs.Tid_t(atomic.AddInt32(&nextpid, 1))
}

// ProcMem_t is the address-space state shared by every thread of one
// process (spec.md §3 proc_mem): the page directory, program break, and
// the vm region bookkeeping live in vm.Vm_t; this adds the pieces spec.md
// lists beyond what vm.Vm_t already tracks, plus the refcount governing
// when Vm_t itself gets torn down.
type ProcMem_t struct {
	Vm *vm.Vm_t

	HeapStart  uintptr
	ProgBreak  uintptr
	LeaderPid  defs.Tid_t

	mu       sync.Mutex
	refcount int
}

// MkProcMem allocates a fresh page directory and wraps it.
func MkProcMem() *ProcMem_t {
	pa, pmap, ok := paging.NewPmap()
	if !ok {
		panic("out of memory creating first address space")
	}
	return &ProcMem_t{
		Vm: &vm.Vm_t{
			Pmap:   pmap,
			P_pmap: pa,
		},
		refcount: 1,
	}
}

// Ref increments the sharing refcount (clone_thread retains mem).
func (pm *ProcMem_t) Ref() {
	pm.mu.Lock()
	pm.refcount++
	pm.mu.Unlock()
}

// Unref releases one reference, tearing down the address space when the
// last thread sharing it exits.
func (pm *ProcMem_t) Unref() {
	pm.mu.Lock()
	pm.refcount--
	last := pm.refcount == 0
	pm.mu.Unlock()
	if last {
		pm.Vm.Lock_pmap()
		pm.Vm.Uvmfree()
		pm.Vm.Unlock_pmap()
	}
}

// GrowBreak implements sbrk(incr): it records the heap's high-water mark
// and registers the newly exposed range as demand-paged anonymous memory
// (a negative incr only moves the recorded break back; it does not
// reclaim pages, matching the "heap never shrinks in place" simplicity
// every other lazily-faulted region in this kernel already assumes).
// Returns the break's value before growing, the spec.md §6 sbrk result.
func (pm *ProcMem_t) GrowBreak(incr int) (uintptr, defs.Err_t) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.ProgBreak == 0 {
		pm.ProgBreak = pm.HeapStart
	}
	old := pm.ProgBreak
	if incr > 0 {
		pm.Vm.Vmadd_anon(int(old), incr, mem.PTE_U|mem.PTE_W)
	}
	nb := int64(pm.ProgBreak) + int64(incr)
	if nb < int64(pm.HeapStart) {
		nb = int64(pm.HeapStart)
	}
	pm.ProgBreak = uintptr(nb)
	return old, 0
}

// FdTable_t is fd_table from spec.md §3: a refcounted, growable slot array
// with first-free-slot-at-or-after-fd_next allocation.
type FdTable_t struct {
	mu       sync.Mutex
	fds      []*fd.Fd_t
	fdNext   int
	refcount int
}

// MkFdTable returns an empty table sized for a handful of descriptors.
func MkFdTable() *FdTable_t {
	return &FdTable_t{fds: make([]*fd.Fd_t, 16), refcount: 1}
}

// Ref increments the table's sharing refcount (plain fork retains it).
func (ft *FdTable_t) Ref() {
	ft.mu.Lock()
	ft.refcount++
	ft.mu.Unlock()
}

// Unref drops a reference, closing every descriptor once it hits zero.
func (ft *FdTable_t) Unref() {
	ft.mu.Lock()
	ft.refcount--
	last := ft.refcount == 0
	var toclose []*fd.Fd_t
	if last {
		toclose = ft.fds
		ft.fds = nil
	}
	ft.mu.Unlock()
	for _, f := range toclose {
		if f != nil {
			fd.Close_panic(f)
		}
	}
}

// Clone makes an independent copy of the slot array (dup2-style table
// clone, as opposed to Ref's shared-table fork).
func (ft *FdTable_t) Clone() (*FdTable_t, defs.Err_t) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	nt := &FdTable_t{fds: make([]*fd.Fd_t, len(ft.fds)), fdNext: ft.fdNext, refcount: 1}
	for i, f := range ft.fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, err
		}
		nt.fds[i] = nf
	}
	return nt, 0
}

// Add installs f at the first free slot at or after fdNext, growing the
// table by doubling if none is free. Growing reserves against the
// bounded-allocation budget first (spec.md §7 "Resource exhaustion"),
// since the new slice is sized by an untrusted process's own fd count.
func (ft *FdTable_t) Add(f *fd.Fd_t) (int, defs.Err_t) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i := ft.fdNext; i < len(ft.fds); i++ {
		if ft.fds[i] == nil {
			ft.fds[i] = f
			ft.fdNext = i + 1
			return i, 0
		}
	}
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_PROC_FD_ADD_AT)) {
		return 0, -defs.ENOMEM
	}
	old := len(ft.fds)
	ng := make([]*fd.Fd_t, old*2)
	copy(ng, ft.fds)
	ft.fds = ng
	ft.fds[old] = f
	ft.fdNext = old + 1
	res.Resapply(bounds.Bounds(bounds.B_PROC_FD_ADD_AT))
	return old, 0
}

// AddAt installs f at exactly slot n (dup2-style), closing whatever was
// there.
func (ft *FdTable_t) AddAt(f *fd.Fd_t, n int) defs.Err_t {
	if n < 0 {
		return -defs.EBADF
	}
	ft.mu.Lock()
	if n >= len(ft.fds) {
		ng := make([]*fd.Fd_t, n+1)
		copy(ng, ft.fds)
		ft.fds = ng
	}
	old := ft.fds[n]
	ft.fds[n] = f
	ft.mu.Unlock()
	if old != nil {
		fd.Close_panic(old)
	}
	return 0
}

// Get retrieves the descriptor at n, if any.
func (ft *FdTable_t) Get(n int) (*fd.Fd_t, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if n < 0 || n >= len(ft.fds) || ft.fds[n] == nil {
		return nil, false
	}
	return ft.fds[n], true
}

// Close removes and closes the descriptor at n.
func (ft *FdTable_t) Close(n int) defs.Err_t {
	ft.mu.Lock()
	if n < 0 || n >= len(ft.fds) || ft.fds[n] == nil {
		ft.mu.Unlock()
		return -defs.EBADF
	}
	f := ft.fds[n]
	ft.fds[n] = nil
	if n < ft.fdNext {
		ft.fdNext = n
	}
	ft.mu.Unlock()
	return f.Fops.Close()
}

// Task_t is the kernel's per-task control block (spec.md §3 Task).
type Task_t struct {
	Pid    defs.Tid_t
	Name   string
	Prio   sched.Prio

	state   State_t
	statemu sync.Mutex

	Mem     *ProcMem_t
	Fds     *FdTable_t
	Cwd     *fd.Cwd_t
	Note    *tinfo.Tnote_t

	CPU *hal.CPU

	Vruntime   int64
	WakeTick   int64

	ParentPid  defs.Tid_t
	ExitStatus int
	ExitSem    *ksync.Sem_t

	childrenMu sync.Mutex
	Children   []defs.Tid_t

	// Signal state, spec.md §3/§4.13: a pending bitmask sampled at every
	// kernel-exit-to-user point and 32 installed handler entry points (a
	// zero entry means "default action"). SigCtx is the saved register
	// frame sigreturn restores; IsRunningSignal guards against a nested
	// handler invocation before the task has sigreturn'd.
	sigmu           sync.Mutex
	PendingSignals  uint32
	Handlers        [32]uintptr
	SigCtx          SigFrame
	IsRunningSignal bool

	// Terminal/session state for the PTY line discipline's VINTR/VQUIT/
	// VSUSP signal-to-foreground-group path and the TIOCSCTTY/TIOCGSID/
	// TCGETPGRP/TCSETPGRP ioctls (spec.md §4.11).
	Terminal any // holds *tty.Tty_t; typed any to avoid an import cycle
	Sid      defs.Tid_t
	Pgid     defs.Tid_t

	// Accnt is the task's rusage-style CPU time accounting (SPEC_FULL.md
	// §4's resource accounting, grounded on accnt.Accnt_t): sysent.Dispatch
	// brackets every syscall with Systadd, and proc_list reports both
	// counters back to userspace.
	Accnt *accnt.Accnt_t

	entry func(arg any)
	arg   any
}

// SigFrame is the register frame saved across a signal handler
// invocation and restored bit-for-bit by sigreturn (spec.md §4.13,
// testable scenario 3). Eip/Eflags/Esp stand in for the hardware IRET
// frame this hosted kernel has no real one of.
type SigFrame struct {
	Eip    uintptr
	Eflags uintptr
	Esp    uintptr
	Valid  bool
}

// RaisePending sets signo's bit in the pending mask (spec.md §4.13:
// "Signals to currently-running foreign tasks are deferred by setting the
// pending bit and returning").
func (t *Task_t) RaisePending(signo uint) {
	t.sigmu.Lock()
	t.PendingSignals |= 1 << signo
	t.sigmu.Unlock()
}

// SetHandler installs handler as signo's entry point; 0 restores the
// default action.
func (t *Task_t) SetHandler(signo uint, handler uintptr) {
	t.sigmu.Lock()
	t.Handlers[signo] = handler
	t.sigmu.Unlock()
}

// TakePending clears and returns the lowest-numbered pending signal and
// its installed handler, or ok=false if none is pending — "pick lowest
// set pending bit" from spec.md §4.13.
func (t *Task_t) TakePending() (signo uint, handler uintptr, ok bool) {
	t.sigmu.Lock()
	defer t.sigmu.Unlock()
	if t.PendingSignals == 0 || t.IsRunningSignal {
		return 0, 0, false
	}
	for i := uint(0); i < 32; i++ {
		if t.PendingSignals&(1<<i) != 0 {
			t.PendingSignals &^= 1 << i
			return i, t.Handlers[i], true
		}
	}
	return 0, 0, false
}

// MarkWaiting and MarkRunnable implement ksync.Waitable, so any blocking
// primitive (Sem_t.Down, RWLock_t.Lock, pipe/ipc reads and writes) can
// take a task directly as its Waitable argument instead of every call
// site inventing its own stand-in (proc.Wait's noopWaitable is the one
// place that still does, since it isn't waiting on behalf of a task that
// itself needs to be marked blocked).
func (t *Task_t) MarkWaiting()  { t.setState(WAITING) }
func (t *Task_t) MarkRunnable() { t.setState(RUNNING) }

func (t *Task_t) State() State_t {
	t.statemu.Lock()
	defer t.statemu.Unlock()
	return t.state
}

func (t *Task_t) setState(s State_t) {
	t.statemu.Lock()
	t.state = s
	t.statemu.Unlock()
}

// pidBuckets sizes the PID table's bucket array. hashtable.Hashtable_t's
// buckets each carry their own RWMutex, so this is also the PID table's
// lock-striping factor.
const pidBuckets = 256

// Table_t is the global PID table: a fixed-bucket hash map with
// per-bucket locks, spec.md §3's "PID uniqueness is enforced by a
// fixed-bucket hash with per-bucket locks" — grounded on, and backed by,
// hashtable.Hashtable_t.
type Table_t struct {
	tasks    *hashtable.Hashtable_t // int(defs.Tid_t) -> *Task_t
	zombieMu sync.Mutex
	zombies  []*Task_t
}

var Tasks = &Table_t{tasks: hashtable.MkHash(pidBuckets)}

// Get looks up a task by pid.
func (tb *Table_t) Get(pid defs.Tid_t) (*Task_t, bool) {
	v, ok := tb.tasks.Get(int(pid))
	if !ok {
		return nil, false
	}
	return v.(*Task_t), true
}

func (tb *Table_t) insert(t *Task_t) {
	tb.tasks.Set(int(t.Pid), t)
}

// remove is a no-op if pid is already gone, matching sync.Map.Delete's
// idempotence — Hashtable_t.Del itself panics on a missing key, which
// Reap's own Get-then-remove sequencing should never trigger, but a
// guard here keeps remove safe to call on its own too.
func (tb *Table_t) remove(pid defs.Tid_t) {
	if _, ok := tb.tasks.Get(int(pid)); !ok {
		return
	}
	tb.tasks.Del(int(pid))
}

// ForEach calls f once for every task in the table, live or zombie — the
// enumeration proc_list (#61) walks to build its snapshot.
func (tb *Table_t) ForEach(f func(*Task_t)) {
	// Hashtable_t.Iter's visitor returns true to stop iteration early;
	// this walk never wants that, unlike sync.Map.Range where true meant
	// "keep going" — the inverted convention this replaces.
	tb.tasks.Iter(func(_, v any) bool {
		f(v.(*Task_t))
		return false
	})
}

// ForEachInPgid calls f once for every live task whose Pgid matches pgid,
// the lookup the PTY line discipline needs to deliver VINTR/VQUIT/VSUSP
// to an entire foreground process group (spec.md §4.11).
func (tb *Table_t) ForEachInPgid(pgid defs.Tid_t, f func(*Task_t)) {
	tb.tasks.Iter(func(_, v any) bool {
		t := v.(*Task_t)
		if t.Pgid == pgid {
			f(t)
		}
		return false
	})
}

// CreateKthread allocates a kernel task (spec.md §4.6 create_kthread):
// no user address space, runs entry(arg) on its own goroutine standing in
// for "the first context switch returns into a trampoline."
func CreateKthread(name string, prio sched.Prio, entry func(arg any), arg any) *Task_t {
	t := &Task_t{
		Pid:   allocpid(),
		Name:  name,
		Prio:  prio,
		Note:  &tinfo.Tnote_t{Alive: true},
		Accnt: &accnt.Accnt_t{},
		entry: entry,
		arg:   arg,
	}
	t.setState(RUNNABLE)
	Tasks.insert(t)
	return t
}

// CreateUserTask allocates the skeleton of a spawn_elf'd process (spec.md
// §4.6, grounded on proc_spawn_elf's task_t setup): a fresh address space
// for elfloader.Load to populate, the caller-supplied fd table and
// working directory, and parent/terminal/session inheritance when parent
// is non-nil (proc_spawn_elf: "if there is a current process, inherit its
// cwd, parent_pid, terminal, term_mode"). entry is run as the task's
// trampoline goroutine exactly as CreateKthread's is; a spawned user
// task has no real instruction stream for this hosted kernel to execute,
// so callers pass a trampoline that simply waits to be killed.
func CreateUserTask(name string, cwd *fd.Cwd_t, fds *FdTable_t, parent *Task_t, entry func(arg any), arg any) *Task_t {
	t := &Task_t{
		Pid:     allocpid(),
		Name:    name,
		Prio:    sched.PrioUser,
		Note:    &tinfo.Tnote_t{Alive: true},
		Mem:     MkProcMem(),
		Fds:     fds,
		Cwd:     cwd,
		ExitSem: ksync.NewSem(0),
		Accnt:   &accnt.Accnt_t{},
		entry:   entry,
		arg:     arg,
	}
	if parent != nil {
		t.ParentPid = parent.Pid
		t.Terminal = parent.Terminal
		t.Sid = parent.Sid
		t.Pgid = parent.Pgid
	}
	t.setState(RUNNABLE)
	Tasks.insert(t)
	if parent != nil {
		parent.childrenMu.Lock()
		parent.Children = append(parent.Children, t.Pid)
		parent.childrenMu.Unlock()
	}
	return t
}

// Start launches a kernel task's trampoline goroutine; kept distinct from
// CreateKthread so the scheduler's run-queue insertion and the task's
// actual start can be sequenced by the caller (smp/sched wiring).
func (t *Task_t) Start() {
	t.setState(RUNNING)
	go func() {
		t.entry(t.arg)
		t.setState(ZOMBIE)
		t.reapSelf()
	}()
}

// Fork creates a new task sharing (Ref) or cloning this task's mem and fd
// table per the shared/cloned flags, spec.md §4.6 clone_thread/fork.
func (t *Task_t) Fork(shareMem, shareFds bool, entry func(arg any), arg any) (*Task_t, defs.Err_t) {
	nt := &Task_t{
		Pid:       allocpid(),
		Name:      t.Name,
		Prio:      t.Prio,
		Note:      &tinfo.Tnote_t{Alive: true},
		ParentPid: t.Pid,
		Cwd:       t.Cwd,
		Accnt:     &accnt.Accnt_t{},
		entry:     entry,
		arg:       arg,
	}
	if shareMem {
		t.Mem.Ref()
		nt.Mem = t.Mem
	} else {
		nt.Mem = MkProcMem()
	}
	if shareFds {
		t.Fds.Ref()
		nt.Fds = t.Fds
	} else {
		clone, err := t.Fds.Clone()
		if err != 0 {
			return nil, err
		}
		nt.Fds = clone
	}
	nt.ExitSem = ksync.NewSem(0)
	nt.setState(RUNNABLE)
	Tasks.insert(nt)

	t.childrenMu.Lock()
	t.Children = append(t.Children, nt.Pid)
	t.childrenMu.Unlock()
	return nt, 0
}

// Kill marks t ZOMBIE, detaches its children, and wakes every exit_sem
// waiter (spec.md §4.6 kill). free_resources itself is deferred to Reap,
// run from a reaper goroutine so a task's own exit path never blocks on
// whether some other thread has already observed its death.
func (t *Task_t) Kill(status int) {
	t.setState(ZOMBIE)
	t.ExitStatus = status
	if t.Note != nil {
		t.Note.Lock()
		t.Note.Alive = false
		t.Note.Unlock()
	}

	t.childrenMu.Lock()
	children := t.Children
	t.Children = nil
	t.childrenMu.Unlock()
	for _, cpid := range children {
		if c, ok := Tasks.Get(cpid); ok {
			c.ParentPid = 1 // reparent to the reaper/init pid
		}
	}

	if t.ExitSem != nil {
		t.ExitSem.Close()
	}

	Tasks.zombieMu.Lock()
	Tasks.zombies = append(Tasks.zombies, t)
	Tasks.zombieMu.Unlock()
}

func (t *Task_t) reapSelf() {
	t.Kill(0)
}

// Wait blocks until the child identified by pid (or any child, if pid
// is <= 0) becomes ZOMBIE, then reaps it and returns its exit status.
func (t *Task_t) Wait(pid defs.Tid_t) (defs.Tid_t, int, defs.Err_t) {
	for {
		t.childrenMu.Lock()
		var target *Task_t
		for _, cpid := range t.Children {
			if pid > 0 && cpid != pid {
				continue
			}
			if c, ok := Tasks.Get(cpid); ok && c.State() == ZOMBIE {
				target = c
				break
			}
		}
		t.childrenMu.Unlock()
		if target != nil {
			Reap(target.Pid)
			return target.Pid, target.ExitStatus, 0
		}
		t.childrenMu.Lock()
		if len(t.Children) == 0 {
			t.childrenMu.Unlock()
			return 0, 0, -defs.ECHILD
		}
		sem := firstChildExitSem(t)
		t.childrenMu.Unlock()
		if sem != nil {
			sem.Down(noopWaitable{})
		}
	}
}

func firstChildExitSem(t *Task_t) *ksync.Sem_t {
	for _, cpid := range t.Children {
		if c, ok := Tasks.Get(cpid); ok {
			return c.ExitSem
		}
	}
	return nil
}

type noopWaitable struct{}

func (noopWaitable) MarkWaiting()  {}
func (noopWaitable) MarkRunnable() {}

// Reap frees every resource a ZOMBIE task owns (spec.md §4.6's reaper
// thread): its mem (Unref), fd table (Unref), and removes it from the PID
// map. It is the kernel-resident reaper's sweep step, callable directly
// here because this hosted build has no "currently running on any CPU"
// ambiguity to wait out — a ZOMBIE goroutine has already returned.
func Reap(pid defs.Tid_t) {
	t, ok := Tasks.Get(pid)
	if !ok {
		return
	}
	if t.Mem != nil {
		t.Mem.Unref()
	}
	if t.Fds != nil {
		t.Fds.Unref()
	}
	Tasks.remove(pid)

	Tasks.zombieMu.Lock()
	for i, z := range Tasks.zombies {
		if z.Pid == pid {
			Tasks.zombies = append(Tasks.zombies[:i], Tasks.zombies[i+1:]...)
			break
		}
	}
	Tasks.zombieMu.Unlock()
}
