// Package signal is the delivery half of spec.md §4.13: Send raises a
// task's pending bit (it does not wake a parked task; that is left to
// the caller); Deliver runs at the end of
// every kernel exit that returns to user mode and either invokes an
// installed handler or applies the default action; Sigreturn undoes
// exactly what Deliver did.
package signal

import (
	"defs"
	"proc"
)

// defaultIgnore is the set of signals whose default action (no handler
// installed) is to be ignored: SIGCHLD and SIGCONT. Every signal not
// listed here, SIGSEGV/SIGILL/SIGTERM included, kills the task by
// default (spec.md §4.13).
var defaultIgnore = map[uint]bool{
	defs.SIGCHLD: true,
	defs.SIGCONT: true,
}

// Send raises signo as pending on t. If t is blocked waiting for its
// child's exit status or another interruptible sleep, the caller is
// responsible for waking it (proc_wake, spec.md §5 "Cancellation");
// Send only sets the bit, exactly as spec.md's "deferred" delivery model
// requires — the target samples it at its own next kernel exit.
func Send(t *proc.Task_t, signo uint) {
	if signo >= 32 {
		panic("signal: bad signal number")
	}
	t.RaisePending(signo)
}

// Deliver runs at the end of a kernel exit back to user mode for t
// (spec.md §4.13). It picks the lowest pending signal; if a handler is
// installed it saves the outgoing frame, rewrites eip/esp to point at the
// handler with a synthetic two-slot argument frame [signo, 0] pushed onto
// the user stack, and marks IsRunningSignal. If no handler is installed,
// it applies the default action. outEip/outEsp are the register values
// the caller should resume with instead of the ones it was about to use.
func Deliver(t *proc.Task_t, curEip, curEflags, curEsp uintptr, pushFrame func(esp uintptr, signo uint) uintptr) (newEip, newEsp uintptr, delivered bool) {
	signo, handler, ok := t.TakePending()
	if !ok {
		return curEip, curEsp, false
	}
	if handler == 0 {
		if !defaultIgnore[signo] {
			t.Kill(int(signo) | 0x80)
		}
		return curEip, curEsp, false
	}
	t.SigCtx = proc.SigFrame{Eip: curEip, Eflags: curEflags, Esp: curEsp, Valid: true}
	t.IsRunningSignal = true
	newEsp = pushFrame(curEsp, signo)
	return handler, newEsp, true
}

// Sigreturn restores the register frame Deliver saved, bit-for-bit
// (spec.md testable scenario 3), clearing IsRunningSignal so a new signal
// may be delivered.
func Sigreturn(t *proc.Task_t) (eip, eflags, esp uintptr, err defs.Err_t) {
	if !t.SigCtx.Valid {
		return 0, 0, 0, -defs.EINVAL
	}
	f := t.SigCtx
	t.SigCtx = proc.SigFrame{}
	t.IsRunningSignal = false
	return f.Eip, f.Eflags, f.Esp, 0
}

// Kill implements the kill syscall's signal half: validate the target
// exists and deliver. spec.md's syscall #9 kill(pid) takes only a pid,
// so the sysent dispatcher always passes SIGTERM as signo.
func Kill(pid defs.Tid_t, signo uint) defs.Err_t {
	t, ok := proc.Tasks.Get(pid)
	if !ok {
		return -defs.ESRCH
	}
	if t.State() == proc.ZOMBIE {
		return -defs.ESRCH
	}
	Send(t, signo)
	return 0
}
