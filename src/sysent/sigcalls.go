package sysent

import (
	"defs"
	"proc"
	"signal"
)

// sysSignal implements signal(2): install handlerUva as signo's entry
// point, or restore the default action when handlerUva is 0 (proc.Task_t.
// SetHandler's contract).
func sysSignal(t *proc.Task_t, signo uint, handlerUva uintptr) defs.Err_t {
	if signo >= defs.NSIG {
		return -defs.EINVAL
	}
	t.SetHandler(signo, handlerUva)
	return 0
}

// sysSigreturn implements sigreturn(2): undo what Deliver did. This hosted
// kernel has no hardware IRET frame to rewrite — Sigreturn already mutated
// t.SigCtx/t.IsRunningSignal, the only state a simulated trap-return path
// reads, so the restored eip/eflags/esp values themselves have nowhere to
// go.
func sysSigreturn(t *proc.Task_t) {
	signal.Sigreturn(t)
}
