package sysent

import (
	"defs"
	"proc"
)

// procInfoSize is the wire layout this nucleus invents for proc_list
// (spec.md has no byte layout for it, since enumeration is a supplemented
// feature — SPEC_FULL.md §4): pid, ppid, prio, state as little-endian
// int32, a fixed 16-byte name field (NUL-padded/truncated), then the
// task's accnt.Accnt_t usage as two little-endian int64 nanosecond
// counters (user time, system time) — sysent.Dispatch's Systadd call is
// what keeps the system-time half non-zero.
const procInfoSize = 4*4 + 16 + 8*2

func putProcInfo(buf []uint8, t *proc.Task_t) {
	le32put(buf[0:4], uint32(int32(t.Pid)))
	le32put(buf[4:8], uint32(int32(t.ParentPid)))
	le32put(buf[8:12], uint32(int32(t.Prio)))
	le32put(buf[12:16], uint32(int32(t.State())))
	n := copy(buf[16:32], t.Name)
	for i := 16 + n; i < 32; i++ {
		buf[i] = 0
	}
	var userns, sysns int64
	if t.Accnt != nil {
		userns = t.Accnt.Userns
		sysns = t.Accnt.Sysns
	}
	le64put(buf[32:40], uint64(userns))
	le64put(buf[40:48], uint64(sysns))
}

// sysProcList fills uva with as many procInfoSize records as fit in size
// bytes and returns the count written (spec.md §5's bounded-allocation
// discipline applies here too: the snapshot is capped by the caller's own
// buffer, never grown on the kernel's behalf).
func sysProcList(t *proc.Task_t, uva uintptr, size int) (int, defs.Err_t) {
	if err := checkUserRange(uva, size); err != 0 {
		return 0, err
	}
	cap := size / procInfoSize
	buf := make([]uint8, 0, cap*procInfoSize)
	n := 0
	proc.Tasks.ForEach(func(pt *proc.Task_t) {
		if n >= cap {
			return
		}
		rec := make([]uint8, procInfoSize)
		putProcInfo(rec, pt)
		buf = append(buf, rec...)
		n++
	})
	if len(buf) > 0 {
		if err := t.Mem.Vm.K2user(buf, int(uva)); err != 0 {
			return 0, err
		}
	}
	return n, 0
}
