package sysent

import (
	"defs"
	"fdops"
	"pipe"
	"proc"
)

// Poll event bits, invented since spec.md's poll row gives only a bare
// "pollfd array" with no layout — this nucleus's own {fd int32, events
// int16, revents int16} 8-byte record, mirroring struct pollfd's shape
// closely enough that a libc built against it would need no surprises.
const (
	pollfdSize = 8
	POLLIN     = 1 << 0
	POLLOUT    = 1 << 1
	POLLNVAL   = 1 << 2
)

func le16get(b []uint8) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le16put(b []uint8, v uint16) {
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
}

// sysPoll implements poll(2) without blocking: every descriptor is
// checked once and the updated revents fields are written back, and the
// call returns immediately regardless of timeoutMs — this nucleus has no
// generic multi-fd wait queue to block a syscall handler on (only pipes
// and IPC channels have one), so polling for readiness across an
// arbitrary fd set is leveled down to an instantaneous snapshot, matching
// the spec's own return convention of "ready count, 0, or -2 on error".
func sysPoll(t *proc.Task_t, uva uintptr, nfds int, timeoutMs int) int {
	if nfds < 0 || nfds > 1024 {
		return -2
	}
	if nfds == 0 {
		return 0
	}
	buf := make([]uint8, nfds*pollfdSize)
	if err := t.Mem.Vm.User2k(buf, int(uva)); err != 0 {
		return -2
	}
	ready := 0
	for i := 0; i < nfds; i++ {
		off := i * pollfdSize
		fdn := int(int32(le32get(buf[off : off+4])))
		events := le16get(buf[off+4 : off+6])
		var revents uint16

		f, ok := t.Fds.Get(fdn)
		switch {
		case !ok:
			revents = POLLNVAL
		default:
			revents = pollReady(f.Fops, events)
		}
		if revents != 0 {
			ready++
		}
		le16put(buf[off+6:off+8], revents)
	}
	if err := t.Mem.Vm.K2user(buf, int(uva)); err != 0 {
		return -2
	}
	return ready
}

// pollReady checks readiness for one descriptor. Pipes/IPC channels have
// real non-blocking readiness probes (Pipe_t.PollRead/PollWrite); every
// other backend (on-disk files, devices, shm) is always ready for
// whichever of read/write the caller asked about, since none of them can
// actually block this kernel's syscall handlers the way a pipe can.
func pollReady(fops fdops.Fdops_i, events uint16) uint16 {
	pf, isPipe := fops.(*pipe.File_t)
	var revents uint16
	if events&POLLIN != 0 {
		if isPipe {
			if rok, _ := pf.Pipe.PollRead(); rok {
				revents |= POLLIN
			}
		} else {
			revents |= POLLIN
		}
	}
	if events&POLLOUT != 0 {
		if isPipe {
			if wok, _ := pf.Pipe.PollWrite(); wok {
				revents |= POLLOUT
			}
		} else {
			revents |= POLLOUT
		}
	}
	return revents
}

func sysIoctl(t *proc.Task_t, fdn int, req uint, arg uintptr) (int, defs.Err_t) {
	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0, -defs.EBADF
	}
	ic, ok := f.Fops.(fdops.Ioctler_i)
	if !ok {
		return 0, -defs.ENOTTY
	}
	v, err := ic.Ioctl(req, arg)
	return int(v), err
}
