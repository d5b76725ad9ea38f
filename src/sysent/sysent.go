// Package sysent is the syscall dispatch vector of spec.md §4.15: one
// function per EAX number (0..61), each validating its user pointers
// before touching them and returning the EAX result convention —
// (u32)-1 on any failure, the literal value on success. It is the one
// package that imports nearly everything below it (proc, vfs, pipe,
// tty, ipc, fb, futex, signal, elfloader, console) since dispatch is
// where every subsystem meets the calling task.
package sysent

import (
	"context"
	"fmt"
	"os"
	"time"

	"console"
	"defs"
	"mem"
	"proc"
	"signal"
	"smp"
	"vm"
)

// Syscall numbers, spec.md §6's EAX table.
const (
	SYS_EXIT      = 0
	SYS_PRINT     = 1
	SYS_GETPID    = 2
	SYS_OPEN      = 3
	SYS_READ      = 4
	SYS_WRITE     = 5
	SYS_CLOSE     = 6
	SYS_SLEEP     = 7
	SYS_SBRK      = 8
	SYS_KILL      = 9
	SYS_USLEEP        = 11
	SYS_MEMINFO       = 12
	SYS_MKDIR         = 13
	SYS_UNLINK        = 14
	SYS_TIME          = 15
	SYS_REBOOT        = 16
	SYS_SIGNAL        = 17
	SYS_SIGRETURN     = 18
	SYS_CLONE         = 20
	SYS_CLIP_SET      = 25
	SYS_CLIP_GET      = 26
	SYS_SET_TERM_MODE = 27
	SYS_SET_CONSOLE_COLOR = 28
	SYS_PIPE              = 29
	SYS_DUP2              = 30
	SYS_MMAP              = 31
	SYS_MUNMAP            = 32
	SYS_STAT              = 33
	SYS_FSINFO            = 34
	SYS_RENAME            = 35
	SYS_SPAWN             = 36
	SYS_WAITPID           = 37
	SYS_GETDENTS          = 38
	SYS_FSTATAT           = 39
	SYS_FB_MAP            = 40
	SYS_FB_ACQUIRE        = 41
	SYS_FB_RELEASE        = 42
	SYS_SHM_CREATE        = 43
	SYS_PIPE_TRY_READ     = 44
	SYS_PIPE_TRY_WRITE    = 45
	SYS_KBD_TRY_READ      = 46
	SYS_IPC_LISTEN        = 47
	SYS_IPC_ACCEPT        = 48
	SYS_IPC_CONNECT       = 49
	SYS_FB_PRESENT        = 50
	SYS_SHM_CREATE_NAMED  = 51
	SYS_SHM_OPEN_NAMED    = 52
	SYS_SHM_UNLINK_NAMED  = 53
	SYS_FUTEX_WAIT        = 54
	SYS_FUTEX_WAKE        = 55
	SYS_POLL              = 56
	SYS_IOCTL             = 57
	SYS_CHDIR             = 58
	SYS_GETCWD            = 59
	SYS_UPTIME_MS         = 60
	SYS_PROC_LIST         = 61
)

// failEAX is the (u32)-1 generic-failure return of spec.md §4.15.
const failEAX = ^uint32(0)

// bootTime anchors uptime_ms; set once when this package is initialized.
var bootTime = time.Now()

// Dispatch runs the handler for sysno on behalf of t with the three
// register-width arguments EBX/ECX/EDX carry, and returns the raw EAX
// value the trap-return path installs. Per spec.md §4.15, interrupts are
// enabled before the handler runs — this hosted kernel has no interrupt
// mask to flip, so t.CPU.Sti() is the closest analogue and is a no-op
// when t has no CPU assigned yet (a task dispatching before its first
// context switch).
func Dispatch(t *proc.Task_t, sysno uint32, a1, a2, a3 uintptr) uint32 {
	if t.CPU != nil {
		t.CPU.Sti()
	}
	start := time.Now()
	if t.Accnt != nil {
		defer func() {
			t.Accnt.Systadd(int(time.Since(start)))
		}()
	}
	switch sysno {
	case SYS_EXIT:
		sysExit(t, int(a1))
		return 0 // never observed: exit does not return
	case SYS_PRINT:
		return ret(sysPrint(t, a1))
	case SYS_GETPID:
		return uint32(t.Pid)
	case SYS_OPEN:
		return ret(sysOpen(t, a1, int(a2)))
	case SYS_READ:
		return ret(sysRead(t, int(a1), a2, int(a3)))
	case SYS_WRITE:
		return ret(sysWrite(t, int(a1), a2, int(a3)))
	case SYS_CLOSE:
		return ret0(sysClose(t, int(a1)))
	case SYS_SLEEP:
		time.Sleep(time.Duration(a1) * time.Millisecond)
		return 0
	case SYS_SBRK:
		return ret(sysSbrk(t, int(int32(a1))))
	case SYS_KILL:
		return ret0(signal.Kill(defs.Tid_t(a1), uint(defs.SIGTERM)))
	case SYS_USLEEP:
		time.Sleep(time.Duration(a1) * time.Microsecond)
		return 0
	case SYS_MEMINFO:
		return ret0(sysMeminfo(t, a1, a2))
	case SYS_MKDIR:
		return ret(sysMkdir(t, a1))
	case SYS_UNLINK:
		return ret0(sysUnlink(t, a1))
	case SYS_TIME:
		return ret0(sysTime(t, a1))
	case SYS_REBOOT:
		sysReboot()
		return 0 // never observed
	case SYS_SIGNAL:
		return ret0(sysSignal(t, uint(a1), a2))
	case SYS_SIGRETURN:
		sysSigreturn(t)
		return 0
	case SYS_CLONE:
		return ret(sysClone(t, a1, a2, a3))
	case SYS_CLIP_SET:
		return ret(sysClipSet(t, a1, int(a2)))
	case SYS_CLIP_GET:
		return ret(sysClipGet(t, a1, int(a2)))
	case SYS_SET_TERM_MODE:
		return ret0(sysSetTermMode(int32(a1)))
	case SYS_SET_CONSOLE_COLOR:
		return ret0(sysSetConsoleColor(uint32(a1), uint32(a2)))
	case SYS_PIPE:
		return ret0(sysPipe(t, a1))
	case SYS_DUP2:
		return ret(sysDup2(t, int(a1), int(a2)))
	case SYS_MMAP:
		return uint32(sysMmap(t, int(a1), int(a2), int(a3)))
	case SYS_MUNMAP:
		return ret0(sysMunmap(t, a1, int(a2)))
	case SYS_STAT:
		return ret0(sysStat(t, a1, a2))
	case SYS_FSINFO:
		return ret0(sysFsinfo(t, a1))
	case SYS_RENAME:
		return ret0(sysRename(t, a1, a2))
	case SYS_SPAWN:
		return ret(sysSpawn(t, a1, int(a2), a3))
	case SYS_WAITPID:
		return ret(sysWaitpid(t, defs.Tid_t(int32(a1)), a2))
	case SYS_GETDENTS:
		return ret(sysGetdents(t, int(a1), a2, int(a3)))
	case SYS_FSTATAT:
		return ret0(sysFstatat(t, int(a1), a2, a3))
	case SYS_FB_MAP:
		return uint32(sysFbMap(t))
	case SYS_FB_ACQUIRE:
		return boolEAX(sysFbAcquire(t))
	case SYS_FB_RELEASE:
		return boolEAX(sysFbRelease(t) == 0)
	case SYS_SHM_CREATE:
		return ret(sysShmCreate(t, int(a1)))
	case SYS_PIPE_TRY_READ:
		return ret(sysPipeTryRead(t, int(a1), a2, int(a3)))
	case SYS_PIPE_TRY_WRITE:
		return ret(sysPipeTryWrite(t, int(a1), a2, int(a3)))
	case SYS_KBD_TRY_READ:
		return ret(sysKbdTryRead(t, a1))
	case SYS_IPC_LISTEN:
		return ret(sysIpcListen(t, a1, a2))
	case SYS_IPC_ACCEPT:
		return boolEAX2(sysIpcAccept(t, int(a1), a2))
	case SYS_IPC_CONNECT:
		return ret0(sysIpcConnect(t, a1, a2))
	case SYS_FB_PRESENT:
		return ret0(sysFbPresent(t, a1))
	case SYS_SHM_CREATE_NAMED:
		return ret(sysShmCreateNamed(t, a1, int(a2)))
	case SYS_SHM_OPEN_NAMED:
		return ret(sysShmOpenNamed(t, a1))
	case SYS_SHM_UNLINK_NAMED:
		return ret0(sysShmUnlinkNamed(t, a1))
	case SYS_FUTEX_WAIT:
		return ret0(sysFutexWait(t, a1, uint32(a2)))
	case SYS_FUTEX_WAKE:
		return ret(sysFutexWake(t, a1, int(a2)))
	case SYS_POLL:
		return uint32(int32(sysPoll(t, a1, int(a2), int(a3))))
	case SYS_IOCTL:
		return ret(sysIoctl(t, int(a1), uint(a2), a3))
	case SYS_CHDIR:
		return ret0(sysChdir(t, a1))
	case SYS_GETCWD:
		return ret(sysGetcwd(t, a1, int(a2)))
	case SYS_UPTIME_MS:
		return uint32(time.Since(bootTime).Milliseconds())
	case SYS_PROC_LIST:
		return ret(sysProcList(t, a1, int(a2)))
	default:
		return failEAX
	}
}

// ret folds an (int, Err_t) handler result into the EAX convention.
func ret(v int, err defs.Err_t) uint32 {
	if err != 0 {
		return failEAX
	}
	return uint32(v)
}

// ret0 folds a bare Err_t result (the "0 or -1" handlers) into EAX.
func ret0(err defs.Err_t) uint32 {
	if err != 0 {
		return failEAX
	}
	return 0
}

func boolEAX(ok bool) uint32 {
	if ok {
		return 1
	}
	return 0
}

func boolEAX2(ok bool, err defs.Err_t) uint32 {
	if err != 0 || !ok {
		return failEAX
	}
	return 1
}

// usermin/userlim bound check_user_buffer's "[p, p+len) in [0x08000000,
// 0xC0000000)" range (spec.md §4.15); userlim matches fault.KernelHalf.
const (
	usermin uintptr = 0x08000000
	userlim uintptr = 0xC0000000
)

// checkUserRange implements check_user_buffer: p and p+len must both fall
// in the user half without overflowing. It does not walk page tables —
// presence and permission are enforced lazily by Userdmap8_inner on the
// first access a Userbuf_t/Userstr/Userreadn call makes, the same way
// every other user-memory accessor in this kernel already works.
func checkUserRange(p uintptr, length int) defs.Err_t {
	if length < 0 {
		return -defs.EINVAL
	}
	end := p + uintptr(length)
	if p < usermin || end > userlim || end < p {
		return -defs.EFAULT
	}
	return 0
}

// userbuf builds a Userbuf_t over [uva, uva+length) after checkUserRange
// passes, the fdops.Userio_i every Read/Write-shaped syscall hands to a
// backend.
func userbuf(t *proc.Task_t, uva uintptr, length int) (*vm.Userbuf_t, defs.Err_t) {
	if err := checkUserRange(uva, length); err != 0 {
		return nil, err
	}
	return t.Mem.Vm.Mkuserbuf(int(uva), length), 0
}

func sysExit(t *proc.Task_t, status int) {
	t.Kill(status)
}

// sysPrint implements print(2): a cstr write straight to the kernel's own
// stdout, bypassing fd_table entirely — the BIOS/VGA-console shape
// spec.md's EBX-is-a-cstr call gives it, distinct from the fd-based
// write(2) every /dev/console fd also reaches the same stdout through.
func sysPrint(t *proc.Task_t, uva uintptr) (int, defs.Err_t) {
	s, err := t.Mem.Vm.Userstr(int(uva), 4096)
	if err != 0 {
		return 0, err
	}
	fmt.Print(console.Normalize(s.String()))
	return len(s), 0
}

func sysReboot() {
	smp.HaltAll(context.Background())
	os.Exit(0)
}

func sysSbrk(t *proc.Task_t, incr int) (int, defs.Err_t) {
	old, err := t.Mem.GrowBreak(incr)
	return int(old), err
}

func sysMeminfo(t *proc.Task_t, usedUva, freeUva uintptr) defs.Err_t {
	free, total := mem.Physmem.Counts()
	used := total - free
	if err := t.Mem.Vm.Userwriten(int(usedUva), 4, used*mem.PGSIZE); err != 0 {
		return err
	}
	return t.Mem.Vm.Userwriten(int(freeUva), 4, free*mem.PGSIZE)
}

func sysTime(t *proc.Task_t, uva uintptr) defs.Err_t {
	now := time.Now().UTC()
	buf := []byte(now.Format("15:04:05"))
	ub, err := userbuf(t, uva, 9)
	if err != 0 {
		return err
	}
	out := make([]byte, 9)
	copy(out, buf)
	_, err = ub.Uiowrite(out)
	return err
}
