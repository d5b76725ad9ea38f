package tty

import (
	"sync"
	"sync/atomic"

	"golang.org/x/text/transform"
	"golang.org/x/text/width"

	"defs"
	"fdops"
	"ksync"
	"mem"
	"pipe"
	"proc"
	"signal"
	"vfs"
	"vm"
)

// ioctl request numbers. These are this kernel's own internal ABI (no
// external program depends on matching a particular OS's magic numbers),
// named after their Linux counterparts since that is the vocabulary
// spec.md §4.11 uses.
const (
	TIOCGPTN uint = iota + 1
	TCGETS
	TCSETS
	TIOCGWINSZ
	TIOCSWINSZ
	TIOCGSID
	TCGETPGRP
	TCSETPGRP
	TIOCSCTTY
)

var nextPtyNum int32

// Tty_t is a PTY pair: m2s carries master-write data to the slave's read
// side, s2m carries slave-write data to the master's read side, and ld is
// the line discipline interposed on both directions (spec.md §4.11 "two
// unidirectional channels with identical semantics to pipes").
type Tty_t struct {
	Num int

	m2s *pipe.Pipe_t
	s2m *pipe.Pipe_t
	ld  *lineDiscipline

	mu   sync.Mutex
	Sid  defs.Tid_t
	Pgid defs.Tid_t
}

// NewPTY allocates a fresh master/slave pair with the next available pts
// number. It registers nothing in devfs: no pts/<N> or ptmx entry is
// created.
func NewPTY(m mem.Page_i) (*Tty_t, defs.Err_t) {
	m2s, err := pipe.New(m)
	if err != 0 {
		return nil, err
	}
	s2m, err := pipe.New(m)
	if err != 0 {
		return nil, err
	}
	t := &Tty_t{Num: int(atomic.AddInt32(&nextPtyNum, 1) - 1), m2s: m2s, s2m: s2m}
	t.ld = newLineDiscipline(t.echoToMaster, t.signalForeground)
	return t, 0
}

// echoToMaster pushes b back to the master side the way a real terminal
// driver echoes typed input. b is folded through width.Fold first. The
// line discipline echoes one received byte per call, so a multi-byte
// character reaches Fold split into its single bytes.
func (t *Tty_t) echoToMaster(b []byte) {
	norm, _, err := transform.Bytes(width.Fold, b)
	if err != nil {
		norm = b
	}
	var fb vm.Fakeubuf_t
	fb.Fake_init(norm)
	t.s2m.Write(&fb, nil)
}

// signalForeground delivers signo to every task in the tty's foreground
// process group (spec.md §4.11's VINTR/VQUIT/VSUSP path).
func (t *Tty_t) signalForeground(signo uint) {
	t.mu.Lock()
	pgid := t.Pgid
	t.mu.Unlock()
	if pgid == 0 {
		return
	}
	proc.Tasks.ForEachInPgid(pgid, func(task *proc.Task_t) {
		signal.Send(task, signo)
	})
}

// NewMasterNode/NewSlaveNode wrap this pty's two ends into vfs nodes, the
// shape every other VFS backend presents. Neither node is registered in
// devfs.
func (t *Tty_t) NewMasterNode() *vfs.Node_t {
	return vfs.NewNode("ptmx", vfs.FPtyMaster, masterOps, t)
}

func (t *Tty_t) NewSlaveNode() *vfs.Node_t {
	return vfs.NewNode("pts", vfs.FPtySlave, slaveOps, t)
}

type ttyOps struct{ master bool }

var masterOps = &ttyOps{master: true}
var slaveOps = &ttyOps{master: false}

func (o *ttyOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL // callers go through MasterFile_t/SlaveFile_t
}

func (o *ttyOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	return 0, -defs.EINVAL, 0
}

func (o *ttyOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }

func (o *ttyOps) Close(n *vfs.Node_t) defs.Err_t { return 0 }

func (o *ttyOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

// MasterFile_t adapts a pty's master end into an fdops.Fdops_i: writes
// pass through the line discipline's input half, reads drain s2m.
type MasterFile_t struct {
	Node *vfs.Node_t
	Tty  *Tty_t
	W    ksync.Waitable
}

func NewMasterFile(t *Tty_t, w ksync.Waitable) *MasterFile_t {
	return &MasterFile_t{Node: t.NewMasterNode(), Tty: t, W: w}
}

func (f *MasterFile_t) Read(dst []uint8) (int, defs.Err_t) {
	var fb vm.Fakeubuf_t
	fb.Fake_init(dst)
	return f.Tty.s2m.Read(&fb, f.W)
}

func (f *MasterFile_t) Write(src []uint8) (int, defs.Err_t) {
	transformed := f.Tty.ld.receive(src)
	if len(transformed) > 0 {
		var fb vm.Fakeubuf_t
		fb.Fake_init(transformed)
		if _, err := f.Tty.m2s.Write(&fb, f.W); err != 0 {
			return 0, err
		}
	}
	return len(src), 0
}

func (f *MasterFile_t) Close() defs.Err_t {
	f.Tty.m2s.CloseWriter()
	f.Tty.s2m.CloseReader()
	return f.Node.Unref()
}

func (f *MasterFile_t) Reopen() defs.Err_t {
	f.Tty.m2s.AddWriter()
	f.Tty.s2m.AddReader()
	f.Node.Ref()
	return 0
}

func (f *MasterFile_t) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Mode = 1 << 13 // S_IFCHR-equivalent bit
	return 0
}

func (f *MasterFile_t) Mmapi(offset, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.ENODEV
}

func (f *MasterFile_t) Pread(dst []uint8, offset int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (f *MasterFile_t) Lseek(offset, whence int) (int, defs.Err_t)      { return 0, -defs.ESPIPE }

func (f *MasterFile_t) Ioctl(req uint, arg uintptr) (uintptr, defs.Err_t) {
	if req == TIOCGPTN {
		return uintptr(f.Tty.Num), 0
	}
	return 0, -defs.ENOTTY
}

var _ fdops.Fdops_i = (*MasterFile_t)(nil)
var _ fdops.Ioctler_i = (*MasterFile_t)(nil)

// SlaveFile_t adapts a pty's slave end into an fdops.Fdops_i: writes pass
// through the line discipline's output half, reads drain m2s.
type SlaveFile_t struct {
	Node *vfs.Node_t
	Tty  *Tty_t
	W    ksync.Waitable
}

func NewSlaveFile(t *Tty_t, w ksync.Waitable) *SlaveFile_t {
	return &SlaveFile_t{Node: t.NewSlaveNode(), Tty: t, W: w}
}

func (f *SlaveFile_t) Read(dst []uint8) (int, defs.Err_t) {
	var fb vm.Fakeubuf_t
	fb.Fake_init(dst)
	return f.Tty.m2s.Read(&fb, f.W)
}

func (f *SlaveFile_t) Write(src []uint8) (int, defs.Err_t) {
	transformed := f.Tty.ld.writeTransform(src)
	var fb vm.Fakeubuf_t
	fb.Fake_init(transformed)
	n, err := f.Tty.s2m.Write(&fb, f.W)
	if err != 0 {
		return n, err
	}
	return len(src), 0
}

func (f *SlaveFile_t) Close() defs.Err_t {
	f.Tty.m2s.CloseReader()
	f.Tty.s2m.CloseWriter()
	return f.Node.Unref()
}

func (f *SlaveFile_t) Reopen() defs.Err_t {
	f.Tty.m2s.AddReader()
	f.Tty.s2m.AddWriter()
	f.Node.Ref()
	return 0
}

func (f *SlaveFile_t) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Mode = 1 << 13
	return 0
}

func (f *SlaveFile_t) Mmapi(offset, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.ENODEV
}

func (f *SlaveFile_t) Pread(dst []uint8, offset int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (f *SlaveFile_t) Lseek(offset, whence int) (int, defs.Err_t)      { return 0, -defs.ESPIPE }

func (f *SlaveFile_t) Ioctl(req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

var _ fdops.Fdops_i = (*SlaveFile_t)(nil)
var _ fdops.Ioctler_i = (*SlaveFile_t)(nil)

// GetTermios/SetTermios/GetWinsize/SetWinsize are the typed halves of
// TCGETS/TCSETS/TIOCGWINSZ/TIOCSWINSZ: sysent validates and translates
// the user pointer, then calls these directly rather than marshaling
// through the uintptr-based Ioctl path, since "vfs_ioctl is a pure
// pass-through" (spec.md §4.10) puts the user-memory copy on the
// syscall dispatcher's side of the boundary, not this package's.
func (t *Tty_t) GetTermios() Termios_t        { return t.ld.getTermios() }
func (t *Tty_t) SetTermios(v Termios_t)       { t.ld.setTermios(v) }
func (t *Tty_t) GetWinsize() Winsize_t        { return t.ld.getWinsize() }
func (t *Tty_t) SetWinsize(v Winsize_t)       { t.ld.setWinsize(v) }

// SetCtty implements TIOCSCTTY: binds caller as this tty's session
// leader, provided caller has no controlling terminal yet and is a
// session leader itself (caller.Pid == caller.Sid, spec.md §4.11).
func (t *Tty_t) SetCtty(caller *proc.Task_t) defs.Err_t {
	if caller.Terminal != nil {
		return -defs.EPERM
	}
	if caller.Sid != caller.Pid {
		return -defs.EPERM
	}
	t.mu.Lock()
	t.Sid = caller.Pid
	t.Pgid = caller.Pid
	t.mu.Unlock()
	caller.Sid = caller.Pid
	caller.Pgid = caller.Pid
	caller.Terminal = t
	return 0
}

// GetSid returns the session id bound to this tty via TIOCSCTTY, for
// TIOCGSID.
func (t *Tty_t) GetSid() defs.Tid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Sid
}

// GetPgrp/SetPgrp implement TCGETPGRP/TCSETPGRP.
func (t *Tty_t) GetPgrp() defs.Tid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Pgid
}

func (t *Tty_t) SetPgrp(pgid defs.Tid_t) {
	t.mu.Lock()
	t.Pgid = pgid
	t.mu.Unlock()
}
