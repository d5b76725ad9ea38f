package sysent

import (
	"sync"

	"console"
	"defs"
	"fb"
	"fd"
	"ipc"
	"mem"
	"pipe"
	"proc"
)

// sysClipSet/sysClipGet implement clip_set/clip_get (#25/#26) straight
// over the system-wide console.Clip, wrapping the user range in a
// Userbuf_t the same as every other Userio_i-shaped syscall here.
func sysClipSet(t *proc.Task_t, uva uintptr, length int) (int, defs.Err_t) {
	ub, err := userbuf(t, uva, length)
	if err != 0 {
		return 0, err
	}
	return console.Clip.Set(ub)
}

func sysClipGet(t *proc.Task_t, uva uintptr, length int) (int, defs.Err_t) {
	ub, err := userbuf(t, uva, length)
	if err != 0 {
		return 0, err
	}
	return console.Clip.Get(ub)
}

func sysSetTermMode(mode int32) defs.Err_t {
	console.TermMode.Set(mode)
	return 0
}

func sysSetConsoleColor(fg, bg uint32) defs.Err_t {
	console.Colors.Set(fg, bg)
	return 0
}

// readUserName reads a NUL-terminated name argument up to maxlen bytes,
// the same shape shm's named-object syscalls and ipc's listen/connect
// both need.
func readUserName(t *proc.Task_t, uva uintptr, maxlen int) (string, defs.Err_t) {
	s, err := t.Mem.Vm.Userstr(int(uva), maxlen)
	if err != 0 {
		return "", err
	}
	return s.String(), 0
}

// sysPipe implements pipe(2): build a fresh pipe.Pair and install its two
// ends as fd_table entries, writing [readfd, writefd] as two little-
// endian uint32s to uva — spec.md gives pipe(2) a single out-pointer
// argument, not two, so this nucleus packs both descriptors into one
// 8-byte struct rather than inventing a second syscall argument slot.
func sysPipe(t *proc.Task_t, uva uintptr) defs.Err_t {
	pr, err := pipe.NewPair(mem.Physmem)
	if err != 0 {
		return err
	}
	rf := &pipe.File_t{Node: pr.Read, Pipe: pr.Pipe, W: t}
	wf := &pipe.File_t{Node: pr.Write, Pipe: pr.Pipe, W: t}
	rn, err := t.Fds.Add(&fd.Fd_t{Fops: rf, Perms: fd.FD_READ})
	if err != 0 {
		return err
	}
	wn, err := t.Fds.Add(&fd.Fd_t{Fops: wf, Perms: fd.FD_WRITE})
	if err != 0 {
		t.Fds.Close(rn)
		return err
	}
	buf := make([]uint8, 8)
	le32put(buf[0:4], uint32(rn))
	le32put(buf[4:8], uint32(wn))
	return t.Mem.Vm.K2user(buf, int(uva))
}

func sysPipeTryRead(t *proc.Task_t, fdn int, uva uintptr, length int) (int, defs.Err_t) {
	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0, -defs.EBADF
	}
	pf, ok := f.Fops.(*pipe.File_t)
	if !ok {
		return 0, -defs.EINVAL
	}
	ub, err := userbuf(t, uva, length)
	if err != 0 {
		return 0, err
	}
	return pf.Pipe.TryRead(ub)
}

func sysPipeTryWrite(t *proc.Task_t, fdn int, uva uintptr, length int) (int, defs.Err_t) {
	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0, -defs.EBADF
	}
	pf, ok := f.Fops.(*pipe.File_t)
	if !ok {
		return 0, -defs.EINVAL
	}
	ub, err := userbuf(t, uva, length)
	if err != 0 {
		return 0, err
	}
	return pf.Pipe.TryWrite(ub)
}

// kbdTryReadMax bounds kbd_try_read's copy since the syscall has only one
// pointer argument to work with (spec.md's EAX table gives it a single
// EBX operand) — this nucleus reads at most this many queued bytes per
// call rather than taking a caller-supplied length.
const kbdTryReadMax = 256

func sysKbdTryRead(t *proc.Task_t, uva uintptr) (int, defs.Err_t) {
	buf := make([]byte, kbdTryReadMax)
	n, err := console.TryRead(buf)
	if err != 0 || n == 0 {
		return 0, err
	}
	if err := checkUserRange(uva, n); err != 0 {
		return 0, err
	}
	if err := t.Mem.Vm.K2user(buf[:n], int(uva)); err != 0 {
		return 0, err
	}
	return n, 0
}

// listeners maps the small integer handle ipc_listen hands back to its
// ipc.Listener_t — a listener is not a file descriptor, so it does not
// live in fd_table the way every other kernel object in this package
// does.
var (
	listenMu   sync.Mutex
	listeners  = map[int]*ipc.Listener_t{}
	listenNext int
)

func registerListener(l *ipc.Listener_t) int {
	listenMu.Lock()
	defer listenMu.Unlock()
	listenNext++
	listeners[listenNext] = l
	return listenNext
}

func getListener(id int) (*ipc.Listener_t, bool) {
	listenMu.Lock()
	defer listenMu.Unlock()
	l, ok := listeners[id]
	return l, ok
}

func sysIpcListen(t *proc.Task_t, nameUva uintptr, backlog uintptr) (int, defs.Err_t) {
	name, err := readUserName(t, nameUva, 64)
	if err != 0 {
		return 0, err
	}
	l, err := ipc.Listen(name)
	if err != 0 {
		return 0, err
	}
	return registerListener(l), 0
}

// installChannel wraps a connected channel's two pipe-backed vfs nodes
// into fd_table entries, the same fdops.Fdops_i shape pipe(2)'s ends get.
func installChannel(t *proc.Task_t, ch *ipc.Channel_t) (int, int, defs.Err_t) {
	rf := &pipe.File_t{Node: ch.Reader, Pipe: ch.Reader.Private.(*pipe.Pipe_t), W: t}
	wf := &pipe.File_t{Node: ch.Writer, Pipe: ch.Writer.Private.(*pipe.Pipe_t), W: t}
	rn, err := t.Fds.Add(&fd.Fd_t{Fops: rf, Perms: fd.FD_READ})
	if err != 0 {
		return 0, 0, err
	}
	wn, err := t.Fds.Add(&fd.Fd_t{Fops: wf, Perms: fd.FD_WRITE})
	if err != 0 {
		t.Fds.Close(rn)
		return 0, 0, err
	}
	return rn, wn, 0
}

// sysIpcAccept implements ipc_accept(listener, out): out receives
// [readfd, writefd] the same way sysPipe packs its pair.
func sysIpcAccept(t *proc.Task_t, listenerId int, outUva uintptr) (bool, defs.Err_t) {
	l, ok := getListener(listenerId)
	if !ok {
		return false, -defs.EBADF
	}
	ch, err := ipc.Accept(l, mem.Physmem, t)
	if err != 0 {
		return false, err
	}
	rn, wn, err := installChannel(t, ch)
	if err != 0 {
		return false, err
	}
	buf := make([]uint8, 8)
	le32put(buf[0:4], uint32(rn))
	le32put(buf[4:8], uint32(wn))
	if err := t.Mem.Vm.K2user(buf, int(outUva)); err != 0 {
		return false, err
	}
	return true, 0
}

func sysIpcConnect(t *proc.Task_t, nameUva, outUva uintptr) defs.Err_t {
	name, err := readUserName(t, nameUva, 64)
	if err != 0 {
		return err
	}
	ch, err := ipc.Connect(name, t)
	if err != 0 {
		return err
	}
	rn, wn, err := installChannel(t, ch)
	if err != 0 {
		return err
	}
	buf := make([]uint8, 8)
	le32put(buf[0:4], uint32(rn))
	le32put(buf[4:8], uint32(wn))
	return t.Mem.Vm.K2user(buf, int(outUva))
}

func sysFbMap(t *proc.Task_t) int {
	if err := fb.Map(t.Pid, t.Mem.Vm.Pmap); err != 0 {
		return 0
	}
	return fb.UserBase
}

func sysFbAcquire(t *proc.Task_t) bool {
	return fb.Acquire(t.Pid)
}

func sysFbRelease(t *proc.Task_t) defs.Err_t {
	return fb.Release(t.Pid)
}

// sysFbPresent reads a caller-built present request from uva: the source
// buffer pointer, its stride, a rectangle count, and that many {x,y,w,h}
// int32 rectangles — invented since spec.md's fb_present row gives
// fb_present three logical arguments (src, stride, rects) but the
// syscall ABI here carries only one pointer-sized operand per call.
func sysFbPresent(t *proc.Task_t, uva uintptr) defs.Err_t {
	hdr := make([]uint8, 12)
	if err := t.Mem.Vm.User2k(hdr, int(uva)); err != 0 {
		return err
	}
	srcUva := le32get(hdr[0:4])
	stride := int(le32get(hdr[4:8]))
	count := int(le32get(hdr[8:12]))
	if count < 0 || count > 256 {
		return -defs.EINVAL
	}
	rectBuf := make([]uint8, count*16)
	if count > 0 {
		if err := t.Mem.Vm.User2k(rectBuf, int(uva)+12); err != 0 {
			return err
		}
	}
	rects := make([]fb.Rect_t, count)
	maxRow := 0
	for i := 0; i < count; i++ {
		off := i * 16
		x := int(int32(le32get(rectBuf[off : off+4])))
		y := int(int32(le32get(rectBuf[off+4 : off+8])))
		w := int(int32(le32get(rectBuf[off+8 : off+12])))
		h := int(int32(le32get(rectBuf[off+12 : off+16])))
		rects[i] = fb.Rect_t{X: x, Y: y, W: w, H: h}
		if y+h > maxRow {
			maxRow = y + h
		}
	}
	size := stride * maxRow
	if size <= 0 {
		return 0
	}
	src := make([]uint8, size)
	if err := t.Mem.Vm.User2k(src, int(srcUva)); err != 0 {
		return err
	}
	return fb.Present(t.Mem.Vm.Pmap, src, stride, rects)
}

func le32get(b []uint8) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
