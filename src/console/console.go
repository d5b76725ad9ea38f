// Package console wires up the fixed devfs devices every task's default
// FD set and a handful of supplemented syscalls depend on: /dev/console
// and /dev/kbd (spec.md §4.6's "stdin=kbd stdout=stderr=console if none"),
// /dev/null, and the two devices SPEC_FULL.md §4 adds back from YulaOS,
// /dev/stat and /dev/prof, plus the clipboard and term-mode/console-color
// syscall state that has no devfs node of its own.
package console

import (
	"fmt"
	"sync"

	"golang.org/x/text/transform"
	"golang.org/x/text/width"

	"defs"
	"msi"
	"vfs"
)

// Normalize folds fullwidth/halfwidth Unicode forms a remote terminal
// might send through print(2)/write(2) to their narrow equivalents
// before they reach the host's own stdout (width.Fold, the same
// normalization a real VGA text console's fixed-width cell grid would
// force on anything wider than one column). Invalid UTF-8 passes
// through unchanged rather than failing the write. sysent.sysPrint uses
// this directly since print(2) bypasses devfs entirely.
func Normalize(s string) string {
	out, _, err := transform.String(width.Fold, s)
	if err != nil {
		return s
	}
	return out
}

// kbdVector/consoleVector are the MSI vectors this package holds for the
// lifetime of /dev/kbd and /dev/console — a real keyboard controller and
// a real display both raise their IRQ this way; a hosted kernel has
// nothing underneath to actually fire them, but Init/Shutdown still
// reserve and release real entries from msi's fixed vector pool, the
// same accounting a driver with an actual IRQ source would do.
var kbdVector, consoleVector msi.Msivec_t

// Init registers every fixed device this package owns under devfs. Called
// once at kernel bring-up, before any task's default FD set is built.
func Init() {
	kbdVector = msi.Msi_alloc()
	consoleVector = msi.Msi_alloc()
	vfs.DevRegister("console", vfs.NewNode("console", vfs.FDev, consoleOps{}, nil))
	vfs.DevRegister("null", vfs.NewNode("null", vfs.FDev, nullOps{}, nil))
	vfs.DevRegister("kbd", vfs.NewNode("kbd", vfs.FDev, kbdOps{}, nil))
	vfs.DevRegister("stat", vfs.NewNode("stat", vfs.FDev, statOps{}, nil))
	vfs.DevRegister("prof", vfs.NewNode("prof", vfs.FDev, profOps{}, nil))
}

// Shutdown releases the MSI vectors Init reserved. Called from
// kernel.Kernel_t.Shutdown's teardown path.
func Shutdown() {
	msi.Msi_free(kbdVector)
	msi.Msi_free(consoleVector)
}

// nullOps backs /dev/null: reads report EOF, writes sink silently.
type nullOps struct{}

func (nullOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) { return 0, 0 }
func (nullOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	return len(src), 0, 0
}
func (nullOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }
func (nullOps) Close(n *vfs.Node_t) defs.Err_t           { return 0 }
func (nullOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

// consoleOps backs /dev/console, the default stdout/stderr target. There
// is no VGA text-mode framebuffer to render into in a hosted kernel, so
// writes go to the host process's own stdout, the same stand-in `caller`
// and `fs` already use for kernel-side diagnostic output; reads report
// EOF, since console is a write side only (spec.md §4.6's default FD set
// pairs it with /dev/kbd for input).
type consoleOps struct{}

func (consoleOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) { return 0, 0 }
func (consoleOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	fmt.Print(Normalize(string(src)))
	return len(src), 0, 0
}
func (consoleOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }
func (consoleOps) Close(n *vfs.Node_t) defs.Err_t           { return 0 }
func (consoleOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

// kbdOps backs /dev/kbd, the default stdin. There is no real keyboard
// IRQ source in a hosted kernel; Feed lets whatever stands in for the
// keyboard driver (a test harness, or a future host-input bridge) push
// bytes in, queued in a small mutex-guarded ring the same way pipe/tty
// queue bytes, minus the blocking-reader machinery those need (a test
// harness feeding input is synchronous with the read it is satisfying).
var (
	kbdMu  sync.Mutex
	kbdBuf []byte
)

// Feed appends raw scancode-translated bytes to the keyboard queue, for
// whatever drives simulated keyboard input to call.
func Feed(b []byte) {
	kbdMu.Lock()
	kbdBuf = append(kbdBuf, b...)
	kbdMu.Unlock()
}

// TryRead drains whatever is queued in the keyboard buffer into dst without
// blocking, the non-blocking counterpart kbd_try_read needs since a syscall
// handler has no task to park on an empty buffer the way a real read(2)
// would (spec.md §4.11's try_read family never blocks).
func TryRead(dst []byte) (int, defs.Err_t) {
	kbdMu.Lock()
	defer kbdMu.Unlock()
	c := copy(dst, kbdBuf)
	kbdBuf = kbdBuf[c:]
	return c, 0
}

type kbdOps struct{}

func (kbdOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) {
	kbdMu.Lock()
	defer kbdMu.Unlock()
	c := copy(dst, kbdBuf)
	kbdBuf = kbdBuf[c:]
	return c, 0
}
func (kbdOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	return 0, -defs.EBADF, 0
}
func (kbdOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }
func (kbdOps) Close(n *vfs.Node_t) defs.Err_t           { return 0 }
func (kbdOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}
