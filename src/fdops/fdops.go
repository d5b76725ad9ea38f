// Package fdops declares the operations every open-file-description
// backend (regular file, pipe, pty, devfs device, IPC listener) must
// implement, so that fd.Fd_t and vm's file-backed mappings can treat
// every kind of descriptor uniformly (spec.md §4.10, §4.11).
package fdops

import (
	"defs"
)

// Userio_i abstracts a user-memory buffer (vm.Userbuf_t / vm.Useriovec_t)
// or a kernel-memory stand-in (vm.Fakeubuf_t) so that circbuf and the
// pipe/pty/devfs backends can move bytes without caring whether the far
// end is a user pointer or kernel memory.
type Userio_i interface {
	// Uioread copies from the underlying buffer into dst.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies src into the underlying buffer.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports the number of bytes left to transfer.
	Remain() int
	// Totalsz reports the buffer's total size.
	Totalsz() int
}

// Fdops_i is the per-descriptor operation set. A descriptor's backend
// implements this with a pointer receiver, matching the teacher's fd.Fd_t
// comment that Fops is "a reference, not a value".
type Fdops_i interface {
	// Read copies up to len(dst) bytes into dst, returning the count read.
	Read(dst []uint8) (int, defs.Err_t)
	// Write copies src into the descriptor, returning the count written.
	Write(src []uint8) (int, defs.Err_t)
	// Close releases the backend's resources. It is safe to call only
	// once the descriptor's refcount has reached zero.
	Close() defs.Err_t
	// Reopen increments the backend's reference count for a dup/dup2 or
	// fork-time fd table clone.
	Reopen() defs.Err_t
	// Fstat fills the backend's metadata into st.
	Fstat(st *Stat_t) defs.Err_t
	// Mmapi returns the physical pages backing [offset, offset+len) for a
	// MAP_SHARED mapping, or an error if the backend does not support
	// being mapped.
	Mmapi(offset, len int, inc bool) ([]Mmapinfo_t, defs.Err_t)
	// Pread provides strictly positioned reads for file-backed
	// descriptors; pipes and devices return ESPIPE.
	Pread(dst []uint8, offset int) (int, defs.Err_t)
	// Lseek repositions a seekable descriptor's file offset.
	Lseek(offset, whence int) (int, defs.Err_t)
}

// Ioctler_i is implemented by descriptor backends that support ioctl
// (devfs devices, PTYs); vfs_ioctl (spec.md §4.10) type-asserts a
// descriptor's Fdops_i against this before calling through — a plain
// on-disk file or pipe simply doesn't implement it, matching the "pure
// pass-through" note that ioctl is only meaningful for some backends.
type Ioctler_i interface {
	Ioctl(req uint, arg uintptr) (uintptr, defs.Err_t)
}

// Stat_t is the subset of file metadata Fstat reports; it mirrors the
// stat package's layout without importing it, since fdops sits below
// stat in the dependency order.
type Stat_t struct {
	Dev   uint
	Ino   uint
	Mode  uint32
	Size  int
	Nlink int
}

// Mmapinfo_t describes one physical page backing a memory-mapped region.
type Mmapinfo_t struct {
	Pg  uintptr // physical address, as mem.Pa_t; untyped here to avoid importing mem
	Off int
}
