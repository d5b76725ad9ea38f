package pipe

import (
	"defs"
	"fdops"
	"ksync"
	"mem"
	"vfs"
	"vm"
)

// endOps is the vfs.Ops_i shared by both a pipe's read-side and write-side
// node; which half a given node exposes is determined entirely by its
// Flags (vfs.FPipeRead vs vfs.FPipeWrite), matching the single small
// vtable spec.md §3 describes for every vfs_node kind.
type endOps struct{}

var ops = &endOps{}

func (endOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL // callers go through pipe.File_t, not the raw node
}

func (endOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	return 0, -defs.EINVAL, 0
}

func (endOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }

func (endOps) Close(n *vfs.Node_t) defs.Err_t {
	p := n.Private.(*Pipe_t)
	if n.Flags&vfs.FPipeRead != 0 {
		p.CloseReader()
	} else {
		p.CloseWriter()
	}
	return 0
}

func (endOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

// Pair is the pair of vfs.Node_t endpoints pipe(2) hands back: rd wraps
// the read side, wr wraps the write side, both sharing one Pipe_t as
// their Private payload.
type Pair struct {
	Read  *vfs.Node_t
	Write *vfs.Node_t
	Pipe  *Pipe_t
}

// NewPair constructs a fresh pipe and its two vfs nodes.
func NewPair(m mem.Page_i) (*Pair, defs.Err_t) {
	p, err := New(m)
	if err != 0 {
		return nil, err
	}
	rd := vfs.NewNode("pipe:r", vfs.FPipeRead, ops, p)
	wr := vfs.NewNode("pipe:w", vfs.FPipeWrite, ops, p)
	return &Pair{Read: rd, Write: wr, Pipe: p}, 0
}

// File_t adapts one end of a pipe into an fdops.Fdops_i, the same shape
// vfs.OpenFile_t gives an on-disk file, so fd.Fd_t doesn't care which
// backend a descriptor actually has.
type File_t struct {
	Node *vfs.Node_t
	Pipe *Pipe_t
	W    ksync.Waitable
}

func (f *File_t) isRead() bool { return f.Node.Flags&vfs.FPipeRead != 0 }

func (f *File_t) Read(dst []uint8) (int, defs.Err_t) {
	if !f.isRead() {
		return 0, -defs.EINVAL
	}
	var fb vm.Fakeubuf_t
	fb.Fake_init(dst)
	return f.Pipe.Read(&fb, f.W)
}

func (f *File_t) Write(src []uint8) (int, defs.Err_t) {
	if f.isRead() {
		return 0, -defs.EINVAL
	}
	var fb vm.Fakeubuf_t
	fb.Fake_init(src)
	return f.Pipe.Write(&fb, f.W)
}

func (f *File_t) Close() defs.Err_t {
	return f.Node.Unref()
}

func (f *File_t) Reopen() defs.Err_t {
	f.Node.Ref()
	if f.isRead() {
		f.Pipe.AddReader()
	} else {
		f.Pipe.AddWriter()
	}
	return 0
}

func (f *File_t) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Mode = 1 << 12 // S_IFIFO-equivalent bit, matching spec.md's mode encoding
	return 0
}

func (f *File_t) Mmapi(offset, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.ENODEV
}

func (f *File_t) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (f *File_t) Lseek(offset, whence int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

var _ fdops.Fdops_i = (*File_t)(nil)
