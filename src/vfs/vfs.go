// Package vfs is the VFS core of spec.md §4.10: a polymorphic, reference-
// counted node wrapping a small {read, write, open, close, ioctl} vtable,
// devfs's name registry, and the open/read/write/ioctl entry points that
// bridge a path or device name to an fd_table descriptor.
//
// Two backing kinds matter here: devfs (below, a concurrent name→node
// map) and the on-disk filesystem, an external collaborator (spec.md §1
// "Non-goals") whose contract is the Backend_i interface — this package
// requires only that it supply lookup/create/stat/read/write/append/
// resize/getdents/unlink/rename/mkdir, exactly as spec.md §4.10 lists.
package vfs

import (
	"sync"
	"sync/atomic"

	"defs"
	"fdops"
)

// Ops_i is a node's small operation vtable (spec.md §3 vfs_node "ops is a
// small vtable {read, write, open, close, ioctl}"). It is installed once
// at node construction and never mutated, so concurrent callers may read
// n.Ops without a lock.
type Ops_i interface {
	Read(n *Node_t, dst []uint8, offset int) (int, defs.Err_t)
	Write(n *Node_t, src []uint8, offset int) (int, defs.Err_t, int)
	Open(n *Node_t, flags int) defs.Err_t
	Close(n *Node_t) defs.Err_t
	Ioctl(n *Node_t, req uint, arg uintptr) (uintptr, defs.Err_t)
}

// Node flags distinguish the backing kind (spec.md §3 vfs_node "flags
// distinguishes pipe-read, pipe-write, pty-master, pty-slave, on-disk
// file, shared memory, IPC listener, and exec-node").
const (
	FPipeRead uint32 = 1 << iota
	FPipeWrite
	FPtyMaster
	FPtySlave
	FOnDisk
	FShm
	FListener
	FExecNode
	FDev
)

// Node_t is the VFS node of spec.md §3: refcounted, with an opaque
// Private payload a backend stores its own state in; PrivateRetain runs on
// every Ref and PrivateRelease on every Unref. Lifetime is governed
// solely by refs, per spec.md §4.10.
type Node_t struct {
	Name     string
	Flags    uint32
	Size     int64
	InodeIdx int

	refs int32

	Ops Ops_i

	Private        any
	PrivateRetain  func(any)
	PrivateRelease func(any)
}

// NewNode constructs a node with one reference, the way every open path
// (devfs_clone, an on-disk lookup, pipe/pty/listener creation) hands back
// a freshly owned node.
func NewNode(name string, flags uint32, ops Ops_i, private any) *Node_t {
	return &Node_t{Name: name, Flags: flags, Ops: ops, Private: private, refs: 1}
}

// Ref increments the node's refcount (spec.md §4.10 devfs.clone: "a new
// ref-counted instance whose private_data is retained through the node's
// own retain/release hooks").
func (n *Node_t) Ref() {
	atomic.AddInt32(&n.refs, 1)
	if n.PrivateRetain != nil {
		n.PrivateRetain(n.Private)
	}
}

// Unref drops a reference and calls PrivateRelease; when the count
// reaches zero it also calls Ops.Close first.
func (n *Node_t) Unref() defs.Err_t {
	if atomic.AddInt32(&n.refs, -1) > 0 {
		if n.PrivateRelease != nil {
			n.PrivateRelease(n.Private)
		}
		return 0
	}
	err := n.Ops.Close(n)
	if n.PrivateRelease != nil {
		n.PrivateRelease(n.Private)
	}
	return err
}

// Refs reports the current reference count (test/debug use only).
func (n *Node_t) Refs() int32 { return atomic.LoadInt32(&n.refs) }

// OpenFile_t adapts a Node_t into an fdops.Fdops_i: spec.md §3's
// file_desc{node, offset, flags, refs, lock}. Read/Write snapshot and
// update the offset under descriptor's own lock (spec.md §4.10 "vfs_read
// and vfs_write take the descriptor lock to snapshot offset, call the
// op, and update offset on success"); O_APPEND writes always seek to the
// current end of file first.
type OpenFile_t struct {
	mu     sync.Mutex
	Node   *Node_t
	offset int64
	Flags  int
}

// OpenNode wraps n in a fresh descriptor-level file object, taking a
// reference on n and invoking Ops.Open.
func OpenNode(n *Node_t, flags int) (*OpenFile_t, defs.Err_t) {
	if err := n.Ops.Open(n, flags); err != 0 {
		return nil, err
	}
	if flags&defs.O_APPEND != 0 {
		return &OpenFile_t{Node: n, Flags: flags, offset: n.Size}, 0
	}
	return &OpenFile_t{Node: n, Flags: flags}, 0
}

func (f *OpenFile_t) Read(dst []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Node.Ops.Read(f.Node, dst, int(f.offset))
	if err == 0 {
		f.offset += int64(n)
	}
	return n, err
}

func (f *OpenFile_t) Write(src []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Flags&defs.O_APPEND != 0 {
		f.offset = f.Node.Size
	}
	n, err, newsize := f.Node.Ops.Write(f.Node, src, int(f.offset))
	if err == 0 {
		f.offset += int64(n)
		if int64(newsize) > f.Node.Size {
			f.Node.Size = int64(newsize)
		}
	}
	return n, err
}

func (f *OpenFile_t) Close() defs.Err_t {
	return f.Node.Unref()
}

func (f *OpenFile_t) Reopen() defs.Err_t {
	f.Node.Ref()
	return 0
}

func (f *OpenFile_t) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Size = int(f.Node.Size)
	st.Ino = uint(f.Node.InodeIdx)
	return 0
}

func (f *OpenFile_t) Mmapi(offset, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.ENODEV
}

func (f *OpenFile_t) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	if f.Node.Flags&(FPipeRead|FPipeWrite|FPtyMaster|FPtySlave|FListener|FDev) != 0 {
		return 0, -defs.ESPIPE
	}
	return f.Node.Ops.Read(f.Node, dst, offset)
}

func (f *OpenFile_t) Lseek(offset, whence int) (int, defs.Err_t) {
	if f.Node.Flags&(FPipeRead|FPipeWrite|FPtyMaster|FPtySlave|FListener|FDev) != 0 {
		return 0, -defs.ESPIPE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.offset = int64(offset)
	case defs.SEEK_CUR:
		f.offset += int64(offset)
	case defs.SEEK_END:
		f.offset = f.Node.Size + int64(offset)
	default:
		return 0, -defs.EINVAL
	}
	if f.offset < 0 {
		f.offset = 0
		return 0, -defs.EINVAL
	}
	return int(f.offset), 0
}

var _ fdops.Fdops_i = (*OpenFile_t)(nil)

// Ioctl is a pure pass-through to the node's vtable (spec.md §4.10
// "vfs_ioctl is a pure pass-through").
func (f *OpenFile_t) Ioctl(req uint, arg uintptr) (uintptr, defs.Err_t) {
	return f.Node.Ops.Ioctl(f.Node, req, arg)
}

// Backend_i is the on-disk filesystem's contract (spec.md §4.10, an
// external collaborator out of scope per spec.md §1). No implementation
// of it is in this tree.
type Backend_i interface {
	Lookup(path string) (inode int, ok bool)
	Create(path string) (inode int, err defs.Err_t)
	Stat(inode int) (isDir bool, size int64, err defs.Err_t)
	Read(inode int, offset int, buf []uint8) (int, defs.Err_t)
	Write(inode int, offset int, buf []uint8) (int, defs.Err_t)
	Append(inode int, buf []uint8) (startOff int, err defs.Err_t)
	Resize(inode int, newsize int64) defs.Err_t
	Getdents(inode int, buf []uint8) (int, defs.Err_t)
	Unlink(path string) defs.Err_t
	Rename(oldpath, newpath string) defs.Err_t
	Mkdir(path string) (inode int, err defs.Err_t)
	LookupInDir(dirInode int, name string) (inode int, ok bool)
}

// diskOps adapts Backend_i's inode-indexed operations into the Ops_i
// vtable every node shares, so on-disk files look identical to devfs
// devices from fd_table's perspective.
type diskOps struct {
	fs Backend_i
}

func (d *diskOps) Read(n *Node_t, dst []uint8, offset int) (int, defs.Err_t) {
	return d.fs.Read(n.InodeIdx, offset, dst)
}

func (d *diskOps) Write(n *Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	c, err := d.fs.Write(n.InodeIdx, offset, src)
	if err != 0 {
		return c, err, int(n.Size)
	}
	end := offset + c
	sz := int(n.Size)
	if end > sz {
		sz = end
	}
	return c, 0, sz
}

func (d *diskOps) Open(n *Node_t, flags int) defs.Err_t  { return 0 }
func (d *diskOps) Close(n *Node_t) defs.Err_t            { return 0 }
func (d *diskOps) Ioctl(n *Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

// FS is the on-disk filesystem backend. Nothing in this tree sets it, so
// it stays nil and on-disk paths fail with ENODEV.
var FS Backend_i

// Open implements the open syscall's path-resolution half (spec.md §4.10
// "vfs_open maps /dev/<name> to devfs_clone and everything else to an
// on-disk inode wrapped in a fresh node"). Open takes no cwd and resolves
// no relative paths; callers pass an already-canonicalized absolute path.
func Open(path string, flags int) (*OpenFile_t, defs.Err_t) {
	if isDevPath(path) {
		n, err := DevClone(devName(path))
		if err != 0 {
			return nil, err
		}
		return OpenNode(n, flags)
	}
	if FS == nil {
		return nil, -defs.ENODEV
	}
	inode, ok := FS.Lookup(path)
	if !ok {
		if flags&defs.O_CREAT == 0 {
			return nil, -defs.ENOENT
		}
		var err defs.Err_t
		inode, err = FS.Create(path)
		if err != 0 {
			return nil, err
		}
	} else if flags&defs.O_EXCL != 0 {
		return nil, -defs.EEXIST
	}
	isDir, size, err := FS.Stat(inode)
	if err != 0 {
		return nil, err
	}
	if isDir && (flags&(defs.O_WRONLY|defs.O_RDWR) != 0) {
		return nil, -defs.EISDIR
	}
	n := NewNode(path, FOnDisk, &diskOps{fs: FS}, nil)
	n.InodeIdx = inode
	n.Size = size
	if flags&defs.O_TRUNC != 0 {
		if err := FS.Resize(inode, 0); err != 0 {
			return nil, err
		}
		n.Size = 0
	}
	return OpenNode(n, flags)
}

func isDevPath(path string) bool {
	return len(path) > 5 && path[:5] == "/dev/"
}

func devName(path string) string {
	return path[5:]
}
