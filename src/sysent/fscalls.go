package sysent

import (
	"bounds"
	"defs"
	"fd"
	"fdops"
	"mem"
	"proc"
	"res"
	"stat"
	"ustr"
	"vfs"
)

// resolvePath reads a NUL-terminated user path and canonicalizes it
// against the caller's cwd (fd.Cwd_t.Canonicalpath), the "resolve
// relative paths" half of every path-taking syscall below. Reserves
// bounds.B_VFS_NAMEI_WALK (spec.md §7): the canonicalized path's backing
// array is sized by an untrusted argument, same as every other call site
// res/bounds already guards.
func resolvePath(t *proc.Task_t, uva uintptr) (string, defs.Err_t) {
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VFS_NAMEI_WALK)) {
		return "", -defs.ENOMEM
	}
	defer res.Resapply(bounds.Bounds(bounds.B_VFS_NAMEI_WALK))
	s, err := t.Mem.Vm.Userstr(int(uva), 256)
	if err != 0 {
		return "", err
	}
	full := t.Cwd.Canonicalpath(s)
	return full.String(), 0
}

// permsFromFlags maps O_RDONLY/O_WRONLY/O_RDWR onto fd.FD_READ/FD_WRITE.
func permsFromFlags(flags int) int {
	perms := 0
	switch flags & (defs.O_WRONLY | defs.O_RDWR) {
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	default:
		perms = fd.FD_READ
	}
	return perms
}

func sysOpen(t *proc.Task_t, pathUva uintptr, flags int) (int, defs.Err_t) {
	path, err := resolvePath(t, pathUva)
	if err != 0 {
		return 0, err
	}
	of, err := vfs.Open(path, flags)
	if err != 0 {
		return 0, err
	}
	n, err := t.Fds.Add(&fd.Fd_t{Fops: of, Perms: permsFromFlags(flags)})
	if err != 0 {
		of.Close()
		return 0, err
	}
	return n, 0
}

func sysRead(t *proc.Task_t, fdn int, uva uintptr, length int) (int, defs.Err_t) {
	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0, -defs.EBADF
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EBADF
	}
	if err := checkUserRange(uva, length); err != 0 {
		return 0, err
	}
	buf := make([]uint8, length)
	n, err := f.Fops.Read(buf)
	if err != 0 {
		return 0, err
	}
	if err := t.Mem.Vm.K2user(buf[:n], int(uva)); err != 0 {
		return 0, err
	}
	return n, 0
}

func sysWrite(t *proc.Task_t, fdn int, uva uintptr, length int) (int, defs.Err_t) {
	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0, -defs.EBADF
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	if err := checkUserRange(uva, length); err != 0 {
		return 0, err
	}
	buf := make([]uint8, length)
	if err := t.Mem.Vm.User2k(buf, int(uva)); err != 0 {
		return 0, err
	}
	n, err := f.Fops.Write(buf)
	if err != 0 {
		return 0, err
	}
	return n, 0
}

func sysClose(t *proc.Task_t, fdn int) defs.Err_t {
	return t.Fds.Close(fdn)
}

func sysMkdir(t *proc.Task_t, pathUva uintptr) (int, defs.Err_t) {
	path, err := resolvePath(t, pathUva)
	if err != 0 {
		return 0, err
	}
	if vfs.FS == nil {
		return 0, -defs.ENODEV
	}
	return vfs.FS.Mkdir(path)
}

func sysUnlink(t *proc.Task_t, pathUva uintptr) defs.Err_t {
	path, err := resolvePath(t, pathUva)
	if err != 0 {
		return err
	}
	if vfs.FS == nil {
		return -defs.ENODEV
	}
	return vfs.FS.Unlink(path)
}

func sysRename(t *proc.Task_t, oldUva, newUva uintptr) defs.Err_t {
	oldp, err := resolvePath(t, oldUva)
	if err != 0 {
		return err
	}
	newp, err := resolvePath(t, newUva)
	if err != 0 {
		return err
	}
	if vfs.FS == nil {
		return -defs.ENODEV
	}
	return vfs.FS.Rename(oldp, newp)
}

// statBytes builds the wire-format stat struct (stat.Stat_t, the teacher's
// fixed-layout unsafe-pointer view) from an Fdops_i.Fstat snapshot.
func statBytes(fst *fdops.Stat_t) []uint8 {
	var st stat.Stat_t
	st.Wdev(fst.Dev)
	st.Wino(fst.Ino)
	st.Wmode(uint(fst.Mode))
	st.Wsize(uint(fst.Size))
	return st.Bytes()
}

func sysStat(t *proc.Task_t, pathUva, statUva uintptr) defs.Err_t {
	path, err := resolvePath(t, pathUva)
	if err != 0 {
		return err
	}
	of, err := vfs.Open(path, defs.O_RDONLY)
	if err != 0 {
		return err
	}
	defer of.Close()
	var fst fdops.Stat_t
	if err := of.Fstat(&fst); err != 0 {
		return err
	}
	return t.Mem.Vm.K2user(statBytes(&fst), int(statUva))
}

// fstatat ignores dirfd and resolves name against the caller's cwd like
// every other path syscall here — this kernel's fd table has no notion of
// an "open directory fd" to resolve relative-to, only path strings.
func sysFstatat(t *proc.Task_t, dirfd int, nameUva, statUva uintptr) defs.Err_t {
	return sysStat(t, nameUva, statUva)
}

func sysGetdents(t *proc.Task_t, fdn int, uva uintptr, size int) (int, defs.Err_t) {
	f, ok := t.Fds.Get(fdn)
	if !ok {
		return 0, -defs.EBADF
	}
	of, ok := f.Fops.(*vfs.OpenFile_t)
	if !ok {
		return 0, -defs.ENOTDIR
	}
	if vfs.FS == nil {
		return 0, -defs.ENODEV
	}
	if err := checkUserRange(uva, size); err != 0 {
		return 0, err
	}
	buf := make([]uint8, size)
	n, err := vfs.FS.Getdents(of.Node.InodeIdx, buf)
	if err != 0 {
		return 0, err
	}
	if err := t.Mem.Vm.K2user(buf[:n], int(uva)); err != 0 {
		return 0, err
	}
	return n, 0
}

func sysChdir(t *proc.Task_t, pathUva uintptr) defs.Err_t {
	path, err := resolvePath(t, pathUva)
	if err != 0 {
		return err
	}
	if vfs.FS == nil {
		return -defs.ENODEV
	}
	inode, ok := vfs.FS.Lookup(path)
	if !ok {
		return -defs.ENOENT
	}
	isDir, _, err := vfs.FS.Stat(inode)
	if err != 0 {
		return err
	}
	if !isDir {
		return -defs.ENOTDIR
	}
	t.Cwd.Lock()
	t.Cwd.Path = ustr.MkUstrSlice([]uint8(path))
	t.Cwd.Unlock()
	return 0
}

func sysGetcwd(t *proc.Task_t, uva uintptr, size int) (int, defs.Err_t) {
	t.Cwd.Lock()
	p := append([]uint8{}, t.Cwd.Path...)
	t.Cwd.Unlock()
	if len(p)+1 > size {
		return 0, -defs.EINVAL
	}
	out := make([]uint8, len(p)+1)
	copy(out, p)
	if err := t.Mem.Vm.K2user(out, int(uva)); err != 0 {
		return 0, err
	}
	return len(out), 0
}

// fsSizer is implemented by a Backend_i that also reports inode/block
// counts (ufs.Ufs_t does); fsinfo uses it when available and falls back
// to the physical-memory page counts otherwise, since vfs.Backend_i
// itself declares no such method (spec.md §1 treats the on-disk backend
// as an external collaborator, so sysent must not widen its contract).
type fsSizer interface {
	Sizes() (int, int)
}

func sysFsinfo(t *proc.Task_t, uva uintptr) defs.Err_t {
	var inodes, blocks int
	if sz, ok := vfs.FS.(fsSizer); ok {
		inodes, blocks = sz.Sizes()
	} else {
		free, total := mem.Physmem.Counts()
		inodes, blocks = 0, total-free
	}
	buf := make([]uint8, 8)
	le32put(buf[0:4], uint32(inodes))
	le32put(buf[4:8], uint32(blocks))
	return t.Mem.Vm.K2user(buf, int(uva))
}

func le32put(b []uint8, v uint32) {
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
	b[2] = uint8(v >> 16)
	b[3] = uint8(v >> 24)
}

func le64put(b []uint8, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = uint8(v >> (8 * uint(i)))
	}
}
