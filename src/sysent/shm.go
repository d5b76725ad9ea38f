package sysent

import (
	"sync"
	"sync/atomic"

	"defs"
	"fd"
	"fdops"
	"limits"
	"mem"
	"proc"
	"util"
	"vm"
)

// shmObj is a shared-memory region backed by a fixed set of physical
// frames (spec.md §4 YulaOS-style shm_create/shm_create_named), refcounted
// the same way pipe.Pipe_t is: every fd.Fd_t wrapping it, plus the named
// registry entry if any, holds one reference.
type shmObj struct {
	frames []mem.Pa_t
	name   string
	refs   int32
}

func newShm(npages int) *shmObj {
	if npages <= 0 {
		return nil
	}
	frames := make([]mem.Pa_t, npages)
	for i := range frames {
		pa, ok := mem.Physmem.AllocFrame()
		if !ok {
			for j := 0; j < i; j++ {
				mem.Physmem.FreeFrame(frames[j])
			}
			return nil
		}
		frames[i] = pa
	}
	return &shmObj{frames: frames, refs: 1}
}

func (s *shmObj) size() int { return len(s.frames) * mem.PGSIZE }

// Pread/Write move bytes directly through the backing frames; Read/Write
// (the plain, offset-less Fdops_i methods) simplify to position 0, since
// a shm region exists to be mmap'd, not streamed — a caller that wants
// read(2)/write(2) semantics at an arbitrary offset already has pread
// available through the regular fd path.
func (s *shmObj) Pread(dst []uint8, offset int) (int, defs.Err_t) {
	total := s.size()
	n := 0
	for n < len(dst) && offset+n < total {
		frame := (offset + n) / mem.PGSIZE
		inpage := (offset + n) % mem.PGSIZE
		pg := vm.DerefBytes(s.frames[frame])
		n += copy(dst[n:], pg[inpage:])
	}
	return n, 0
}

func (s *shmObj) Read(dst []uint8) (int, defs.Err_t) { return s.Pread(dst, 0) }

func (s *shmObj) Write(src []uint8) (int, defs.Err_t) {
	total := s.size()
	n := 0
	for n < len(src) && n < total {
		frame := n / mem.PGSIZE
		inpage := n % mem.PGSIZE
		pg := vm.DerefBytes(s.frames[frame])
		n += copy(pg[inpage:], src[n:])
	}
	return n, 0
}

func (s *shmObj) Close() defs.Err_t {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return 0
	}
	if s.name != "" {
		shmMu.Lock()
		delete(shmNamed, s.name)
		shmMu.Unlock()
	}
	for _, pa := range s.frames {
		mem.Physmem.FreeFrame(pa)
	}
	limits.Syslimit.Shms.Give()
	return 0
}

func (s *shmObj) Reopen() defs.Err_t {
	atomic.AddInt32(&s.refs, 1)
	return 0
}

func (s *shmObj) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Size = s.size()
	st.Mode = 1 << 13 // a shm-region bit distinct from S_IFIFO, this kernel's own convention
	return 0
}

// Mmapi hands the mapper every backing frame; inc, when true, takes an
// extra reference on the object so the mapping outlives the fd that
// created it (MAP_SHARED after close), matching Reopen's convention.
func (s *shmObj) Mmapi(offset, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	if inc {
		s.Reopen()
	}
	infos := make([]fdops.Mmapinfo_t, len(s.frames))
	for i, pa := range s.frames {
		infos[i] = fdops.Mmapinfo_t{Pg: uintptr(pa), Off: i * mem.PGSIZE}
	}
	return infos, 0
}

func (s *shmObj) Lseek(offset, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

var _ fdops.Fdops_i = (*shmObj)(nil)

var (
	shmMu    sync.Mutex
	shmNamed = map[string]*shmObj{}
)

func addShmFd(t *proc.Task_t, obj *shmObj) (int, defs.Err_t) {
	n, err := t.Fds.Add(&fd.Fd_t{Fops: obj, Perms: fd.FD_READ | fd.FD_WRITE})
	if err != 0 {
		obj.Close()
	}
	return n, err
}

func sysShmCreate(t *proc.Task_t, size int) (int, defs.Err_t) {
	if !limits.Syslimit.Shms.Take() {
		return 0, -defs.ENOMEM
	}
	obj := newShm(util.Roundup(size, mem.PGSIZE) / mem.PGSIZE)
	if obj == nil {
		limits.Syslimit.Shms.Give()
		return 0, -defs.ENOMEM
	}
	return addShmFd(t, obj)
}

func sysShmCreateNamed(t *proc.Task_t, nameUva uintptr, size int) (int, defs.Err_t) {
	name, err := readUserName(t, nameUva, 64)
	if err != 0 {
		return 0, err
	}
	shmMu.Lock()
	if _, ok := shmNamed[name]; ok {
		shmMu.Unlock()
		return 0, -defs.EEXIST
	}
	if !limits.Syslimit.Shms.Take() {
		shmMu.Unlock()
		return 0, -defs.ENOMEM
	}
	obj := newShm(util.Roundup(size, mem.PGSIZE) / mem.PGSIZE)
	if obj == nil {
		limits.Syslimit.Shms.Give()
		shmMu.Unlock()
		return 0, -defs.ENOMEM
	}
	obj.name = name
	obj.Reopen() // second reference: the fd this call is about to hand back
	shmNamed[name] = obj
	shmMu.Unlock()
	return addShmFd(t, obj)
}

func sysShmOpenNamed(t *proc.Task_t, nameUva uintptr) (int, defs.Err_t) {
	name, err := readUserName(t, nameUva, 64)
	if err != 0 {
		return 0, err
	}
	shmMu.Lock()
	obj, ok := shmNamed[name]
	if ok {
		obj.Reopen()
	}
	shmMu.Unlock()
	if !ok {
		return 0, -defs.ENOENT
	}
	return addShmFd(t, obj)
}

// sysShmUnlinkNamed removes the name immediately — a later shm_open_named
// must fail even while another task's fd on this object is still open,
// POSIX shm_unlink's "name removed, existing references keep working"
// semantics — then drops the registry's own reference.
func sysShmUnlinkNamed(t *proc.Task_t, nameUva uintptr) defs.Err_t {
	name, err := readUserName(t, nameUva, 64)
	if err != 0 {
		return err
	}
	shmMu.Lock()
	obj, ok := shmNamed[name]
	if ok {
		delete(shmNamed, name)
	}
	shmMu.Unlock()
	if !ok {
		return -defs.ENOENT
	}
	return obj.Close()
}
