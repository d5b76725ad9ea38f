package console

import (
	"sync"

	"defs"
	"vfs"
)

// counterSrc holds one human-readable snapshot function per subsystem
// that has opted in (scheduler run queues, PMM free-frame counts, slab
// cache occupancy); /dev/stat concatenates all of them on read, the
// devfs-device analogue of stats.Stats2String's per-struct rendering.
var (
	counterMu  sync.Mutex
	counterSrc = map[string]func() string{}
)

// RegisterCounters lets a subsystem contribute a stats.Stats2String-style
// snapshot under name to /dev/stat. Call once at subsystem init; name
// collisions simply replace the previous registration.
func RegisterCounters(name string, snapshot func() string) {
	counterMu.Lock()
	counterSrc[name] = snapshot
	counterMu.Unlock()
}

func statSnapshot() string {
	counterMu.Lock()
	defer counterMu.Unlock()
	s := ""
	for name, f := range counterSrc {
		if v := f(); v != "" {
			s += "## " + name + v
		}
	}
	return s
}

// statOps backs /dev/stat: a read-only text dump rebuilt fresh on every
// read (spec.md has no notion of a stat file growing between reads, so
// offset simply indexes into the freshly rendered string).
type statOps struct{}

func (statOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) {
	s := statSnapshot()
	if offset >= len(s) {
		return 0, 0
	}
	return copy(dst, s[offset:]), 0
}
func (statOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	return 0, -defs.EBADF, 0
}
func (statOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }
func (statOps) Close(n *vfs.Node_t) defs.Err_t           { return 0 }
func (statOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}
