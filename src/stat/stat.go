// Package stat is the wire-format stat(2) struct sysent.statBytes fills
// in from an fdops.Stat_t snapshot: a fixed-layout, unsafe-pointer-
// exposed view so K2user can copy it to userspace as raw bytes with no
// serialization step.
package stat

import "unsafe"

// Stat_t mirrors the fields fdops.Stat_t actually carries (Dev, Ino,
// Mode, Size). The teacher's own Stat_t additionally carried rdev/uid/
// block-count/mtime fields for an on-disk filesystem's richer inode;
// those fields are never sourced from an Fdops_i.Fstat snapshot here
// (this kernel has no uid, block allocator, or mtime clock backing any
// node devfs registers), so they were trimmed rather than carried as
// permanently-zero dead weight.
type Stat_t struct {
	_dev  uint
	_ino  uint
	_mode uint
	_size uint
}

/// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint) {
	st._dev = v
}

/// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) {
	st._ino = v
}

/// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint) {
	st._mode = v
}

/// Wsize records the file size.
func (st *Stat_t) Wsize(v uint) {
	st._size = v
}

/// Bytes exposes the raw bytes of the structure.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._dev))
	return sl[:]
}
