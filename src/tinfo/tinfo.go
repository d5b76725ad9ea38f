// Package tinfo tracks per-thread kill/exit-notification state. The teacher
// looks up "the current thread" through a patched-runtime goroutine-local
// (runtime.Gptr); this build has no such runtime, so there is no package
// level Current() here — proc.Task_t holds its own *Tnote_t directly and
// callers that need "my thread's note" already have the Task_t in hand
// (it was threaded to them, following hal.CPU's explicit-argument style).
package tinfo

import "sync"

import "defs"

/// Tnote_t stores per-thread state used by the scheduler and the
/// kill/exit-notification path.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

/// Threadinfo_t tracks all thread notes belonging to one process.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

/// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}
