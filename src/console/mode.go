package console

import "sync/atomic"

// Mode_t backs set_term_mode (#27). original_source's syscall_set_term_mode
// stores the mode on the calling task (task_t.term_mode); this nucleus
// centralizes it into one atomic the way limits.Syslimit centralizes what
// used to be scattered statics, rather than adding a field to proc.Task_t
// for a single byte only this syscall reads.
type Mode_t struct {
	v uint32
}

// Set records mode as the term mode, matching the original's "mode == 1
// enables, anything else disables" normalization.
func (m *Mode_t) Set(mode int32) {
	v := uint32(0)
	if mode == 1 {
		v = 1
	}
	atomic.StoreUint32(&m.v, v)
}

// Get reports whether term mode is currently enabled.
func (m *Mode_t) Get() bool {
	return atomic.LoadUint32(&m.v) != 0
}

// Colors_t backs set_console_color (#28): the foreground/background pair
// syscall_set_console_color writes onto the calling task's terminal
// instance (term->curr_fg/curr_bg and def_fg/def_bg). This nucleus has no
// glyph-rendering terminal instance to own that state, so it lives here
// as the current console-wide color pair instead.
type Colors_t struct {
	fg uint32
	bg uint32
}

// Set installs fg/bg as the current (and, per the original, also the
// default) console colors.
func (c *Colors_t) Set(fg, bg uint32) {
	atomic.StoreUint32(&c.fg, fg)
	atomic.StoreUint32(&c.bg, bg)
}

// Get reports the current foreground/background pair.
func (c *Colors_t) Get() (fg, bg uint32) {
	return atomic.LoadUint32(&c.fg), atomic.LoadUint32(&c.bg)
}

// TermMode and Colors are the system-wide instances set_term_mode and
// set_console_color operate on.
var (
	TermMode Mode_t
	Colors   Colors_t
)
