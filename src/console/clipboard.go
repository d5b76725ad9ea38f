package console

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
	"mem"
)

// clipboardSize matches original_source/src/kernel/clipboard.c's
// CLIPBOARD_SIZE exactly, which also happens to be circbuf.Circbuf_t's
// one-physical-page ceiling — no capacity simplification needed here,
// unlike pipe's.
const clipboardSize = mem.PGSIZE

// Clipboard_t is clip_set/clip_get's (#25/#26) backing store: a single
// bounded buffer that Set entirely replaces and Get reads as a snapshot
// without draining it, matching clipboard.c's clipboard_set/
// clipboard_get (a plain byte array + length under one lock, not a FIFO
// stream). circbuf.Circbuf_t stands in for the backing array the same
// way pipes/ptys reuse it, with Set/Get built over its raw (non-
// consuming) accessors instead of Copyin/Copyout's streaming contract.
type Clipboard_t struct {
	mu  sync.Mutex
	buf circbuf.Circbuf_t
	m   mem.Page_i
}

// Clip is the single system-wide clipboard, matching clipboard.c's file-
// scope static buffer.
var Clip Clipboard_t

// InitClipboard records the page allocator Clip's backing circbuf lazily
// allocates from. Called once at kernel bring-up alongside Init.
func InitClipboard(m mem.Page_i) {
	Clip.mu.Lock()
	Clip.m = m
	Clip.buf.Cb_init(clipboardSize, m)
	Clip.mu.Unlock()
}

// Set replaces the clipboard's entire contents with src, truncating to
// clipboardSize bytes exactly as clipboard_set does.
func (c *Clipboard_t) Set(src fdops.Userio_i) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.buf.Cb_ensure(); err != 0 {
		return 0, err
	}
	if used := c.buf.Used(); used > 0 {
		c.buf.Advtail(used)
	}
	return c.buf.Copyin(src)
}

// Get copies up to dst's capacity from the clipboard without consuming
// it, so repeated gets see the same contents until the next Set — the
// snapshot-read semantics clipboard_get has and a draining Copyout does
// not.
func (c *Clipboard_t) Get(dst fdops.Userio_i) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.buf.Cb_ensure(); err != 0 {
		return 0, err
	}
	if c.buf.Empty() {
		return 0, 0
	}
	n := c.buf.Used()
	r1, r2 := c.buf.Rawread(0)
	total := 0
	if len(r1) > 0 {
		w, err := dst.Uiowrite(r1)
		total += w
		if err != 0 || w < len(r1) {
			return total, err
		}
	}
	if len(r2) > 0 && total < n {
		w, err := dst.Uiowrite(r2)
		total += w
		if err != 0 {
			return total, err
		}
	}
	return total, 0
}
