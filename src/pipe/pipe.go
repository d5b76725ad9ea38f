// Package pipe implements spec.md §3's "Pipe / PTY buffer" and §4.11's
// anonymous pipe: two vfs.Node_t endpoints (read side, write side) sharing
// one Pipe_t, the producer/consumer ring plus its blocking and polling
// machinery. tty builds its master/slave channels on the same Pipe_t.
//
// The ring itself is a single circbuf.Circbuf_t. New asks for the spec's
// literal 32 KiB (pipeWant); circbuf.Cb_init clamps that down to
// circbuf.MaxSize (one physical page, 4096 bytes) since circbuf only
// ever backs itself with one frame and mem.Physmem_t's bitmap allocator
// gives no guarantee that several frames would be contiguous. New
// records whether the clamp happened in Pipe_t.capClamped, and Cap
// reports the ring's real, possibly-clamped capacity for anything that
// wants to size a read/write against it rather than assuming 32 KiB.
package pipe

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
	"ksync"
	"limits"
	"mem"
)

// Pipe_t is the shared state behind a pipe(2) pair: one ring buffer, a
// reader and writer refcount (closing the last end on either side
// unblocks the other per spec.md §4.11's EOF/EPIPE rule), and a
// poll-waitqueue woken on every state change a poller might care about.
// pipeWant is the spec-literal pipe ring size (spec.md §3); circbuf
// clamps it down to whatever one physical page actually holds.
const pipeWant = 32 * 1024

type Pipe_t struct {
	mu         sync.Mutex
	cbuf       circbuf.Circbuf_t
	capClamped bool
	readers    int
	writers    int
	closed     bool

	// semRead/semWrite are pure progress notifiers, not byte counters:
	// Down blocks until woken, then the caller re-checks cbuf's actual
	// state in a loop, so a spurious or coalesced wakeup is harmless and
	// no signal can be lost between the state check and the Down call
	// racing a concurrent Up (both happen under mu).
	semRead  *ksync.Sem_t
	semWrite *ksync.Sem_t
	waitq    ksync.PollWaitqueue_t
}

// New allocates a pipe with one reader and one writer reference, as
// pipe(2) hands back exactly one of each fd. It draws one token from the
// system-wide pipe limit (spec.md §7 resource exhaustion; limits.Syslimit
// also bounds PTY pair count against the same counter).
func New(m mem.Page_i) (*Pipe_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, -defs.ENOMEM
	}
	p := &Pipe_t{
		readers:  1,
		writers:  1,
		semRead:  ksync.NewSem(0),
		semWrite: ksync.NewSem(0),
	}
	if err := p.cbuf.Cb_init(pipeWant, m); err != 0 {
		limits.Syslimit.Pipes.Give()
		return nil, err
	}
	p.capClamped = p.cbuf.Clamped()
	return p, 0
}

// Cap returns the ring's actual capacity in bytes — pipeWant unless
// circbuf.Cb_init clamped it down to circbuf.MaxSize.
func (p *Pipe_t) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cbuf.Bufsz()
}

// AddReader/AddWriter record an extra fd referencing this end (dup, fork).
func (p *Pipe_t) AddReader() {
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
}

func (p *Pipe_t) AddWriter() {
	p.mu.Lock()
	p.writers++
	p.mu.Unlock()
}

// CloseReader drops one reader reference; at zero it wakes every writer
// blocked on a full buffer so they observe EPIPE instead of hanging
// forever on a reader that will never come back.
func (p *Pipe_t) CloseReader() {
	p.mu.Lock()
	p.readers--
	last := p.readers == 0
	both := last && p.writers == 0
	p.mu.Unlock()
	if last {
		p.semWrite.Close()
		p.waitq.WakeAll()
	}
	if both {
		p.Release()
	}
}

// CloseWriter drops one writer reference; at zero it wakes every reader
// blocked on an empty buffer so they observe EOF.
func (p *Pipe_t) CloseWriter() {
	p.mu.Lock()
	p.writers--
	last := p.writers == 0
	both := last && p.readers == 0
	p.mu.Unlock()
	if last {
		p.semRead.Close()
		p.waitq.WakeAll()
	}
	if both {
		p.Release()
	}
}

// Read implements the blocking read side: park on an empty buffer until
// data arrives or every writer has closed (EOF, 0 bytes, no error).
func (p *Pipe_t) Read(dst fdops.Userio_i, w ksync.Waitable) (int, defs.Err_t) {
	for {
		p.mu.Lock()
		if !p.cbuf.Empty() {
			n, err := p.cbuf.Copyout(dst)
			p.mu.Unlock()
			if err == 0 {
				p.semWrite.Up()
				p.waitq.WakeAll()
			}
			return n, err
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, 0
		}
		p.mu.Unlock()
		p.semRead.Down(w)
	}
}

// TryRead is the non-blocking variant behind syscall #44 (pipe_try_read):
// n>0 bytes read, 0 if the buffer is empty but writers remain (caller
// should retry later), 0 with no data if EOF.
func (p *Pipe_t) TryRead(dst fdops.Userio_i) (int, defs.Err_t) {
	p.mu.Lock()
	if p.cbuf.Empty() {
		p.mu.Unlock()
		return 0, 0
	}
	n, err := p.cbuf.Copyout(dst)
	p.mu.Unlock()
	if err == 0 {
		p.semWrite.Up()
		p.waitq.WakeAll()
	}
	return n, err
}

// Write implements the blocking write side: park on a full buffer until
// space frees or every reader has closed (EPIPE).
func (p *Pipe_t) Write(src fdops.Userio_i, w ksync.Waitable) (int, defs.Err_t) {
	for {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			return 0, -defs.EPIPE
		}
		if !p.cbuf.Full() {
			n, err := p.cbuf.Copyin(src)
			p.mu.Unlock()
			if err == 0 {
				p.semRead.Up()
				p.waitq.WakeAll()
			}
			return n, err
		}
		p.mu.Unlock()
		p.semWrite.Down(w)
	}
}

// TryWrite is the non-blocking variant behind syscall #45
// (pipe_try_write): n>0 bytes written, 0 if the buffer is full and
// readers remain, -EPIPE if every reader has gone.
func (p *Pipe_t) TryWrite(src fdops.Userio_i) (int, defs.Err_t) {
	p.mu.Lock()
	if p.readers == 0 {
		p.mu.Unlock()
		return 0, -defs.EPIPE
	}
	if p.cbuf.Full() {
		p.mu.Unlock()
		return 0, 0
	}
	n, err := p.cbuf.Copyin(src)
	p.mu.Unlock()
	if err == 0 {
		p.semRead.Up()
		p.waitq.WakeAll()
	}
	return n, err
}

// PollRead reports whether a read would return immediately (data present
// or EOF) and hands back the waitqueue channel to block on otherwise.
func (p *Pipe_t) PollRead() (ready bool, ch <-chan struct{}) {
	p.mu.Lock()
	ready = !p.cbuf.Empty() || p.writers == 0
	p.mu.Unlock()
	if ready {
		return true, nil
	}
	return false, p.waitq.Wait()
}

// PollWrite reports whether a write would return immediately (space
// present or every reader gone) and hands back the waitqueue channel to
// block on otherwise.
func (p *Pipe_t) PollWrite() (ready bool, ch <-chan struct{}) {
	p.mu.Lock()
	ready = !p.cbuf.Full() || p.readers == 0
	p.mu.Unlock()
	if ready {
		return true, nil
	}
	return false, p.waitq.Wait()
}

// Release tears down the ring buffer's backing frame and returns its
// token to the system-wide pipe limit; called once both ends have
// dropped their final fd reference.
func (p *Pipe_t) Release() {
	p.mu.Lock()
	p.cbuf.Cb_release()
	p.mu.Unlock()
	limits.Syslimit.Pipes.Give()
}
