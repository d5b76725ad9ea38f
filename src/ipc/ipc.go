// Package ipc implements spec.md §4.11's named listener: ipc_listen
// registers a name, ipc_connect enqueues a pending request and blocks
// until ipc_accept pairs it, at which point each side receives an
// independent full-duplex channel built from two pipe.Pipe_t pairs.
package ipc

import (
	"sync"

	"defs"
	"ksync"
	"limits"
	"mem"
	"pipe"
	"vfs"
)

// Channel_t is one side of a connected full-duplex channel: Reader
// drains the peer's writes, Writer feeds the peer's reads (spec.md
// §4.11 "each side receives two pipe nodes ... so the resulting channel
// is full-duplex").
type Channel_t struct {
	Reader *vfs.Node_t
	Writer *vfs.Node_t
}

type request struct {
	result chan *Channel_t
}

// Listener_t is a named rendezvous point; ipc_accept drains its pending
// queue in FIFO order.
type Listener_t struct {
	Name string

	mu      sync.Mutex
	pending []*request
	closed  bool
	waitq   ksync.PollWaitqueue_t
}

var (
	regMu    sync.Mutex
	registry = map[string]*Listener_t{}
)

// Listen implements ipc_listen(name): register a fresh named listener.
func Listen(name string) (*Listener_t, defs.Err_t) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := registry[name]; ok {
		return nil, -defs.EEXIST
	}
	if !limits.Syslimit.Listeners.Take() {
		return nil, -defs.ENOMEM
	}
	l := &Listener_t{Name: name}
	registry[name] = l
	return l, 0
}

// Close unregisters the listener and releases its limit token. Requests
// already enqueued stay queued: a later Accept still serves them, and
// nothing times out or cancels a Connect blocked on one.
func (l *Listener_t) Close() {
	regMu.Lock()
	delete(registry, l.Name)
	regMu.Unlock()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.waitq.WakeAll()
	limits.Syslimit.Listeners.Give()
}

// Connect implements ipc_connect(name): enqueue a pending request on the
// named listener and block until Accept pairs it.
func Connect(name string, w ksync.Waitable) (*Channel_t, defs.Err_t) {
	regMu.Lock()
	l, ok := registry[name]
	regMu.Unlock()
	if !ok {
		return nil, -defs.ENOENT
	}

	req := &request{result: make(chan *Channel_t, 1)}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, -defs.ENOENT
	}
	l.pending = append(l.pending, req)
	l.mu.Unlock()
	l.waitq.WakeAll()

	if w != nil {
		w.MarkWaiting()
	}
	ch := <-req.result
	if w != nil {
		w.MarkRunnable()
	}
	if ch == nil {
		return nil, -defs.ENOMEM
	}
	return ch, 0
}

// Accept implements ipc_accept(l): block until a connect request is
// pending, build the two pipe pairs backing the full-duplex channel, and
// wake the connecting side with its half.
func Accept(l *Listener_t, m mem.Page_i, w ksync.Waitable) (*Channel_t, defs.Err_t) {
	for {
		l.mu.Lock()
		if len(l.pending) > 0 {
			req := l.pending[0]
			l.pending = l.pending[1:]
			l.mu.Unlock()
			return completeHandshake(req, m)
		}
		if l.closed {
			l.mu.Unlock()
			return nil, -defs.ENOENT
		}
		ch := l.waitq.Wait()
		l.mu.Unlock()
		if w != nil {
			w.MarkWaiting()
		}
		<-ch
		if w != nil {
			w.MarkRunnable()
		}
	}
}

// completeHandshake builds the client->server and server->client pipe
// pairs, hands the client its half through req.result, and returns the
// server's half to the caller (Accept).
func completeHandshake(req *request, m mem.Page_i) (*Channel_t, defs.Err_t) {
	c2s, err := pipe.NewPair(m)
	if err != 0 {
		req.result <- nil
		return nil, err
	}
	s2c, err := pipe.NewPair(m)
	if err != 0 {
		req.result <- nil
		return nil, err
	}
	req.result <- &Channel_t{Reader: s2c.Read, Writer: c2s.Write}
	return &Channel_t{Reader: c2s.Read, Writer: s2c.Write}, 0
}
