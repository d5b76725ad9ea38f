// Package ksync implements the kernel's blocking and non-blocking
// synchronization primitives (spec.md §4.5): IRQ-safe spinlocks, counting
// semaphores, readers/writer locks built from two semaphores, and
// poll-waitqueues for select/poll-style readiness waits.
//
// A Spinlock_t's IRQ-safety comes from hal.CPU's save/restore depth
// counter rather than a real EFLAGS.IF bit, since this kernel runs hosted
// (see hal package doc): acquiring one still disables the calling CPU's
// "interrupts" for the duration of the critical section, which is the
// property spinlock_acquire_safe/release_safe exist for.
package ksync

import (
	"sync"

	"hal"
)

// Spinlock_t is an IRQ-safe spinlock. Lock returns a token that must be
// passed back to the matching Unlock, exactly mirroring
// spinlock_acquire_safe/release_safe's EFLAGS save/restore.
type Spinlock_t struct {
	mu sync.Mutex
}

// Lock disables interrupts on c and acquires the lock.
func (l *Spinlock_t) Lock(c *hal.CPU) uint32 {
	flags := c.SaveFlagsCli()
	l.mu.Lock()
	return flags
}

// Unlock releases the lock and restores c's interrupt state to flags.
func (l *Spinlock_t) Unlock(c *hal.CPU, flags uint32) {
	l.mu.Unlock()
	c.RestoreFlags(flags)
}

// Waitable lets a blocking primitive tell the scheduler a task is parked
// or runnable again without importing proc/sched, which need ksync's
// primitives themselves and would otherwise form an import cycle.
type Waitable interface {
	MarkWaiting()
	MarkRunnable()
}

// Sem_t is a counting semaphore. Closed permanently satisfies every Down,
// current and future, the way exiting a process permanently wakes every
// waiter blocked on its exit status (spec.md §9's exit_sem).
type Sem_t struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	closed bool
}

// NewSem creates a semaphore with the given initial count.
func NewSem(initial int) *Sem_t {
	s := &Sem_t{count: initial}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Down blocks until the semaphore has a token to give or has been closed.
// w, if non-nil, is notified of the parked/runnable transition so the
// scheduler can take the task off its run queue while it waits.
func (s *Sem_t) Down(w Waitable) {
	s.mu.Lock()
	for s.count == 0 && !s.closed {
		if w != nil {
			w.MarkWaiting()
		}
		s.cond.Wait()
		if w != nil {
			w.MarkRunnable()
		}
	}
	if s.count > 0 {
		s.count--
	}
	s.mu.Unlock()
}

// TryDown takes a token without blocking, reporting whether it succeeded.
func (s *Sem_t) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 && !s.closed {
		return false
	}
	if s.count > 0 {
		s.count--
	}
	return true
}

// Up returns one token to the semaphore, waking at most one waiter.
func (s *Sem_t) Up() {
	s.mu.Lock()
	s.count++
	s.cond.Signal()
	s.mu.Unlock()
}

// Close permanently satisfies every Down call, waking every current
// waiter. Used once, at process exit, to release every thread blocked
// waiting for this process's exit status.
func (s *Sem_t) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// RWLock_t is a readers/writer lock built from two semaphores: order, a
// binary semaphore serializing entry to the read-side so readers can't
// starve a waiting writer, and wrt, held by a writer for the duration of
// the write and by the first reader on behalf of every concurrent reader
// (the standard semaphore-pair readers/writer construction).
type RWLock_t struct {
	order   *Sem_t
	wrt     *Sem_t
	countmu sync.Mutex
	readers int
}

// NewRWLock creates an unlocked readers/writer lock.
func NewRWLock() *RWLock_t {
	return &RWLock_t{order: NewSem(1), wrt: NewSem(1)}
}

// RLock acquires the lock for reading.
func (l *RWLock_t) RLock(w Waitable) {
	l.order.Down(w)
	l.countmu.Lock()
	l.readers++
	if l.readers == 1 {
		l.wrt.Down(w)
	}
	l.countmu.Unlock()
	l.order.Up()
}

// RUnlock releases a read lock.
func (l *RWLock_t) RUnlock() {
	l.countmu.Lock()
	l.readers--
	if l.readers == 0 {
		l.wrt.Up()
	}
	l.countmu.Unlock()
}

// Lock acquires the lock for writing.
func (l *RWLock_t) Lock(w Waitable) {
	l.order.Down(w)
	l.wrt.Down(w)
}

// Unlock releases a write lock.
func (l *RWLock_t) Unlock() {
	l.wrt.Up()
	l.order.Up()
}

// PollWaitqueue_t is the wait list behind poll/select-style blocking:
// callers register a channel that a readiness event closes, matching the
// ring-buffer/line-discipline readers of spec.md §6 (pipes, PTYs, IPC
// listeners).
type PollWaitqueue_t struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// Wait registers interest in the next readiness event and returns a
// channel that is closed when WakeAll is next called.
func (pq *PollWaitqueue_t) Wait() <-chan struct{} {
	ch := make(chan struct{})
	pq.mu.Lock()
	pq.waiters = append(pq.waiters, ch)
	pq.mu.Unlock()
	return ch
}

// WakeAll closes every channel handed out by Wait since the last call,
// waking every task blocked on this waitqueue.
func (pq *PollWaitqueue_t) WakeAll() {
	pq.mu.Lock()
	ws := pq.waiters
	pq.waiters = nil
	pq.mu.Unlock()
	for _, ch := range ws {
		close(ch)
	}
}
