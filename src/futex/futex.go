// Package futex implements spec.md §3/§4.14's physical-address-keyed
// futex table: a fixed-capacity open-addressed hash of {key, semaphore}
// entries, keyed by the physical address of the 4-byte user word (masked
// to its containing aligned word) rather than its virtual address, so the
// primitive stays correct when the mapping is shared across a fork-style
// clone (spec.md testable scenario 2, futex ping-pong).
package futex

import (
	"sync"

	"defs"
	"ksync"
	"limits"
)

// Key is the masked physical address identifying one futex word.
type Key uintptr

const align = 3 // mask low 2 bits: a u32 word is 4-byte aligned

func keyFor(pa uintptr) Key {
	return Key(pa &^ align)
}

type entry struct {
	inUse bool
	key   Key
	sem   *ksync.Sem_t
	// waiters counts blocked Down calls so Wake knows how many tokens to
	// hand out without waking more tasks than are actually parked.
	waiters int
}

// Table_t is the futex bucket table, spec.md §3 "Futex bucket": open-
// addressed, fixed capacity, one entry per currently-active key.
type Table_t struct {
	mu      sync.Mutex
	buckets []entry
}

// NewTable allocates a table sized by limits.Syslimit.Futexes.
func NewTable() *Table_t {
	return &Table_t{buckets: make([]entry, limits.Syslimit.Futexes)}
}

// Global is the one system-wide futex table every address space's
// futex_wait/futex_wake syscalls share, since the key space (physical
// addresses) is already global.
var Global = NewTable()

func (tb *Table_t) slot(k Key) int {
	h := int(uintptr(k) / 4 % uintptr(len(tb.buckets)))
	for i := 0; i < len(tb.buckets); i++ {
		idx := (h + i) % len(tb.buckets)
		if !tb.buckets[idx].inUse || tb.buckets[idx].key == k {
			return idx
		}
	}
	return -1
}

// lookupOrInsert returns the entry for k, creating one if none exists.
func (tb *Table_t) lookupOrInsert(k Key) (*entry, defs.Err_t) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	idx := tb.slot(k)
	if idx < 0 {
		return nil, -defs.ENOMEM
	}
	e := &tb.buckets[idx]
	if !e.inUse {
		e.inUse = true
		e.key = k
		e.sem = ksync.NewSem(0)
	}
	return e, 0
}

func (tb *Table_t) lookup(k Key) (*entry, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	idx := tb.slot(k)
	if idx < 0 || !tb.buckets[idx].inUse || tb.buckets[idx].key != k {
		return nil, false
	}
	return &tb.buckets[idx], true
}

// readWord is supplied by the caller (proc/vm has the address-space
// locking and translation futex needs; futex sits below proc in the
// dependency order and must not import it) to atomically re-read the
// current value of the user word under the entry's own serialization.
type readWord func() (uint32, defs.Err_t)

// Wait implements futex_wait(&u32, expected) (spec.md §4.14): translate
// to a physical key, look up or insert the bucket, and — under the
// table lock so the re-read-and-enqueue is atomic with a concurrent
// Wake — re-check *u32 against expected before parking.
// w, if non-nil, lets the scheduler mark the caller WAITING/RUNNABLE.
func (tb *Table_t) Wait(pa uintptr, expected uint32, read readWord, w ksync.Waitable) defs.Err_t {
	k := keyFor(pa)
	e, err := tb.lookupOrInsert(k)
	if err != 0 {
		return err
	}
	tb.mu.Lock()
	cur, rerr := read()
	if rerr != 0 {
		tb.mu.Unlock()
		return rerr
	}
	if cur != expected {
		tb.mu.Unlock()
		return 0
	}
	e.waiters++
	tb.mu.Unlock()

	e.sem.Down(w)
	return 0
}

// Wake implements futex_wake(&u32, n): look up the key; if absent (no
// one has ever waited on it) return 0 woken; else release up to n
// waiters.
func (tb *Table_t) Wake(pa uintptr, n int) (int, defs.Err_t) {
	k := keyFor(pa)
	e, ok := tb.lookup(k)
	if !ok {
		return 0, 0
	}
	tb.mu.Lock()
	woken := n
	if woken > e.waiters {
		woken = e.waiters
	}
	e.waiters -= woken
	tb.mu.Unlock()
	for i := 0; i < woken; i++ {
		e.sem.Up()
	}
	return woken, 0
}
