// Package sched is the per-CPU run queue of spec.md §4.7: one vruntime-
// ordered queue per hal.CPU, a pick_next that removes the leftmost
// (lowest-vruntime) entry, and the nice-value weight table tick accounting
// draws from.
//
// spec.md describes the queue as a left-leaning rb-tree with the leftmost
// node cached. As with vmm's kernel arena (see DESIGN.md), no ordered-tree
// library exists anywhere in the retrieved example corpus, and the teacher
// itself carries no such dependency. container/heap gives the same
// asymptotic behaviour this queue needs (O(log n) insert, O(log n)
// remove-min, O(1) peek-min) with a stdlib-only implementation, so it
// stands in for the rb-tree: same external contract (ordered by vruntime,
// pick the minimum), simpler backing structure.
package sched

import (
	"container/heap"
	"sync"
)

// NiceZeroLoad is the Linux-style reference weight nice=0 carries; every
// other priority's weight is scaled against it.
const NiceZeroLoad = 1024

// Priority classes from spec.md §4.7's quantum table.
type Prio int

const (
	PrioGUI  Prio = iota // quantum 8 ticks
	PrioUser             // quantum 4 ticks
	PrioLow              // quantum 2 ticks
)

// Quantum returns the tick count a task of priority p runs before yielding.
func Quantum(p Prio) int {
	switch p {
	case PrioGUI:
		return 8
	case PrioUser:
		return 4
	default:
		return 2
	}
}

// Weight mirrors Linux's nice-value weight table collapsed to this
// kernel's three priority classes.
func Weight(p Prio) int64 {
	switch p {
	case PrioGUI:
		return 3121 // nice -10 equivalent: GUI tasks get less vruntime per tick
	case PrioUser:
		return NiceZeroLoad
	default:
		return 335 // nice +10 equivalent
	}
}

// Runnable is anything a run queue can hold: a task's vruntime and the
// opaque handle the scheduler hands back to its caller on pick_next.
// Handle is typed any to avoid an import cycle with proc.
type Runnable struct {
	Vruntime int64
	Prio     Prio
	Handle   any

	index int // heap.Interface bookkeeping
}

type rqheap []*Runnable

func (h rqheap) Len() int            { return len(h) }
func (h rqheap) Less(i, j int) bool  { return h[i].Vruntime < h[j].Vruntime }
func (h rqheap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *rqheap) Push(x interface{}) {
	r := x.(*Runnable)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *rqheap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// Runqueue_t is one CPU's ready queue.
type Runqueue_t struct {
	mu    sync.Mutex
	h     rqheap
	count int
}

// NewRunqueue returns an empty ready queue.
func NewRunqueue() *Runqueue_t {
	rq := &Runqueue_t{}
	heap.Init(&rq.h)
	return rq
}

// Insert adds a runnable task to the queue with the vruntime it already
// carries; it does not change r.Vruntime.
func (rq *Runqueue_t) Insert(r *Runnable) {
	rq.mu.Lock()
	heap.Push(&rq.h, r)
	rq.count++
	rq.mu.Unlock()
}

// PickNext removes and returns the leftmost (lowest-vruntime) runnable, or
// nil if the queue is empty — the CPU should run its idle task.
func (rq *Runqueue_t) PickNext() *Runnable {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.h.Len() == 0 {
		return nil
	}
	rq.count--
	return heap.Pop(&rq.h).(*Runnable)
}

// Len reports the number of runnable tasks queued, used by the
// least-loaded CPU-selection heuristic.
func (rq *Runqueue_t) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.h.Len()
}

// AccumVruntime folds a quantum of execution time into a task's vruntime,
// spec.md §4.7's "delta_exec * NICE_0_LOAD / weight(priority)".
func AccumVruntime(cur int64, deltaExecTicks int64, p Prio) int64 {
	return cur + deltaExecTicks*NiceZeroLoad/Weight(p)
}

// Loadpct_t is the cached least-loaded-CPU selection state spec.md §4.7
// describes: a guess recomputed every 100 ticks or when the previously
// chosen CPU's queue changes materially, rather than scanned fresh on
// every wakeup.
type Loadpct_t struct {
	mu         sync.Mutex
	lastTick   int64
	cached     int
	queueAtPin int
}

// Pick returns a CPU index from [0, ncpus) for a newly-runnable task,
// reusing the cached guess unless it is stale.
func (l *Loadpct_t) Pick(nowTick int64, ncpus int, loadOf func(cpu int) int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := nowTick-l.lastTick >= 100
	if !stale && l.cached < ncpus {
		if loadOf(l.cached) <= l.queueAtPin+1 {
			return l.cached
		}
		stale = true
	}
	best := 0
	bestLoad := loadOf(0)
	for i := 1; i < ncpus; i++ {
		if ld := loadOf(i); ld < bestLoad {
			best = i
			bestLoad = ld
		}
	}
	l.cached = best
	l.queueAtPin = bestLoad
	l.lastTick = nowTick
	return best
}
