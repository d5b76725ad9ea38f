// Package smp brings up and tears down the simulated application
// processors (spec.md §4.8) and implements TLB shootdown: a single-holder
// lock guarding one globally visible {addr, pending_mask}, exactly as
// spec.md describes, except the "IPI" is hal.CPU's channel-based SendIPI
// rather than a real LAPIC write.
package smp

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"hal"
	"mem"
	"proc"
	"sched"
	"vm"
)

// TLBVector is the fixed IPI vector TLB shootdown broadcasts on.
const TLBVector = 0xfe

var (
	cpus    []*hal.CPU
	runqs   []*sched.Runqueue_t
	loadpct sched.Loadpct_t

	shootMu      sync.Mutex
	shootAddr    uintptr
	shootPending map[int]bool
)

// Init brings up n simulated CPUs (the BSP plus n-1 APs), spec.md §4.8's
// bring-up sequence collapsed to "allocate a hal.CPU and a run queue per
// core" since there is no real trampoline page or GDT/IDT to load in a
// hosted kernel.
func Init(n int) {
	cpus = make([]*hal.CPU, n)
	runqs = make([]*sched.Runqueue_t, n)
	for i := 0; i < n; i++ {
		cpus[i] = hal.NewCPU(i)
		runqs[i] = sched.NewRunqueue()
	}
	vm.ShootdownFunc = Shootdown
}

// NCPU reports how many CPUs Init brought up.
func NCPU() int { return len(cpus) }

// CPU returns the i'th CPU descriptor.
func CPU(i int) *hal.CPU { return cpus[i] }

// Runqueue returns the i'th CPU's ready queue.
func Runqueue(i int) *sched.Runqueue_t { return runqs[i] }

// PickCPU chooses a CPU for a newly runnable task using the cached
// least-loaded heuristic (spec.md §4.7).
func PickCPU(nowTick int64) int {
	return loadpct.Pick(nowTick, len(cpus), func(i int) int { return runqs[i].Len() })
}

// Spawn starts t on the CPU PickCPU chooses, inserting it into that CPU's
// run queue and launching its trampoline goroutine.
func Spawn(t *proc.Task_t, nowTick int64) {
	idx := PickCPU(nowTick)
	t.CPU = cpus[idx]
	runqs[idx].Insert(&sched.Runnable{Vruntime: t.Vruntime, Prio: t.Prio, Handle: t})
	t.Start()
}

// HaltAll stops every simulated CPU's participation in scheduling — the
// path both a catastrophic panic and the reboot syscall (SPEC_FULL.md §4)
// share. It runs one errgroup goroutine per CPU with no concurrency
// limit and returns the first error; halting a CPU cannot fail here, so
// the result is always nil.
func HaltAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range cpus {
		i := i
		g.Go(func() error {
			cpus[i].Cli()
			return nil
		})
	}
	return g.Wait()
}

// Shootdown invalidates pgcount pages starting at startva in every other
// CPU's TLB whose current task's page directory is pmap. This is
// spec.md §4.8's initiator half; PollShootdown below is the handler half
// each CPU's simulated interrupt-handling loop calls.
func Shootdown(pmap mem.Pa_t, startva uintptr, pgcount int) {
	shootMu.Lock()
	shootAddr = startva
	shootPending = map[int]bool{}
	for i, c := range cpus {
		cur := c.Current
		if t, ok := cur.(*proc.Task_t); ok && t != nil && t.Mem != nil && t.Mem.Vm.P_pmap == pmap {
			shootPending[i] = true
			c.SendIPI(TLBVector)
		}
	}
	for {
		done := true
		for range shootPending {
			done = false
			break
		}
		if done {
			break
		}
		shootMu.Unlock()
		PollShootdownAll()
		shootMu.Lock()
	}
	shootMu.Unlock()
}

// PollShootdownAll drains every CPU's pending TLB shootdown IPI, standing
// in for each CPU's own interrupt-handling loop noticing the IPI and
// invalidating locally. Hosted simulation has no per-CPU TLB to flush, so
// this only clears bookkeeping and EOIs.
func PollShootdownAll() {
	for i, c := range cpus {
		if v, ok := c.PollIPI(); ok && v == TLBVector {
			c.Invlpg(shootAddr)
			shootMu.Lock()
			delete(shootPending, i)
			shootMu.Unlock()
			c.EOI()
		}
	}
}
