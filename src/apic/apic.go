// Package apic models the per-CPU local APIC operations spec.md §4.7/§4.8
// name directly: timer initialization at a fixed tick rate, IPI send, and
// end-of-interrupt. On real hardware these are MMIO register writes; this
// hosted kernel has no MMIO window, so each operation is expressed in
// terms of the hal.CPU primitives that already stand in for the
// corresponding privileged instruction.
package apic

import (
	"time"

	"hal"
)

// TimerHz is the LAPIC timer rate spec.md §4.7 requires:
// lapic_timer_init(15000) — 1/15000s period.
const TimerHz = 15000

// TickPeriod is the wall-clock period corresponding to TimerHz.
const TickPeriod = time.Second / TimerHz

// Timer_t drives a CPU's periodic timer tick by calling fire on every
// period until Stop is called.
type Timer_t struct {
	stop chan struct{}
}

// LapicTimerInit starts a ticker on cpu that invokes fire once per
// TickPeriod, standing in for programming the LAPIC timer register and
// arming LAPIC vector 32.
func LapicTimerInit(cpu *hal.CPU, fire func()) *Timer_t {
	t := &Timer_t{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(TickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fire()
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

// Stop halts the timer goroutine.
func (t *Timer_t) Stop() {
	close(t.stop)
}

// SendIPI delivers vector to dst, standing in for a LAPIC ICR write
// targeting dst's APIC id.
func SendIPI(dst *hal.CPU, vector int) {
	dst.SendIPI(vector)
}

// EOI signals end-of-interrupt on cpu.
func EOI(cpu *hal.CPU) {
	cpu.EOI()
}
