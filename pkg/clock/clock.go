// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package clock implements the monotonic microsecond clock: a
// never-decreasing counter derived from calibrating the Time Stamp
// Counter against Programmable Interval Timer interrupts (spec.md §4.1).
package clock

import (
	"sync/atomic"

	"github.com/euralios/kernel/pkg/hal"
)

// PITTicksPerInterrupt is P in spec.md §4.1: the PIT is programmed to
// interrupt every 65536 PIT subticks. Carried from
// original_source/kernel/src/time.rs's PIT_TICKS_PER_INTERRUPT so every
// caller shares one source of truth instead of re-deriving the magic
// number.
const PITTicksPerInterrupt uint64 = 65536

// scaledTSCRate is the fixed-point scale S used when dividing the TSC
// fragment before adding it to the PIT term, to avoid non-monotonic
// jitter in tscPerPIT perturbing long-interval results (spec.md §4.1).
const scaledTSCRate = 32

// Clock is a monotonic microsecond clock calibrated from PIT interrupts.
// The zero value, after a call to New, returns 0 until the first PIT
// interrupt has been observed (spec.md §7, §8).
type Clock struct {
	ts hal.TimeSource

	pitTicks  atomic.Uint64
	lastTSC   atomic.Uint64
	tscPerPIT atomic.Uint64
}

// New returns a Clock that samples ts for its TSC readings.
func New(ts hal.TimeSource) *Clock {
	return &Clock{ts: ts}
}

// NotifyPIT is called by the timer interrupt handler on every PIT
// interrupt. It must run with interrupts masked (it is itself inside the
// interrupt handler), so the three-step update in spec.md §4.1 is not
// re-entrant with itself.
func (c *Clock) NotifyPIT() {
	c.pitTicks.Add(PITTicksPerInterrupt)

	newTSC := c.ts.ReadTSC()
	lastTSC := c.lastTSC.Swap(newTSC)

	delta := newTSC - lastTSC
	newTSCPerPIT := delta / PITTicksPerInterrupt

	// Single-pole IIR: light smoothing between the instantaneous
	// estimate and the previous one.
	maTSCPerPIT := (newTSCPerPIT + c.tscPerPIT.Load()) / 2
	c.tscPerPIT.Store(maTSCPerPIT)
}

// MicrosecondsMonotonic returns the number of microseconds elapsed since
// the clock was created, guaranteed never to decrease across successive
// calls (spec.md §4.1, §8 invariant 1).
//
// Readers read pitTicks before lastTSC and lastTSC before sampling the
// TSC, so a concurrent PIT interrupt either shows up in both halves of
// the computation or neither — never a torn mix of the two (spec.md
// §4.1 condition iii).
func (c *Clock) MicrosecondsMonotonic() uint64 {
	pit := c.pitTicks.Load()
	lastTSC := c.lastTSC.Load()
	tscPerPIT := c.tscPerPIT.Load()

	// Before the first PIT interrupt (or in the pathological case where
	// the TSC hasn't advanced at all between two interrupts), clamp the
	// TSC fragment to 0 rather than divide by zero (spec.md §4.1, §7).
	var scaledTSC uint64
	if tscPerPIT != 0 {
		tsc := c.ts.ReadTSC() - lastTSC
		scaledTSC = (tsc * scaledTSCRate) / tscPerPIT
	}

	// One PIT subtick is 878807/2^20 microseconds, and 878807 = 437 *
	// 2011; the division is split in two to keep the intermediate
	// product below 2^64, and the scaled TSC fragment is added before
	// that split, per spec.md §4.1. The product (pit*32)*2011 overflows
	// 2^64 after about 2.87e14 PIT subticks (roughly 7.6 years of
	// uptime); that wrap is not handled.
	return ((((pit*scaledTSCRate + scaledTSC) * 2011) / 1024) * 437) / (1024 * scaledTSCRate)
}
