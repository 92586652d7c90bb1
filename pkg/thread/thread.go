// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package thread defines the per-thread control block: kernel stack,
// user stack, saved context, and page table ownership.
package thread

import (
	"fmt"
	"sync/atomic"

	"github.com/euralios/kernel/pkg/cpucontext"
)

// Sizes from spec.md §3/§6: an 8 KiB kernel stack, a 20 KiB working
// stack (heap-owned for kernel threads, mapped at a fixed user address
// for user threads).
const (
	KernelStackSize = 8 * 1024
	UserStackSize   = 20 * 1024

	// UserStackStart is the fixed virtual address EuraliOS maps every
	// user thread's stack at, growing downward from UserStackStart+UserStackSize.
	UserStackStart uint64 = 0x0520_0000
)

// TID is a thread identifier, unique for the process lifetime. 0 means
// "unassigned"; real TIDs are handed out by the scheduler at enqueue
// time (see pkg/scheduler), never by New*.
type TID uint64

// nextStackBase hands out disjoint pretend virtual addresses for each
// new thread's kernel/user stacks. A portable Go program has no
// byte-addressable control over where its heap allocations land, so
// this stands in for the real kernel's VirtAddr::from_ptr(...): it
// gives every thread a distinct, monotonically assigned address range
// to report in String() and to check invariants against in tests,
// without claiming any real memory-layout guarantee.
var nextStackBase atomic.Uint64

func init() {
	nextStackBase.Store(0xffff_8000_0000_0000)
}

func allocateStackBase(size int) uint64 {
	if size == 0 {
		return 0
	}
	return nextStackBase.Add(uint64(size)) - uint64(size)
}

// Thread is the kernel's per-thread control block (spec.md §3).
type Thread struct {
	tid TID

	kernelStack    []byte
	kernelStackEnd uint64

	// context is the saved register frame. Its address (ContextAddr)
	// is always kernelStackEnd - InterruptContextSize: it is recomputed
	// from that invariant rather than cached, so there is never a
	// separately-stored pointer that could drift from the stack it
	// names.
	context cpucontext.Context

	userStack     []byte
	userStackAddr uint64

	// pageTablePhysAddr is 0 for a kernel thread ("do not switch page
	// tables") and the PML4 physical address for a user thread.
	pageTablePhysAddr uint64
}

// NewKernelThread builds the control block for a kernel thread: no page
// table of its own, a heap-owned user stack used as its working stack,
// with rip set to entry and rflags captured from the caller (who must
// have interrupts enabled already, per spec.md §4.2).
func NewKernelThread(entry uintptr, rflags uint64) *Thread {
	kernelStack := make([]byte, KernelStackSize)
	kernelStackStart := allocateStackBase(KernelStackSize)

	userStack := make([]byte, UserStackSize)
	userStackAddr := allocateStackBase(UserStackSize)

	t := &Thread{
		kernelStack:    kernelStack,
		kernelStackEnd: kernelStackStart + KernelStackSize,
		userStack:      userStack,
		userStackAddr:  userStackAddr,
	}
	t.context = cpucontext.NewKernelContext(entry, rflags, userStackAddr+UserStackSize)
	return t
}

// NewUserThread builds the control block for a user thread: an empty
// placeholder user stack (the real stack is mapped into the process's
// own page table by the caller, at UserStackStart), and a non-zero
// pageTablePhysAddr naming that page table.
func NewUserThread(entry uintptr, pageTablePhysAddr uint64) *Thread {
	kernelStack := make([]byte, KernelStackSize)
	kernelStackStart := allocateStackBase(KernelStackSize)

	t := &Thread{
		kernelStack:       kernelStack,
		kernelStackEnd:    kernelStackStart + KernelStackSize,
		pageTablePhysAddr: pageTablePhysAddr,
	}
	t.context = cpucontext.NewUserContext(entry, UserStackStart+UserStackSize)
	return t
}

// TID returns the thread's identifier, or 0 if it has not yet been
// enqueued by the scheduler.
func (t *Thread) TID() TID { return t.tid }

// SetTID is called exactly once, by the scheduler, at enqueue time.
func (t *Thread) SetTID(tid TID) { t.tid = tid }

// KernelStackEnd returns the (one-past-the-last-byte) address of the
// kernel stack.
func (t *Thread) KernelStackEnd() uint64 { return t.kernelStackEnd }

// KernelStackStart returns the address of the first byte of the kernel
// stack.
func (t *Thread) KernelStackStart() uint64 {
	return t.kernelStackEnd - KernelStackSize
}

// ContextAddr returns the address within the kernel stack at which the
// saved Context currently lives: kernelStackEnd - InterruptContextSize,
// per spec.md §3's invariant. It is derived, never stored.
func (t *Thread) ContextAddr() uint64 {
	return t.kernelStackEnd - cpucontext.InterruptContextSize
}

// Context returns a pointer to the thread's saved register frame.
func (t *Thread) Context() *cpucontext.Context { return &t.context }

// PageTablePhysAddr returns 0 for a kernel thread, or the PML4 physical
// address owned by this (user) thread.
func (t *Thread) PageTablePhysAddr() uint64 { return t.pageTablePhysAddr }

// SetPageTablePhysAddr records the page table active when this thread
// was last preempted, so schedule_next can restore it on the next
// switch. Called only by the scheduler.
func (t *Thread) SetPageTablePhysAddr(physAddr uint64) { t.pageTablePhysAddr = physAddr }

// String renders a multi-line report of this thread's state, in the
// spirit of the original kernel's Display impl for Thread.
func (t *Thread) String() string {
	ctx := t.Context()
	return fmt.Sprintf(
		"TID: %d, rip: %#016x\n"+
			"    Kernel stack: %#016x - %#016x Context: %#016x\n"+
			"    User stack: %d bytes RSP: %#016x",
		t.tid, ctx.RIP,
		t.KernelStackStart(), t.kernelStackEnd, t.ContextAddr(),
		len(t.userStack), ctx.RSP)
}
