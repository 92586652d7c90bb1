// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package scheduler implements the preemptive round-robin thread
// scheduler (spec.md §4.3): the runnable queue, the currently running
// thread, and thread creation.
package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"k8s.io/client-go/util/workqueue"

	kerrors "github.com/euralios/kernel/pkg/errors"
	"github.com/euralios/kernel/pkg/hal"
	"github.com/euralios/kernel/pkg/thread"
)

// ErrBadElf is returned by NewUserThread when the binary fails the
// magic-byte check, segment parsing fails, or a segment would overlap
// kernel memory (spec.md §7, §9).
var ErrBadElf = kerrors.New("scheduler: bad ELF binary")

// elfMagic is the first four bytes every valid ELF64 object starts with
// (spec.md §6).
var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// KernelHalfStart is the lowest virtual address belonging to the
// kernel's upper half. NewUserThread rejects any ELF segment whose
// range intersects [KernelHalfStart, ^uint64(0)], closing the FIXME
// flagged in spec.md §9 ("no check against overlapping kernel memory").
const KernelHalfStart uint64 = 0xffff_8000_0000_0000

// runnerFlags is the RFLAGS value assumed for a thread's creator: a
// portable Go program has no pushf instruction to sample live flags
// with (spec.md §4.2's "rflags captured from the caller"), so this
// approximates "interrupts enabled, nothing else set" — the only bit
// that matters at this level of abstraction, and the same value a user
// thread starts with.
const runnerFlags = 0x0200

// Scheduler owns the runnable queue and the currently running thread
// (spec.md §3's "Runnable queue").
type Scheduler struct {
	// mu stands in for "interrupts masked": every queue mutation
	// outside ScheduleNext takes this lock for its entire critical
	// section, per spec.md §5; ScheduleNext itself is assumed to run
	// with interrupts already disabled, as the timer interrupt handler.
	mu sync.Mutex

	queue   workqueue.TypedInterface[thread.TID]
	threads map[thread.TID]*thread.Thread
	current *thread.Thread

	nextTID atomic.Uint64

	ptm    hal.PageTableManager
	elf    hal.ELFParser
	ic     hal.InterruptController
	logger logr.Logger
}

// TimerVector is the interrupt vector the scheduler programs the IST
// entry for on every switch (spec.md §4.3 step 3).
const TimerVector = 0x20

// New constructs a Scheduler backed by the given hardware collaborators.
func New(ptm hal.PageTableManager, elf hal.ELFParser, ic hal.InterruptController, logger logr.Logger) *Scheduler {
	s := &Scheduler{
		queue:   workqueue.NewTyped[thread.TID](),
		threads: make(map[thread.TID]*thread.Thread),
		ptm:     ptm,
		elf:     elf,
		ic:      ic,
		logger:  logger.WithName("scheduler"),
	}
	s.nextTID.Store(1)
	return s
}

// enqueue assigns t a fresh TID and pushes it to the tail of the
// runnable queue, with "interrupts masked" for the whole operation
// (spec.md §4.3, §9: TID allocation happens here, not in the thread
// constructors).
func (s *Scheduler) enqueue(t *thread.Thread) thread.TID {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := thread.TID(s.nextTID.Add(1) - 1)
	t.SetTID(tid)
	s.threads[tid] = t
	s.queue.Add(tid)
	return tid
}

// NewKernelThread allocates a kernel thread with no page table of its
// own and enqueues it (spec.md §4.3).
func (s *Scheduler) NewKernelThread(entry uintptr) thread.TID {
	t := thread.NewKernelThread(entry, runnerFlags)
	tid := s.enqueue(t)
	s.logger.V(1).Info("new kernel thread", "tid", tid)
	return tid
}

// NewUserThread parses elf, builds a fresh address space for it, copies
// every loadable segment in, maps its stack, and enqueues it (spec.md
// §4.3). The caller's active page table is temporarily switched to the
// new process's table while segments are copied in, and is always
// restored before returning — including on every error path — via
// withActivePageTable (see pagetable.go).
func (s *Scheduler) NewUserThread(elf []byte) (thread.TID, error) {
	if len(elf) < 4 || [4]byte(elf[0:4]) != elfMagic {
		return 0, ErrBadElf
	}

	entry, segments, err := s.elf.Parse(elf)
	if err != nil {
		return 0, ErrBadElf
	}

	table, physAddr, err := s.ptm.CreateKernelOnlyPageTable()
	if err != nil {
		return 0, ErrBadElf
	}

	var tid thread.TID
	err = s.withActivePageTable(physAddr, func() error {
		for _, seg := range segments {
			if overlapsKernelHalf(seg.VAddr, uint64(len(seg.Data))) {
				return ErrBadElf
			}
			if err := s.ptm.AllocatePages(table, seg.VAddr, uint64(len(seg.Data)),
				hal.PagePresent|hal.PageWritable|hal.PageUserAccessible); err != nil {
				return ErrBadElf
			}
			if err := s.ptm.WritePage(table, seg.VAddr, seg.Data); err != nil {
				return ErrBadElf
			}
		}

		if err := s.ptm.AllocatePages(table, thread.UserStackStart, thread.UserStackSize,
			hal.PagePresent|hal.PageWritable|hal.PageUserAccessible); err != nil {
			return ErrBadElf
		}

		t := thread.NewUserThread(uintptr(entry), physAddr)
		tid = s.enqueue(t)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.V(1).Info("new user thread", "tid", tid, "entry", entry)
	return tid, nil
}

// overlapsKernelHalf reports whether [vaddr, vaddr+size) intersects the
// kernel's upper half, closing the overlap-check FIXME named in spec.md
// §9.
func overlapsKernelHalf(vaddr, size uint64) bool {
	if size == 0 {
		return false
	}
	end := vaddr + size // segments are small; documented wrap is not a concern here
	return end > KernelHalfStart
}

// ScheduleNext is invoked from the timer interrupt handler after the
// prologue has pushed a Context onto the current kernel stack, at
// address ctxAddr. It implements the five steps of spec.md §4.3, except
// that step 1 does not store ctxAddr (see below) and records the active
// page table only for a thread that already owns one. It returns 0 when the runnable queue is empty (the caller should reuse
// the existing context, i.e. keep running the same thread).
func (s *Scheduler) ScheduleNext(ctxAddr uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		// Step 1: park the current thread at the tail of the queue. Only
		// a user thread owns a page table to remember; a kernel thread's
		// pageTablePhysAddr stays 0 ("no switch needed"), so preempting
		// one never leaves it holding a stale CR3 value from whatever
		// user thread happened to be active at the time.
		if s.current.PageTablePhysAddr() != 0 {
			s.current.SetPageTablePhysAddr(s.ptm.ActivePageTablePhysAddr())
		}
		s.queue.Add(s.current.TID())
		s.current = nil
	}

	// workqueue.Get() blocks on an internal condition variable until an
	// item is added or the queue is shut down; nothing here ever calls
	// ShutDown, so it must never be called against an empty queue. Guard
	// with Len() to preserve "return 0 when idle" (spec.md §4.3 step 2)
	// instead of hanging while holding s.mu.
	if s.queue.Len() == 0 {
		return 0
	}

	tid, shutdown := s.queue.Get()
	if shutdown {
		return 0
	}
	next, ok := s.threads[tid]
	if !ok {
		// Queue held a TID for a thread that no longer exists; nothing
		// runnable after all.
		s.queue.Done(tid)
		return 0
	}
	s.queue.Done(tid)

	// Step 2: the popped thread becomes current.
	s.current = next

	// ctxAddr is not stored. A thread's context address is always
	// derived as kernelStackEnd - InterruptContextSize (Thread.ContextAddr);
	// a context pushed at any other address is not tracked. ctxAddr is
	// accepted as a parameter only to mirror the real interrupt handler's
	// call signature.
	_ = ctxAddr

	// Step 3: program the IST entry for the timer vector.
	s.ic.SetInterruptStackTable(TimerVector, s.current.KernelStackEnd())

	// Step 4: switch page tables unless this is a kernel thread.
	if physAddr := s.current.PageTablePhysAddr(); physAddr != 0 {
		s.ptm.SwitchToPageTable(physAddr)
	}

	// Step 5: return the address the interrupt epilogue restores from.
	return s.current.ContextAddr()
}

// Current returns the currently running thread, or nil if the scheduler
// is idle.
func (s *Scheduler) Current() *thread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Len reports the number of threads waiting in the runnable queue (not
// counting the current thread), for tests and diagnostics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Thread looks up a thread by TID, for tests and diagnostics.
func (s *Scheduler) Thread(tid thread.TID) (*thread.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	return t, ok
}
