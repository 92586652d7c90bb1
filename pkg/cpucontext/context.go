// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package cpucontext defines the saved register frame placed at the top
// of each kernel stack by the interrupt prologue, and the handful of
// segment-selector constants needed to prepare one for a thread that has
// never run yet.
package cpucontext

import "unsafe"

// Context is the architectural register frame the interrupt prologue
// pushes onto the current kernel stack before calling into the
// scheduler, in the order a real x86_64 entry stub would push them:
// general-purpose registers first, then the fixed interrupt frame
// (rip, cs, rflags, rsp, ss).
type Context struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	// Fixed interrupt frame, pushed by the CPU itself on a real
	// machine and restored by iret.
	RIP    uint64
	CS     uint64
	RFLAGS uint64
	RSP    uint64
	SS     uint64
}

// InterruptContextSize is the number of bytes a Context occupies at the
// top of a kernel stack. Thread construction subtracts this from
// kernelStackEnd to find the initial context address.
const InterruptContextSize = uint64(unsafe.Sizeof(Context{}))

// Segment selectors. KernelCodeSelector matches the GDT entry set up by
// the (out of scope) GDT initialization code; the user selectors are a
// matched code/data pair as returned by gdt::get_user_segments in the
// original kernel.
const (
	KernelCodeSelector uint64 = 0x08

	UserCodeSelector uint64 = 0x20 | 3 // ring 3, per the user code GDT slot
	UserDataSelector uint64 = 0x18 | 3 // ring 3, matched data slot
)

// UserRFLAGS is the flags value a freshly created user thread starts
// with: interrupts enabled, nothing else. Kernel threads instead capture
// the creating thread's live RFLAGS (interrupts already enabled, since
// new_kernel_thread only ever runs with interrupts on).
const UserRFLAGS uint64 = 0x0200

// NewKernelContext prepares the Context for a brand-new kernel thread:
// rip at the entry point, cs the kernel code selector, rflags whatever
// the caller observed (it must already have interrupts enabled, since a
// kernel thread that started with them masked could never be
// preempted), and rsp at the top of its own stack region.
func NewKernelContext(entry uintptr, rflags uint64, stackTop uint64) Context {
	return Context{
		RIP:    uint64(entry),
		CS:     KernelCodeSelector,
		RFLAGS: rflags,
		RSP:    stackTop,
	}
}

// NewUserContext prepares the Context for a brand-new user thread: rip
// at the ELF entry point, cs/ss the user segment selectors, rflags
// UserRFLAGS (interrupts enabled, nothing else), rsp at the top of the
// mapped user stack.
func NewUserContext(entry uintptr, stackTop uint64) Context {
	return Context{
		RIP:    uint64(entry),
		CS:     UserCodeSelector,
		SS:     UserDataSelector,
		RFLAGS: UserRFLAGS,
		RSP:    stackTop,
	}
}
