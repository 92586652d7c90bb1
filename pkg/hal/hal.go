// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package hal declares the boundary between the kernel core and the
// genuinely hardware-specific pieces of a real EuraliOS build: reading
// the Time Stamp Counter, building and switching page tables, and
// programming the interrupt stack table. These are assumed collaborators
// implemented elsewhere (real asm on real hardware, or a simulator for
// tests); nothing in this package touches a register.
package hal

// TimeSource reads the processor's Time Stamp Counter (RDTSC).
type TimeSource interface {
	ReadTSC() uint64
}

// PageFlags mirrors the x86_64 page table entry flags the kernel cares
// about when mapping user memory.
type PageFlags uint8

const (
	PagePresent PageFlags = 1 << iota
	PageWritable
	PageUserAccessible
)

// MemoryHandle is a capability naming a contiguous range of physical
// pages, mapped on demand into the recipient's address space and freed
// when dropped. AsBytes exposes the mapped region; real implementations
// back this with a page mapping, the simulator with a plain slice.
type MemoryHandle interface {
	AsBytes() []byte
	Len() int
}

// PageTableManager is the out-of-scope collaborator responsible for
// physical memory allocation and page table construction: create_kernel_only_pagetable,
// allocate_pages, switch_to_pagetable, active_pagetable_physaddr in
// spec.md §1.
type PageTableManager interface {
	// CreateKernelOnlyPageTable allocates a fresh PML4 populated with
	// only the kernel's upper half, returning an opaque handle usable
	// with AllocatePages and the table's physical address.
	CreateKernelOnlyPageTable() (table uintptr, physAddr uint64, err error)

	// AllocatePages maps [vaddr, vaddr+size) into table with the given
	// flags, backing the mapping with fresh physical frames.
	AllocatePages(table uintptr, vaddr uint64, size uint64, flags PageFlags) error

	// WritePage copies data into the physical page(s) backing vaddr in
	// table. Used to load ELF segment bytes into the new address space.
	WritePage(table uintptr, vaddr uint64, data []byte) error

	// SwitchToPageTable loads CR3 with physAddr. physAddr == 0 means
	// "the kernel-only identity table". ScheduleNext tests for 0 itself
	// and never passes it; the scheduler's scoped page-table switch does
	// pass 0 when restoring a previously active value of 0.
	SwitchToPageTable(physAddr uint64)

	// ActivePageTablePhysAddr returns the physical address currently
	// loaded in CR3.
	ActivePageTablePhysAddr() uint64
}

// Segment is one loadable ELF segment: a virtual address and the bytes
// to be copied there verbatim (spec.md §6).
type Segment struct {
	VAddr uint64
	Data  []byte
}

// ELFParser is the out-of-scope collaborator responsible for parsing
// ELF object files (spec.md §1: "The ELF parser"), standing in for the
// `object` crate used by the original kernel. NewUserThread checks the
// raw magic bytes itself (spec.md §4.3 step (a)) and only reaches this
// interface once that check passes.
type ELFParser interface {
	// Parse returns the entry point and the file's loadable segments.
	Parse(elf []byte) (entry uint64, segments []Segment, err error)
}

// InterruptController is the out-of-scope collaborator responsible for
// GDT/IDT setup, here reduced to the one operation the scheduler needs:
// pointing the timer vector's IST entry at a thread's kernel stack.
type InterruptController interface {
	SetInterruptStackTable(vector int, top uint64)
}
