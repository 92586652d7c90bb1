// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package simulated provides an in-process, deterministic implementation
// of pkg/hal, used by the clock, scheduler and syscalls tests and by demo entrypoints
// that have no real x86_64 hardware underneath them. It stands in for
// the asm RDTSC instruction, page table construction, and the IST,
// exactly the collaborators spec.md §1 declares external.
package simulated

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/euralios/kernel/pkg/hal"
)

// TSC is a software Time Stamp Counter: a free-running counter advanced
// explicitly by test code (Advance) rather than by real cycles, so clock
// arithmetic can be exercised deterministically.
type TSC struct {
	counter atomic.Uint64
}

func NewTSC() *TSC { return &TSC{} }

func (t *TSC) ReadTSC() uint64 { return t.counter.Load() }

// Advance moves the counter forward by delta ticks, as if delta cycles
// had elapsed, and returns the new value.
func (t *TSC) Advance(delta uint64) uint64 {
	return t.counter.Add(delta)
}

// memoryHandle is the simulator's MemoryHandle: an owned byte slice.
type memoryHandle struct {
	data []byte
}

func (m *memoryHandle) AsBytes() []byte { return m.data }
func (m *memoryHandle) Len() int        { return len(m.data) }

// NewMemoryHandle wraps buf as a hal.MemoryHandle without copying.
func NewMemoryHandle(buf []byte) *memoryHandle {
	return &memoryHandle{data: buf}
}

// PageTables is a toy page table manager: each "page table" is a plain
// map from virtual address to byte, physical addresses are sequentially
// assigned integers starting at 1 (0 stays reserved for "no page
// table" per spec.md §3), and there is no real address translation.
// It exists so the scheduler's page-table discipline (new_user_thread's
// temporary switch, schedule_next's save/restore) can be exercised and
// asserted on without real paging hardware.
type PageTables struct {
	mu        sync.Mutex
	nextPhys  uint64
	active    uint64
	tables    map[uintptr]map[uint64]byte
	tableAddr map[uintptr]uint64
}

func NewPageTables() *PageTables {
	return &PageTables{
		nextPhys:  1,
		tables:    make(map[uintptr]map[uint64]byte),
		tableAddr: make(map[uintptr]uint64),
	}
}

func (p *PageTables) CreateKernelOnlyPageTable() (uintptr, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	phys := p.nextPhys
	p.nextPhys++
	table := uintptr(phys) << 32 // stable, collision-free fake pointer
	p.tables[table] = make(map[uint64]byte)
	p.tableAddr[table] = phys
	return table, phys, nil
}

func (p *PageTables) AllocatePages(table uintptr, vaddr uint64, size uint64, flags hal.PageFlags) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.tables[table]
	if !ok {
		return fmt.Errorf("simulated: unknown page table %#x", table)
	}
	for i := uint64(0); i < size; i++ {
		if _, exists := m[vaddr+i]; exists {
			continue
		}
		m[vaddr+i] = 0
	}
	return nil
}

func (p *PageTables) WritePage(table uintptr, vaddr uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.tables[table]
	if !ok {
		return fmt.Errorf("simulated: unknown page table %#x", table)
	}
	for i, b := range data {
		addr := vaddr + uint64(i)
		if _, mapped := m[addr]; !mapped {
			return fmt.Errorf("simulated: write to unmapped address %#x", addr)
		}
		m[addr] = b
	}
	return nil
}

func (p *PageTables) SwitchToPageTable(physAddr uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = physAddr
}

func (p *PageTables) ActivePageTablePhysAddr() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// ReadByte is a test helper exposing the simulated address space so
// assertions can check that ELF bytes landed where expected.
func (p *PageTables) ReadByte(table uintptr, vaddr uint64) (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.tables[table]
	if !ok {
		return 0, false
	}
	b, mapped := m[vaddr]
	return b, mapped
}

// IsMapped reports whether every address in [vaddr, vaddr+size) has been
// allocated in table.
func (p *PageTables) IsMapped(table uintptr, vaddr, size uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.tables[table]
	if !ok {
		return false
	}
	for i := uint64(0); i < size; i++ {
		if _, exists := m[vaddr+i]; !exists {
			return false
		}
	}
	return true
}

// InterruptTable records the last kernel stack top programmed for each
// interrupt vector.
type InterruptTable struct {
	mu  sync.Mutex
	ist map[int]uint64
}

func NewInterruptTable() *InterruptTable {
	return &InterruptTable{ist: make(map[int]uint64)}
}

func (i *InterruptTable) SetInterruptStackTable(vector int, top uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ist[vector] = top
}

func (i *InterruptTable) Get(vector int) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ist[vector]
}
