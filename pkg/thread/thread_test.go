// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package thread_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/euralios/kernel/pkg/cpucontext"
	"github.com/euralios/kernel/pkg/thread"
)

func TestNewKernelThreadHasNoPageTable(t *testing.T) {
	th := thread.NewKernelThread(0x1000, 0x202)
	assert.Zero(t, th.PageTablePhysAddr())
	assert.Equal(t, uint64(0x1000), th.Context().RIP)
}

func TestNewUserThreadOwnsItsPageTable(t *testing.T) {
	th := thread.NewUserThread(0x400000, 0xabc000)
	assert.Equal(t, uint64(0xabc000), th.PageTablePhysAddr())
	assert.Equal(t, uint64(0x400000), th.Context().RIP)
}

func TestContextAddrIsDerivedFromKernelStackEnd(t *testing.T) {
	th := thread.NewKernelThread(0x1000, 0x202)
	want := th.KernelStackEnd() - cpucontext.InterruptContextSize
	assert.Equal(t, want, th.ContextAddr())
}

func TestKernelStackSizeInvariant(t *testing.T) {
	th := thread.NewKernelThread(0x1000, 0x202)
	assert.Equal(t, uint64(thread.KernelStackSize), th.KernelStackEnd()-th.KernelStackStart())
}

func TestDistinctThreadsGetDisjointStackRanges(t *testing.T) {
	a := thread.NewKernelThread(0x1000, 0x202)
	b := thread.NewKernelThread(0x2000, 0x202)
	assert.NotEqual(t, a.KernelStackStart(), b.KernelStackStart())
}

func TestSetTIDIsObservedByTID(t *testing.T) {
	th := thread.NewKernelThread(0x1000, 0x202)
	assert.Zero(t, th.TID())
	th.SetTID(42)
	assert.Equal(t, thread.TID(42), th.TID())
}

func TestSetPageTablePhysAddrUpdatesAccessor(t *testing.T) {
	th := thread.NewUserThread(0x400000, 0x1000)
	th.SetPageTablePhysAddr(0x2000)
	assert.Equal(t, uint64(0x2000), th.PageTablePhysAddr())
}

func TestStringReportsTIDAndStackBounds(t *testing.T) {
	th := thread.NewKernelThread(0x1000, 0x202)
	th.SetTID(7)
	s := th.String()
	assert.True(t, strings.Contains(s, "TID: 7"))
	assert.True(t, strings.Contains(s, "Kernel stack"))
}
