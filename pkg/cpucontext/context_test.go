// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package cpucontext_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/euralios/kernel/pkg/cpucontext"
)

func TestNewKernelContextSetsSegmentAndFlags(t *testing.T) {
	ctx := cpucontext.NewKernelContext(0x1000, 0x202, 0x7fff0000)

	assert.Equal(t, uint64(0x1000), ctx.RIP)
	assert.Equal(t, cpucontext.KernelCodeSelector, ctx.CS)
	assert.Equal(t, uint64(0x202), ctx.RFLAGS)
	assert.Equal(t, uint64(0x7fff0000), ctx.RSP)
	assert.Zero(t, ctx.SS)
}

func TestNewUserContextSetsUserSegmentsAndFlags(t *testing.T) {
	ctx := cpucontext.NewUserContext(0x400000, 0x05200000+20*1024)

	assert.Equal(t, uint64(0x400000), ctx.RIP)
	assert.Equal(t, cpucontext.UserCodeSelector, ctx.CS)
	assert.Equal(t, cpucontext.UserDataSelector, ctx.SS)
	assert.Equal(t, cpucontext.UserRFLAGS, ctx.RFLAGS)
}

func TestUserSelectorsCarryRingThreeBits(t *testing.T) {
	assert.Equal(t, uint64(3), cpucontext.UserCodeSelector&0x3)
	assert.Equal(t, uint64(3), cpucontext.UserDataSelector&0x3)
	assert.Zero(t, cpucontext.KernelCodeSelector&0x3)
}

func TestInterruptContextSizeIsPositiveAndStable(t *testing.T) {
	// 15 general-purpose registers + 5 fixed interrupt-frame fields,
	// each a uint64.
	assert.Equal(t, uint64(20*8), cpucontext.InterruptContextSize)
}
