// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euralios/kernel/internal/bootstrap"
	"github.com/euralios/kernel/pkg/rendezvous"
	"github.com/euralios/kernel/pkg/thread"
)

type memHandle []byte

func (m memHandle) AsBytes() []byte { return m }
func (m memHandle) Len() int        { return len(m) }

// fakeDispatcher plays the scheduler's part: NewRendezvous is real,
// Mount just records the call, and Exec spawns a goroutine that acts as
// the driver process would on its stdin endpoint — either the VGA
// driver's OPEN/WRITE handshake, or a plain driver that never speaks,
// depending on which binary is "run".
type fakeDispatcher struct {
	t         *testing.T
	nextTID   thread.TID
	mounted   []string
	vgaBinary string
}

func (f *fakeDispatcher) NewRendezvous() (*rendezvous.Endpoint, *rendezvous.Endpoint) {
	return rendezvous.NewPair()
}

func (f *fakeDispatcher) Mount(prefix string, ep *rendezvous.Endpoint) error {
	f.mounted = append(f.mounted, prefix)
	return nil
}

func (f *fakeDispatcher) Exec(elf []byte, permFlags uint8, stdin, stdout *rendezvous.Endpoint) (thread.TID, error) {
	f.nextTID++
	if string(elf) == f.vgaBinary {
		go f.runFakeVGADriver(stdin)
	}
	return f.nextTID, nil
}

// runFakeVGADriver answers the handshake bootstrap.Run drives against
// the VGA driver's own stdin endpoint: receive VIDEO_MEMORY, answer
// OPEN with a CommHandle, then observe the WRITE activation.
func (f *fakeDispatcher) runFakeVGADriver(vgaStdin *rendezvous.Endpoint) {
	msg, err := vgaStdin.Receive()
	if err != nil {
		return
	}
	if msg.Tag() != rendezvous.TagVideoMemory {
		f.t.Errorf("fake VGA driver: expected VIDEO_MEMORY, got tag %d", msg.Tag())
		return
	}

	req, err := vgaStdin.Receive()
	if err != nil || req.Tag() != rendezvous.TagOpen {
		f.t.Errorf("fake VGA driver: expected OPEN, got %+v err=%v", req, err)
		return
	}
	writer, _ := rendezvous.NewPair()
	_ = req.Reply.Send(rendezvous.NewLong(rendezvous.TagCommHandle,
		rendezvous.CommHandleData{Endpoint: writer}, rendezvous.ValueData(99)))

	activate, err := vgaStdin.Receive()
	if err != nil || activate.Tag() != rendezvous.TagWrite {
		f.t.Errorf("fake VGA driver: expected WRITE activation, got %+v err=%v", activate, err)
	}
}

func TestRunCompletesHandshakeAndMountsAllDrivers(t *testing.T) {
	const vgaBinary = "vga-driver-bytes"
	d := &fakeDispatcher{t: t, vgaBinary: vgaBinary}

	stdoutKernel, stdoutInit := rendezvous.NewPair()
	defer stdoutKernel.Close()

	cfg := bootstrap.Config{
		VGADriver: []byte(vgaBinary),
		Drivers: []bootstrap.Driver{
			{Path: "/pci", Binary: []byte("pci-driver"), Perm: 1},
			{Path: "/dev/nic", Binary: []byte("nic-driver"), Perm: 1},
			{Path: "/tcp", Binary: []byte("tcp-driver"), Perm: 0},
		},
	}

	go func() {
		_ = stdoutKernel.Send(rendezvous.NewLong(rendezvous.TagVideoMemory,
			rendezvous.ValueData(4096), rendezvous.MemoryHandleData{Handle: memHandle(make([]byte, 4096))}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	writerSys, err := bootstrap.Run(ctx, d, stdoutInit, cfg, logr.Discard())
	require.NoError(t, err)
	assert.NotNil(t, writerSys)

	assert.ElementsMatch(t, []string{"/pci", "/dev/nic", "/tcp"}, d.mounted)
}

func TestRunFailsWhenStdoutDoesNotCarryVideoMemory(t *testing.T) {
	d := &fakeDispatcher{t: t, vgaBinary: "vga"}

	stdoutKernel, stdoutInit := rendezvous.NewPair()
	defer stdoutKernel.Close()

	go func() {
		_ = stdoutKernel.Send(rendezvous.NewShort(rendezvous.TagWrite, 0, 0))
	}()

	_, err := bootstrap.Run(context.Background(), d, stdoutInit, bootstrap.Config{}, logr.Discard())
	assert.Error(t, err)
}
