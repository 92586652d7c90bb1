// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package mount_test

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euralios/kernel/pkg/mount"
	"github.com/euralios/kernel/pkg/rendezvous"
)

func TestResolveReturnsNotFoundWhenNothingRegistered(t *testing.T) {
	tbl, err := mount.New(logr.Discard())
	require.NoError(t, err)
	defer tbl.Close()

	_, _, err = tbl.Resolve("/pci/0000:00:00.0")
	assert.ErrorIs(t, err, mount.ErrNotFound)
}

func TestResolveLongestPrefixWins(t *testing.T) {
	tbl, err := mount.New(logr.Discard())
	require.NoError(t, err)
	defer tbl.Close()

	root, _ := rendezvous.NewPair()
	nic, _ := rendezvous.NewPair()

	require.NoError(t, tbl.Register("/dev", root))
	require.NoError(t, tbl.Register("/dev/nic", nic))

	ep, rest, err := tbl.Resolve("/dev/nic/eth0")
	require.NoError(t, err)
	assert.Same(t, nic, ep)
	assert.Equal(t, "/eth0", rest)

	ep, rest, err = tbl.Resolve("/dev/other")
	require.NoError(t, err)
	assert.Same(t, root, ep)
	assert.Equal(t, "/other", rest)
}

func TestResolveTiesBreakByRegistrationOrder(t *testing.T) {
	tbl, err := mount.New(logr.Discard())
	require.NoError(t, err)
	defer tbl.Close()

	first, _ := rendezvous.NewPair()
	second, _ := rendezvous.NewPair()

	require.NoError(t, tbl.Register("/tcp", first))
	require.NoError(t, tbl.Register("/tcp", second))

	ep, _, err := tbl.Resolve("/tcp")
	require.NoError(t, err)
	assert.Same(t, first, ep)
}

func TestOpenRoundTripsOverRcall(t *testing.T) {
	tbl, err := mount.New(logr.Discard())
	require.NoError(t, err)
	defer tbl.Close()

	server, client := rendezvous.NewPair()
	require.NoError(t, tbl.Register("/pci", client))

	commA, commB := rendezvous.NewPair()
	go func() {
		req, err := server.Receive()
		require.NoError(t, err)
		require.Equal(t, rendezvous.TagOpen, req.Tag())
		require.NoError(t, req.Reply.Send(rendezvous.NewLong(rendezvous.TagCommHandle,
			rendezvous.CommHandleData{Endpoint: commA}, rendezvous.ValueData(0))))
	}()

	got, err := tbl.Open("/pci/0000:00:00.0", 1)
	require.NoError(t, err)
	assert.Same(t, commA, got)
	commB.Close()
}

func TestSubscribeReceivesRegisterEvents(t *testing.T) {
	tbl, err := mount.New(logr.Discard())
	require.NoError(t, err)
	defer tbl.Close()

	events := tbl.Subscribe()
	ep, _ := rendezvous.NewPair()
	require.NoError(t, tbl.Register("/pci", ep))

	select {
	case e := <-events:
		assert.Equal(t, "/pci", e.Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mount event")
	}
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	tbl, err := mount.New(logr.Discard())
	require.NoError(t, err)

	events := tbl.Subscribe()
	require.NoError(t, tbl.Close())

	_, ok := <-events
	assert.False(t, ok)
}
