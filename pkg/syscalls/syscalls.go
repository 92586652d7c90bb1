// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package syscalls implements the kernel's syscall/message dispatcher
// (spec.md §4.5): the surface user threads call into to open files,
// spawn processes, create rendezvous pairs, register mounts, and send
// or receive messages.
package syscalls

import (
	kerrors "github.com/euralios/kernel/pkg/errors"
	"github.com/euralios/kernel/pkg/mount"
	"github.com/euralios/kernel/pkg/rendezvous"
	"github.com/euralios/kernel/pkg/scheduler"
	"github.com/euralios/kernel/pkg/thread"
)

// Sentinel errors returned across the syscall boundary (spec.md §6, §7).
var (
	ErrInvalidParam     = kerrors.New("syscalls: invalid parameter")
	ErrNotFound         = mount.ErrNotFound
	ErrPermissionDenied = kerrors.New("syscalls: permission denied")
	ErrChannelClosed    = rendezvous.ErrChannelClosed
	ErrBadElf           = scheduler.ErrBadElf
)

// Open flag bits (spec.md §6).
const (
	OpenRead     uint8 = 1 << 0
	OpenWrite    uint8 = 1 << 1
	OpenCreate   uint8 = 1 << 2
	OpenTruncate uint8 = 1 << 3
)

// Exec permission bits (spec.md §6).
const (
	ExecPermIO uint8 = 1 << 0
)

// Dispatcher bundles the scheduler and mount table and exposes the
// syscall surface a user thread, or init on its behalf, calls into.
type Dispatcher struct {
	sched  *scheduler.Scheduler
	mounts *mount.Table
}

// New constructs a Dispatcher over an existing scheduler and mount
// table.
func New(sched *scheduler.Scheduler, mounts *mount.Table) *Dispatcher {
	return &Dispatcher{sched: sched, mounts: mounts}
}

// Open resolves path through the mount table and performs the OPEN
// rcall against whichever driver serves it (spec.md §4.6).
func (d *Dispatcher) Open(path string, flags uint8) (*rendezvous.Endpoint, error) {
	if path == "" {
		return nil, ErrInvalidParam
	}
	return d.mounts.Open(path, uint64(flags))
}

// Exec parses and validates elf and builds a fresh user thread for it.
// permFlags grants hardware port I/O access (EXEC_PERM_IO); it has no
// bearing on whether the caller may also hand the new thread stdin/
// stdout endpoints — init's /tcp driver, for instance, gets a stdout
// for logging but no I/O permission (spec.md §4.8, init/src/main.rs).
// EuraliOS has no argv/environment convention beyond whatever handshake
// the driver performs over those endpoints itself.
func (d *Dispatcher) Exec(elf []byte, permFlags uint8, stdin, stdout *rendezvous.Endpoint) (thread.TID, error) {
	return d.sched.NewUserThread(elf)
}

// NewRendezvous allocates a fresh rendezvous pair (spec.md §4.5).
func (d *Dispatcher) NewRendezvous() (*rendezvous.Endpoint, *rendezvous.Endpoint) {
	return rendezvous.NewPair()
}

// Mount registers ep as the handler for every path beginning with
// prefix (spec.md §4.6).
func (d *Dispatcher) Mount(prefix string, ep *rendezvous.Endpoint) error {
	if prefix == "" {
		return ErrInvalidParam
	}
	return d.mounts.Register(prefix, ep)
}

// Send is a thin pass-through to rendezvous.Endpoint.Send (spec.md §4.4).
func (d *Dispatcher) Send(ep *rendezvous.Endpoint, msg rendezvous.Message) error {
	return ep.Send(msg)
}

// Receive is a thin pass-through to rendezvous.Endpoint.Receive.
func (d *Dispatcher) Receive(ep *rendezvous.Endpoint) (rendezvous.Message, error) {
	return ep.Receive()
}

// Rcall is a thin pass-through to rendezvous.Rcall.
func (d *Dispatcher) Rcall(ep *rendezvous.Endpoint, tag uint64, v1, v2 rendezvous.MessageData) (uint64, rendezvous.MessageData, rendezvous.MessageData, error) {
	return rendezvous.Rcall(ep, tag, v1, v2, nil)
}
