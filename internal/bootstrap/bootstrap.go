// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bootstrap implements init's bring-up sequence (spec.md §4.8):
// the VIDEO_MEMORY handshake, spawning the VGA driver, opening a system
// writer, and mounting the standard driver manifest. It is factored out
// of cmd/init so the sequencing can be unit-tested against a fake
// Dispatcher.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	kerrors "github.com/euralios/kernel/pkg/errors"
	"github.com/euralios/kernel/pkg/rendezvous"
	"github.com/euralios/kernel/pkg/syscalls"
	"github.com/euralios/kernel/pkg/thread"
)

// Dispatcher is the subset of *syscalls.Dispatcher bootstrap needs,
// narrowed to an interface so the bring-up sequence can be driven
// against a fake driver in tests instead of a real scheduler.
type Dispatcher interface {
	NewRendezvous() (*rendezvous.Endpoint, *rendezvous.Endpoint)
	Exec(elf []byte, permFlags uint8, stdin, stdout *rendezvous.Endpoint) (thread.TID, error)
	Mount(prefix string, ep *rendezvous.Endpoint) error
}

// Driver names one entry of the default driver manifest: a path to
// mount it at, its compiled binary, and its exec permission flags
// (supplemented verbatim from init/src/main.rs's literal mount list).
type Driver struct {
	Path   string
	Binary []byte
	Perm   uint8
}

// Config bundles everything bootstrap needs that isn't itself a kernel
// primitive: driver binary bytes and the manifest to mount them with.
// Binaries are injected here, rather than compiled in with
// include_bytes!, because loading bytes from disk or a Go embed.FS is
// ordinary I/O outside this spec's scope (spec.md §1), not a kernel
// operation.
type Config struct {
	VGADriver []byte
	Drivers   []Driver
}

// DefaultDrivers returns the standard driver manifest from
// init/src/main.rs: /pci and /dev/nic with I/O permission, /tcp
// without it. Binaries must be filled in by the caller.
func DefaultDrivers() []Driver {
	return []Driver{
		{Path: "/pci", Perm: syscalls.ExecPermIO},
		{Path: "/dev/nic", Perm: syscalls.ExecPermIO},
		{Path: "/tcp", Perm: 0},
	}
}

// Run executes the bring-up sequence against stdout (the endpoint the
// kernel delivers VIDEO_MEMORY on) and returns the system writer
// endpoint once every driver in cfg.Drivers has been started and
// mounted. Every failure is treated as fatal per spec.md §7 ("any
// failure to spawn a driver process... is treated as a fatal
// kernel error"), surfaced to the caller as an error so cmd/init can log
// and panic, rather than panicking from inside this package.
func Run(ctx context.Context, d Dispatcher, stdout *rendezvous.Endpoint, cfg Config, logger logr.Logger) (*rendezvous.Endpoint, error) {
	logger = logger.WithName("bootstrap")
	logger.Info("starting")

	vmemLength, vmemHandle, err := receiveVideoMemory(stdout)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: video memory handshake: %w", err)
	}

	vgaCom, vgaCom2 := d.NewRendezvous()
	vgaCom2Clone := vgaCom2.Clone()
	if _, err := d.Exec(cfg.VGADriver, syscalls.ExecPermIO, vgaCom2Clone, vgaCom2); err != nil {
		return nil, fmt.Errorf("bootstrap: starting VGA driver: %w", err)
	}

	if err := vgaCom.Send(rendezvous.NewLong(rendezvous.TagVideoMemory, vmemLength, vmemHandle)); err != nil {
		return nil, fmt.Errorf("bootstrap: sending video memory to VGA driver: %w", err)
	}

	writerSys, err := openSystemWriter(ctx, vgaCom, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening system writer: %w", err)
	}

	logger.Info("starting EuraliOS")

	for _, drv := range cfg.Drivers {
		if err := mountDriver(d, drv, writerSys.Clone(), logger); err != nil {
			return nil, fmt.Errorf("bootstrap: mounting %s: %w", drv.Path, err)
		}
	}

	return writerSys, nil
}

func receiveVideoMemory(stdout *rendezvous.Endpoint) (rendezvous.MessageData, rendezvous.MessageData, error) {
	msg, err := stdout.Receive()
	if err != nil {
		return nil, nil, err
	}
	if msg.Long == nil || msg.Tag() != rendezvous.TagVideoMemory {
		return nil, nil, fmt.Errorf("expected VIDEO_MEMORY, received tag %d", msg.Tag())
	}
	return msg.Long.Data1, msg.Long.Data2, nil
}

// openSystemWriter performs the OPEN rcall against the VGA driver to
// mint a system writer sub-endpoint, then activates it with a WRITE
// short message (spec.md §4.8). The OPEN round trip is wrapped in a
// bounded exponential backoff: the original blocks forever on a
// malformed reply, which is indistinguishable from a hang; here it is
// bounded and surfaced as an error instead, preserving "any failure to
// spawn a driver is fatal" (spec.md §7) without an unbounded stall.
func openSystemWriter(ctx context.Context, vgaCom *rendezvous.Endpoint, logger logr.Logger) (*rendezvous.Endpoint, error) {
	result, err := backoff.Retry(ctx, func() (openResult, error) {
		tag, d1, d2, err := rendezvous.Rcall(vgaCom, rendezvous.TagOpen, rendezvous.ValueData(0), rendezvous.ValueData(0), nil)
		if err != nil {
			// A closed channel means the VGA driver is gone; no amount of
			// retrying opens a peer that will never come back.
			if kerrors.Is(err, rendezvous.ErrChannelClosed) {
				return openResult{}, backoff.Permanent(err)
			}
			logger.Error(err, "OPEN rcall to VGA driver failed, retrying")
			return openResult{}, kerrors.NewRetryable(err.Error())
		}
		if tag != rendezvous.TagCommHandle {
			logger.Info("unexpected reply opening system writer, retrying", "tag", tag)
			return openResult{}, kerrors.NewRetryable(fmt.Sprintf("unexpected reply tag %d", tag))
		}
		comm, ok := d1.(rendezvous.CommHandleData)
		id, okID := d2.(rendezvous.ValueData)
		if !ok || !okID {
			return openResult{}, kerrors.NewRetryable("reply carried no comm handle")
		}
		return openResult{ep: comm.Endpoint, id: uint64(id)}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		if kerrors.Retryable(err) {
			logger.Error(err, "giving up opening system writer after exhausting retries")
		}
		return nil, err
	}

	if err := vgaCom.Send(rendezvous.NewShort(rendezvous.TagWrite, result.id, 0)); err != nil {
		return nil, fmt.Errorf("activating system writer: %w", err)
	}
	return result.ep, nil
}

type openResult struct {
	ep *rendezvous.Endpoint
	id uint64
}

func mountDriver(d Dispatcher, drv Driver, stdout *rendezvous.Endpoint, logger logr.Logger) error {
	logger.Info("starting program", "path", drv.Path, "perm", drv.Perm)

	input, input2 := d.NewRendezvous()
	if _, err := d.Exec(drv.Binary, drv.Perm, input, stdout); err != nil {
		return fmt.Errorf("starting program: %w", err)
	}
	return d.Mount(drv.Path, input2)
}
