// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/euralios/kernel/internal/bootstrap"
	"github.com/euralios/kernel/pkg/hal/simulated"
	"github.com/euralios/kernel/pkg/mount"
	"github.com/euralios/kernel/pkg/rendezvous"
	"github.com/euralios/kernel/pkg/scheduler"
	"github.com/euralios/kernel/pkg/syscalls"
)

var (
	vgaDriverPath string
	pciDriverPath string
	nicDriverPath string
	tcpDriverPath string
	verbose       bool
)

func init() {
	flag.StringVar(&vgaDriverPath, "vga-driver", "", "Path to the compiled VGA driver binary")
	flag.StringVar(&pciDriverPath, "pci-driver", "", "Path to the compiled PCI driver binary, mounted at /pci")
	flag.StringVar(&nicDriverPath, "nic-driver", "", "Path to the compiled NIC driver binary, mounted at /dev/nic")
	flag.StringVar(&tcpDriverPath, "tcp-driver", "", "Path to the compiled TCP driver binary, mounted at /tcp")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
}

func main() {
	flag.Parse()

	var logger logr.Logger
	if verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		zapLog, _ := zap.NewProduction()
		logger = zapr.NewLogger(zapLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting")

	sched := scheduler.New(simulated.NewPageTables(), simulated.ELF64Parser{}, simulated.NewInterruptTable(), logger)
	mounts, err := mount.New(logger)
	if err != nil {
		logger.Error(err, "unable to create mount table")
		os.Exit(1)
	}
	defer mounts.Close()

	dispatcher := syscalls.New(sched, mounts)

	cfg := bootstrap.Config{
		VGADriver: mustReadDriver(logger, vgaDriverPath),
		Drivers: []bootstrap.Driver{
			{Path: "/pci", Binary: mustReadDriver(logger, pciDriverPath), Perm: syscalls.ExecPermIO},
			{Path: "/dev/nic", Binary: mustReadDriver(logger, nicDriverPath), Perm: syscalls.ExecPermIO},
			{Path: "/tcp", Binary: mustReadDriver(logger, tcpDriverPath), Perm: 0},
		},
	}

	// The kernel delivers VIDEO_MEMORY on init's own standard-output
	// endpoint; in this simulated environment that endpoint is just
	// another rendezvous pair, with the kernel side played by a stub
	// that never actually sends anything unless wired up by a real
	// hardware-backed entrypoint. Loading the bytes for each driver
	// binary is ordinary file I/O and is not itself a kernel concern
	// (spec.md §1); mustReadDriver below is where that boundary sits.
	stdoutKernel, stdoutInit := rendezvous.NewPair()
	defer stdoutKernel.Close()

	if _, err := bootstrap.Run(ctx, dispatcher, stdoutInit, cfg, logger); err != nil {
		logger.Error(err, "bootstrap failed")
		panic(err)
	}

	logger.Info("init complete")
	<-ctx.Done()
}

// mustReadDriver loads a compiled driver binary from disk. A missing
// or empty path yields no bytes; bootstrap surfaces the resulting
// ErrBadElf from the scheduler rather than this function guessing at a
// fallback binary.
func mustReadDriver(logger logr.Logger, path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error(err, "unable to read driver binary", "path", path)
		os.Exit(1)
	}
	return data
}
