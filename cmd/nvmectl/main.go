// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Go NVMe driver core reference implementation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
	"github.com/dswarbrick/nvmecore/nvme/logpage"
	"github.com/dswarbrick/nvmecore/nvme/multipath"
	"github.com/dswarbrick/nvmecore/nvme/power"
	"github.com/dswarbrick/nvmecore/nvme/regio"
)

// summary is a YAML-friendly snapshot of a controller, for the -yaml flag.
// Scripted callers (fleet inventory scrapers, test harnesses) want this
// instead of the human-readable banner printControllerInfo produces.
type summary struct {
	Model            string           `yaml:"model"`
	Serial           string           `yaml:"serial"`
	Firmware         string           `yaml:"firmware"`
	MaxTransferBytes uint64           `yaml:"max_transfer_bytes"`
	MaxQueueEntries  int              `yaml:"max_queue_entries"`
	IOQueues         int              `yaml:"io_queues"`
	Namespaces       []namespaceEntry `yaml:"namespaces"`
}

type namespaceEntry struct {
	NSID       uint32 `yaml:"nsid"`
	BlockSize  uint32 `yaml:"block_size"`
	BlockCount uint64 `yaml:"block_count"`
}

func buildSummary(ctrl *nvme.Controller) summary {
	data := ctrl.Data()
	s := summary{
		Model:            data.Model,
		Serial:           data.Serial,
		Firmware:         data.Firmware,
		MaxTransferBytes: data.MaxTransferBytes,
		MaxQueueEntries:  data.MaxQueueEntries,
		IOQueues:         ctrl.IOQueueCount(),
	}
	for _, nsid := range ctrl.ListNamespaces() {
		ns, _ := ctrl.Namespace(nsid)
		s.Namespaces = append(s.Namespaces, namespaceEntry{
			NSID:       ns.ID(),
			BlockSize:  ns.BlockSize(),
			BlockCount: ns.BlockCount(),
		})
	}
	return s
}

const simPageSize = 4096

// attachSimulated brings up a Controller against an in-process SimDevice,
// for environments with no real NVMe BAR to map (most dev machines and CI).
// A real-hardware attach would instead mmap /dev/mem at the device's BAR0
// physical address and pass regio.NewMMIORegisters to nvme.Attach.
func attachSimulated(ctx context.Context, ioQueues int) (*nvme.Controller, dma.Allocator, error) {
	cap := regio.CAP(1023) // MQES = 1024 entries, zero-based; DSTRD/MPSMIN/MPSMAX = 0

	regs := regio.NewSimRegs(cap)
	regs.ReadyDelay = 2

	alloc := dma.NewSimAllocator(simPageSize)
	dev := nvme.NewSimDevice(regs, cap.DSTRD(), ioQueues)
	dev.AddNamespace(1, 512, 1<<20)
	dev.AddNamespace(2, 4096, 1<<16)

	ctrl, err := nvme.Attach(ctx, regs, alloc, nvme.WithRequestedIOQueues(ioQueues))
	return ctrl, alloc, err
}

func printControllerInfo(ctrl *nvme.Controller) {
	data := ctrl.Data()
	fmt.Printf("Model:             %s\n", data.Model)
	fmt.Printf("Serial:            %s\n", data.Serial)
	fmt.Printf("Firmware:          %s\n", data.Firmware)
	fmt.Printf("Max transfer size: %d bytes\n", data.MaxTransferBytes)
	fmt.Printf("Max queue entries: %d\n", data.MaxQueueEntries)
	fmt.Printf("I/O queues:        %d SQ / %d CQ granted\n", data.MaxIOSQ, data.MaxIOCQ)
}

func printNamespaces(ctrl *nvme.Controller) {
	for _, nsid := range ctrl.ListNamespaces() {
		ns, _ := ctrl.Namespace(nsid)
		fmt.Printf("  nsid=%d  block_size=%d  block_count=%d  size=%s\n",
			ns.ID(), ns.BlockSize(), ns.BlockCount(),
			formatBytes(ns.BlockSize()*uint32(ns.BlockCount())))
	}
}

func formatBytes(n uint32) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint32(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func runExerciseIO(ctx context.Context, ctrl *nvme.Controller, alloc dma.Allocator, nsid uint32) error {
	ns, ok := ctrl.Namespace(nsid)
	if !ok {
		return fmt.Errorf("nsid %d not found", nsid)
	}

	buf, err := alloc.Allocate(simPageSize)
	if err != nil {
		return err
	}
	defer alloc.Free(buf)

	for i := range buf.Bytes() {
		buf.Bytes()[i] = byte(i)
	}

	if err := ns.Write(ctx, 0, buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	ok2, err := ns.Compare(ctx, 0, buf)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	fmt.Printf("  compare after write: match=%v\n", ok2)

	readBuf, err := alloc.Allocate(simPageSize)
	if err != nil {
		return err
	}
	defer alloc.Free(readBuf)

	if err := ns.Read(ctx, 0, readBuf); err != nil {
		return fmt.Errorf("read: %w", err)
	}

	if err := ns.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	fmt.Println("  read/write/compare/flush round trip OK")
	return nil
}

func printHealth(ctx context.Context, admin *nvme.AdminChannel, alloc dma.Allocator) {
	scratch, err := alloc.Allocate(simPageSize)
	if err != nil {
		fmt.Println("smart log:", err)
		return
	}
	defer alloc.Free(scratch)

	lp := logpage.NewManager(admin)
	health, err := lp.SMARTHealth(ctx, 0xFFFFFFFF, scratch)
	if err != nil {
		fmt.Println("smart log:", err)
		return
	}
	fmt.Printf("  critical warning: %#02x  percent used: %d%%\n", health.CritWarning, health.PercentUsed)
}

func printPowerStates(ctx context.Context, admin *nvme.AdminChannel, alloc dma.Allocator) {
	scratch, err := alloc.Allocate(simPageSize)
	if err != nil {
		fmt.Println("power states:", err)
		return
	}
	defer alloc.Free(scratch)

	pm := power.NewManager(admin)
	states, err := pm.States(ctx, scratch)
	if err != nil {
		fmt.Println("power states:", err)
		return
	}
	fmt.Printf("  %d power state(s) reported\n", len(states))
}

func printANAGroups(ctx context.Context, admin *nvme.AdminChannel, alloc dma.Allocator) {
	scratch, err := alloc.Allocate(simPageSize)
	if err != nil {
		return
	}
	defer alloc.Free(scratch)

	mp := multipath.NewManager(admin)
	groups, err := mp.Groups(ctx, scratch)
	if err != nil {
		return
	}
	fmt.Printf("  %d ANA group(s) reported\n", len(groups))
}

func main() {
	fmt.Println("Go NVMe Driver Core Reference Implementation")
	fmt.Printf("Built with %s on %s (%s)\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	sim := flag.Bool("sim", true, "attach to an in-process simulated controller instead of real hardware")
	barPath := flag.String("bar-path", "/dev/mem", "physical memory device to mmap the controller's BAR0 from (real hardware only)")
	barOffset := flag.Int64("bar-offset", 0, "physical address of the controller's BAR0 (real hardware only)")
	barSize := flag.Int64("bar-size", 0x3000, "number of bytes of BAR0 to map: register file plus doorbells for every requested queue pair")
	ioQueues := flag.Int("io-queues", 4, "number of I/O queue pairs to request")
	exercise := flag.Bool("exercise", false, "run a read/write/compare/flush exercise against namespace 1")
	yamlOut := flag.Bool("yaml", false, "print a YAML summary instead of the human-readable banner")
	timeout := flag.Duration("timeout", 10*time.Second, "Attach/Shutdown timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		ctrl  *nvme.Controller
		alloc dma.Allocator
		err   error
	)
	if *sim {
		ctrl, alloc, err = attachSimulated(ctx, *ioQueues)
	} else {
		ctrl, alloc, err = attachReal(ctx, *barPath, *barOffset, *barSize, *ioQueues)
	}
	if err != nil {
		fmt.Println("attach:", err)
		os.Exit(1)
	}

	if *yamlOut {
		out, err := yaml.Marshal(buildSummary(ctrl))
		if err != nil {
			fmt.Println("yaml:", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		if err := ctrl.Shutdown(ctx); err != nil {
			fmt.Println("shutdown:", err)
			os.Exit(1)
		}
		return
	}

	printControllerInfo(ctrl)
	fmt.Println("\nNamespaces:")
	printNamespaces(ctrl)

	fmt.Println("\nSMART health:")
	printHealth(ctx, ctrl.Admin(), alloc)

	fmt.Println("\nPower states:")
	printPowerStates(ctx, ctrl.Admin(), alloc)

	fmt.Println("\nANA groups:")
	printANAGroups(ctx, ctrl.Admin(), alloc)

	if *exercise {
		fmt.Println("\nExercising namespace 1:")
		if err := runExerciseIO(ctx, ctrl, alloc, 1); err != nil {
			fmt.Println("  exercise failed:", err)
		}
	}

	fmt.Println("\nQueue stats:")
	for _, st := range ctrl.QueueStats() {
		fmt.Printf("  qid=%d outstanding=%d shutting_down=%v\n", st.QID, st.Outstanding, st.ShuttingDown)
	}

	if err := ctrl.Shutdown(ctx); err != nil {
		fmt.Println("shutdown:", err)
		os.Exit(1)
	}
	fmt.Println("\nShutdown complete")
}
