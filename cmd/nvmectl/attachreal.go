// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
	"github.com/dswarbrick/nvmecore/nvme/regio"
)

// realAllocator is a dma.Allocator backed by anonymous mmap'd memory. It is
// not IOMMU-aware: it assumes the platform either has no IOMMU in the path
// or the caller has otherwise arranged identity-mapped DMA, since this
// reference binary has no way to program an IOMMU itself.
type realAllocator struct {
	pageSize uintptr
}

func (a *realAllocator) Allocate(size uintptr) (dma.Region, error) {
	size = dma.AlignUp(size, a.pageSize)
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return dma.Region{}, fmt.Errorf("mmap: %w", err)
	}
	virt := unsafe.Pointer(&buf[0])
	// No IOMMU/VFIO plumbing in this reference binary to resolve a real
	// physical address for an anonymous mapping; report the virtual
	// address as-is, matching dma.SimAllocator's identity assumption.
	return dma.Region{Phys: uintptr(virt), Virt: virt, Size: size}, nil
}

func (a *realAllocator) Free(r dma.Region) error {
	return unix.Munmap(unsafe.Slice((*byte)(r.Virt), int(r.Size)))
}

// attachReal brings up a Controller against a real NVMe BAR0, mapped via
// /dev/mem at barOffset for barSize bytes. This requires CAP_SYS_RAWIO (or
// running as root) and a kernel built without strict /dev/mem access
// controls over the target physical range.
func attachReal(ctx context.Context, barPath string, barOffset, barSize int64, ioQueues int) (*nvme.Controller, dma.Allocator, error) {
	f, err := os.OpenFile(barPath, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", barPath, err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), barOffset, int(barSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %s at %#x (%d bytes): %w", barPath, barOffset, barSize, err)
	}

	regs, err := regio.NewMMIORegisters(mem)
	if err != nil {
		unix.Munmap(mem)
		return nil, nil, err
	}

	alloc := &realAllocator{pageSize: simPageSize}
	ctrl, err := nvme.Attach(ctx, regs, alloc, nvme.WithRequestedIOQueues(ioQueues))
	if err != nil {
		unix.Munmap(mem)
		return nil, nil, err
	}
	return ctrl, alloc, nil
}
