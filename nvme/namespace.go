// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Namespace facade (component C9): per-namespace read/write/trim/compare/
// verify/copy/write-zeroes/flush.

package nvme

import (
	"context"

	"github.com/dswarbrick/nvmecore/nvme/dma"
)

// Namespace is a handle to one NVMe namespace. It holds a back-reference
// to its owning Controller, never the reverse: the controller outlives
// every namespace it hands out.
type Namespace struct {
	dev  *Controller
	data NamespaceData
}

// ID returns the namespace identifier.
func (ns *Namespace) ID() uint32 { return ns.data.NSID }

// BlockSize returns the namespace's logical block size in bytes.
func (ns *Namespace) BlockSize() uint32 { return ns.data.BlockSize }

// BlockCount returns the namespace's size in logical blocks.
func (ns *Namespace) BlockCount() uint64 { return ns.data.BlockCount }

// checkBuffer validates that buf's length is a multiple of the namespace's
// block size.
func (ns *Namespace) checkBuffer(buf dma.Region) (blocks uint64, err error) {
	if ns.data.BlockSize == 0 || uintptr(buf.Size)%uintptr(ns.data.BlockSize) != 0 {
		return 0, ErrInvalidBufferSize{Len: int(buf.Size), BlockSize: ns.data.BlockSize}
	}
	return uint64(buf.Size) / uint64(ns.data.BlockSize), nil
}

// execIO selects an I/O queue, tracks outstanding, and executes cmd,
// decoding its completion status. Every namespace operation funnels
// through here so the shutdown check and queue selection are consistent.
func (ns *Namespace) execIO(ctx context.Context, cmd Command) (Completion, error) {
	if ns.dev.shuttingDown.Load() {
		return Completion{}, ErrDeviceShuttingDown{}
	}

	qp, err := ns.dev.ioPool.Select()
	if err != nil {
		return Completion{}, err
	}

	cmd.NSID = ns.data.NSID
	comp, err := qp.Execute(ctx, cmd)
	if err != nil {
		return comp, err
	}

	status := DecodeStatus(comp.Status)
	if !status.Success() {
		return comp, ErrCommandFailed{Status: status}
	}
	return comp, nil
}

// Read reads len(buf) bytes starting at lba into buf. buf must be backed
// by DMA-coherent memory.
func (ns *Namespace) Read(ctx context.Context, lba uint64, buf dma.Region) error {
	return ns.readWrite(ctx, false, lba, buf)
}

// Write writes len(buf) bytes from buf starting at lba.
func (ns *Namespace) Write(ctx context.Context, lba uint64, buf dma.Region) error {
	return ns.readWrite(ctx, true, lba, buf)
}

func (ns *Namespace) readWrite(ctx context.Context, write bool, lba uint64, buf dma.Region) error {
	blocks, err := ns.checkBuffer(buf)
	if err != nil {
		return err
	}

	plan, err := ns.dev.prp.Build(buf, uint64(buf.Size), ns.dev.data.MaxTransferBytes)
	if err != nil {
		return err
	}
	defer ns.dev.prp.Release(plan)

	cmd := EncodeReadWrite(write, 0, ns.data.NSID, lba, uint16(blocks-1), plan.PRP1, plan.PRP2)
	_, err = ns.execIO(ctx, cmd)
	return err
}

// Trim encodes a single-range Dataset Management descriptor and submits it
// with AD=1 (Attribute-Deallocate).
func (ns *Namespace) Trim(ctx context.Context, lba uint64, blocks uint32) error {
	scratch, err := ns.dev.alloc.Allocate(ns.dev.pageSize)
	if err != nil {
		return err
	}
	defer ns.dev.alloc.Free(scratch)

	desc := EncodeDSMRange(blocks, lba)
	copy(scratch.Bytes()[:16], desc[:])

	cmd := EncodeDatasetManagement(0, ns.data.NSID, 0, false, false, true, uint64(scratch.Phys), 0)
	_, err = ns.execIO(ctx, cmd)
	return err
}

// WriteZeroes zeroes blocks logical blocks starting at lba.
func (ns *Namespace) WriteZeroes(ctx context.Context, lba uint64, blocks uint32, deallocate bool) error {
	cmd := EncodeWriteZeroes(0, ns.data.NSID, lba, uint16(blocks-1), deallocate)
	_, err := ns.execIO(ctx, cmd)
	return err
}

// Verify checks blocks logical blocks starting at lba without transferring
// data to the host.
func (ns *Namespace) Verify(ctx context.Context, lba uint64, blocks uint32) error {
	cmd := EncodeVerify(0, ns.data.NSID, lba, uint16(blocks-1))
	_, err := ns.execIO(ctx, cmd)
	return err
}

// Compare returns true if buf matches the on-media data at lba, false on a
// Compare Failure (SC=0x85), or an error for any other failure.
func (ns *Namespace) Compare(ctx context.Context, lba uint64, buf dma.Region) (bool, error) {
	blocks, err := ns.checkBuffer(buf)
	if err != nil {
		return false, err
	}

	plan, err := ns.dev.prp.Build(buf, uint64(buf.Size), ns.dev.data.MaxTransferBytes)
	if err != nil {
		return false, err
	}
	defer ns.dev.prp.Release(plan)

	cmd := EncodeCompare(0, ns.data.NSID, lba, uint16(blocks-1), plan.PRP1, plan.PRP2)
	_, err = ns.execIO(ctx, cmd)
	if err == nil {
		return true, nil
	}
	if cf, ok := err.(ErrCommandFailed); ok && cf.Status.CompareFailed() {
		return false, nil
	}
	return false, err
}

// Copy copies blocks logical blocks from srcLBA to dstLBA within this
// namespace, via a single-range Copy command.
func (ns *Namespace) Copy(ctx context.Context, srcLBA, dstLBA uint64, blocks uint32) error {
	scratch, err := ns.dev.alloc.Allocate(ns.dev.pageSize)
	if err != nil {
		return err
	}
	defer ns.dev.alloc.Free(scratch)

	desc := EncodeCopySourceRange(srcLBA, uint16(blocks-1))
	copy(scratch.Bytes()[:16], desc[:])

	cmd := EncodeCopy(0, ns.data.NSID, dstLBA, 0, uint64(scratch.Phys), 0)
	_, err = ns.execIO(ctx, cmd)
	return err
}

// Flush issues a Flush command for this namespace.
func (ns *Namespace) Flush(ctx context.Context) error {
	cmd := EncodeFlush(0, ns.data.NSID)
	_, err := ns.execIO(ctx, cmd)
	return err
}
