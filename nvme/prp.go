// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// PRP (Physical Region Page) list construction (component C6).

package nvme

import (
	"encoding/binary"

	"github.com/dswarbrick/nvmecore/nvme/dma"
)

// PRPPlan is produced per operation: PRP1/PRP2 to place directly into a
// command, plus any allocated PRP-list pages so they can be returned to
// the allocator once the command completes.
type PRPPlan struct {
	PRP1 uint64
	PRP2 uint64

	listPages []dma.Region
}

// PRPBuilder translates (buffer, length) pairs into PRP1/PRP2 (and, when
// necessary, a chained PRP list) honoring the controller's programmed page
// size; it never hard-codes 4096.
type PRPBuilder struct {
	alloc    dma.Allocator
	pageSize uintptr
}

// NewPRPBuilder constructs a builder bound to the controller's current
// page size.
func NewPRPBuilder(alloc dma.Allocator, pageSize uintptr) *PRPBuilder {
	return &PRPBuilder{alloc: alloc, pageSize: pageSize}
}

// Build constructs a PRPPlan covering length bytes of buf starting at its
// base address. buf must be a single physically-contiguous DMA region.
func (b *PRPBuilder) Build(buf dma.Region, length uint64, mdts uint64) (PRPPlan, error) {
	virt := uintptr(buf.Virt)

	if virt%4 != 0 {
		return PRPPlan{}, ErrNotAlignedToDword{Addr: virt}
	}
	if length > mdts {
		return PRPPlan{}, ErrIoSizeExceedsMdts{Requested: length, MDTS: mdts}
	}

	P := b.pageSize
	firstPageOffset := virt % P
	firstPageBytes := uint64(P - firstPageOffset)
	phys0 := buf.Phys

	// Case 1: transfer fits entirely in the first page.
	if length <= firstPageBytes {
		return PRPPlan{PRP1: uint64(phys0)}, nil
	}

	remaining := length - firstPageBytes
	nextBoundaryVirt := virt - firstPageOffset + P
	deltaToNextBoundary := uint64(nextBoundaryVirt - virt)

	// Case 2: remainder fits in exactly one more page.
	if remaining <= uint64(P) {
		prp2 := uint64(phys0) + deltaToNextBoundary
		return PRPPlan{PRP1: uint64(phys0), PRP2: prp2}, nil
	}

	// Case 3: remainder spans multiple pages; build a PRP list, chaining
	// to further list pages when it would not otherwise fit.
	numPages := int((remaining + uint64(P) - 1) / uint64(P))
	addrs := make([]uintptr, numPages)
	for i := 0; i < numPages; i++ {
		addrs[i] = phys0 + uintptr(deltaToNextBoundary) + uintptr(i)*P
	}

	head, allocated, err := b.buildListChain(addrs)
	if err != nil {
		return PRPPlan{}, err
	}

	return PRPPlan{
		PRP1:      uint64(phys0),
		PRP2:      uint64(head.Phys),
		listPages: allocated,
	}, nil
}

// buildListChain writes addrs (absolute physical page addresses, in order)
// into one or more chained PRP-list pages and returns the head page.
// Chaining is required once addrs would not fit with one slot left over
// for a chain pointer, i.e. more than (P/8 - 1) entries.
func (b *PRPBuilder) buildListChain(addrs []uintptr) (dma.Region, []dma.Region, error) {
	entriesPerPage := int(b.pageSize / 8)
	capacityDirect := entriesPerPage - 1

	region, err := b.alloc.Allocate(b.pageSize)
	if err != nil {
		return dma.Region{}, nil, err
	}
	allocated := []dma.Region{region}
	buf := region.Bytes()

	if len(addrs) <= capacityDirect {
		for i, a := range addrs {
			binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(a))
		}
		return region, allocated, nil
	}

	for i := 0; i < capacityDirect; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(addrs[i]))
	}

	nextHead, nextAllocated, err := b.buildListChain(addrs[capacityDirect:])
	if err != nil {
		return dma.Region{}, nil, err
	}
	binary.LittleEndian.PutUint64(buf[capacityDirect*8:capacityDirect*8+8], uint64(nextHead.Phys))
	allocated = append(allocated, nextAllocated...)

	return region, allocated, nil
}

// Release returns any PRP-list pages allocated for plan back to the
// allocator.
func (b *PRPBuilder) Release(plan PRPPlan) error {
	for _, r := range plan.listPages {
		if err := b.alloc.Free(r); err != nil {
			return err
		}
	}
	return nil
}
