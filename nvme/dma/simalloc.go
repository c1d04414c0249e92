// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dma

import (
	"unsafe"
)

// SimAllocator is a software model of a DMA allocator for use without a
// real IOMMU-backed implementation: hosts and development targets that
// lack a physical-address-returning allocator. It hands out page-aligned,
// zero-initialized regions carved from ordinary Go heap memory and reports
// their virtual address as their physical address, which is sufficient for
// exercising the PRP builder and queue engine without real hardware.
type SimAllocator struct {
	pageSize uintptr
}

// NewSimAllocator returns a SimAllocator that rounds every allocation up to
// pageSize, which must be a power of two.
func NewSimAllocator(pageSize uintptr) *SimAllocator {
	return &SimAllocator{pageSize: pageSize}
}

func (a *SimAllocator) Allocate(size uintptr) (Region, error) {
	if size == 0 {
		size = a.pageSize
	}
	size = AlignUp(size, a.pageSize)

	// Over-allocate by one page so we can carve out a page-aligned
	// sub-slice regardless of where the Go allocator placed the backing
	// array.
	raw := make([]byte, size+a.pageSize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := AlignUp(base, a.pageSize)
	off := aligned - base

	virt := unsafe.Pointer(&raw[off])

	return Region{
		Phys: uintptr(virt), // simulated: no real physical translation
		Virt: virt,
		Size: size,
		keep: raw,
	}, nil
}

// Free does nothing: the allocator keeps no reference to the backing
// slice, so the garbage collector reclaims it once no Region refers to it.
// There is no real physical page table to unmap in the simulated model.
func (a *SimAllocator) Free(r Region) error {
	return nil
}
