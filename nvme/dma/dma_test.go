// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dma

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uintptr(4096), AlignUp(1, 4096))
	assert.Equal(uintptr(4096), AlignUp(4096, 4096))
	assert.Equal(uintptr(8192), AlignUp(4097, 4096))
	assert.Equal(uintptr(0), AlignUp(0, 4096))
}

func TestSimAllocatorReturnsPageAlignedRegion(t *testing.T) {
	assert := assert.New(t)

	a := NewSimAllocator(4096)
	r, err := a.Allocate(100)
	assert.NoError(err)
	assert.Equal(uintptr(4096), r.Size)
	assert.Equal(uintptr(0), uintptr(r.Virt)%4096)

	// SimAllocator reports Phys == Virt: there is no real physical
	// translation to simulate.
	assert.Equal(uintptr(r.Virt), r.Phys)
}

func TestSimAllocatorZeroSizeDefaultsToOnePage(t *testing.T) {
	assert := assert.New(t)

	a := NewSimAllocator(4096)
	r, err := a.Allocate(0)
	assert.NoError(err)
	assert.Equal(uintptr(4096), r.Size)
}

func TestSimAllocatorRegionBytesIsWritable(t *testing.T) {
	assert := assert.New(t)

	a := NewSimAllocator(4096)
	r, err := a.Allocate(4096)
	assert.NoError(err)

	buf := r.Bytes()
	assert.Len(buf, 4096)
	buf[0] = 0xAB
	assert.Equal(byte(0xAB), r.Bytes()[0])
}

func TestRegionIsZero(t *testing.T) {
	assert := assert.New(t)

	var r Region
	assert.True(r.IsZero())
	assert.Nil(r.Bytes())

	a := NewSimAllocator(4096)
	r2, _ := a.Allocate(4096)
	assert.False(r2.IsZero())
}
