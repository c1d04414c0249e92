// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dswarbrick/nvmecore/nvme/dma"
)

const testPageSize = 4096

func TestPRPBuildSinglePage(t *testing.T) {
	assert := assert.New(t)

	alloc := dma.NewSimAllocator(testPageSize)
	builder := NewPRPBuilder(alloc, testPageSize)

	buf, err := alloc.Allocate(testPageSize)
	assert.NoError(err)

	plan, err := builder.Build(buf, 512, 1<<20)
	assert.NoError(err)
	assert.Equal(uint64(buf.Phys), plan.PRP1)
	assert.Zero(plan.PRP2)
	assert.Empty(plan.listPages)
}

func TestPRPBuildTwoPages(t *testing.T) {
	assert := assert.New(t)

	alloc := dma.NewSimAllocator(testPageSize)
	builder := NewPRPBuilder(alloc, testPageSize)

	buf, err := alloc.Allocate(2 * testPageSize)
	assert.NoError(err)

	plan, err := builder.Build(buf, uint64(2*testPageSize), 1<<20)
	assert.NoError(err)
	assert.Equal(uint64(buf.Phys), plan.PRP1)
	assert.Equal(uint64(buf.Phys)+testPageSize, plan.PRP2)
	assert.Empty(plan.listPages)
}

func TestPRPBuildRequiresListForThreeOrMorePages(t *testing.T) {
	assert := assert.New(t)

	alloc := dma.NewSimAllocator(testPageSize)
	builder := NewPRPBuilder(alloc, testPageSize)

	buf, err := alloc.Allocate(3 * testPageSize)
	assert.NoError(err)

	plan, err := builder.Build(buf, uint64(3*testPageSize), 1<<20)
	assert.NoError(err)
	assert.Equal(uint64(buf.Phys), plan.PRP1)
	assert.NotZero(plan.PRP2)
	assert.Len(plan.listPages, 1)

	listBuf := plan.listPages[0].Bytes()
	assert.Equal(uint64(buf.Phys)+testPageSize, leUint64(listBuf[0:8]))
	assert.Equal(uint64(buf.Phys)+2*testPageSize, leUint64(listBuf[8:16]))

	assert.NoError(builder.Release(plan))
}

func TestPRPBuildRejectsOversizeMDTS(t *testing.T) {
	assert := assert.New(t)

	alloc := dma.NewSimAllocator(testPageSize)
	builder := NewPRPBuilder(alloc, testPageSize)

	buf, err := alloc.Allocate(testPageSize)
	assert.NoError(err)

	_, err = builder.Build(buf, 8192, 4096)
	assert.Error(err)
	var mdtsErr ErrIoSizeExceedsMdts
	assert.ErrorAs(err, &mdtsErr)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
