// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dswarbrick/nvmecore/nvme/dma"
)

func newTestSQ(t *testing.T, entries int) *SubmissionQueue {
	t.Helper()
	alloc := dma.NewSimAllocator(4096)
	region, err := alloc.Allocate(dma.AlignUp(uintptr(entries)*commandSize, 4096))
	assert.NoError(t, err)
	return NewSubmissionQueue(0, region, entries)
}

func newTestCQ(t *testing.T, entries int) *CompletionQueue {
	t.Helper()
	alloc := dma.NewSimAllocator(4096)
	region, err := alloc.Allocate(dma.AlignUp(uintptr(entries)*completionSize, 4096))
	assert.NoError(t, err)
	return NewCompletionQueue(0, region, entries)
}

func TestSubmissionQueueFullWrapsAtLenMinusOne(t *testing.T) {
	assert := assert.New(t)

	sq := newTestSQ(t, 4)
	assert.False(sq.Full())

	for i := 0; i < 3; i++ {
		_, err := sq.TryPush(Command{})
		assert.NoError(err)
	}

	// A 4-entry ring can hold only 3 outstanding slots before head catches
	// up with a would-be tail).
	assert.True(sq.Full())
	_, err := sq.TryPush(Command{})
	assert.Error(err)
	var fullErr ErrSubQueueFull
	assert.ErrorAs(err, &fullErr)
}

func TestSubmissionQueueSetHeadUnblocks(t *testing.T) {
	assert := assert.New(t)

	sq := newTestSQ(t, 4)
	for i := 0; i < 3; i++ {
		_, err := sq.TryPush(Command{})
		assert.NoError(err)
	}
	assert.True(sq.Full())

	sq.SetHead(1)
	assert.False(sq.Full())
}

func TestCompletionQueuePhaseBitGating(t *testing.T) {
	assert := assert.New(t)

	cq := newTestCQ(t, 2)

	// Nothing written yet: the all-zero slot's phase bit (0) does not match
	// the queue's expected phase (true), so TryPop must report nothing.
	_, ok := cq.TryPop()
	assert.False(ok)

	buf := cq.region.Bytes()
	comp := Completion{CID: 5, Status: 1} // phase=1
	wire := comp.marshal()
	copy(buf[0:completionSize], wire[:])

	got, ok := cq.TryPop()
	assert.True(ok)
	assert.Equal(uint16(5), got.CID)
	assert.Equal(1, cq.Head())
}

func TestCompletionQueueWrapFlipsPhase(t *testing.T) {
	assert := assert.New(t)

	cq := newTestCQ(t, 2)
	buf := cq.region.Bytes()

	for i := 0; i < 2; i++ {
		comp := Completion{CID: uint16(i), Status: 1}
		wire := comp.marshal()
		copy(buf[i*completionSize:(i+1)*completionSize], wire[:])
	}

	_, ok := cq.TryPop()
	assert.True(ok)
	assert.Equal(1, cq.Head())

	_, ok = cq.TryPop()
	assert.True(ok)
	assert.Equal(0, cq.Head()) // wrapped

	// Phase has flipped; the same slot 0 bytes (phase=1) no longer match
	// the queue's new expected phase (false), so nothing more pops.
	_, ok = cq.TryPop()
	assert.False(ok)
}
