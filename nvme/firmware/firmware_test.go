// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package firmware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
	"github.com/dswarbrick/nvmecore/nvme/regio"
)

func attachTestController(t *testing.T) (*nvme.Controller, dma.Allocator) {
	t.Helper()

	cap := regio.CAP(1023)
	regs := regio.NewSimRegs(cap)
	regs.ReadyDelay = 1

	alloc := dma.NewSimAllocator(4096)
	dev := nvme.NewSimDevice(regs, cap.DSTRD(), 2)
	dev.AddNamespace(1, 512, 2048)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl, err := nvme.Attach(ctx, regs, alloc, nvme.WithRequestedIOQueues(2))
	require.NoError(t, err)
	return ctrl, alloc
}

func TestDownloadSingleChunk(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin(), alloc)

	image := make([]byte, 1024)
	for i := range image {
		image[i] = byte(i)
	}

	assert.NoError(t, m.Download(context.Background(), image, 4096))
}

func TestDownloadMultipleChunks(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin(), alloc)

	image := make([]byte, 4096*3+17)
	for i := range image {
		image[i] = byte(i % 251)
	}

	assert.NoError(t, m.Download(context.Background(), image, 4096))
}

func TestCommitRejectsSlotOne(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin(), alloc)

	err := m.Commit(context.Background(), 1, ActionReplaceActivateNow, nil)
	require.Error(t, err)
	var invalid ErrInvalidSlot
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, uint8(1), invalid.Slot)
}

func TestCommitRejectsSlotAboveSeven(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin(), alloc)

	err := m.Commit(context.Background(), 8, ActionReplaceActivateNow, nil)
	require.Error(t, err)
	var invalid ErrInvalidSlot
	assert.ErrorAs(t, err, &invalid)
}

func TestCommitValidSlotSucceeds(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin(), alloc)

	assert.NoError(t, m.Commit(context.Background(), 2, ActionReplaceActivateNextReset, nil))

	bpid := uint8(1)
	assert.NoError(t, m.Commit(context.Background(), 3, ActionActivateNextReset, &bpid))
}
