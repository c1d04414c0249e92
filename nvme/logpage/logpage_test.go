// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package logpage

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

func TestFirmwareSlotInfoActiveSlot(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint8(3), FirmwareSlotInfo{AFI: 0x13}.ActiveSlot())
	assert.Zero(FirmwareSlotInfo{AFI: 0}.ActiveSlot())
}

func TestSMARTHealthOnZeroedLogDecodesCleanly(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin())

	scratch, err := alloc.Allocate(512)
	require.NoError(t, err)

	// The simulated controller acknowledges Get Log Page without writing
	// a SMART log, so decoding the all-zero scratch buffer must succeed
	// and yield an all-zero SMARTLog rather than an error.
	log, err := m.SMARTHealth(context.Background(), 0xFFFFFFFF, scratch)
	require.NoError(t, err)
	assert.Zero(log.CritWarning)
	assert.Zero(log.PercentUsed)
}

func TestFirmwareSlotOnZeroedLogDecodesCleanly(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin())

	scratch, err := alloc.Allocate(512)
	require.NoError(t, err)

	info, err := m.FirmwareSlot(context.Background(), scratch)
	require.NoError(t, err)
	assert.Zero(t, info.ActiveSlot())
}

func TestErrorLogStopsAtFirstZeroEntry(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin())

	scratch, err := alloc.Allocate(4096)
	require.NoError(t, err)

	entries, err := m.ErrorLog(context.Background(), 16, scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChangedNamespacesOnZeroedLogReturnsEmpty(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin())

	scratch, err := alloc.Allocate(4096)
	require.NoError(t, err)

	ids, err := m.ChangedNamespaces(context.Background(), scratch)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
