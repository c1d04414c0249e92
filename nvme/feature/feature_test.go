// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package feature

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

func attachTestController(t *testing.T) *nvme.Controller {
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
	return ctrl
}

func TestManagerSetThenGetRoundTrip(t *testing.T) {
	assert := assert.New(t)

	ctrl := attachTestController(t)
	m := NewManager(ctrl.Admin())
	ctx := context.Background()

	value := VolatileWriteCacheValue(true)
	require.NoError(t, m.Set(ctx, IDVolatileWriteCache, value, false))

	rec, err := m.Get(ctx, IDVolatileWriteCache)
	require.NoError(t, err)
	assert.Equal(uint8(IDVolatileWriteCache), rec.ID)
	assert.Equal(value, rec.Value)
}

func TestManagerGetUnsetFeatureReturnsZero(t *testing.T) {
	assert := assert.New(t)

	ctrl := attachTestController(t)
	m := NewManager(ctrl.Admin())

	rec, err := m.Get(context.Background(), IDTemperatureThreshold)
	require.NoError(t, err)
	assert.Zero(rec.Value)
}

func TestManagerSetPowerManagementThenGet(t *testing.T) {
	assert := assert.New(t)

	ctrl := attachTestController(t)
	m := NewManager(ctrl.Admin())
	ctx := context.Background()

	value := PowerManagementValue(2, 5)
	require.NoError(t, m.Set(ctx, IDPowerManagement, value, true))

	rec, err := m.Get(ctx, IDPowerManagement)
	require.NoError(t, err)
	assert.Equal(value, rec.Value)
}

func TestPowerManagementValuePacksStateAndHint(t *testing.T) {
	assert := assert.New(t)

	v := PowerManagementValue(3, 2)
	assert.Equal(uint32(3), v&0x1F)
	assert.Equal(uint32(2), (v>>5)&0x7)
}

func TestTemperatureThresholdValuePacksFields(t *testing.T) {
	assert := assert.New(t)

	v := TemperatureThresholdValue(350, 1, 1)
	assert.Equal(uint32(350), v&0xFFFF)
	assert.Equal(uint32(1), (v>>16)&0xF)
	assert.Equal(uint32(1), (v>>20)&0x3)
}

func TestInterruptCoalescingValuePacksThresholdAndTime(t *testing.T) {
	assert := assert.New(t)

	v := InterruptCoalescingValue(8, 4)
	assert.Equal(uint32(8), v&0xFF)
	assert.Equal(uint32(4), (v>>8)&0xFF)
}

func TestVolatileWriteCacheValueToggle(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint32(1), VolatileWriteCacheValue(true))
	assert.Equal(uint32(0), VolatileWriteCacheValue(false))
}
