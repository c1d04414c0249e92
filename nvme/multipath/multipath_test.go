// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package multipath

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

func TestANAStateUsable(t *testing.T) {
	assert := assert.New(t)

	assert.True(ANAOptimized.Usable())
	assert.True(ANANonOptimized.Usable())
	assert.False(ANAInaccessible.Usable())
	assert.False(ANAPersistentLoss.Usable())
	assert.False(ANAChange.Usable())
}

func TestGroupsOnUnpopulatedLogPageReturnsEmpty(t *testing.T) {
	ctrl, alloc := attachTestController(t)
	m := NewManager(ctrl.Admin())

	scratch, err := alloc.Allocate(4096)
	require.NoError(t, err)

	// The simulated controller acknowledges Get Log Page without writing
	// an ANA log (it carries no multipath state of its own), so the
	// scratch buffer's numGroups header field reads back zero.
	groups, err := m.Groups(context.Background(), scratch)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroupForNamespaceDecodesDescriptor(t *testing.T) {
	assert := assert.New(t)

	groups := []Group{
		{GroupID: 1, State: ANAOptimized, Namespaces: []uint32{1, 2}},
		{GroupID: 2, State: ANAInaccessible, Namespaces: []uint32{3}},
	}

	g, ok := GroupForNamespace(groups, 3)
	require.True(t, ok)
	assert.Equal(uint32(2), g.GroupID)
	assert.Equal(ANAInaccessible, g.State)

	_, ok = GroupForNamespace(groups, 99)
	assert.False(ok)
}
