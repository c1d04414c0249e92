// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package multipath decodes the Asymmetric Namespace Access (ANA) log page
// into a per-namespace group table. Path *selection* across multiple
// controllers is reduced to the single-controller case this core
// addresses; NVMe-oF multi-controller failover is a non-goal.
package multipath

import (
	"context"
	"encoding/binary"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
)

// ANAState is the Asymmetric Namespace Access state (NVMe 2.x §8.20.3).
type ANAState uint8

const (
	ANAOptimized     ANAState = 0x01
	ANANonOptimized  ANAState = 0x02
	ANAInaccessible  ANAState = 0x03
	ANAPersistentLoss ANAState = 0x04
	ANAChange        ANAState = 0x0F
)

// Usable reports whether I/O can be issued to a namespace in this ANA
// state without first waiting on a transition.
func (s ANAState) Usable() bool {
	return s == ANAOptimized || s == ANANonOptimized
}

// Group is one ANA group descriptor: a set of namespaces sharing a single
// access state. This core does not track per-controller state since it
// addresses exactly one controller.
type Group struct {
	GroupID    uint32
	State      ANAState
	ChangeCount uint64
	Namespaces []uint32
}

const (
	anaLogID     = 0x0C
	anaHdrSize   = 16
	anaDescSize  = 32
)

// Manager decodes the ANA log page over an admin channel.
type Manager struct {
	admin *nvme.AdminChannel
}

// NewManager binds a multipath manager to an admin channel.
func NewManager(admin *nvme.AdminChannel) *Manager {
	return &Manager{admin: admin}
}

// Groups issues a Get Log Page for the ANA log into scratch and decodes
// every group descriptor it contains (NVMe 2.x §5.16.1.12).
func (m *Manager) Groups(ctx context.Context, scratch dma.Region) ([]Group, error) {
	numDwords := uint32(scratch.Size) / 4
	cmd := nvme.EncodeGetLogPage(0, 0, anaLogID, numDwords, 0, uint64(scratch.Phys), 0)
	if _, err := m.admin.Exec(ctx, cmd); err != nil {
		return nil, err
	}

	buf := scratch.Bytes()
	if len(buf) < anaHdrSize {
		return nil, nil
	}
	numGroups := binary.LittleEndian.Uint16(buf[8:10])

	groups := make([]Group, 0, numGroups)
	off := anaHdrSize
	for i := 0; i < int(numGroups) && off+anaDescSize <= len(buf); i++ {
		groupID := binary.LittleEndian.Uint32(buf[off : off+4])
		numNSIDs := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		changeCount := binary.LittleEndian.Uint64(buf[off+8 : off+16])
		state := ANAState(buf[off+16])
		off += anaDescSize

		nsids := make([]uint32, 0, numNSIDs)
		for j := uint32(0); j < numNSIDs && off+4 <= len(buf); j++ {
			nsids = append(nsids, binary.LittleEndian.Uint32(buf[off:off+4]))
			off += 4
		}

		groups = append(groups, Group{
			GroupID:     groupID,
			State:       state,
			ChangeCount: changeCount,
			Namespaces:  nsids,
		})
	}
	return groups, nil
}

// GroupForNamespace finds the group containing nsid, if any.
func GroupForNamespace(groups []Group, nsid uint32) (Group, bool) {
	for _, g := range groups {
		for _, n := range g.Namespaces {
			if n == nsid {
				return g, true
			}
		}
	}
	return Group{}, false
}
