// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package power manages NVMe power states: reading the Identify
// Controller power-state descriptor table and driving the Power
// Management feature.
package power

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
	"github.com/dswarbrick/nvmecore/nvme/feature"
)

// psdTableOffset is the byte offset of the 32-entry power-state descriptor
// table within the 4096-byte Identify Controller structure (NVMe 2.x
// §5.17.2.1: byte 2048, following the Identify Controller's vendor-specific
// byte 1804 and reserved region up to offset 2048).
const psdTableOffset = 2048

// StateDescriptor is one entry of the Identify Controller power-state
// descriptor table.
type StateDescriptor struct {
	MaxPower        uint16
	Rsvd2           uint8
	Flags           uint8
	EntryLatency    uint32
	ExitLatency     uint32
	ReadThroughput  uint8
	ReadLatency     uint8
	WriteThroughput uint8
	WriteLatency    uint8
	IdlePower       uint16
	IdlePowerScale  uint8
	Rsvd19          uint8
	ActivePower     uint16
	ActivePowerScale uint8
	Rsvd23          [9]byte
} // 32 bytes

// NonOperational reports whether this state is a non-operational power
// state (NVMe 2.x §5.17.2.1, flags bit 0).
func (s StateDescriptor) NonOperational() bool { return s.Flags&0x1 != 0 }

// Manager reads power-state descriptors and drives the Power Management
// feature over an admin channel.
type Manager struct {
	admin    *nvme.AdminChannel
	features *feature.Manager
}

// NewManager binds a power manager to an admin channel.
func NewManager(admin *nvme.AdminChannel) *Manager {
	return &Manager{admin: admin, features: feature.NewManager(admin)}
}

// States re-issues Identify Controller into scratch and decodes the
// 32-entry power-state descriptor table, returning the entries that come
// before the first one with MaxPower zero (an unpopulated slot reads as
// all-zero); entries after that one are not returned.
func (m *Manager) States(ctx context.Context, scratch dma.Region) ([]StateDescriptor, error) {
	cmd := nvme.EncodeIdentify(0, nvme.CNSController, 0, uint64(scratch.Phys), 0)
	if _, err := m.admin.Exec(ctx, cmd); err != nil {
		return nil, err
	}

	buf := scratch.Bytes()[psdTableOffset:]
	var all [32]StateDescriptor
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &all); err != nil {
		return nil, err
	}

	var states []StateDescriptor
	for _, s := range all {
		if s.MaxPower == 0 {
			break
		}
		states = append(states, s)
	}
	return states, nil
}

// SetState transitions the controller to powerState via the Power
// Management feature.
func (m *Manager) SetState(ctx context.Context, powerState uint8, workloadHint uint8) error {
	value := feature.PowerManagementValue(powerState, workloadHint)
	return m.features.Set(ctx, feature.IDPowerManagement, value, false)
}

// CurrentState reads back the controller's current power state.
func (m *Manager) CurrentState(ctx context.Context) (uint8, error) {
	rec, err := m.features.Get(ctx, feature.IDPowerManagement)
	if err != nil {
		return 0, err
	}
	return uint8(rec.Value & 0x1F), nil
}
