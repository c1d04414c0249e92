// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package feature builds and decodes Get/Set Features admin traffic.
package feature

import (
	"context"

	"github.com/dswarbrick/nvmecore/nvme"
)

// Feature identifiers (NVMe 2.x §5.27.1) this core drives.
const (
	IDArbitration          = 0x01
	IDPowerManagement      = 0x02
	IDTemperatureThreshold = 0x04
	IDNumberOfQueues       = 0x07
	IDInterruptCoalescing  = 0x08
	IDAsyncEventConfig     = 0x0B
	IDVolatileWriteCache   = 0x06
	IDHostMemoryBuffer     = 0x0D
)

// Record is the decoded result of a Get Features call.
type Record struct {
	ID       uint8
	Value    uint32
	Saveable bool
}

// Manager issues Get/Set Features commands over an admin channel.
type Manager struct {
	admin *nvme.AdminChannel
}

// NewManager binds a feature manager to an admin channel.
func NewManager(admin *nvme.AdminChannel) *Manager {
	return &Manager{admin: admin}
}

// Get fetches the current value of featureID.
func (m *Manager) Get(ctx context.Context, featureID uint8) (Record, error) {
	comp, err := m.admin.Exec(ctx, nvme.EncodeGetFeatures(0, 0, featureID, nvme.FeatureSelectCurrent))
	if err != nil {
		return Record{}, err
	}
	return Record{ID: featureID, Value: comp.CmdSpecific}, nil
}

// Set writes value to featureID, optionally persisting it across a
// controller reset (save=true).
func (m *Manager) Set(ctx context.Context, featureID uint8, value uint32, save bool) error {
	_, err := m.admin.Exec(ctx, nvme.EncodeSetFeatures(0, 0, featureID, save, value))
	return err
}

// PowerManagementValue packs the Power Management feature's CDW11 from a
// target power state and workload hint.
func PowerManagementValue(powerState uint8, workloadHint uint8) uint32 {
	return uint32(powerState&0x1F) | (uint32(workloadHint&0x7) << 5)
}

// TemperatureThresholdValue packs the Temperature Threshold feature's CDW11
// from a threshold in Kelvin, a threshold-list selector, and a type.
func TemperatureThresholdValue(thresholdKelvin uint16, sel uint8, thresholdType uint8) uint32 {
	v := uint32(thresholdKelvin)
	v |= uint32(sel&0xF) << 16
	v |= uint32(thresholdType&0x3) << 20
	return v
}

// InterruptCoalescingValue packs the Interrupt Coalescing feature's CDW11.
// This core never unmasks interrupts, so setting
// this feature has no observable effect, but the encode path is exercised
// by callers that mirror a real driver's startup sequence.
func InterruptCoalescingValue(threshold uint8, time uint8) uint32 {
	return uint32(threshold) | (uint32(time) << 8)
}

// VolatileWriteCacheValue packs the Volatile Write Cache enable bit.
func VolatileWriteCacheValue(enabled bool) uint32 {
	if enabled {
		return 1
	}
	return 0
}
