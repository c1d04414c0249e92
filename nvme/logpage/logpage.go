// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package logpage decodes Get Log Page results into typed Go structs. It
// never touches a queue pair directly; it rides on top of an admin channel.
package logpage

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
)

// Log page identifiers (NVMe 2.x §5.16.1).
const (
	IDErrorInformation           = 0x01
	IDSMARTHealth                = 0x02
	IDFirmwareSlot               = 0x03
	IDChangedNamespaceList       = 0x04
	IDCommandsSupportedAndEffects = 0x05
	IDEnduranceGroupInformation  = 0x09
)

// SMARTLog is the SMART/Health Information log page (NVMe 2.x §5.16.1.3),
// including the endurance-group critical warning byte.
type SMARTLog struct {
	CritWarning      uint8
	Temperature      [2]uint8
	AvailSpare       uint8
	SpareThresh      uint8
	PercentUsed      uint8
	EnduranceCritWarning uint8
	Rsvd7            [25]byte
	DataUnitsRead    [16]byte
	DataUnitsWritten [16]byte
	HostReads        [16]byte
	HostWrites       [16]byte
	CtrlBusyTime     [16]byte
	PowerCycles      [16]byte
	PowerOnHours     [16]byte
	UnsafeShutdowns  [16]byte
	MediaErrors      [16]byte
	NumErrLogEntries [16]byte
	WarningTempTime  uint32
	CritCompTime     uint32
	TempSensor       [8]uint16
	Rsvd216          [296]byte
} // 512 bytes

// ErrorLogEntry is a single Error Information log page entry (NVMe 2.x
// §5.16.1.1).
type ErrorLogEntry struct {
	ErrorCount        uint64
	SQID              uint16
	CmdID             uint16
	Status            uint16
	ParamErrorLoc     uint16
	LBA               uint64
	NSID              uint32
	VS                uint8
	TrType            uint8
	Rsvd1             [2]byte
	CmdSpecificInfo   uint64
	TrTypeSpecific    uint16
	Rsvd2             [22]byte
} // 64 bytes

// FirmwareSlotInfo is the Firmware Slot Information log page.
type FirmwareSlotInfo struct {
	AFI      uint8
	Rsvd1    [7]byte
	Revision [7][8]byte
	Rsvd2    [448]byte
} // 512 bytes

// ActiveSlot returns the firmware slot (1-7) currently active, or 0 if none
// is reported.
func (f FirmwareSlotInfo) ActiveSlot() uint8 { return f.AFI & 0x7 }

// Manager fetches and decodes log pages through an admin channel.
type Manager struct {
	admin *nvme.AdminChannel
}

// NewManager binds a log page manager to an admin channel.
func NewManager(admin *nvme.AdminChannel) *Manager {
	return &Manager{admin: admin}
}

// scratch must be a page-sized DMA region the caller owns; fetch leaves the
// result in scratch.Bytes() for the typed decode that follows it.
func (m *Manager) fetch(ctx context.Context, nsid uint32, logID uint8, numBytes uint32, scratch dma.Region) error {
	numDwords := (numBytes + 3) / 4
	cmd := nvme.EncodeGetLogPage(0, nsid, logID, numDwords, 0, uint64(scratch.Phys), 0)
	_, err := m.admin.Exec(ctx, cmd)
	return err
}

// SMARTHealth issues a Get Log Page for IDSMARTHealth against nsid
// (0xFFFFFFFF for the controller-wide log) into scratch, and decodes it.
func (m *Manager) SMARTHealth(ctx context.Context, nsid uint32, scratch dma.Region) (SMARTLog, error) {
	var log SMARTLog
	if err := m.fetch(ctx, nsid, IDSMARTHealth, uint32(binary.Size(log)), scratch); err != nil {
		return SMARTLog{}, err
	}
	if err := binary.Read(bytes.NewReader(scratch.Bytes()), binary.LittleEndian, &log); err != nil {
		return SMARTLog{}, err
	}
	return log, nil
}

// FirmwareSlot issues a Get Log Page for IDFirmwareSlot and decodes it.
func (m *Manager) FirmwareSlot(ctx context.Context, scratch dma.Region) (FirmwareSlotInfo, error) {
	var info FirmwareSlotInfo
	if err := m.fetch(ctx, 0, IDFirmwareSlot, uint32(binary.Size(info)), scratch); err != nil {
		return FirmwareSlotInfo{}, err
	}
	if err := binary.Read(bytes.NewReader(scratch.Bytes()), binary.LittleEndian, &info); err != nil {
		return FirmwareSlotInfo{}, err
	}
	return info, nil
}

// ErrorLog issues a Get Log Page for IDErrorInformation covering maxEntries
// 64-byte entries and decodes each, stopping at the first all-zero entry
// (NVMe 2.x §5.16.1.1: unused entries read as all-zero).
func (m *Manager) ErrorLog(ctx context.Context, maxEntries int, scratch dma.Region) ([]ErrorLogEntry, error) {
	entrySize := binary.Size(ErrorLogEntry{})
	if err := m.fetch(ctx, 0, IDErrorInformation, uint32(entrySize*maxEntries), scratch); err != nil {
		return nil, err
	}

	entries := make([]ErrorLogEntry, 0, maxEntries)
	r := bytes.NewReader(scratch.Bytes())
	for i := 0; i < maxEntries; i++ {
		var e ErrorLogEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			break
		}
		if e.ErrorCount == 0 {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ChangedNamespaces issues a Get Log Page for IDChangedNamespaceList and
// decodes the zero-terminated list of affected namespace ids.
func (m *Manager) ChangedNamespaces(ctx context.Context, scratch dma.Region) ([]uint32, error) {
	if err := m.fetch(ctx, 0, IDChangedNamespaceList, 4096, scratch); err != nil {
		return nil, err
	}
	buf := scratch.Bytes()
	var ids []uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		id := binary.LittleEndian.Uint32(buf[i : i+4])
		if id == 0 {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}
