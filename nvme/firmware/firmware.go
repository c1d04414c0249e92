// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package firmware drives Firmware Image Download / Firmware Commit admin
// traffic. The broader activation state machine (reset scheduling, boot
// partitions) is out of scope; this package restricts itself to the
// admin-command traffic an update drives.
package firmware

import (
	"context"
	"fmt"

	"github.com/dswarbrick/nvmecore/nvme"
	"github.com/dswarbrick/nvmecore/nvme/dma"
)

// CommitAction selects how a Firmware Commit takes effect (NVMe 2.x §5.8).
type CommitAction uint8

const (
	ActionReplaceNoActivate       CommitAction = 0
	ActionReplaceActivateNextReset CommitAction = 1
	ActionActivateNextReset        CommitAction = 2
	ActionReplaceActivateNow       CommitAction = 3
)

// chunkDwords is the size, in dwords, of one 4096-byte scratch page.
// Download does not use it: its chunk size is its pageSize argument.
const chunkDwords = 4096 / 4

// ErrInvalidSlot rejects a firmware operation against slot 1, which is
// always read-only (NVMe 2.x §5.8), or any slot above 7. Slot 0 is not
// rejected.
type ErrInvalidSlot struct{ Slot uint8 }

func (e ErrInvalidSlot) Error() string {
	return fmt.Sprintf("firmware: slot %d is invalid or read-only", e.Slot)
}

// Manager drives firmware download and commit over an admin channel.
type Manager struct {
	admin *nvme.AdminChannel
	alloc dma.Allocator
}

// NewManager binds a firmware manager to an admin channel and the
// allocator used to stage download chunks.
func NewManager(admin *nvme.AdminChannel, alloc dma.Allocator) *Manager {
	return &Manager{admin: admin, alloc: alloc}
}

// Download transfers image to the controller's firmware download buffer in
// page-sized chunks via repeated Firmware Image Download commands.
func (m *Manager) Download(ctx context.Context, image []byte, pageSize uintptr) error {
	chunkSize := int(pageSize)
	for offset := 0; offset < len(image); offset += chunkSize {
		end := offset + chunkSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[offset:end]

		region, err := m.alloc.Allocate(pageSize)
		if err != nil {
			return err
		}
		copy(region.Bytes(), chunk)

		dwordsMinusOne := uint32((len(chunk)+3)/4) - 1
		offsetDwords := uint32(offset / 4)
		cmd := nvme.EncodeFirmwareDownload(0, dwordsMinusOne, offsetDwords, uint64(region.Phys), 0)
		_, err = m.admin.Exec(ctx, cmd)
		m.alloc.Free(region)
		if err != nil {
			return err
		}
	}
	return nil
}

// Commit activates a previously downloaded image in slot, per action.
// Slot 1 is rejected per NVMe 2.x §5.8 (always read-only).
func (m *Manager) Commit(ctx context.Context, slot uint8, action CommitAction, bootPartitionID *uint8) error {
	if slot == 1 || slot > 7 {
		return ErrInvalidSlot{Slot: slot}
	}
	bpid := bootPartitionID != nil
	cmd := nvme.EncodeFirmwareCommit(0, slot, uint8(action), bpid)
	_, err := m.admin.Exec(ctx, cmd)
	return err
}
