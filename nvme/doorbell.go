// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Doorbell writer (component C5).

package nvme

import "github.com/dswarbrick/nvmecore/nvme/regio"

// doorbells computes MMIO offsets from queue id and stride and issues the
// volatile writes. It never reads doorbell registers.
type doorbells struct {
	regs  regio.Registers
	dstrd uint32
}

// ringSQTail signals the controller that a command was pushed to SQ qid.
func (d doorbells) ringSQTail(qid uint16, tail int) {
	off := regio.DoorbellOffset(qid, regio.SubQueueTail, d.dstrd)
	d.regs.WriteDoorbell(off, uint32(tail))
}

// ringCQHead signals the controller that entries up to head were consumed
// from CQ qid.
func (d doorbells) ringCQHead(qid uint16, head int) {
	off := regio.DoorbellOffset(qid, regio.CompQueueHead, d.dstrd)
	d.regs.WriteDoorbell(off, uint32(head))
}
