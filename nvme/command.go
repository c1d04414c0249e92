// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Command encoding for every admin and I/O opcode this core issues
// (component C4 of the driver core).

package nvme

import (
	"bytes"
	"encoding/binary"
)

// Admin opcodes (NVMe 2.x §5.1).
const (
	OpAdminDeleteSQ       = 0x00
	OpAdminCreateSQ       = 0x01
	OpAdminGetLogPage     = 0x02
	OpAdminDeleteCQ       = 0x04
	OpAdminCreateCQ       = 0x05
	OpAdminIdentify       = 0x06
	OpAdminSetFeatures    = 0x09
	OpAdminGetFeatures    = 0x0A
	OpAdminFirmwareCommit = 0x10
	OpAdminFirmwareDownload = 0x11
	OpAdminSecuritySend   = 0x81
	OpAdminSecurityRecv   = 0x82
	OpAdminSanitize       = 0x84
)

// I/O opcodes (NVMe 2.x §3.4, NVM command set).
const (
	OpIOFlush          = 0x00
	OpIOWrite          = 0x01
	OpIORead           = 0x02
	OpIOCompare        = 0x05
	OpIOWriteZeroes    = 0x08
	OpIODatasetMgmt    = 0x09
	OpIOVerify         = 0x0C
	OpIOCopy           = 0x19
)

// Identify CNS values.
const (
	CNSNamespace     = 0
	CNSController    = 1
	CNSNamespaceList = 2
)

// Command is the 64-byte packed submission queue entry. Field order and widths are bit-exact and must not
// change: hardware parses this layout directly.
type Command struct {
	Opcode      uint8
	Flags       uint8
	CID         uint16
	NSID        uint32
	Reserved    uint64
	MetadataPtr uint64
	PRP1        uint64
	PRP2        uint64
	CDW10       uint32
	CDW11       uint32
	CDW12       uint32
	CDW13       uint32
	CDW14       uint32
	CDW15       uint32
}

// Marshal encodes the command into its 64-byte wire representation. NVMe
// fields are always little-endian on the wire regardless of host
// endianness.
func (c Command) Marshal() [64]byte {
	var buf bytes.Buffer
	buf.Grow(64)
	_ = binary.Write(&buf, binary.LittleEndian, c)

	var out [64]byte
	copy(out[:], buf.Bytes())
	return out
}

// UnmarshalCommand decodes a 64-byte wire command back into a Command. Used
// by tests to verify the encoder round-trips bit-exact.
func UnmarshalCommand(b [64]byte) Command {
	var c Command
	_ = binary.Read(bytes.NewReader(b[:]), binary.LittleEndian, &c)
	return c
}

// Completion is the 16-byte packed completion queue entry.
type Completion struct {
	CmdSpecific uint32
	Reserved    uint32
	SQHead      uint16
	SQID        uint16
	CID         uint16
	Status      uint16
}

// Phase returns the low bit of Status, toggled by the controller on each
// CQ wrap.
func (c Completion) Phase() bool { return c.Status&1 != 0 }

func unmarshalCompletion(b [16]byte) Completion {
	var c Completion
	_ = binary.Read(bytes.NewReader(b[:]), binary.LittleEndian, &c)
	return c
}

func (c Completion) marshal() [16]byte {
	var buf bytes.Buffer
	buf.Grow(16)
	_ = binary.Write(&buf, binary.LittleEndian, c)
	var out [16]byte
	copy(out[:], buf.Bytes())
	return out
}

// --- Encoders for every opcode ---

// EncodeReadWrite builds a Read (opcode 0x02) or Write (0x01) command.
// blockCountZeroBased is the transfer length minus one, per the NVMe
// on-wire convention.
func EncodeReadWrite(write bool, cid uint16, nsid uint32, lba uint64, blockCountZeroBased uint16, prp1, prp2 uint64) Command {
	op := uint8(OpIORead)
	if write {
		op = OpIOWrite
	}
	return Command{
		Opcode: op,
		CID:    cid,
		NSID:   nsid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  uint32(lba),
		CDW11:  uint32(lba >> 32),
		CDW12:  uint32(blockCountZeroBased),
	}
}

// EncodeCreateSQ builds a Create I/O Submission Queue command.
func EncodeCreateSQ(cid uint16, qid uint16, sizeZeroBased uint16, sqPhys uint64, cqid uint16) Command {
	return Command{
		Opcode: OpAdminCreateSQ,
		CID:    cid,
		PRP1:   sqPhys,
		CDW10:  (uint32(sizeZeroBased) << 16) | uint32(qid),
		CDW11:  (uint32(cqid) << 16) | 1, // PC=1
	}
}

// EncodeCreateCQ builds a Create I/O Completion Queue command. Interrupts
// are always off (IEN=0, IV=0): this core is polling-only.
func EncodeCreateCQ(cid uint16, qid uint16, sizeZeroBased uint16, cqPhys uint64) Command {
	return Command{
		Opcode: OpAdminCreateCQ,
		CID:    cid,
		PRP1:   cqPhys,
		CDW10:  (uint32(sizeZeroBased) << 16) | uint32(qid),
		CDW11:  1, // PC=1, IEN=0, IV=0
	}
}

// EncodeDeleteSQ builds a Delete I/O Submission Queue command.
func EncodeDeleteSQ(cid uint16, qid uint16) Command {
	return Command{Opcode: OpAdminDeleteSQ, CID: cid, CDW10: uint32(qid)}
}

// EncodeDeleteCQ builds a Delete I/O Completion Queue command.
func EncodeDeleteCQ(cid uint16, qid uint16) Command {
	return Command{Opcode: OpAdminDeleteCQ, CID: cid, CDW10: uint32(qid)}
}

// EncodeIdentify builds an Identify command. nsid carries the namespace
// identifier (CNSNamespace) or the list base (CNSNamespaceList); it is
// ignored for CNSController.
func EncodeIdentify(cid uint16, cns uint8, nsid uint32, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpAdminIdentify,
		CID:    cid,
		NSID:   nsid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  uint32(cns),
	}
}

// EncodeGetLogPage builds a Get Log Page command. numDwords is the total
// transfer length in dwords; offset is the byte offset into the log page.
func EncodeGetLogPage(cid uint16, nsid uint32, logID uint8, numDwords uint32, offset uint64, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpAdminGetLogPage,
		CID:    cid,
		NSID:   nsid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  ((numDwords - 1) << 16) | uint32(logID),
		CDW11:  uint32(offset >> 32),
		CDW12:  uint32(offset),
	}
}

// EncodeSetFeatures builds a Set Features command.
func EncodeSetFeatures(cid uint16, nsid uint32, featureID uint8, save bool, value uint32) Command {
	cdw10 := uint32(featureID)
	if save {
		cdw10 |= 1 << 31
	}
	return Command{
		Opcode: OpAdminSetFeatures,
		CID:    cid,
		NSID:   nsid,
		CDW10:  cdw10,
		CDW11:  value,
	}
}

// FeatureSelect distinguishes which value Get Features should report.
type FeatureSelect uint8

const (
	FeatureSelectCurrent   FeatureSelect = 0
	FeatureSelectDefault   FeatureSelect = 1
	FeatureSelectSaved     FeatureSelect = 2
	FeatureSelectSupported FeatureSelect = 3
)

// EncodeGetFeatures builds a Get Features command.
func EncodeGetFeatures(cid uint16, nsid uint32, featureID uint8, sel FeatureSelect) Command {
	return Command{
		Opcode: OpAdminGetFeatures,
		CID:    cid,
		NSID:   nsid,
		CDW10:  (uint32(sel) << 8) | uint32(featureID),
	}
}

// EncodeDatasetManagement builds a Dataset Management (TRIM) command
// carrying a single range descriptor already written into DMA memory at
// prp1. nrZeroBased is the number of ranges minus
// one; idr/idw/ad select the Integrity Deallocate Read/Write and
// Attribute-Deallocate bits.
func EncodeDatasetManagement(cid uint16, nsid uint32, nrZeroBased uint32, idr, idw, ad bool, prp1, prp2 uint64) Command {
	var cdw11 uint32
	if idr {
		cdw11 |= 1 << 0
	}
	if idw {
		cdw11 |= 1 << 1
	}
	if ad {
		cdw11 |= 1 << 2
	}
	return Command{
		Opcode: OpIODatasetMgmt,
		CID:    cid,
		NSID:   nsid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  nrZeroBased,
		CDW11:  cdw11,
	}
}

// EncodeWriteZeroes builds a Write Zeroes command.
func EncodeWriteZeroes(cid uint16, nsid uint32, lba uint64, blockCountZeroBased uint16, deallocate bool) Command {
	cdw12 := uint32(blockCountZeroBased)
	if deallocate {
		cdw12 |= 1 << 25
	}
	return Command{
		Opcode: OpIOWriteZeroes,
		CID:    cid,
		NSID:   nsid,
		CDW10:  uint32(lba),
		CDW11:  uint32(lba >> 32),
		CDW12:  cdw12,
	}
}

// EncodeCompare builds a Compare command.
func EncodeCompare(cid uint16, nsid uint32, lba uint64, blockCountZeroBased uint16, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpIOCompare,
		CID:    cid,
		NSID:   nsid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  uint32(lba),
		CDW11:  uint32(lba >> 32),
		CDW12:  uint32(blockCountZeroBased),
	}
}

// EncodeVerify builds a Verify command (no host buffer — the controller
// checks media/integrity only).
func EncodeVerify(cid uint16, nsid uint32, lba uint64, blockCountZeroBased uint16) Command {
	return Command{
		Opcode: OpIOVerify,
		CID:    cid,
		NSID:   nsid,
		CDW10:  uint32(lba),
		CDW11:  uint32(lba >> 32),
		CDW12:  uint32(blockCountZeroBased),
	}
}

// EncodeCopy builds a single-range Copy command; the source range
// descriptor has already been written into DMA memory at prp1.
func EncodeCopy(cid uint16, nsid uint32, dstLBA uint64, nrZeroBased uint16, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpIOCopy,
		CID:    cid,
		NSID:   nsid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  uint32(dstLBA),
		CDW11:  uint32(dstLBA >> 32),
		CDW12:  uint32(nrZeroBased),
	}
}

// EncodeFlush builds a Flush command.
func EncodeFlush(cid uint16, nsid uint32) Command {
	return Command{Opcode: OpIOFlush, CID: cid, NSID: nsid}
}

// EncodeSecuritySend builds a Security Send command.
func EncodeSecuritySend(cid uint16, secp uint8, spsp uint16, transferLen uint32, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpAdminSecuritySend,
		CID:    cid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  (uint32(secp) << 24) | uint32(spsp),
		CDW11:  transferLen,
	}
}

// EncodeSecurityReceive builds a Security Receive command.
func EncodeSecurityReceive(cid uint16, secp uint8, spsp uint16, allocLen uint32, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpAdminSecurityRecv,
		CID:    cid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  (uint32(secp) << 24) | uint32(spsp),
		CDW11:  allocLen,
	}
}

// EncodeSanitize builds a Sanitize command.
func EncodeSanitize(cid uint16, sanact uint8, ause bool, owpass uint8, oipbp bool, ndas bool) Command {
	cdw10 := uint32(sanact & 0x7)
	if ause {
		cdw10 |= 1 << 3
	}
	cdw10 |= uint32(owpass&0xF) << 4
	if oipbp {
		cdw10 |= 1 << 8
	}
	if ndas {
		cdw10 |= 1 << 9
	}
	return Command{Opcode: OpAdminSanitize, CID: cid, CDW10: cdw10}
}

// EncodeFirmwareDownload builds a Firmware Image Download command.
func EncodeFirmwareDownload(cid uint16, dwordsMinusOne uint32, offsetDwords uint32, prp1, prp2 uint64) Command {
	return Command{
		Opcode: OpAdminFirmwareDownload,
		CID:    cid,
		PRP1:   prp1,
		PRP2:   prp2,
		CDW10:  dwordsMinusOne,
		CDW11:  offsetDwords,
	}
}

// EncodeFirmwareCommit builds a Firmware Commit command.
func EncodeFirmwareCommit(cid uint16, slot uint8, action uint8, bpid bool) Command {
	cdw10 := uint32(slot&0x7) | (uint32(action&0x7) << 3)
	if bpid {
		cdw10 |= 1 << 31
	}
	return Command{Opcode: OpAdminFirmwareCommit, CID: cid, CDW10: cdw10}
}

// EncodeDSMRange encodes a single Dataset Management range descriptor as
// NVMe's [ContextAttributes:u32, Length:u32, SLBA:u64] triple.
func EncodeDSMRange(length uint32, lba uint64) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint32(out[0:4], 0) // context attributes
	binary.LittleEndian.PutUint32(out[4:8], length)
	binary.LittleEndian.PutUint64(out[8:16], lba)
	return out
}

// EncodeCopySourceRange encodes a single-range Copy command source entry
// (simplified to the fields this core populates: SLBA and a zero-based
// block count).
func EncodeCopySourceRange(slba uint64, lengthZeroBased uint16) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], slba)
	binary.LittleEndian.PutUint16(out[8:10], lengthZeroBased)
	return out
}
