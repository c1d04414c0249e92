// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package regio provides typed, ordered access to an NVMe controller's
// memory-mapped register file and doorbell window.
//
// The standard library has no volatile primitive. As in bare-metal Go
// drivers such as tamago's soc/imx6 register helpers, ordered access to a
// hardware register window is approximated here with sync/atomic loads and
// stores over an unsafe.Pointer into the backing memory, which additionally
// gives the ordering guarantees the doorbell protocol requires.
package regio

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Registers is the controller register file and doorbell window at
// base..base+0x1000 (registers) and base+0x1000.. (doorbells). All access is
// volatile; reads must not be reordered and writes must reach the device.
type Registers interface {
	// Read32/Read64 perform a volatile load at the given byte offset from
	// the register file base.
	Read32(offset uintptr) uint32
	Read64(offset uintptr) uint64

	// Write32/Write64 perform a volatile store at the given byte offset
	// from the register file base.
	Write32(offset uintptr, v uint32)
	Write64(offset uintptr, v uint64)

	// WriteDoorbell performs a volatile 32-bit store at the given byte
	// offset from the doorbell window base (base+0x1000).
	WriteDoorbell(offset uintptr, v uint32)
}

// Register offsets within the controller register file (NVMe 2.x §3.1).
const (
	OffCAP    = 0x00 // Controller Capabilities (64-bit)
	OffVS     = 0x08 // Version (32-bit)
	OffINTMS  = 0x0C // Interrupt Mask Set (32-bit)
	OffINTMC  = 0x10 // Interrupt Mask Clear (32-bit)
	OffCC     = 0x14 // Controller Configuration (32-bit)
	OffCSTS   = 0x1C // Controller Status (32-bit)
	OffNSSR   = 0x20 // NVM Subsystem Reset (32-bit)
	OffAQA    = 0x24 // Admin Queue Attributes (32-bit)
	OffASQ    = 0x28 // Admin Submission Queue Base Address (64-bit)
	OffACQ    = 0x30 // Admin Completion Queue Base Address (64-bit)
	DoorbellBase uintptr = 0x1000
)

// CAP field accessors (NVMe 2.x §3.1.1).
type CAP uint64

func (c CAP) MQES() uint32  { return uint32(c&0xFFFF) + 1 } // zero-based -> count
func (c CAP) DSTRD() uint32 { return uint32((c >> 32) & 0xF) }
func (c CAP) MPSMIN() uint32 { return uint32((c >> 48) & 0xF) }
func (c CAP) MPSMAX() uint32 { return uint32((c >> 52) & 0xF) }

// MinPageSize returns the controller's minimum supported memory page size
// in bytes: 1 << (MPSMIN + 12).
func (c CAP) MinPageSize() uint64 { return 1 << (c.MPSMIN() + 12) }

// CC is the Controller Configuration register (NVMe 2.x §3.1.5).
type CC uint32

const (
	ccEN     = 1 << 0
	ccIOSQESShift = 16
	ccIOCQESShift = 20
)

func (c CC) Enabled() bool { return c&ccEN != 0 }

func MakeCC(enabled bool, iosqes, iocqes uint8) CC {
	var v CC
	if enabled {
		v |= ccEN
	}
	v |= CC(iosqes&0xF) << ccIOSQESShift
	v |= CC(iocqes&0xF) << ccIOCQESShift
	return v
}

// WithEnabled returns a copy of c with EN set or cleared, preserving every
// other field.
func (c CC) WithEnabled(enabled bool) CC {
	if enabled {
		return c | ccEN
	}
	return c &^ ccEN
}

// CSTS is the Controller Status register (NVMe 2.x §3.1.6).
type CSTS uint32

func (s CSTS) Ready() bool { return s&1 != 0 }

// MakeAQA packs the Admin Queue Attributes register from zero-based admin
// SQ/CQ sizes.
func MakeAQA(sqSizeZeroBased, cqSizeZeroBased uint32) uint32 {
	return (sqSizeZeroBased & 0xFFF) | ((cqSizeZeroBased & 0xFFF) << 16)
}

// DoorbellKind distinguishes SQ-tail and CQ-head doorbells.
type DoorbellKind int

const (
	SubQueueTail DoorbellKind = iota
	CompQueueHead
)

// DoorbellOffset computes the byte offset of a queue's doorbell register
// from the doorbell window base.
func DoorbellOffset(qid uint16, kind DoorbellKind, dstrd uint32) uintptr {
	stride := uintptr(4) << dstrd
	idx := uintptr(2*qid)
	if kind == CompQueueHead {
		idx++
	}
	return idx * stride
}

// mmioRegisters is the real MMIO-backed implementation. NewMMIORegisters
// accepts a mapping of at least 0x1008 bytes (register file plus the admin
// pair's two doorbells at the minimum stride); callers size it for
// max_io_queues+1 pairs.
type mmioRegisters struct {
	base unsafe.Pointer
	size uintptr
}

// NewMMIORegisters wraps a mapped memory region (e.g. obtained via
// golang.org/x/sys/unix.Mmap over /dev/mem, see cmd/nvmectl's real-hardware
// attach path) as a Registers implementation.
func NewMMIORegisters(mem []byte) (Registers, error) {
	if len(mem) < int(DoorbellBase)+8 {
		return nil, fmt.Errorf("regio: mapped region too small: %d bytes", len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("regio: mapped region is not 8-byte aligned")
	}
	return &mmioRegisters{base: unsafe.Pointer(&mem[0]), size: uintptr(len(mem))}, nil
}

func (r *mmioRegisters) ptr32(offset uintptr) *uint32 {
	if offset+4 > r.size {
		panic(fmt.Sprintf("regio: offset %#x out of range", offset))
	}
	return (*uint32)(unsafe.Pointer(uintptr(r.base) + offset))
}

func (r *mmioRegisters) ptr64(offset uintptr) *uint64 {
	if offset+8 > r.size {
		panic(fmt.Sprintf("regio: offset %#x out of range", offset))
	}
	return (*uint64)(unsafe.Pointer(uintptr(r.base) + offset))
}

func (r *mmioRegisters) Read32(offset uintptr) uint32  { return atomic.LoadUint32(r.ptr32(offset)) }
func (r *mmioRegisters) Read64(offset uintptr) uint64  { return atomic.LoadUint64(r.ptr64(offset)) }
func (r *mmioRegisters) Write32(offset uintptr, v uint32) { atomic.StoreUint32(r.ptr32(offset), v) }
func (r *mmioRegisters) Write64(offset uintptr, v uint64) { atomic.StoreUint64(r.ptr64(offset), v) }

func (r *mmioRegisters) WriteDoorbell(offset uintptr, v uint32) {
	atomic.StoreUint32(r.ptr32(DoorbellBase+offset), v)
}
