// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// SimDevice is test/demo infrastructure: a software model of the far side
// of the PCIe link. It watches regio.SimRegs doorbell writes and executes
// whatever commands appear in the matching submission queue, letting
// Attach, namespace I/O, and Shutdown run to completion without real
// hardware.

package nvme

import (
	"bytes"
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/dswarbrick/nvmecore/internal/bitops"
	"github.com/dswarbrick/nvmecore/nvme/regio"
)

type simQueueState struct {
	sqBase     uintptr
	sqLen      int
	sqConsumed int

	cqBase     uintptr
	cqLen      int
	cqProduced int
	cqPhase    bool
}

type simNamespace struct {
	data  NamespaceData
	media []byte
}

// SimDevice is a fake NVMe controller bound to a regio.SimRegs register
// file. Physical addresses in this model are Go pointers (SimAllocator
// reports Phys == Virt), so the device reaches "physical" memory directly
// instead of walking a real PRP chain — the PRP encoding is still exercised
// on the host side by PRPBuilder, but the fake device only needs the
// (pointer, length) pair it already knows the transfer covers.
type SimDevice struct {
	regs *regio.SimRegs

	mu              sync.Mutex
	dstrd           uint32
	queues          map[uint16]*simQueueState
	identController [4096]byte
	namespaces      map[uint32]*simNamespace
	nsOrder         []uint32
	maxIOQueues     int
	features        map[uint8]uint32
}

// NewSimDevice wires a SimDevice to regs via regs.OnDoorbell. dstrd must
// match the doorbell stride advertised in the CAP value regs was built
// with (regio.CAP.DSTRD), and maxIOQueues bounds what a Set-Features
// NumberOfQueues call will grant.
func NewSimDevice(regs *regio.SimRegs, dstrd uint32, maxIOQueues int) *SimDevice {
	sd := &SimDevice{
		regs:        regs,
		dstrd:       dstrd,
		queues:      make(map[uint16]*simQueueState),
		namespaces:  make(map[uint32]*simNamespace),
		maxIOQueues: maxIOQueues,
		features:    make(map[uint8]uint32),
	}
	regs.OnDoorbell = sd.handleDoorbell

	var ic identController
	copy(ic.SerialNumber[:], padASCII("SIM0000000000000001", 20))
	copy(ic.ModelNumber[:], padASCII("nvmecore simulated controller", 40))
	copy(ic.Firmware[:], padASCII("1.0", 8))
	ic.Mdts = 5 // 2^5 pages
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, ic)
	copy(sd.identController[:], buf.Bytes())

	return sd
}

func padASCII(s string, n int) []byte {
	b := bytes.Repeat([]byte{' '}, n)
	copy(b, s)
	return b
}

// AddNamespace registers a namespace the device reports via Identify
// NamespaceList/Identify Namespace, backed by a zero-filled media image so
// Read/Write/Compare round-trip meaningfully.
func (sd *SimDevice) AddNamespace(nsid uint32, blockSize uint32, blockCount uint64) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.namespaces[nsid] = &simNamespace{
		data:  NamespaceData{NSID: nsid, BlockSize: blockSize, BlockCount: blockCount},
		media: make([]byte, uint64(blockSize)*blockCount),
	}
	sd.nsOrder = append(sd.nsOrder, nsid)

	var ic identController
	binary.Read(bytes.NewReader(sd.identController[:]), binary.LittleEndian, &ic)
	ic.Nn = uint32(len(sd.nsOrder))
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, ic)
	copy(sd.identController[:], buf.Bytes())
}

func physBytes(addr uintptr, n int) []byte {
	if addr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func (sd *SimDevice) handleDoorbell(offset uintptr, value uint32) {
	stride := uintptr(4) << sd.dstrd
	idx := offset / stride
	qid := uint16(idx / 2)
	isSQTail := idx%2 == 0
	if !isSQTail {
		return
	}

	sd.mu.Lock()
	q := sd.queues[qid]
	if q == nil && qid == 0 {
		q = &simQueueState{
			sqBase: uintptr(sd.regs.ASQ()),
			sqLen:  int(sd.regs.AQA()&0xFFF) + 1,
			cqBase: uintptr(sd.regs.ACQ()),
			cqLen:  int((sd.regs.AQA()>>16)&0xFFF) + 1,
			cqPhase: true,
		}
		sd.queues[qid] = q
	}
	if q == nil {
		sd.mu.Unlock()
		return
	}

	newTail := int(value)
	cmds := []Command{}
	for q.sqConsumed != newTail {
		raw := q.sqBase + uintptr(q.sqConsumed)*commandSize
		var wire [commandSize]byte
		copy(wire[:], physBytes(raw, commandSize))
		cmds = append(cmds, UnmarshalCommand(wire))
		q.sqConsumed = (q.sqConsumed + 1) % q.sqLen
	}
	sd.mu.Unlock()

	for _, cmd := range cmds {
		sd.execute(qid, cmd)
	}
}

func (sd *SimDevice) execute(qid uint16, cmd Command) {
	var cmdSpecific uint32
	status := Status{SCT: SCTGeneric, SC: 0}

	switch {
	case qid == 0:
		cmdSpecific, status = sd.executeAdmin(cmd)
	default:
		status = sd.executeIO(cmd)
	}

	sd.postCompletion(qid, cmd, cmdSpecific, status)
}

func (sd *SimDevice) executeAdmin(cmd Command) (uint32, Status) {
	switch cmd.Opcode {
	case OpAdminIdentify:
		cns := uint8(cmd.CDW10)
		switch cns {
		case CNSController:
			sd.mu.Lock()
			copy(physBytes(uintptr(cmd.PRP1), len(sd.identController)), sd.identController[:])
			sd.mu.Unlock()
		case CNSNamespace:
			sd.mu.Lock()
			ns := sd.namespaces[cmd.NSID]
			sd.mu.Unlock()
			if ns == nil {
				return 0, Status{SCT: SCTGeneric, SC: 0x0B} // Invalid Namespace or Format
			}
			var in identNamespace
			in.Nsze = ns.data.BlockCount
			in.Ncap = ns.data.BlockCount
			in.Nuse = ns.data.BlockCount
			in.Nlbaf = 0
			in.Flbas = 0
			in.Lbaf[0] = lbaFormat{Ds: uint8(bitops.Log2Floor(uint64(ns.data.BlockSize)))}
			var buf bytes.Buffer
			binary.Write(&buf, binary.LittleEndian, in)
			copy(physBytes(uintptr(cmd.PRP1), 4096), buf.Bytes())
		case CNSNamespaceList:
			sd.mu.Lock()
			ids := append([]uint32(nil), sd.nsOrder...)
			sd.mu.Unlock()
			buf := make([]byte, 4096)
			for i, id := range ids {
				binary.LittleEndian.PutUint32(buf[i*4:i*4+4], id)
			}
			copy(physBytes(uintptr(cmd.PRP1), 4096), buf)
		}
		return 0, Status{SCT: SCTGeneric, SC: 0}

	case OpAdminSetFeatures:
		featureID := uint8(cmd.CDW10)
		if featureID == 0x07 { // NumberOfQueues
			reqSQ := int(cmd.CDW11&0xFFFF) + 1
			reqCQ := int((cmd.CDW11>>16)&0xFFFF) + 1
			grantedSQ := min(reqSQ, sd.maxIOQueues)
			grantedCQ := min(reqCQ, sd.maxIOQueues)
			granted := (uint32(grantedCQ-1) << 16) | uint32(grantedSQ-1)
			sd.mu.Lock()
			sd.features[featureID] = granted
			sd.mu.Unlock()
			return granted, Status{SCT: SCTGeneric, SC: 0}
		}
		sd.mu.Lock()
		sd.features[featureID] = cmd.CDW11
		sd.mu.Unlock()
		return 0, Status{SCT: SCTGeneric, SC: 0}

	case OpAdminGetFeatures:
		featureID := uint8(cmd.CDW10)
		sd.mu.Lock()
		value, ok := sd.features[featureID]
		sd.mu.Unlock()
		if !ok {
			return 0, Status{SCT: SCTGeneric, SC: 0}
		}
		return value, Status{SCT: SCTGeneric, SC: 0}

	case OpAdminCreateCQ:
		qid := uint16(cmd.CDW10 & 0xFFFF)
		size := int(cmd.CDW10>>16) + 1
		sd.mu.Lock()
		sd.queues[qid] = &simQueueState{cqBase: uintptr(cmd.PRP1), cqLen: size, cqPhase: true}
		sd.mu.Unlock()
		return 0, Status{SCT: SCTGeneric, SC: 0}

	case OpAdminCreateSQ:
		qid := uint16(cmd.CDW10 & 0xFFFF)
		size := int(cmd.CDW10>>16) + 1
		sd.mu.Lock()
		q := sd.queues[qid]
		if q == nil {
			q = &simQueueState{}
			sd.queues[qid] = q
		}
		q.sqBase = uintptr(cmd.PRP1)
		q.sqLen = size
		sd.mu.Unlock()
		return 0, Status{SCT: SCTGeneric, SC: 0}

	case OpAdminDeleteSQ:
		qid := uint16(cmd.CDW10)
		sd.mu.Lock()
		if q := sd.queues[qid]; q != nil {
			q.sqBase, q.sqLen = 0, 0
		}
		sd.mu.Unlock()
		return 0, Status{SCT: SCTGeneric, SC: 0}

	case OpAdminDeleteCQ:
		qid := uint16(cmd.CDW10)
		sd.mu.Lock()
		delete(sd.queues, qid)
		sd.mu.Unlock()
		return 0, Status{SCT: SCTGeneric, SC: 0}

	default:
		// Get-Log-Page, Firmware-*, Security-*, Sanitize: acknowledged
		// with no side effects in this model.
		return 0, Status{SCT: SCTGeneric, SC: 0}
	}
}

func (sd *SimDevice) executeIO(cmd Command) Status {
	sd.mu.Lock()
	ns := sd.namespaces[cmd.NSID]
	sd.mu.Unlock()
	if ns == nil {
		return Status{SCT: SCTGeneric, SC: 0x0B}
	}

	switch cmd.Opcode {
	case OpIORead:
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		blocks := uint64(uint16(cmd.CDW12)) + 1
		n := int(blocks * uint64(ns.data.BlockSize))
		off := int(lba * uint64(ns.data.BlockSize))
		dst := physBytes(uintptr(cmd.PRP1), n)
		copy(dst, ns.media[off:off+n])

	case OpIOWrite:
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		blocks := uint64(uint16(cmd.CDW12)) + 1
		n := int(blocks * uint64(ns.data.BlockSize))
		off := int(lba * uint64(ns.data.BlockSize))
		src := physBytes(uintptr(cmd.PRP1), n)
		copy(ns.media[off:off+n], src)

	case OpIOCompare:
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		blocks := uint64(uint16(cmd.CDW12)) + 1
		n := int(blocks * uint64(ns.data.BlockSize))
		off := int(lba * uint64(ns.data.BlockSize))
		src := physBytes(uintptr(cmd.PRP1), n)
		if !bytes.Equal(src, ns.media[off:off+n]) {
			return Status{SCT: SCTMediaError, SC: SCCompareFailure}
		}

	case OpIOWriteZeroes:
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		blocks := uint64(uint16(cmd.CDW12)) + 1
		n := int(blocks * uint64(ns.data.BlockSize))
		off := int(lba * uint64(ns.data.BlockSize))
		for i := off; i < off+n; i++ {
			ns.media[i] = 0
		}

	case OpIODatasetMgmt, OpIOVerify, OpIOFlush, OpIOCopy:
		// Acknowledged with no media-visible effect in this model.
	}

	return Status{SCT: SCTGeneric, SC: 0}
}

func (sd *SimDevice) postCompletion(qid uint16, cmd Command, cmdSpecific uint32, status Status) {
	sd.mu.Lock()
	q := sd.queues[qid]
	if q == nil || q.cqBase == 0 {
		sd.mu.Unlock()
		return
	}

	sqHead := uint16(q.sqConsumed)
	raw := uint16(status.SC)<<1 | uint16(status.SCT)<<9
	if q.cqPhase {
		raw |= 1
	}

	comp := Completion{
		CmdSpecific: cmdSpecific,
		SQHead:      sqHead,
		SQID:        qid,
		CID:         cmd.CID,
		Status:      raw,
	}
	wire := comp.marshal()
	copy(physBytes(q.cqBase+uintptr(q.cqProduced)*completionSize, completionSize), wire[:])

	q.cqProduced++
	if q.cqProduced == q.cqLen {
		q.cqProduced = 0
		q.cqPhase = !q.cqPhase
	}
	sd.mu.Unlock()
}
