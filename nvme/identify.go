// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Identify Controller / Identify Namespace decoding: the raw wire structures
// and the typed views the rest of this core works with.

package nvme

import (
	"bytes"
	"encoding/binary"

	"github.com/dswarbrick/nvmecore/internal/bitops"
)

type identPowerState struct {
	MaxPower        uint16
	Rsvd2           uint8
	Flags           uint8
	EntryLat        uint32
	ExitLat         uint32
	ReadTput        uint8
	ReadLat         uint8
	WriteTput       uint8
	WriteLat        uint8
	IdlePower       uint16
	IdleScale       uint8
	Rsvd19          uint8
	ActivePower     uint16
	ActiveWorkScale uint8
	Rsvd23          [9]byte
}

// identController is the raw 4096-byte Identify Controller data structure
// (NVMe 2.x §5.17.2.1).
type identController struct {
	VendorID     uint16
	Ssvid        uint16
	SerialNumber [20]byte
	ModelNumber  [40]byte
	Firmware     [8]byte
	Rab          uint8
	IEEE         [3]byte
	Cmic         uint8
	Mdts         uint8
	Cntlid       uint16
	Ver          uint32
	Rtd3r        uint32
	Rtd3e        uint32
	Oaes         uint32
	Rsvd96       [160]byte
	Oacs         uint16
	Acl          uint8
	Aerl         uint8
	Frmw         uint8
	Lpa          uint8
	Elpe         uint8
	Npss         uint8
	Avscc        uint8
	Apsta        uint8
	Wctemp       uint16
	Cctemp       uint16
	Mtfa         uint16
	Hmpre        uint32
	Hmmin        uint32
	Tnvmcap      [16]byte
	Unvmcap      [16]byte
	Rpmbs        uint32
	Rsvd316      [196]byte
	Sqes         uint8
	Cqes         uint8
	Rsvd514      [2]byte
	Nn           uint32
	Oncs         uint16
	Fuses        uint16
	Fna          uint8
	Vwc          uint8
	Awun         uint16
	Awupf        uint16
	Nvscc        uint8
	Rsvd531      uint8
	Acwu         uint16
	Rsvd534      [2]byte
	Sgls         uint32
	Rsvd540      [1508]byte
	Psd          [32]identPowerState
	Vs           [1024]byte
} // 4096 bytes

type lbaFormat struct {
	Ms uint16
	Ds uint8
	Rp uint8
}

// identNamespace is the raw 4096-byte Identify Namespace data structure
// (NVMe 2.x §5.17.2.2).
type identNamespace struct {
	Nsze    uint64
	Ncap    uint64
	Nuse    uint64
	Nsfeat  uint8
	Nlbaf   uint8
	Flbas   uint8
	Mc      uint8
	Dpc     uint8
	Dps     uint8
	Nmic    uint8
	Rescap  uint8
	Fpi     uint8
	Rsvd33  uint8
	Nawun   uint16
	Nawupf  uint16
	Nacwu   uint16
	Nabsn   uint16
	Nabo    uint16
	Nabspf  uint16
	Rsvd46  [2]byte
	Nvmcap  [16]byte
	Rsvd64  [40]byte
	Nguid   [16]byte
	EUI64   [8]byte
	Lbaf    [16]lbaFormat
	Rsvd192 [192]byte
	Vs      [3712]byte
} // 4096 bytes

// ControllerData is the parsed, immutable snapshot of Identify Controller
// populated during init.
type ControllerData struct {
	Serial            string
	Model             string
	Firmware          string
	VendorID          uint16
	SubsystemVendorID uint16
	IEEEOUI           [3]byte
	NumNamespaces     uint32
	SGLSupport        uint32
	MaxTransferBytes  uint64 // MDTS, in bytes
	MinPageSize       uint64
	MaxQueueEntries   int // MQES+1
	MaxIOSQ           int
	MaxIOCQ           int
}

func parseIdentController(buf []byte, minPageSize uint64) (ControllerData, error) {
	var ic identController
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ic); err != nil {
		return ControllerData{}, err
	}

	return ControllerData{
		Serial:            bitops.TrimASCII(ic.SerialNumber[:]),
		Model:             bitops.TrimASCII(ic.ModelNumber[:]),
		Firmware:          bitops.TrimASCII(ic.Firmware[:]),
		VendorID:          ic.VendorID,
		SubsystemVendorID: ic.Ssvid,
		IEEEOUI:           ic.IEEE,
		NumNamespaces:     ic.Nn,
		SGLSupport:        ic.Sgls,
		MaxTransferBytes:  (uint64(1) << ic.Mdts) * minPageSize,
		MinPageSize:       minPageSize,
	}, nil
}

// NamespaceData is the parsed Identify Namespace result used to build a
// Namespace record.
type NamespaceData struct {
	NSID       uint32
	BlockSize  uint32
	BlockCount uint64
	NGUID      [16]byte
	EUI64      [8]byte
}

func parseIdentNamespace(nsid uint32, buf []byte) (NamespaceData, error) {
	var in identNamespace
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &in); err != nil {
		return NamespaceData{}, err
	}

	lbaf := in.Lbaf[in.Flbas&0xF]
	blockSize := uint32(1) << lbaf.Ds
	if blockSize < 512 {
		return NamespaceData{}, ErrInvalidBufferSize{Len: int(blockSize), BlockSize: 512}
	}

	return NamespaceData{
		NSID:       nsid,
		BlockSize:  blockSize,
		BlockCount: in.Nsze,
		NGUID:      in.Nguid,
		EUI64:      in.EUI64,
	}, nil
}

// parseNamespaceList decodes the 1024 x u32 array returned by Identify
// NamespaceList, stopping at the first zero entry.
func parseNamespaceList(buf []byte) []uint32 {
	var ids []uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		id := binary.LittleEndian.Uint32(buf[i : i+4])
		if id == 0 {
			break
		}
		ids = append(ids, id)
	}
	return ids
}
