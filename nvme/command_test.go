// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandMarshalRoundTrip(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeReadWrite(true, 42, 1, 0x1000, 7, 0xDEADBEEF, 0xCAFEBABE)
	wire := cmd.Marshal()
	got := UnmarshalCommand(wire)

	assert.Equal(cmd, got)
	assert.Equal(uint8(OpIOWrite), got.Opcode)
	assert.Equal(uint16(42), got.CID)
	assert.Equal(uint32(1), got.NSID)
	assert.Equal(uint64(0xDEADBEEF), got.PRP1)
}

func TestEncodeReadWriteOpcodeSelection(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint8(OpIORead), EncodeReadWrite(false, 0, 0, 0, 0, 0, 0).Opcode)
	assert.Equal(uint8(OpIOWrite), EncodeReadWrite(true, 0, 0, 0, 0, 0, 0).Opcode)
}

func TestEncodeCreateSQPacksSizeQidAndCQID(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeCreateSQ(1, 3, 255, 0x1000, 2)
	assert.Equal(uint8(OpAdminCreateSQ), cmd.Opcode)
	assert.Equal(uint32(3), cmd.CDW10&0xFFFF)
	assert.Equal(uint32(255), (cmd.CDW10>>16)&0xFFFF)
	assert.Equal(uint32(2), (cmd.CDW11>>16)&0xFFFF)
	assert.Equal(uint32(1), cmd.CDW11&1) // PC bit
}

func TestEncodeCreateCQPacksSizeAndQid(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeCreateCQ(1, 4, 127, 0x2000)
	assert.Equal(uint8(OpAdminCreateCQ), cmd.Opcode)
	assert.Equal(uint32(4), cmd.CDW10&0xFFFF)
	assert.Equal(uint32(127), (cmd.CDW10>>16)&0xFFFF)
	assert.Equal(uint32(1), cmd.CDW11) // PC=1, IEN=0
}

func TestEncodeGetLogPagePacksNumDwordsAndLogID(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeGetLogPage(1, 0xFFFFFFFF, 0x02, 128, 0, 0x3000, 0)
	assert.Equal(uint8(OpAdminGetLogPage), cmd.Opcode)
	assert.Equal(uint32(0x02), cmd.CDW10&0xFF)
	assert.Equal(uint32(127), (cmd.CDW10>>16)&0xFFFF) // numDwords-1
}

func TestEncodeSetFeaturesSaveBit(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeSetFeatures(1, 0, 0x07, true, 0x00030003)
	assert.NotZero(cmd.CDW10 & (1 << 31))
	assert.Equal(uint32(0x07), cmd.CDW10&0xFF)
	assert.Equal(uint32(0x00030003), cmd.CDW11)

	cmd2 := EncodeSetFeatures(1, 0, 0x07, false, 0)
	assert.Zero(cmd2.CDW10 & (1 << 31))
}

func TestEncodeDatasetManagementAttributeBits(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeDatasetManagement(1, 1, 0, false, false, true, 0x4000, 0)
	assert.Equal(uint8(OpIODatasetMgmt), cmd.Opcode)
	assert.Equal(uint32(1<<2), cmd.CDW11)
}

func TestEncodeWriteZeroesDeallocateBit(t *testing.T) {
	assert := assert.New(t)

	cmd := EncodeWriteZeroes(1, 1, 0x100, 7, true)
	assert.NotZero(cmd.CDW12 & (1 << 25))

	cmd2 := EncodeWriteZeroes(1, 1, 0x100, 7, false)
	assert.Zero(cmd2.CDW12 & (1 << 25))
}

func TestEncodeDSMRangeLayout(t *testing.T) {
	assert := assert.New(t)

	out := EncodeDSMRange(8, 1000)
	assert.Equal(uint32(0), uint32(out[0])|uint32(out[1])<<8|uint32(out[2])<<16|uint32(out[3])<<24)
	assert.Equal(uint32(8), uint32(out[4])|uint32(out[5])<<8|uint32(out[6])<<16|uint32(out[7])<<24)
}

func TestCompletionPhase(t *testing.T) {
	assert := assert.New(t)

	assert.True(Completion{Status: 1}.Phase())
	assert.False(Completion{Status: 0}.Phase())
	assert.True(Completion{Status: 0x85<<1 | 1}.Phase())
}
