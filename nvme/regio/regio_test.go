// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package regio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCAPFields(t *testing.T) {
	assert := assert.New(t)

	cap := CAP(0x00FF | uint64(3)<<32 | uint64(0xF)<<48 | uint64(0)<<52)
	assert.Equal(uint32(256), cap.MQES()) // 0x00FF zero-based -> 256
	assert.Equal(uint32(3), cap.DSTRD())
	assert.Equal(uint32(0xF), cap.MPSMIN())
	assert.Equal(uint32(0x0), cap.MPSMAX())
	assert.Equal(uint64(1)<<(0xF+12), cap.MinPageSize())
}

func TestMakeCCRoundTrip(t *testing.T) {
	assert := assert.New(t)

	cc := MakeCC(true, 6, 4)
	assert.True(cc.Enabled())

	disabled := cc.WithEnabled(false)
	assert.False(disabled.Enabled())
	// Non-EN bits must survive toggling EN.
	assert.Equal(cc&^1, disabled)

	enabled := disabled.WithEnabled(true)
	assert.Equal(cc, enabled)
}

func TestMakeAQA(t *testing.T) {
	assert := assert.New(t)

	aqa := MakeAQA(31, 63)
	assert.Equal(uint32(31), aqa&0xFFF)
	assert.Equal(uint32(63), (aqa>>16)&0xFFF)
}

func TestDoorbellOffset(t *testing.T) {
	assert := assert.New(t)

	// DSTRD=0: stride is 4 bytes, SQ/CQ doorbells interleave per queue.
	assert.Equal(uintptr(0), DoorbellOffset(0, SubQueueTail, 0))
	assert.Equal(uintptr(4), DoorbellOffset(0, CompQueueHead, 0))
	assert.Equal(uintptr(8), DoorbellOffset(1, SubQueueTail, 0))
	assert.Equal(uintptr(12), DoorbellOffset(1, CompQueueHead, 0))

	// DSTRD=1: stride doubles to 8 bytes.
	assert.Equal(uintptr(16), DoorbellOffset(1, SubQueueTail, 1))
}

func TestSimRegsResetEnableHandshake(t *testing.T) {
	assert := assert.New(t)

	regs := NewSimRegs(CAP(1023))
	regs.ReadyDelay = 1

	assert.False(CSTS(regs.Read32(OffCSTS)).Ready())

	regs.Write32(OffCC, uint32(MakeCC(true, 6, 4)))
	// First read observes the delay, not yet ready.
	assert.False(CSTS(regs.Read32(OffCSTS)).Ready())
	// Second read crosses ReadyDelay.
	assert.True(CSTS(regs.Read32(OffCSTS)).Ready())
}

func TestSimRegsASQACQAQA(t *testing.T) {
	assert := assert.New(t)

	regs := NewSimRegs(CAP(1023))
	regs.Write64(OffASQ, 0x1000)
	regs.Write64(OffACQ, 0x2000)
	regs.Write32(OffAQA, MakeAQA(15, 31))

	assert.Equal(uint64(0x1000), regs.ASQ())
	assert.Equal(uint64(0x2000), regs.ACQ())
	assert.Equal(uint32(15), regs.AQA()&0xFFF)
	assert.Equal(uint32(31), (regs.AQA()>>16)&0xFFF)
}

func TestSimRegsOnDoorbellCallback(t *testing.T) {
	assert := assert.New(t)

	regs := NewSimRegs(CAP(1023))

	var gotOffset uintptr
	var gotValue uint32
	regs.OnDoorbell = func(offset uintptr, v uint32) {
		gotOffset = offset
		gotValue = v
	}

	regs.WriteDoorbell(0x10, 7)
	assert.Equal(uintptr(0x10), gotOffset)
	assert.Equal(uint32(7), gotValue)
	assert.Equal(uint32(7), regs.Doorbell(0x10))
}

func TestNewMMIORegistersRejectsUndersizedBuffer(t *testing.T) {
	_, err := NewMMIORegisters(make([]byte, 16))
	assert.Error(t, err)
}
