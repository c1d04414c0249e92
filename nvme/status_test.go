// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeStatusSuccess(t *testing.T) {
	assert := assert.New(t)

	s := DecodeStatus(1) // phase bit only, SC=0, SCT=0
	assert.True(s.Success())
	assert.False(s.CompareFailed())
}

func TestDecodeStatusCompareFailure(t *testing.T) {
	assert := assert.New(t)

	raw := uint16(SCTMediaError)<<9 | uint16(SCCompareFailure)<<1 | 1
	s := DecodeStatus(raw)
	assert.False(s.Success())
	assert.True(s.CompareFailed())
	assert.Equal(SCTMediaError, s.SCT)
	assert.Equal(uint8(SCCompareFailure), s.SC)
}

func TestDecodeStatusOtherSCT(t *testing.T) {
	assert := assert.New(t)

	raw := uint16(1)<<9 | uint16(5)<<1 | 1
	s := DecodeStatus(raw)
	assert.Equal(SCTCommandSpecific, s.SCT)
	assert.Equal(uint8(5), s.SC)
	assert.False(s.Success())
}
