// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Completion status decoding (component C11).

package nvme

import "fmt"

// Status Code Type categories (NVMe 2.x §5.2.1.3).
type StatusCodeType uint8

const (
	SCTGeneric       StatusCodeType = 0
	SCTCommandSpecific StatusCodeType = 1
	SCTMediaError    StatusCodeType = 2
	SCTPathError     StatusCodeType = 3
	SCTVendorSpecific StatusCodeType = 7
)

// SCCompareFailure is the Media Error status code for a failed Compare
// command: not a transport error.
const SCCompareFailure = 0x85

// Status is the decoded form of a completion's raw status field:
// SC = (status>>1)&0xFF, SCT = (status>>9)&0x7.
type Status struct {
	SC  uint8
	SCT StatusCodeType
}

// DecodeStatus extracts SC and SCT from a raw completion status field.
func DecodeStatus(raw uint16) Status {
	return Status{
		SC:  uint8((raw >> 1) & 0xFF),
		SCT: StatusCodeType((raw >> 9) & 0x7),
	}
}

// Success reports whether (SCT, SC) == (0, 0).
func (s Status) Success() bool { return s.SCT == SCTGeneric && s.SC == 0 }

// CompareFailed reports whether this status is a Compare command mismatch,
// which is a normal (non-error) outcome for Namespace.Compare.
func (s Status) CompareFailed() bool {
	return s.SCT == SCTMediaError && s.SC == SCCompareFailure
}

func (s Status) String() string {
	return fmt.Sprintf("SCT=%d SC=%#02x", s.SCT, s.SC)
}
