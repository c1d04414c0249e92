// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package regio

import "sync"

// SimRegs is a software model of a controller register file and doorbell
// window, used by tests and by cmd/nvmectl when no real BAR is attached.
// It implements enough of the NVMe reset/enable handshake and doorbell
// bookkeeping to drive the engine end-to-end without hardware.
type SimRegs struct {
	mu sync.Mutex

	cap  CAP
	vs   uint32
	cc   CC
	csts CSTS
	aqa  uint32
	asq  uint64
	acq  uint64

	doorbells map[uintptr]uint32

	// ReadyDelay simulates the number of reads of CSTS required before
	// RDY tracks EN, modeling real hardware reset/enable latency.
	ReadyDelay int
	readyCount int

	// OnDoorbell, if set, is invoked synchronously after every doorbell
	// write with the lock released, letting a device model (e.g.
	// nvme.SimDevice) react to submission queue tail advances.
	OnDoorbell func(offset uintptr, v uint32)
}

// NewSimRegs constructs a simulated register file with the given CAP value.
func NewSimRegs(cap CAP) *SimRegs {
	return &SimRegs{
		cap:       cap,
		vs:        0x00020000, // NVMe 2.0
		doorbells: make(map[uintptr]uint32),
	}
}

func (s *SimRegs) Read32(offset uintptr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case OffVS:
		return s.vs
	case OffINTMS, OffINTMC:
		return 0
	case OffCC:
		return uint32(s.cc)
	case OffCSTS:
		return s.simCSTSLocked()
	case OffNSSR:
		return 0
	case OffAQA:
		return s.aqa
	default:
		panic("regio: SimRegs unsupported 32-bit offset")
	}
}

func (s *SimRegs) simCSTSLocked() uint32 {
	want := s.cc.Enabled()
	ready := s.csts.Ready()

	if want != ready {
		if s.readyCount >= s.ReadyDelay {
			if want {
				s.csts = CSTS(1)
			} else {
				s.csts = CSTS(0)
			}
			s.readyCount = 0
		} else {
			s.readyCount++
		}
	}
	return uint32(s.csts)
}

func (s *SimRegs) Read64(offset uintptr) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case OffCAP:
		return uint64(s.cap)
	case OffASQ:
		return s.asq
	case OffACQ:
		return s.acq
	default:
		panic("regio: SimRegs unsupported 64-bit offset")
	}
}

func (s *SimRegs) Write32(offset uintptr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case OffCC:
		s.cc = CC(v)
		s.readyCount = 0
	case OffAQA:
		s.aqa = v
	case OffINTMS, OffINTMC, OffNSSR:
		// no-op in this model
	default:
		panic("regio: SimRegs unsupported 32-bit write offset")
	}
}

func (s *SimRegs) Write64(offset uintptr, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case OffASQ:
		s.asq = v
	case OffACQ:
		s.acq = v
	default:
		panic("regio: SimRegs unsupported 64-bit write offset")
	}
}

func (s *SimRegs) WriteDoorbell(offset uintptr, v uint32) {
	s.mu.Lock()
	s.doorbells[offset] = v
	cb := s.OnDoorbell
	s.mu.Unlock()

	if cb != nil {
		cb(offset, v)
	}
}

// ASQ, ACQ and AQA expose the admin queue registers a device model needs
// to discover the admin queue pair's location, since it is programmed
// directly rather than through a Create-SQ/CQ command.
func (s *SimRegs) ASQ() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asq
}

func (s *SimRegs) ACQ() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acq
}

func (s *SimRegs) AQA() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aqa
}

// Doorbell returns the last value written to the doorbell at offset, for
// assertions in tests.
func (s *SimRegs) Doorbell(offset uintptr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doorbells[offset]
}
