// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Ring-buffer submission and completion queues (components C2, C3).

package nvme

import (
	"context"
	"runtime"

	"github.com/dswarbrick/nvmecore/nvme/dma"
)

// commandSize and completionSize are the fixed wire sizes of a submission
// queue entry and completion queue entry.
const (
	commandSize    = 64
	completionSize = 16
)

// SubmissionQueue is a circular buffer of 64-byte command slots backed by
// DMA memory. It is exclusively owned by its queue pair; callers serialize
// access externally via the queue pair's mutex.
type SubmissionQueue struct {
	region dma.Region
	qid    uint16
	len    int
	head   int // last head reported via a completion's sq_head
	tail   int
}

// NewSubmissionQueue wires a DMA region as an SQ of the given depth
// (entries, not bytes). The region must be at least len*64 bytes.
func NewSubmissionQueue(qid uint16, region dma.Region, entries int) *SubmissionQueue {
	return &SubmissionQueue{region: region, qid: qid, len: entries}
}

// Address returns the queue's physical base address, for programming ASQ
// or a Create-SQ command's data pointer.
func (sq *SubmissionQueue) Address() uintptr { return sq.region.Phys }

// Len returns the queue depth in entries.
func (sq *SubmissionQueue) Len() int { return sq.len }

// Tail returns the current software tail index.
func (sq *SubmissionQueue) Tail() int { return sq.tail }

// Full reports whether the queue cannot accept another push without the
// controller first consuming an entry.
func (sq *SubmissionQueue) Full() bool {
	next := (sq.tail + 1) % sq.len
	return sq.head == next
}

// TryPush writes cmd into the current tail slot and advances the tail,
// returning ErrSubQueueFull instead of blocking if the queue is full.
// Invariant: between TryPush/Push and the matching completion, the slot's
// bytes must not be mutated.
func (sq *SubmissionQueue) TryPush(cmd Command) (newTail int, err error) {
	if sq.Full() {
		return sq.tail, ErrSubQueueFull{QID: sq.qid}
	}

	wire := cmd.Marshal()
	buf := sq.region.Bytes()
	copy(buf[sq.tail*commandSize:(sq.tail+1)*commandSize], wire[:])

	sq.tail = (sq.tail + 1) % sq.len
	return sq.tail, nil
}

// Push spins until the queue accepts cmd. The caller holds the queue pair's lock across this call.
func (sq *SubmissionQueue) Push(ctx context.Context, cmd Command) (int, error) {
	for {
		tail, err := sq.TryPush(cmd)
		if err == nil {
			return tail, nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
		}
		runtime.Gosched()
	}
}

// SetHead updates the queue's recorded head from a completion's sq_head
// field, reconciling software state with the controller's authoritative
// view of consumed slots.
func (sq *SubmissionQueue) SetHead(h uint16) { sq.head = int(h) % sq.len }

// CompletionQueue is a circular buffer of 16-byte completion slots backed
// by DMA memory. The phase bit starts true and flips each
// time head wraps past len-1.
type CompletionQueue struct {
	region dma.Region
	qid    uint16
	len    int
	head   int
	phase  bool
}

// NewCompletionQueue wires a DMA region as a CQ of the given depth. The
// region must be zero-initialized (guaranteed by dma.Allocator) so the
// initial phase-bit comparison against phase=true correctly reports no
// entries ready.
func NewCompletionQueue(qid uint16, region dma.Region, entries int) *CompletionQueue {
	return &CompletionQueue{region: region, qid: qid, len: entries, phase: true}
}

// Address returns the queue's physical base address.
func (cq *CompletionQueue) Address() uintptr { return cq.region.Phys }

// Len returns the queue depth in entries.
func (cq *CompletionQueue) Len() int { return cq.len }

// Head returns the current software head index.
func (cq *CompletionQueue) Head() int { return cq.head }

func (cq *CompletionQueue) slotAt(i int) Completion {
	buf := cq.region.Bytes()
	var raw [completionSize]byte
	copy(raw[:], buf[i*completionSize:(i+1)*completionSize])
	return unmarshalCompletion(raw)
}

func (cq *CompletionQueue) advance() {
	cq.head++
	if cq.head == cq.len {
		cq.head = 0
		cq.phase = !cq.phase
	}
}

// TryPop reads the current head slot; if its phase bit matches the queue's
// expected phase, it returns the entry and advances head (toggling phase on
// wrap). Otherwise it returns false without consuming anything.
func (cq *CompletionQueue) TryPop() (Completion, bool) {
	c := cq.slotAt(cq.head)
	if c.Phase() != cq.phase {
		return Completion{}, false
	}
	cq.advance()
	return c, true
}

// Pop spins on TryPop until a valid entry is observed.
func (cq *CompletionQueue) Pop(ctx context.Context) (Completion, error) {
	for {
		if c, ok := cq.TryPop(); ok {
			return c, nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			default:
			}
		}
		runtime.Gosched()
	}
}

// PopN advances head by step-1 (with phase flips on wrap) then performs a
// single Pop, coalescing a batch whose last entry implies all prior entries
// completed in order.
func (cq *CompletionQueue) PopN(ctx context.Context, step int) (Completion, error) {
	for i := 0; i < step-1; i++ {
		cq.advance()
	}
	return cq.Pop(ctx)
}
