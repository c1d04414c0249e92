// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// QueuePair glues a submission queue, completion queue, and doorbell
// writer into a {qid, sq, cq, outstanding, shutdown} unit, and owns the
// per-queue mutual-exclusion: a command holds the per-queue lock from push
// through completion.

package nvme

import (
	"context"
	"sync"
	"sync/atomic"
)

// QueuePair is one submission/completion queue pair. qid=0 is reserved for
// the admin pair; I/O pairs use qid in [1, max_io_queues].
type QueuePair struct {
	qid uint16
	sq  *SubmissionQueue
	cq  *CompletionQueue
	db  doorbells

	mu          sync.Mutex
	outstanding atomic.Int64
	shutdown    atomic.Bool
	cidCounter  uint32
}

func newQueuePair(qid uint16, sq *SubmissionQueue, cq *CompletionQueue, db doorbells) *QueuePair {
	return &QueuePair{qid: qid, sq: sq, cq: cq, db: db}
}

// QID returns the queue pair's identifier.
func (qp *QueuePair) QID() uint16 { return qp.qid }

// Outstanding returns the number of commands currently submitted but not
// yet completed on this pair.
func (qp *QueuePair) Outstanding() int64 { return qp.outstanding.Load() }

// ShuttingDown reports whether this pair has been marked for teardown.
// Once true it never reverts to false.
func (qp *QueuePair) ShuttingDown() bool { return qp.shutdown.Load() }

// markShuttingDown sets the shutdown flag, blocking new I/O.
func (qp *QueuePair) markShuttingDown() { qp.shutdown.Store(true) }

func (qp *QueuePair) nextCID() uint16 {
	c := uint16(qp.cidCounter % uint32(qp.sq.Len()))
	qp.cidCounter++
	return c
}

// Execute pushes cmd, rings the SQ doorbell, polls the CQ for the matching
// completion, reconciles the SQ head, and rings the CQ doorbell. The
// per-queue lock is held for the full round trip, which is
// safe because the controller services each queue independently of the
// others.
func (qp *QueuePair) Execute(ctx context.Context, cmd Command) (Completion, error) {
	qp.mu.Lock()
	defer qp.mu.Unlock()

	cmd.CID = qp.nextCID()

	qp.outstanding.Add(1)
	defer qp.outstanding.Add(-1)

	tail, err := qp.sq.Push(ctx, cmd)
	if err != nil {
		return Completion{}, err
	}
	qp.db.ringSQTail(qp.qid, tail)

	comp, err := qp.cq.Pop(ctx)
	if err != nil {
		return Completion{}, err
	}
	qp.db.ringCQHead(qp.qid, qp.cq.Head())
	qp.sq.SetHead(comp.SQHead)

	return comp, nil
}
