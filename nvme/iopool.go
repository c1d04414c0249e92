// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// I/O queue pool (component C8): manages a set of I/O queue pairs and
// selects one per operation.

package nvme

import (
	"context"
	"log"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dswarbrick/nvmecore/nvme/dma"
	"github.com/dswarbrick/nvmecore/nvme/regio"
)

// IOQueueSizeDefault is the default depth requested for a new I/O queue
// pair, clamped to the controller's advertised MQES+1 and to a minimum of 2.
const IOQueueSizeDefault = 256

// maxDrainAttempts bounds the spin-wait during queue removal.
const maxDrainAttempts = 200_000

// QueueStat is a snapshot of one I/O queue pair's load, returned by
// Controller.QueueStats.
type QueueStat struct {
	QID         uint16
	Outstanding int64
	ShuttingDown bool
}

// IOQueuePool holds the set of I/O queue pairs and load-balances
// namespace operations across them. Pool membership is guarded separately
// from any individual queue pair's state.
type IOQueuePool struct {
	admin    *AdminChannel
	alloc    dma.Allocator
	regs     regio.Registers
	dstrd    uint32
	pageSize uintptr
	mqes     int
	maxIOSQ  int
	maxIOCQ  int

	mu      sync.Mutex
	pairs   []*QueuePair
	nextQID uint16

	selector atomic.Uint64
}

func newIOQueuePool(admin *AdminChannel, alloc dma.Allocator, regs regio.Registers, dstrd uint32, pageSize uintptr, mqes, maxIOSQ, maxIOCQ int) *IOQueuePool {
	return &IOQueuePool{
		admin:    admin,
		alloc:    alloc,
		regs:     regs,
		dstrd:    dstrd,
		pageSize: pageSize,
		mqes:     mqes,
		maxIOSQ:  maxIOSQ,
		maxIOCQ:  maxIOCQ,
		nextQID:  1, // qid=0 is reserved for the admin pair
	}
}

// Add provisions one new I/O queue pair: Create-CQ then Create-SQ, strict
// order.
func (p *IOQueuePool) Add(ctx context.Context) (*QueuePair, error) {
	size := min(IOQueueSizeDefault, p.mqes)
	size = max(size, 2)

	p.mu.Lock()
	qid := p.nextQID
	p.mu.Unlock()

	cqRegion, err := p.alloc.Allocate(dma.AlignUp(uintptr(size)*completionSize, p.pageSize))
	if err != nil {
		return nil, err
	}
	sqRegion, err := p.alloc.Allocate(dma.AlignUp(uintptr(size)*commandSize, p.pageSize))
	if err != nil {
		return nil, err
	}

	cq := NewCompletionQueue(qid, cqRegion, size)
	sq := NewSubmissionQueue(qid, sqRegion, size)
	db := doorbells{regs: p.regs, dstrd: p.dstrd}

	if _, err := p.admin.Exec(ctx, EncodeCreateCQ(0, qid, uint16(size-1), uint64(cq.Address()))); err != nil {
		return nil, err
	}
	if _, err := p.admin.Exec(ctx, EncodeCreateSQ(0, qid, uint16(size-1), uint64(sq.Address()), qid)); err != nil {
		return nil, err
	}

	qp := newQueuePair(qid, sq, cq, db)

	p.mu.Lock()
	p.pairs = append(p.pairs, qp)
	p.nextQID++
	p.mu.Unlock()

	return qp, nil
}

// Remove tears down the n queue pairs with the highest outstanding count
// (reverse load), draining in-flight I/O first.
// nsids lists the namespaces to flush through each pair before it drains.
func (p *IOQueuePool) Remove(ctx context.Context, n int, nsids []uint32) error {
	if n <= 0 {
		return ErrInvalidQueueCount{Requested: n}
	}

	p.mu.Lock()
	if len(p.pairs)-n < 1 {
		p.mu.Unlock()
		return ErrLastQueueCannotBeRemoved{}
	}
	candidates := make([]*QueuePair, len(p.pairs))
	copy(candidates, p.pairs)
	p.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Outstanding() > candidates[j].Outstanding()
	})
	toRemove := candidates[:n]

	for _, qp := range toRemove {
		qp.markShuttingDown() // (1) blocks new I/O

		for _, nsid := range nsids { // (2) flush per namespace, wait completion
			if _, err := qp.Execute(ctx, EncodeFlush(0, nsid)); err != nil {
				return err
			}
		}

		attempts := 0 // (3) drain outstanding, bounded
		for qp.Outstanding() != 0 && attempts < maxDrainAttempts {
			runtime.Gosched()
			attempts++
		}
		if attempts >= maxDrainAttempts {
			log.Printf("nvme: queue %d outstanding drain exceeded %d attempts, proceeding with teardown", qp.QID(), maxDrainAttempts)
		}

		if _, err := p.admin.Exec(ctx, EncodeDeleteSQ(0, qp.QID())); err != nil { // (4)
			return err
		}
		if _, err := p.admin.Exec(ctx, EncodeDeleteCQ(0, qp.QID())); err != nil {
			return err
		}

		p.mu.Lock() // (5)
		for i, cand := range p.pairs {
			if cand == qp {
				p.pairs = append(p.pairs[:i], p.pairs[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}

	return nil
}

// Select picks the active (non-shutdown) queue pair with the lowest
// outstanding count, ties broken by round-robin.
func (p *IOQueuePool) Select() (*QueuePair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best []*QueuePair
	bestOutstanding := int64(-1)

	for _, qp := range p.pairs {
		if qp.ShuttingDown() {
			continue
		}
		o := qp.Outstanding()
		switch {
		case bestOutstanding == -1 || o < bestOutstanding:
			bestOutstanding = o
			best = []*QueuePair{qp}
		case o == bestOutstanding:
			best = append(best, qp)
		}
	}

	if len(best) == 0 {
		return nil, ErrNoActiveQueues{}
	}

	idx := p.selector.Add(1) % uint64(len(best))
	return best[idx], nil
}

// SetCount adds or removes queue pairs to match target, bounded above by
// min(max_io_sq, max_io_cq).
func (p *IOQueuePool) SetCount(ctx context.Context, target int, nsids []uint32) error {
	if target <= 0 {
		return ErrInvalidQueueCount{Requested: target}
	}

	maxAllowed := min(p.maxIOSQ, p.maxIOCQ)
	if target > maxAllowed {
		return ErrTooManyQueues{Requested: target, Max: maxAllowed}
	}

	p.mu.Lock()
	current := len(p.pairs)
	p.mu.Unlock()

	if target == current {
		return nil
	}
	if target > current {
		for i := 0; i < target-current; i++ {
			if _, err := p.Add(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return p.Remove(ctx, current-target, nsids)
}

// Count returns the number of provisioned I/O queue pairs.
func (p *IOQueuePool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pairs)
}

// ActiveCount returns the number of non-shutdown I/O queue pairs.
func (p *IOQueuePool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, qp := range p.pairs {
		if !qp.ShuttingDown() {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of every queue pair's load.
func (p *IOQueuePool) Stats() []QueueStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make([]QueueStat, len(p.pairs))
	for i, qp := range p.pairs {
		stats[i] = QueueStat{QID: qp.QID(), Outstanding: qp.Outstanding(), ShuttingDown: qp.ShuttingDown()}
	}
	return stats
}

// All returns every queue pair, for Controller.Shutdown's final teardown.
func (p *IOQueuePool) All() []*QueuePair {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*QueuePair, len(p.pairs))
	copy(out, p.pairs)
	return out
}
