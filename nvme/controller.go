// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Controller lifecycle (component C10): reset, enable, identify, queue
// provisioning, I/O dispatch, orderly shutdown.

package nvme

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dswarbrick/nvmecore/nvme/dma"
	"github.com/dswarbrick/nvmecore/nvme/regio"
)

// defaultRequestedIOQueues is the number of I/O queue pairs requested via
// Set-Features NumberOfQueues during Attach. The controller may allocate
// fewer; Controller.Data().MaxIOSQ/MaxIOCQ report what was actually
// granted.
const defaultRequestedIOQueues = 8

// spinBudget bounds the reset/enable handshake spins so a dead simulator
// or a genuinely wedged controller fails Attach instead of hanging forever.
// Real hardware watchdogs are the caller's responsibility; this is
// strictly a safety net for the handshake portion of Attach.
const spinBudget = 1_000_000

// Option configures Attach.
type Option func(*attachConfig)

type attachConfig struct {
	requestedIOQueues int
}

// WithRequestedIOQueues overrides the number of I/O queue pairs requested
// from the controller during Attach.
func WithRequestedIOQueues(n int) Option {
	return func(c *attachConfig) { c.requestedIOQueues = n }
}

// Controller is the single owning handle for an attached NVMe controller.
// Its internals are guarded per-field rather than behind one lock (design
// note "Global mutable state"): the I/O pool has its own membership lock,
// each queue pair has its own, and shuttingDown is a plain atomic flag.
type Controller struct {
	regs     regio.Registers
	alloc    dma.Allocator
	dstrd    uint32
	pageSize uintptr

	admin  *AdminChannel
	ioPool *IOQueuePool
	prp    *PRPBuilder

	adminSQRegion dma.Region
	adminCQRegion dma.Region
	scratch       dma.Region

	data ControllerData

	nsMu sync.RWMutex
	ns   map[uint32]*Namespace
	nsOrder []uint32

	shuttingDown atomic.Bool
}

// Attach runs the controller init sequence against regs
// using alloc for all DMA memory, and returns a ready-to-use Controller.
// Failure during any step is fatal to the call: the controller is left
// disabled.
func Attach(ctx context.Context, regs regio.Registers, alloc dma.Allocator, opts ...Option) (*Controller, error) {
	cfg := attachConfig{requestedIOQueues: defaultRequestedIOQueues}
	for _, opt := range opts {
		opt(&cfg)
	}

	cap := regio.CAP(regs.Read64(regio.OffCAP))
	dstrd := cap.DSTRD()
	queueEntryCount := int(cap.MQES())
	minPageSize := cap.MinPageSize()
	pageSize := uintptr(minPageSize)

	adminSize := max(queueEntryCount, 2)

	adminCQRegion, err := alloc.Allocate(dma.AlignUp(uintptr(adminSize)*completionSize, pageSize))
	if err != nil {
		return nil, err
	}
	adminSQRegion, err := alloc.Allocate(dma.AlignUp(uintptr(adminSize)*commandSize, pageSize))
	if err != nil {
		return nil, err
	}
	scratch, err := alloc.Allocate(pageSize)
	if err != nil {
		return nil, err
	}

	if err := spinUntil(ctx, func() bool { return regio.CSTS(regs.Read32(regio.OffCSTS)).Ready() }, func() {
		regs.Write32(regio.OffCC, uint32(regio.CC(regs.Read32(regio.OffCC)).WithEnabled(false)))
	}); err != nil {
		return nil, fmt.Errorf("nvme: disable handshake: %w", err)
	}

	regs.Write64(regio.OffASQ, uint64(adminSQRegion.Phys))
	regs.Write64(regio.OffACQ, uint64(adminCQRegion.Phys))
	regs.Write32(regio.OffAQA, regio.MakeAQA(uint32(adminSize-1), uint32(adminSize-1)))

	cc := regio.MakeCC(false, 6, 4) // IOSQES=6 (64B), IOCQES=4 (16B)
	regs.Write32(regio.OffCC, uint32(cc))

	attached := false
	defer func() {
		if !attached {
			regs.Write32(regio.OffCC, uint32(regio.CC(regs.Read32(regio.OffCC)).WithEnabled(false)))
		}
	}()

	if err := spinUntil(ctx, func() bool { return !regio.CSTS(regs.Read32(regio.OffCSTS)).Ready() }, func() {
		regs.Write32(regio.OffCC, uint32(regio.CC(regs.Read32(regio.OffCC)).WithEnabled(true)))
	}); err != nil {
		return nil, fmt.Errorf("nvme: enable handshake: %w", err)
	}

	cq := NewCompletionQueue(0, adminCQRegion, adminSize)
	sq := NewSubmissionQueue(0, adminSQRegion, adminSize)
	db := doorbells{regs: regs, dstrd: dstrd}
	adminQP := newQueuePair(0, sq, cq, db)
	admin := newAdminChannel(adminQP)

	c := &Controller{
		regs:          regs,
		alloc:         alloc,
		dstrd:         dstrd,
		pageSize:      pageSize,
		admin:         admin,
		adminSQRegion: adminSQRegion,
		adminCQRegion: adminCQRegion,
		scratch:       scratch,
		ns:            make(map[uint32]*Namespace),
	}
	c.prp = NewPRPBuilder(alloc, c.pageSize)

	if _, err := admin.Exec(ctx, EncodeIdentify(0, CNSController, 0, uint64(scratch.Phys), 0)); err != nil {
		return nil, fmt.Errorf("nvme: identify controller: %w", err)
	}
	cdata, err := parseIdentController(scratch.Bytes(), minPageSize)
	if err != nil {
		return nil, fmt.Errorf("nvme: parse identify controller: %w", err)
	}
	cdata.MaxQueueEntries = queueEntryCount

	req := uint32(cfg.requestedIOQueues - 1)
	comp, err := admin.Exec(ctx, EncodeSetFeatures(0, 0, featureNumberOfQueues, false, (req<<16)|req))
	if err != nil {
		return nil, fmt.Errorf("nvme: set-features number-of-queues: %w", err)
	}
	cdata.MaxIOSQ = int(comp.CmdSpecific&0xFFFF) + 1
	cdata.MaxIOCQ = int((comp.CmdSpecific>>16)&0xFFFF) + 1

	c.data = cdata
	c.ioPool = newIOQueuePool(admin, alloc, regs, dstrd, c.pageSize, queueEntryCount, cdata.MaxIOSQ, cdata.MaxIOCQ)

	if _, err := c.ioPool.Add(ctx); err != nil {
		return nil, fmt.Errorf("nvme: create initial I/O queue: %w", err)
	}

	if err := c.discoverNamespaces(ctx); err != nil {
		return nil, fmt.Errorf("nvme: discover namespaces: %w", err)
	}

	attached = true
	return c, nil
}

const featureNumberOfQueues = 0x07

func (c *Controller) discoverNamespaces(ctx context.Context) error {
	if _, err := c.admin.Exec(ctx, EncodeIdentify(0, CNSNamespaceList, 0, uint64(c.scratch.Phys), 0)); err != nil {
		return err
	}
	ids := parseNamespaceList(c.scratch.Bytes())

	for _, nsid := range ids {
		if _, err := c.admin.Exec(ctx, EncodeIdentify(0, CNSNamespace, nsid, uint64(c.scratch.Phys), 0)); err != nil {
			return err
		}
		nd, err := parseIdentNamespace(nsid, c.scratch.Bytes())
		if err != nil {
			return err
		}
		c.ns[nsid] = &Namespace{dev: c, data: nd}
		c.nsOrder = append(c.nsOrder, nsid)
	}
	return nil
}

// spinUntil calls step once, then spins until notYet reports false (meaning
// the target state was reached), bounded by spinBudget as a safety net for
// the Attach handshake specifically.
func spinUntil(ctx context.Context, notYet func() bool, step func()) error {
	step()
	for i := 0; notYet(); i++ {
		if i >= spinBudget {
			return fmt.Errorf("exceeded spin budget waiting for CSTS.RDY")
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
	return nil
}

// Data returns a snapshot of the controller's Identify fields.
func (c *Controller) Data() ControllerData { return c.data }

// Admin returns the controller's admin channel, for the peripheral
// managers (nvme/logpage, nvme/feature, nvme/firmware, nvme/power,
// nvme/multipath) that issue their own admin commands against it.
func (c *Controller) Admin() *AdminChannel { return c.admin }

// Allocator returns the DMA allocator the controller was attached with, so
// callers can size scratch buffers for the peripheral managers.
func (c *Controller) Allocator() dma.Allocator { return c.alloc }

// PageSize returns the controller's minimum memory page size in bytes.
func (c *Controller) PageSize() uintptr { return c.pageSize }

// ListNamespaces returns every namespace id discovered during Attach.
func (c *Controller) ListNamespaces() []uint32 {
	c.nsMu.RLock()
	defer c.nsMu.RUnlock()
	out := make([]uint32, len(c.nsOrder))
	copy(out, c.nsOrder)
	return out
}

// Namespace returns the namespace handle for nsid, if it exists.
func (c *Controller) Namespace(nsid uint32) (*Namespace, bool) {
	c.nsMu.RLock()
	defer c.nsMu.RUnlock()
	ns, ok := c.ns[nsid]
	return ns, ok
}

// SetIOQueueCount adds or removes I/O queue pairs to match n.
func (c *Controller) SetIOQueueCount(ctx context.Context, n int) error {
	return c.ioPool.SetCount(ctx, n, c.ListNamespaces())
}

// IOQueueCount returns the number of provisioned I/O queue pairs.
func (c *Controller) IOQueueCount() int { return c.ioPool.Count() }

// ActiveIOQueueCount returns the number of non-shutdown I/O queue pairs.
func (c *Controller) ActiveIOQueueCount() int { return c.ioPool.ActiveCount() }

// QueueStats returns a per-queue (qid, outstanding, shutdown) snapshot.
func (c *Controller) QueueStats() []QueueStat { return c.ioPool.Stats() }

// Shutdown runs the orderly shutdown sequence: set the
// global shutting-down flag, flush every namespace through every queue,
// mark all queues shutdown, Delete-SQ then Delete-CQ for each, and
// best-effort clear CC.EN.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.shuttingDown.Store(true)

	nsids := c.ListNamespaces()
	if err := c.ioPool.SetCount(ctx, 0, nsids); err != nil {
		// SetCount rejects a target of 0 with ErrInvalidQueueCount (and
		// Remove would refuse to drop the last queue), so tear down every
		// remaining pair directly so shutdown still makes progress.
		for _, qp := range c.ioPool.All() {
			qp.markShuttingDown()
			for _, nsid := range nsids {
				qp.Execute(ctx, EncodeFlush(0, nsid))
			}
			c.admin.Exec(ctx, EncodeDeleteSQ(0, qp.QID()))
			c.admin.Exec(ctx, EncodeDeleteCQ(0, qp.QID()))
		}
	}

	cc := regio.CC(c.regs.Read32(regio.OffCC)).WithEnabled(false)
	c.regs.Write32(regio.OffCC, uint32(cc))

	return nil
}
