// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Admin channel (component C7): the single qid=0 queue pair, serialized so
// only one admin command is ever in flight.

package nvme

import "context"

// AdminChannel serializes Identify / Set-Features / queue-create /
// queue-delete traffic over the admin queue pair. The serialization is
// provided by QueuePair's own mutex, which is held for the full
// push-to-completion round trip, so only one admin command is ever in
// flight at a time.
type AdminChannel struct {
	qp *QueuePair
}

func newAdminChannel(qp *QueuePair) *AdminChannel {
	return &AdminChannel{qp: qp}
}

// Exec pushes cmd onto the admin SQ, polls for its completion, reconciles
// the admin SQ head, and decodes the completion status. The raw completion
// is always returned (its CmdSpecific dword carries command-specific
// payload such as number-of-queues allocation) even on failure, so callers
// can inspect it alongside the error.
func (a *AdminChannel) Exec(ctx context.Context, cmd Command) (Completion, error) {
	comp, err := a.qp.Execute(ctx, cmd)
	if err != nil {
		return comp, err
	}

	status := DecodeStatus(comp.Status)
	if !status.Success() {
		return comp, ErrCommandFailed{Status: status}
	}
	return comp, nil
}

// QueuePair exposes the underlying queue pair for components (e.g. queue
// provisioning during Attach) that need its queue depth or address before
// any I/O pairs exist.
func (a *AdminChannel) QueuePair() *QueuePair { return a.qp }
