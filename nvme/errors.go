// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Error taxonomy. Each is a distinct, non-overlapping type carrying
// structured fields, so callers can distinguish failures with errors.As
// instead of matching on a bare string.

package nvme

import "fmt"

// ErrSubQueueFull is transient; the only non-error response to SQ-full is
// the implicit spin inside SubmissionQueue.Push. A caller-visible
// ErrSubQueueFull can only occur via the non-blocking TryPush.
type ErrSubQueueFull struct{ QID uint16 }

func (e ErrSubQueueFull) Error() string {
	return fmt.Sprintf("nvme: submission queue %d is full", e.QID)
}

// ErrInvalidBufferSize reports a buffer whose length is not a multiple of
// the namespace's block size.
type ErrInvalidBufferSize struct {
	Len       int
	BlockSize uint32
}

func (e ErrInvalidBufferSize) Error() string {
	return fmt.Sprintf("nvme: buffer length %d is not a multiple of block size %d", e.Len, e.BlockSize)
}

// ErrNotAlignedToDword reports a PRP source address that is not dword
// aligned.
type ErrNotAlignedToDword struct{ Addr uintptr }

func (e ErrNotAlignedToDword) Error() string {
	return fmt.Sprintf("nvme: address %#x is not dword aligned", e.Addr)
}

// ErrNotAlignedToPage reports a PRP list page that is not page aligned.
type ErrNotAlignedToPage struct{ Addr uintptr }

func (e ErrNotAlignedToPage) Error() string {
	return fmt.Sprintf("nvme: address %#x is not page aligned", e.Addr)
}

// ErrIoSizeExceedsMdts reports a transfer request larger than the
// controller's Maximum Data Transfer Size.
type ErrIoSizeExceedsMdts struct {
	Requested uint64
	MDTS      uint64
}

func (e ErrIoSizeExceedsMdts) Error() string {
	return fmt.Sprintf("nvme: transfer size %d exceeds MDTS %d", e.Requested, e.MDTS)
}

// ErrQueueSizeTooSmall reports a requested queue depth below the minimum
// of 2 entries.
type ErrQueueSizeTooSmall struct{ Requested int }

func (e ErrQueueSizeTooSmall) Error() string {
	return fmt.Sprintf("nvme: queue size %d is smaller than the minimum of 2", e.Requested)
}

// ErrQueueSizeExceedsMqes reports a requested queue depth above the
// controller-advertised MQES+1.
type ErrQueueSizeExceedsMqes struct {
	Requested int
	MQES      int
}

func (e ErrQueueSizeExceedsMqes) Error() string {
	return fmt.Sprintf("nvme: queue size %d exceeds controller maximum %d", e.Requested, e.MQES)
}

// ErrCommandFailed wraps a nonzero completion status. The raw status is
// preserved for the caller to decode via Status.
type ErrCommandFailed struct {
	Status Status
}

func (e ErrCommandFailed) Error() string {
	return fmt.Sprintf("nvme: command failed: %s", e.Status)
}

// ErrDeviceShuttingDown is returned when the global shutting-down flag is
// observed on entry to a namespace operation.
type ErrDeviceShuttingDown struct{}

func (ErrDeviceShuttingDown) Error() string { return "nvme: device is shutting down" }

// ErrLastQueueCannotBeRemoved reports an attempt to remove the only
// remaining active I/O queue.
type ErrLastQueueCannotBeRemoved struct{}

func (ErrLastQueueCannotBeRemoved) Error() string {
	return "nvme: cannot remove the last active I/O queue"
}

// ErrInvalidQueueCount reports a requested queue count of zero or less.
type ErrInvalidQueueCount struct{ Requested int }

func (e ErrInvalidQueueCount) Error() string {
	return fmt.Sprintf("nvme: invalid queue count %d", e.Requested)
}

// ErrTooManyQueues reports a requested queue count above
// min(max_io_sq, max_io_cq).
type ErrTooManyQueues struct {
	Requested int
	Max       int
}

func (e ErrTooManyQueues) Error() string {
	return fmt.Sprintf("nvme: requested queue count %d exceeds controller maximum %d", e.Requested, e.Max)
}

// ErrNoActiveQueues reports that an I/O operation was attempted with no
// active (non-shutdown) I/O queues to select from.
type ErrNoActiveQueues struct{}

func (ErrNoActiveQueues) Error() string { return "nvme: no active I/O queues" }
