// Package pderr defines the error taxonomy every public PD engine
// operation returns through. Callers classify a failure with errors.Is
// against the sentinels below rather than inspecting error strings.
package pderr

import (
	"errors"
	"fmt"
)

var (
	// ErrInit is returned when an operation is attempted on a session
	// that has not been opened yet (or has already been closed).
	ErrInit = errors.New("trdp: session not initialised")

	// ErrParam is returned when a caller supplies invalid arguments.
	ErrParam = errors.New("trdp: invalid parameter")

	// ErrMem is returned when an allocation fails or a fixed-size table
	// (socket pool, sequence-tracker list) is full.
	ErrMem = errors.New("trdp: out of memory or table full")

	// ErrNoPub is returned when a publication handle does not resolve.
	ErrNoPub = errors.New("trdp: no such publication")

	// ErrNoSub is returned when a subscription handle does not resolve.
	ErrNoSub = errors.New("trdp: no such subscription")

	// ErrWire is returned when a frame fails structural validation.
	ErrWire = errors.New("trdp: malformed frame")

	// ErrCrc is returned when a frame's checksum does not match.
	ErrCrc = errors.New("trdp: checksum mismatch")

	// ErrTopo is returned when ETB/opTrn topocounts disagree.
	ErrTopo = errors.New("trdp: topocount mismatch")

	// ErrTimeout is returned when a subscription has exceeded its
	// interval without a fresh reception.
	ErrTimeout = errors.New("trdp: subscription timed out")

	// ErrSock is returned when an underlying socket operation fails.
	ErrSock = errors.New("trdp: socket error")

	// ErrNoData is returned when a subscription is valid but no data
	// has ever been staged into it.
	ErrNoData = errors.New("trdp: no data received yet")

	// ErrBlock is returned by a non-blocking receive that would block.
	// This is the normal end-of-read condition, not a fault.
	ErrBlock = errors.New("trdp: would block")
)

// Wrap attaches context to a sentinel without losing errors.Is matching.
func Wrap(sentinel error, context string) error {
	return fmt.Errorf("%s: %w", context, sentinel)
}
