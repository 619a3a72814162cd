// Command rejection errors
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotRunning     = errors.New("motion: controller not running")
	ErrAlreadyRunning = errors.New("motion: controller already running")
)

// RejectReason classifies why a command was not admitted.
type RejectReason int

const (
	// RejectNotHomed: motion before the first successful homing cycle.
	RejectNotHomed RejectReason = iota

	// RejectFaultActive: the limit fault latch is set and has not been
	// cleared by a successful homing cycle.
	RejectFaultActive

	// RejectLimitsInvalid: the operating limits have not been
	// established.
	RejectLimitsInvalid

	// RejectQueueFull: the arbiter queue was full and the command was
	// dropped.
	RejectQueueFull
)

func (r RejectReason) String() string {
	switch r {
	case RejectNotHomed:
		return "NotHomed"
	case RejectFaultActive:
		return "FaultActive"
	case RejectLimitsInvalid:
		return "LimitsInvalid"
	case RejectQueueFull:
		return "QueueFull"
	default:
		return "Unknown"
	}
}

// Rejection is returned when a command is refused. It is non-fatal; the
// issuing front end decides whether to surface it to a user.
type Rejection struct {
	Reason  RejectReason
	Command string
}

func (e *Rejection) Error() string {
	return fmt.Sprintf("motion: %s rejected: %s", e.Command, e.Reason)
}

// AsRejection extracts a *Rejection from err, if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
