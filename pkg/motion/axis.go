// Axis driver abstraction
//
// The motion task is the only caller of an AxisDriver. The driver is a
// black box around step-pulse generation; only its motion bookkeeping
// surface is used here.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import "time"

// AxisDriver is the hardware abstraction for the physical axis.
type AxisDriver interface {
	// MoveTo commands motion to an absolute position in steps. It does
	// not block.
	MoveTo(pos int32)

	// MoveBy commands motion by a relative number of steps.
	MoveBy(steps int32)

	// SetSpeed sets the cruise speed in steps/sec (Hz).
	SetSpeed(hz float64)

	// SetAcceleration sets the ramp rate in steps/sec^2.
	SetAcceleration(v float64)

	// HardStop halts immediately without a deceleration ramp.
	HardStop()

	// RampStop halts using the configured deceleration ramp.
	RampStop()

	// SetCurrentPosition redefines the current position, establishing a
	// new reference without moving the axis.
	SetCurrentPosition(pos int32)

	// CurrentPosition returns the commanded position in steps.
	CurrentPosition() int32

	// CurrentSpeedMilliHz returns the signed instantaneous speed in
	// millisteps/sec.
	CurrentSpeedMilliHz() int32

	// IsRunning reports whether a move is in flight.
	IsRunning() bool

	// TargetPosition returns the current move target in steps.
	TargetPosition() int32

	// EnableOutputs energizes the driver outputs.
	EnableOutputs()

	// DisableOutputs de-energizes the driver outputs.
	DisableOutputs()
}

// Advancer is implemented by simulated drivers that need the motion
// task to advance their model each control tick.
type Advancer interface {
	Advance(dt time.Duration)
}
