// Motion command types
//
// Commands are a sum type: one concrete struct per command kind, so a
// command can only carry the fields its kind actually uses. Producers
// wrap them in a Request and hand them to the Arbiter; the motion task
// consumes each request exactly once.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import "time"

// Command is one requested action for the motion task.
type Command interface {
	// Name returns the command name used in logs and rejections.
	Name() string
}

// MoveAbsolute moves the axis to a target position in steps.
type MoveAbsolute struct {
	Target  int32
	Profile Profile
}

func (MoveAbsolute) Name() string { return "move_absolute" }

// MoveRelative moves the axis by a delta from the current position.
type MoveRelative struct {
	Delta   int32
	Profile Profile
}

func (MoveRelative) Name() string { return "move_relative" }

// SetSpeed updates the live profile's cruise speed and pushes it to the
// driver immediately.
type SetSpeed struct {
	Speed float64 // steps/sec
}

func (SetSpeed) Name() string { return "set_speed" }

// SetAcceleration updates the live profile's ramp rate and pushes it to
// the driver immediately.
type SetAcceleration struct {
	Accel float64 // steps/sec^2
}

func (SetAcceleration) Name() string { return "set_acceleration" }

// HomeCmd starts the homing sequence.
type HomeCmd struct{}

func (HomeCmd) Name() string { return "home" }

// StopCmd commands a ramped stop respecting the deceleration profile.
type StopCmd struct{}

func (StopCmd) Name() string { return "stop" }

// EmergencyStopCmd commands an immediate hard stop, bypassing the
// deceleration ramp. Always admitted.
type EmergencyStopCmd struct{}

func (EmergencyStopCmd) Name() string { return "emergency_stop" }

// EnableCmd enables the driver outputs. Always admitted.
type EnableCmd struct{}

func (EnableCmd) Name() string { return "enable" }

// DisableCmd disables the driver outputs. Always admitted.
type DisableCmd struct{}

func (DisableCmd) Name() string { return "disable" }

// Well-known producer source tags.
const (
	SourceSerial   = "serial"
	SourceWeb      = "web"
	SourceDMX      = "dmx"
	SourceInternal = "internal"
)

// Request is a command plus its origin metadata, immutable once
// enqueued.
type Request struct {
	Cmd       Command
	Source    string
	ID        uint32
	Timestamp time.Time
}

// guarded reports whether the command is subject to the admission guard
// (fault latch, homed, limits valid). Home, Stop, EmergencyStop, Enable
// and Disable are always admitted.
func guarded(cmd Command) bool {
	switch cmd.(type) {
	case MoveAbsolute, MoveRelative, SetSpeed, SetAcceleration:
		return true
	default:
		return false
	}
}
