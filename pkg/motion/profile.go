// Motion profile parameters
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

// Profile holds the kinematic parameters applied to moves.
type Profile struct {
	// MaxSpeed is the cruise speed in steps/sec.
	MaxSpeed float64

	// Acceleration in steps/sec^2.
	Acceleration float64

	// Deceleration in steps/sec^2. The step generator library in use
	// applies a single ramp value, so this normally mirrors
	// Acceleration; it is kept separate for drivers that support
	// asymmetric ramps.
	Deceleration float64

	// Jerk limitation in steps/sec^3 (advisory; not all drivers use it).
	Jerk float64

	// EnforceLimits clamps move targets into the operating range.
	// Cleared only for internal homing moves, which manage their own
	// bounds.
	EnforceLimits bool
}

// DefaultProfile returns the factory motion profile.
func DefaultProfile() Profile {
	return Profile{
		MaxSpeed:      5000,
		Acceleration:  5000,
		Deceleration:  5000,
		Jerk:          1000,
		EnforceLimits: true,
	}
}
