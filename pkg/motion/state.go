// System, motion and safety state enums
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

// SystemState is the coarse state of the whole controller.
type SystemState int

const (
	SystemInitializing SystemState = iota
	SystemReady
	SystemRunning
	SystemEmergencyStop
	SystemError
)

func (s SystemState) String() string {
	switch s {
	case SystemInitializing:
		return "initializing"
	case SystemReady:
		return "ready"
	case SystemRunning:
		return "running"
	case SystemEmergencyStop:
		return "emergency_stop"
	case SystemError:
		return "error"
	default:
		return "unknown"
	}
}

// MotionState describes what the axis is currently doing.
type MotionState int

const (
	MotionIdle MotionState = iota
	MotionAccelerating
	MotionConstantVelocity
	MotionDecelerating
	MotionHoming
)

func (s MotionState) String() string {
	switch s {
	case MotionIdle:
		return "idle"
	case MotionAccelerating:
		return "accelerating"
	case MotionConstantVelocity:
		return "constant_velocity"
	case MotionDecelerating:
		return "decelerating"
	case MotionHoming:
		return "homing"
	default:
		return "unknown"
	}
}

// SafetyState reflects the most recent safety condition.
type SafetyState int

const (
	SafetyNormal SafetyState = iota
	SafetyLeftLimit
	SafetyRightLimit
	SafetyBothLimits
	SafetyStepperAlarm
	SafetyEmergencyStop
	SafetyPositionError
)

func (s SafetyState) String() string {
	switch s {
	case SafetyNormal:
		return "normal"
	case SafetyLeftLimit:
		return "left_limit_active"
	case SafetyRightLimit:
		return "right_limit_active"
	case SafetyBothLimits:
		return "both_limits_active"
	case SafetyStepperAlarm:
		return "stepper_alarm"
	case SafetyEmergencyStop:
		return "emergency_stop"
	case SafetyPositionError:
		return "position_error"
	default:
		return "unknown"
	}
}
