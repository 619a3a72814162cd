// Motion command execution
//
// The executor is the single authority that talks to the axis driver.
// It applies the admission guard, clamps move targets into the
// operating range and owns the live motion profile. It runs only on the
// motion task, so the guard checks need no locking beyond what the
// shared flags themselves provide.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"time"

	"github.com/TimRosener/SkullStepperV4/pkg/log"
)

// Executor executes admitted motion commands against the axis driver.
type Executor struct {
	driver AxisDriver
	seq    *Sequencer
	mon    *SwitchMonitor
	log    *log.Logger

	profile Profile

	opMin       int32
	opMax       int32
	limitsValid bool

	enabled bool
}

// NewExecutor creates an executor around the driver, sequencer and
// limit monitor.
func NewExecutor(driver AxisDriver, seq *Sequencer, mon *SwitchMonitor, profile Profile) *Executor {
	return &Executor{
		driver:  driver,
		seq:     seq,
		mon:     mon,
		log:     log.GetLogger("executor"),
		profile: profile,
	}
}

// admit applies the admission guard for motion-class commands.
// Fault latch first, then homed, then limits.
func (e *Executor) admit(cmd Command) error {
	if !guarded(cmd) {
		return nil
	}
	if e.mon.FaultLatched() {
		return &Rejection{Reason: RejectFaultActive, Command: cmd.Name()}
	}
	if !e.seq.Homed() {
		return &Rejection{Reason: RejectNotHomed, Command: cmd.Name()}
	}
	if !e.limitsValid {
		return &Rejection{Reason: RejectLimitsInvalid, Command: cmd.Name()}
	}
	return nil
}

// clamp constrains a target into the operating range when limits are
// enforced. Re-applying it to an already-clamped value is a no-op.
func (e *Executor) clamp(target int32, enforce bool) int32 {
	if !enforce || !e.limitsValid {
		return target
	}
	if target < e.opMin {
		return e.opMin
	}
	if target > e.opMax {
		return e.opMax
	}
	return target
}

// Execute runs one command. A nil return means accepted; a *Rejection
// means refused with a reason the caller can surface. Execute never
// blocks on the driver.
func (e *Executor) Execute(now time.Time, req Request) error {
	if err := e.admit(req.Cmd); err != nil {
		return err
	}

	switch cmd := req.Cmd.(type) {
	case MoveAbsolute:
		target := e.clamp(cmd.Target, cmd.Profile.EnforceLimits)
		e.driver.MoveTo(target)
		e.log.Debug("move to %d (requested %d, source %s)", target, cmd.Target, req.Source)

	case MoveRelative:
		target := e.driver.CurrentPosition() + cmd.Delta
		target = e.clamp(target, cmd.Profile.EnforceLimits)
		e.driver.MoveTo(target)
		e.log.Debug("move by %d to %d (source %s)", cmd.Delta, target, req.Source)

	case SetSpeed:
		if cmd.Speed > 0 {
			e.profile.MaxSpeed = cmd.Speed
			e.driver.SetSpeed(cmd.Speed)
			e.log.Debug("speed set to %.1f steps/sec", cmd.Speed)
		}

	case SetAcceleration:
		if cmd.Accel > 0 {
			e.profile.Acceleration = cmd.Accel
			e.profile.Deceleration = cmd.Accel
			e.driver.SetAcceleration(cmd.Accel)
			e.log.Debug("acceleration set to %.1f steps/sec^2", cmd.Accel)
		}

	case HomeCmd:
		if e.seq.Active() {
			// Already homing: a repeat Home is a no-op, not an error.
			e.log.Debug("home ignored, sequence already active")
			return nil
		}
		return e.seq.Start(now, e.mon.LeftActive(), e.mon.RightActive())

	case StopCmd:
		e.driver.RampStop()
		e.log.Info("stop commanded (source %s)", req.Source)

	case EmergencyStopCmd:
		e.driver.HardStop()
		e.log.Warn("emergency stop (source %s)", req.Source)

	case EnableCmd:
		e.driver.EnableOutputs()
		e.enabled = true
		e.log.Info("outputs enabled")

	case DisableCmd:
		e.driver.DisableOutputs()
		e.enabled = false
		e.log.Info("outputs disabled")
	}
	return nil
}

// SetOperatingLimits establishes the clamping range. Called by the
// motion task when homing has discovered the physical envelope.
func (e *Executor) SetOperatingLimits(min, max int32) {
	e.opMin = min
	e.opMax = max
	e.limitsValid = true
}

// InvalidateLimits marks the operating range as not established.
func (e *Executor) InvalidateLimits() {
	e.limitsValid = false
}

// OperatingLimits returns the clamping range; ok is false until homing
// has established it.
func (e *Executor) OperatingLimits() (min, max int32, ok bool) {
	return e.opMin, e.opMax, e.limitsValid
}

// Profile returns the live motion profile.
func (e *Executor) Profile() Profile { return e.profile }

// Enabled reports whether the driver outputs are energized.
func (e *Executor) Enabled() bool { return e.enabled }
