// Simulated axis driver
//
// SimAxis is a kinematic model of the axis used for sim mode and tests:
// it moves toward its target at the commanded speed each time Advance
// is called. Limit switches are modeled at fixed physical positions
// that stay put when the logical origin is redefined during homing.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"math"
	"sync"
	"time"
)

// SimAxisConfig holds simulated axis parameters.
type SimAxisConfig struct {
	// Start is the initial position in steps.
	Start int32

	// LeftSwitchAt and RightSwitchAt are the physical switch positions
	// in the initial coordinate frame. The left switch closes at or
	// below LeftSwitchAt, the right switch at or above RightSwitchAt.
	LeftSwitchAt  int32
	RightSwitchAt int32

	// Speed and Accel are the initial driver settings.
	Speed float64
	Accel float64
}

// DefaultSimAxisConfig returns a simulated axis with 10000 steps of
// travel centered on the start position.
func DefaultSimAxisConfig() SimAxisConfig {
	return SimAxisConfig{
		Start:         0,
		LeftSwitchAt:  -5000,
		RightSwitchAt: 5000,
		Speed:         5000,
		Accel:         5000,
	}
}

// SimAxis is a simulated AxisDriver.
type SimAxis struct {
	mu sync.Mutex

	logical float64 // reported position
	offset  float64 // physical = logical + offset
	target  float64
	speed   float64
	accel   float64
	running bool
	enabled bool

	leftAt  float64
	rightAt float64
}

// NewSimAxis creates a simulated axis.
func NewSimAxis(cfg SimAxisConfig) *SimAxis {
	return &SimAxis{
		logical: float64(cfg.Start),
		target:  float64(cfg.Start),
		speed:   cfg.Speed,
		accel:   cfg.Accel,
		leftAt:  float64(cfg.LeftSwitchAt),
		rightAt: float64(cfg.RightSwitchAt),
	}
}

// MoveTo commands motion to an absolute position.
func (s *SimAxis) MoveTo(pos int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = float64(pos)
	s.running = s.target != s.logical
}

// MoveBy commands motion by a relative number of steps.
func (s *SimAxis) MoveBy(steps int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = s.logical + float64(steps)
	s.running = steps != 0
}

// SetSpeed sets the cruise speed in steps/sec.
func (s *SimAxis) SetSpeed(hz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hz > 0 {
		s.speed = hz
	}
}

// SetAcceleration sets the ramp rate in steps/sec^2.
func (s *SimAxis) SetAcceleration(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > 0 {
		s.accel = v
	}
}

// HardStop halts immediately.
func (s *SimAxis) HardStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = s.logical
	s.running = false
}

// RampStop halts the move. The constant-rate model has no ramp, so this
// behaves like HardStop; the distinction matters only to real drivers.
func (s *SimAxis) RampStop() {
	s.HardStop()
}

// SetCurrentPosition redefines the logical origin without moving the
// axis; the physical switch positions are unaffected.
func (s *SimAxis) SetCurrentPosition(pos int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	physical := s.logical + s.offset
	s.logical = float64(pos)
	s.target = s.logical
	s.offset = physical - s.logical
	s.running = false
}

// CurrentPosition returns the logical position in steps.
func (s *SimAxis) CurrentPosition() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(math.Round(s.logical))
}

// CurrentSpeedMilliHz returns the signed speed in millisteps/sec.
func (s *SimAxis) CurrentSpeedMilliHz() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	v := s.speed * 1000
	if s.target < s.logical {
		v = -v
	}
	return int32(v)
}

// IsRunning reports whether a move is in flight.
func (s *SimAxis) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TargetPosition returns the current move target in steps.
func (s *SimAxis) TargetPosition() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(math.Round(s.target))
}

// EnableOutputs energizes the simulated outputs.
func (s *SimAxis) EnableOutputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// DisableOutputs de-energizes the simulated outputs.
func (s *SimAxis) DisableOutputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// Enabled reports whether outputs are energized.
func (s *SimAxis) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Advance moves the model toward its target at the commanded speed.
func (s *SimAxis) Advance(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	step := s.speed * dt.Seconds()
	delta := s.target - s.logical
	if math.Abs(delta) <= step {
		s.logical = s.target
		s.running = false
		return
	}
	if delta < 0 {
		step = -step
	}
	s.logical += step
}

// LeftActive reports the simulated left limit switch state.
func (s *SimAxis) LeftActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logical+s.offset <= s.leftAt
}

// RightActive reports the simulated right limit switch state.
func (s *SimAxis) RightActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logical+s.offset >= s.rightAt
}
