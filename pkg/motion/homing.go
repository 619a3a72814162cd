// Homing state machine
//
// Discovers the physical travel range by driving the axis to both limit
// switches, establishes the zero reference just clear of the near
// switch, then moves to the configured reference position. The state
// machine is advanced one step per control tick by the motion task and
// never blocks.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"errors"
	"time"

	"github.com/TimRosener/SkullStepperV4/pkg/log"
)

// Common homing errors
var (
	ErrHomingActive = errors.New("motion: homing already in progress")
	ErrBothLimits   = errors.New("motion: both limit switches active")
)

// HomingPhase is the state of the homing sequence.
type HomingPhase int

const (
	PhaseIdle HomingPhase = iota
	PhaseFindingNear
	PhaseBackingOffNear
	PhaseFindingFar
	PhaseBackingOffFar
	PhaseMovingToReference
	PhaseComplete
	PhaseError
)

func (p HomingPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFindingNear:
		return "finding_near_edge"
	case PhaseBackingOffNear:
		return "backing_off_near"
	case PhaseFindingFar:
		return "finding_far_edge"
	case PhaseBackingOffFar:
		return "backing_off_far"
	case PhaseMovingToReference:
		return "moving_to_reference"
	case PhaseComplete:
		return "complete"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// HomingConfig holds homing sequence parameters. The speed, backoff and
// timeout values are installation-specific and come from configuration.
type HomingConfig struct {
	// Speed is the approach speed in steps/sec.
	Speed float64

	// Backoff is how far to back away from a found switch, in steps.
	Backoff int32

	// StartBackoff is the larger backoff used when the sequence starts
	// with the axis already resting on the near switch and the exact
	// sub-position is unknown.
	StartBackoff int32

	// Margin is the safety margin kept between the physical range and
	// the switches, in steps.
	Margin int32

	// Timeout bounds the whole sequence. Full-travel homing is slow;
	// this must cover complete travel at homing speed plus margin.
	Timeout time.Duration

	// ReferencePercent places the post-homing rest position as a
	// percentage of the operating range.
	ReferencePercent float64

	// FarBound is the open-ended travel bound used while seeking a
	// switch; it must far exceed any plausible physical travel so that
	// the switch, not distance, terminates the leg.
	FarBound int32
}

// DefaultHomingConfig returns the factory homing parameters.
func DefaultHomingConfig() HomingConfig {
	return HomingConfig{
		Speed:            500,
		Backoff:          50,
		StartBackoff:     200,
		Margin:           10,
		Timeout:          30 * time.Second,
		ReferencePercent: 50,
		FarBound:         10000000,
	}
}

// RangeFunc is called once per homing run when the physical range has
// been established. It returns the reference target for the final move
// and the travel speed to use for it. This is where user operating
// limits are clamped into the discovered envelope.
type RangeFunc func(physMin, physMax int32) (refTarget int32, travelSpeed float64)

// Sequencer drives the homing state machine. It is operated exclusively
// from the motion task.
type Sequencer struct {
	driver  AxisDriver
	cfg     HomingConfig
	onRange RangeFunc
	log     *log.Logger

	phase    HomingPhase
	started  time.Time
	progress int
	homed    bool

	physMin     int32
	physMax     int32
	limitsValid bool
	farRaw      int32
}

// NewSequencer creates a homing sequencer for the given driver.
func NewSequencer(driver AxisDriver, cfg HomingConfig, onRange RangeFunc) *Sequencer {
	if cfg.FarBound <= 0 {
		cfg.FarBound = DefaultHomingConfig().FarBound
	}
	return &Sequencer{
		driver:  driver,
		cfg:     cfg,
		onRange: onRange,
		log:     log.GetLogger("homing"),
		phase:   PhaseIdle,
	}
}

// Phase returns the current homing phase.
func (s *Sequencer) Phase() HomingPhase { return s.phase }

// Progress returns homing progress as a percentage.
func (s *Sequencer) Progress() int { return s.progress }

// Active reports whether a homing sequence is in flight (non-idle,
// non-terminal).
func (s *Sequencer) Active() bool {
	return s.phase != PhaseIdle && s.phase != PhaseComplete && s.phase != PhaseError
}

// Homed reports whether a homing cycle has completed successfully.
func (s *Sequencer) Homed() bool { return s.homed }

// PhysicalLimits returns the discovered travel range. ok is false until
// a full homing cycle has established it.
func (s *Sequencer) PhysicalLimits() (min, max int32, ok bool) {
	return s.physMin, s.physMax, s.limitsValid
}

// Expecting reports whether the sequence is currently waiting for the
// given limit switch, in which case its activation is a finding, not a
// fault.
func (s *Sequencer) Expecting(side Side) bool {
	switch s.phase {
	case PhaseFindingNear:
		return side == SideLeft
	case PhaseFindingFar:
		return side == SideRight
	default:
		return false
	}
}

// Start begins a homing sequence. Both switches active at start is an
// unrecoverable condition for this attempt. If the axis is already
// resting on the near switch the finding leg is skipped and the larger
// start backoff is used.
func (s *Sequencer) Start(now time.Time, leftActive, rightActive bool) error {
	if s.Active() {
		return ErrHomingActive
	}

	s.homed = false
	s.limitsValid = false
	s.progress = 0
	s.started = now

	if leftActive && rightActive {
		s.phase = PhaseError
		s.log.Error("cannot home: both limit switches active")
		return ErrBothLimits
	}

	s.driver.SetSpeed(s.cfg.Speed)

	if leftActive {
		s.log.Info("starting on near switch, backing off %d steps", s.cfg.StartBackoff)
		s.driver.MoveBy(s.cfg.StartBackoff)
		s.phase = PhaseBackingOffNear
		return nil
	}

	s.log.Info("homing started, seeking near edge at %.0f steps/sec", s.cfg.Speed)
	s.driver.MoveTo(-s.cfg.FarBound)
	s.phase = PhaseFindingNear
	return nil
}

// Advance runs one step of the state machine. left and right are the
// debounced switch states. It returns true on the tick the sequence
// reaches Complete.
func (s *Sequencer) Advance(now time.Time, left, right bool) bool {
	if !s.Active() {
		return false
	}

	if now.Sub(s.started) > s.cfg.Timeout {
		phase := s.phase
		s.driver.HardStop()
		s.phase = PhaseError
		s.log.Error("homing timeout after %v in phase %s", s.cfg.Timeout, phase)
		return false
	}

	switch s.phase {
	case PhaseFindingNear:
		s.progress = 10
		if left {
			s.driver.HardStop()
			s.log.Info("near edge found at %d", s.driver.CurrentPosition())
			s.driver.MoveBy(s.cfg.Backoff)
			s.phase = PhaseBackingOffNear
		} else if !s.driver.IsRunning() {
			// Travel bound exhausted without hitting the switch.
			s.phase = PhaseError
			s.log.Error("near edge not found")
		}

	case PhaseBackingOffNear:
		s.progress = 25
		if s.driver.IsRunning() {
			break
		}
		if left {
			// Still on the switch after the backoff; keep backing.
			s.driver.MoveBy(s.cfg.Backoff)
			break
		}
		// Clear of the switch: this is the zero reference.
		s.driver.SetCurrentPosition(0)
		s.physMin = s.cfg.Margin
		s.log.Info("zero reference set, seeking far edge")
		s.driver.SetSpeed(s.cfg.Speed)
		s.driver.MoveTo(s.cfg.FarBound)
		s.phase = PhaseFindingFar

	case PhaseFindingFar:
		s.progress = 50
		if right {
			s.farRaw = s.driver.CurrentPosition()
			s.driver.HardStop()
			s.log.Info("far edge found at %d", s.farRaw)
			s.driver.MoveBy(-s.cfg.Backoff)
			s.phase = PhaseBackingOffFar
		} else if !s.driver.IsRunning() {
			s.phase = PhaseError
			s.log.Error("far edge not found")
		}

	case PhaseBackingOffFar:
		s.progress = 75
		if s.driver.IsRunning() {
			break
		}
		if right {
			s.driver.MoveBy(-s.cfg.Backoff)
			break
		}
		s.physMax = s.driver.CurrentPosition() - s.cfg.Margin
		if s.physMax <= s.physMin {
			s.phase = PhaseError
			s.log.Error("degenerate travel range: %d..%d", s.physMin, s.physMax)
			break
		}
		s.limitsValid = true

		refTarget := (s.physMin + s.physMax) / 2
		travelSpeed := s.cfg.Speed
		if s.onRange != nil {
			refTarget, travelSpeed = s.onRange(s.physMin, s.physMax)
		}
		s.log.Info("physical range %d..%d, moving to reference %d",
			s.physMin, s.physMax, refTarget)
		s.driver.SetSpeed(travelSpeed)
		s.driver.MoveTo(refTarget)
		s.phase = PhaseMovingToReference

	case PhaseMovingToReference:
		s.progress = 90
		if !s.driver.IsRunning() {
			s.phase = PhaseComplete
			s.progress = 100
			s.homed = true
			s.log.Info("homing complete in %.1fs, range %d..%d",
				now.Sub(s.started).Seconds(), s.physMin, s.physMax)
			return true
		}
	}
	return false
}
