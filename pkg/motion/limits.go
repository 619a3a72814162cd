// Limit switch monitoring and fault latching
//
// Raw switch inputs are sampled every control tick and debounced with
// per-reading "stable since" tracking, so a burst of electrical noise
// produces at most one confirmed transition per debounce window and the
// monitor re-arms after every confirmed change. An unexpected confirmed
// activation (one the homing sequencer is not waiting for) hard-stops
// the axis and sets the fault latch; only a successful homing cycle
// clears it.
//
// Hardware interrupts, when wired, must do nothing beyond calling Trip:
// all debounce and policy work happens in the polled motion task.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"sync/atomic"
	"time"
)

// Side identifies a limit switch.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// PinReader samples a raw digital input; true means the switch is
// active (closed).
type PinReader func() bool

// LimitEvent is a confirmed limit switch transition.
type LimitEvent struct {
	Side   Side
	Active bool
	At     time.Time
}

// SwitchMonitorConfig holds limit monitor configuration.
type SwitchMonitorConfig struct {
	// Debounce is how long a raw reading must be stable before the
	// change is confirmed. Tuned for motor-induced electrical noise;
	// installation-specific.
	Debounce time.Duration

	// Left and Right sample the raw switch inputs.
	Left  PinReader
	Right PinReader
}

// DefaultSwitchMonitorConfig returns the factory debounce interval.
func DefaultSwitchMonitorConfig() SwitchMonitorConfig {
	return SwitchMonitorConfig{Debounce: 100 * time.Millisecond}
}

type debouncedPin struct {
	read        PinReader
	confirmed   bool
	lastRaw     bool
	stableSince time.Time
	primed      bool
}

// poll samples the pin and returns (newState, true) on a confirmed
// transition. A pending trip confirms an activation immediately,
// skipping the debounce wait; releases are always debounced.
func (p *debouncedPin) poll(now time.Time, debounce time.Duration, tripped bool) (bool, bool) {
	raw := p.read()
	if !p.primed {
		// First sample: adopt the raw state without an event so a
		// switch resting active at boot does not fire a transition.
		p.primed = true
		p.lastRaw = raw
		p.confirmed = raw
		p.stableSince = now
		return false, false
	}
	if tripped && raw && !p.confirmed {
		p.lastRaw = true
		p.confirmed = true
		p.stableSince = now
		return true, true
	}
	if raw != p.lastRaw {
		p.lastRaw = raw
		p.stableSince = now
	}
	if raw != p.confirmed && now.Sub(p.stableSince) >= debounce {
		p.confirmed = raw
		return raw, true
	}
	return false, false
}

// SwitchMonitor debounces the two limit switches and owns the fault
// latch. It is operated exclusively from the motion task; only Trip and
// FaultLatched are safe from other contexts.
type SwitchMonitor struct {
	debounce time.Duration
	left     debouncedPin
	right    debouncedPin

	// ISR flags: set from interrupt context, drained by Poll.
	leftTripped  atomic.Bool
	rightTripped atomic.Bool

	latched atomic.Bool
}

// NewSwitchMonitor creates a limit switch monitor.
func NewSwitchMonitor(cfg SwitchMonitorConfig) *SwitchMonitor {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultSwitchMonitorConfig().Debounce
	}
	return &SwitchMonitor{
		debounce: cfg.Debounce,
		left:     debouncedPin{read: cfg.Left},
		right:    debouncedPin{read: cfg.Right},
	}
}

// Trip records a raw edge from an interrupt context. It only sets a
// flag; Poll does the real work.
func (m *SwitchMonitor) Trip(side Side) {
	if side == SideLeft {
		m.leftTripped.Store(true)
	} else {
		m.rightTripped.Store(true)
	}
}

// Poll samples both switches and returns any confirmed transitions.
// Called once per control tick by the motion task.
func (m *SwitchMonitor) Poll(now time.Time) []LimitEvent {
	leftTrip := m.leftTripped.Swap(false)
	rightTrip := m.rightTripped.Swap(false)

	var events []LimitEvent
	if state, changed := m.left.poll(now, m.debounce, leftTrip); changed {
		events = append(events, LimitEvent{Side: SideLeft, Active: state, At: now})
	}
	if state, changed := m.right.poll(now, m.debounce, rightTrip); changed {
		events = append(events, LimitEvent{Side: SideRight, Active: state, At: now})
	}
	return events
}

// LeftActive returns the confirmed left switch state.
func (m *SwitchMonitor) LeftActive() bool { return m.left.confirmed }

// RightActive returns the confirmed right switch state.
func (m *SwitchMonitor) RightActive() bool { return m.right.confirmed }

// FaultLatched reports whether an unexpected limit activation has
// latched a fault.
func (m *SwitchMonitor) FaultLatched() bool { return m.latched.Load() }

// LatchFault sets the fault latch.
func (m *SwitchMonitor) LatchFault() { m.latched.Store(true) }

// ClearFault clears the fault latch. Called only on successful homing
// completion.
func (m *SwitchMonitor) ClearFault() { m.latched.Store(false) }
