// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"testing"
	"time"
)

// pin is a settable PinReader for debounce tests.
type pin struct{ active bool }

func (p *pin) read() bool { return p.active }

func newTestMonitor(debounce time.Duration) (*SwitchMonitor, *pin, *pin) {
	left := &pin{}
	right := &pin{}
	m := NewSwitchMonitor(SwitchMonitorConfig{
		Debounce: debounce,
		Left:     left.read,
		Right:    right.read,
	})
	return m, left, right
}

// pollFor runs the monitor at a 1 ms cadence for d and collects events.
func pollFor(m *SwitchMonitor, start time.Time, d time.Duration) ([]LimitEvent, time.Time) {
	var events []LimitEvent
	now := start
	for elapsed := time.Duration(0); elapsed <= d; elapsed += time.Millisecond {
		events = append(events, m.Poll(now)...)
		now = now.Add(time.Millisecond)
	}
	return events, now
}

func TestDebounceSuppressesGlitches(t *testing.T) {
	m, left, _ := newTestMonitor(100 * time.Millisecond)
	now := time.Unix(1000, 0)

	// Prime and settle.
	_, now = pollFor(m, now, 10*time.Millisecond)

	// A 20 ms glitch is far below the 100 ms window.
	left.active = true
	_, now = pollFor(m, now, 20*time.Millisecond)
	left.active = false
	events, now := pollFor(m, now, 200*time.Millisecond)

	if len(events) != 0 {
		t.Fatalf("glitch produced %d events: %v", len(events), events)
	}
	if m.LeftActive() {
		t.Fatal("glitch changed the confirmed state")
	}

	// A held activation produces exactly one confirmed event.
	left.active = true
	events, now = pollFor(m, now, 150*time.Millisecond)
	if len(events) != 1 {
		t.Fatalf("held activation produced %d events, want 1", len(events))
	}
	if events[0].Side != SideLeft || !events[0].Active {
		t.Fatalf("event = %+v, want left activation", events[0])
	}
	if !m.LeftActive() {
		t.Fatal("confirmed state not updated")
	}

	// Steady state: no repeat events.
	events, now = pollFor(m, now, 300*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("steady switch produced %d extra events", len(events))
	}

	// Release confirms once, after the window.
	left.active = false
	events, _ = pollFor(m, now, 150*time.Millisecond)
	if len(events) != 1 || events[0].Active {
		t.Fatalf("release events = %v, want one deactivation", events)
	}
}

func TestDebounceRearmsAfterBounce(t *testing.T) {
	m, left, _ := newTestMonitor(100 * time.Millisecond)
	now := time.Unix(1000, 0)
	_, now = pollFor(m, now, 10*time.Millisecond)

	// Contact bounce: the stability clock restarts on every raw edge,
	// so the transition confirms only once the reading finally settles.
	var events []LimitEvent
	for i := 0; i < 8; i++ {
		left.active = i%2 == 0
		var evs []LimitEvent
		evs, now = pollFor(m, now, 30*time.Millisecond)
		events = append(events, evs...)
	}
	if len(events) != 0 {
		t.Fatalf("bouncing produced %d events before settling", len(events))
	}

	left.active = true
	events, _ = pollFor(m, now, 150*time.Millisecond)
	if len(events) != 1 {
		t.Fatalf("settled activation produced %d events, want 1", len(events))
	}
}

func TestFirstSampleAdoptsStateSilently(t *testing.T) {
	m, left, _ := newTestMonitor(100 * time.Millisecond)
	left.active = true

	events := m.Poll(time.Unix(1000, 0))
	if len(events) != 0 {
		t.Fatalf("boot-time active switch fired %d events", len(events))
	}
	if !m.LeftActive() {
		t.Fatal("boot-time active switch not adopted as confirmed state")
	}
}

func TestFaultLatch(t *testing.T) {
	m, _, _ := newTestMonitor(0)

	if m.FaultLatched() {
		t.Fatal("fresh monitor reports a latched fault")
	}
	m.LatchFault()
	if !m.FaultLatched() {
		t.Fatal("latch did not set")
	}
	m.ClearFault()
	if m.FaultLatched() {
		t.Fatal("latch did not clear")
	}
}

func TestTripFlagsAreDrained(t *testing.T) {
	m, _, _ := newTestMonitor(10 * time.Millisecond)

	m.Trip(SideLeft)
	m.Trip(SideRight)
	m.Poll(time.Unix(1000, 0))

	if m.leftTripped.Load() || m.rightTripped.Load() {
		t.Fatal("trip flags not cleared by poll")
	}
}

func TestTripConfirmsActivationImmediately(t *testing.T) {
	m, left, _ := newTestMonitor(100 * time.Millisecond)
	now := time.Unix(1000, 0)
	_, now = pollFor(m, now, 10*time.Millisecond)

	left.active = true
	m.Trip(SideLeft)
	events := m.Poll(now)
	if len(events) != 1 || !events[0].Active || events[0].Side != SideLeft {
		t.Fatalf("events = %v, want one immediate left activation", events)
	}
	if !m.LeftActive() {
		t.Fatal("left not confirmed after trip")
	}
}

func TestTripReleaseStillDebounced(t *testing.T) {
	m, left, _ := newTestMonitor(100 * time.Millisecond)
	now := time.Unix(1000, 0)
	_, now = pollFor(m, now, 10*time.Millisecond)

	left.active = true
	m.Trip(SideLeft)
	m.Poll(now)

	// The trip flag never fast-tracks the release edge.
	left.active = false
	m.Trip(SideLeft)
	events, now := pollFor(m, now, 50*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("release confirmed inside debounce window: %v", events)
	}
	events, _ = pollFor(m, now, 150*time.Millisecond)
	if len(events) != 1 || events[0].Active {
		t.Fatalf("events = %v, want one debounced release", events)
	}
}

func TestTripWithInactivePinIsIgnored(t *testing.T) {
	m, _, _ := newTestMonitor(100 * time.Millisecond)
	now := time.Unix(1000, 0)
	_, now = pollFor(m, now, 10*time.Millisecond)

	m.Trip(SideLeft)
	events, _ := pollFor(m, now, 20*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("spurious trip produced events: %v", events)
	}
	if m.LeftActive() {
		t.Fatal("left confirmed without the pin active")
	}
}
