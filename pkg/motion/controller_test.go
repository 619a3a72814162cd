// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"testing"
	"time"

	"github.com/TimRosener/SkullStepperV4/pkg/metrics"
)

// harness drives the controller tick loop with synthetic time against
// the simulated axis. Nothing runs concurrently; every tick is explicit.
type harness struct {
	c   *Controller
	sim *SimAxis
	now time.Time
}

func newHarness(t *testing.T, mutate func(*ControllerConfig)) *harness {
	t.Helper()

	sim := NewSimAxis(SimAxisConfig{
		Start:         0,
		LeftSwitchAt:  -500,
		RightSwitchAt: 500,
		Speed:         5000,
		Accel:         5000,
	})

	cfg := ControllerConfig{
		Tick:    time.Millisecond,
		Profile: DefaultProfile(),
		Homing: HomingConfig{
			Speed:            500,
			Backoff:          50,
			StartBackoff:     200,
			Margin:           10,
			Timeout:          30 * time.Second,
			ReferencePercent: 50,
		},
		Switches: SwitchMonitorConfig{
			Debounce: 5 * time.Millisecond,
			Left:     sim.LeftActive,
			Right:    sim.RightActive,
		},
		Registry: metrics.NewRegistry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c := NewController(sim, cfg)
	now := time.Unix(1000, 0)
	c.started = now
	c.lastTick = now
	c.systemState = SystemReady

	return &harness{c: c, sim: sim, now: now}
}

// run advances synthetic time by d, one tick at a time.
func (h *harness) run(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += h.c.tick {
		h.now = h.now.Add(h.c.tick)
		h.c.runTick(h.now)
	}
}

// home runs a homing sequence to completion and fails the test if it
// does not complete.
func (h *harness) home(t *testing.T) {
	t.Helper()
	if !h.c.Enqueue(SourceInternal, HomeCmd{}) {
		t.Fatal("home command dropped")
	}
	h.run(15 * time.Second)
	if !h.c.seq.Homed() {
		t.Fatalf("homing did not complete, phase %s", h.c.seq.Phase())
	}
}

func TestHomingDiscoversRange(t *testing.T) {
	h := newHarness(t, nil)
	h.home(t)

	physMin, physMax, ok := h.c.seq.PhysicalLimits()
	if !ok {
		t.Fatal("physical limits not established")
	}
	if physMin != 10 {
		t.Fatalf("physMin = %d, want margin (10)", physMin)
	}
	// Travel is 1000 steps between switches; after backoffs and margin
	// the far bound lands short of that, plus a little debounce
	// overshoot on each leg.
	if physMax < 800 || physMax > 960 {
		t.Fatalf("physMax = %d, outside plausible range", physMax)
	}

	// Parked at the reference position, mid-range by default.
	ref := physMin + (physMax-physMin)/2
	pos := h.sim.CurrentPosition()
	if pos < ref-2 || pos > ref+2 {
		t.Fatalf("parked at %d, want reference %d", pos, ref)
	}
	if h.sim.LeftActive() || h.sim.RightActive() {
		t.Fatal("a limit switch is active after homing")
	}

	snap, ok := h.c.Status()
	if !ok {
		t.Fatal("status read failed")
	}
	if !snap.Homed || !snap.LimitsValid || snap.FaultLatched {
		t.Fatalf("snapshot after homing: %+v", snap)
	}
	if snap.HomingPhase != "complete" || snap.HomingProgress != 100 {
		t.Fatalf("homing phase %q progress %d", snap.HomingPhase, snap.HomingProgress)
	}
}

func TestHomingIsRepeatable(t *testing.T) {
	h := newHarness(t, nil)

	h.home(t)
	min1, max1, _ := h.c.seq.PhysicalLimits()

	h.home(t)
	min2, max2, _ := h.c.seq.PhysicalLimits()

	if min1 != min2 {
		t.Fatalf("physMin differs between runs: %d vs %d", min1, min2)
	}
	if d := max1 - max2; d < -2 || d > 2 {
		t.Fatalf("physMax differs between runs: %d vs %d", max1, max2)
	}
}

func TestMotionRejectedBeforeHoming(t *testing.T) {
	h := newHarness(t, nil)

	err := h.c.Admit(MoveAbsolute{Target: 100, Profile: DefaultProfile()})
	rej, ok := AsRejection(err)
	if !ok || rej.Reason != RejectNotHomed {
		t.Fatalf("admit = %v, want NotHomed rejection", err)
	}

	// The drain-side check is authoritative: an enqueued move must not
	// reach the driver either.
	h.c.Enqueue(SourceSerial, MoveAbsolute{Target: 100, Profile: DefaultProfile()})
	h.run(10 * time.Millisecond)
	if pos := h.sim.CurrentPosition(); pos != 0 {
		t.Fatalf("axis moved to %d while unhomed", pos)
	}

	// Non-motion commands pass the guard.
	for _, cmd := range []Command{HomeCmd{}, StopCmd{}, EnableCmd{}, DisableCmd{}, EmergencyStopCmd{}} {
		if err := h.c.Admit(cmd); err != nil {
			t.Fatalf("%s rejected while unhomed: %v", cmd.Name(), err)
		}
	}
}

func TestMoveTargetsClampedToOperatingRange(t *testing.T) {
	h := newHarness(t, nil)
	h.home(t)

	_, opMax, _ := h.c.OperatingLimits()

	h.c.Enqueue(SourceWeb, MoveAbsolute{Target: opMax + 10000, Profile: h.c.Profile()})
	h.run(5 * time.Second)

	if pos := h.sim.CurrentPosition(); pos != opMax {
		t.Fatalf("axis stopped at %d, want clamp to %d", pos, opMax)
	}
	if h.c.mon.FaultLatched() {
		t.Fatal("clamped move latched a fault")
	}
}

func TestUnexpectedLimitLatchesFault(t *testing.T) {
	h := newHarness(t, nil)
	h.home(t)

	// A move with limit enforcement off runs the axis into the right
	// switch, which homing is not expecting.
	prof := h.c.Profile()
	prof.EnforceLimits = false
	h.c.Enqueue(SourceSerial, MoveAbsolute{Target: 5000, Profile: prof})
	h.run(10 * time.Second)

	if !h.c.mon.FaultLatched() {
		t.Fatal("fault latch not set")
	}
	if h.sim.IsRunning() {
		t.Fatal("axis still running after unexpected limit")
	}

	snap, _ := h.c.Status()
	if snap.SafetyState != SafetyRightLimit {
		t.Fatalf("safety state = %s, want RightLimit", snap.SafetyState)
	}

	// Motion stays rejected until a homing cycle succeeds.
	err := h.c.Admit(MoveAbsolute{Target: 100, Profile: DefaultProfile()})
	rej, ok := AsRejection(err)
	if !ok || rej.Reason != RejectFaultActive {
		t.Fatalf("admit = %v, want FaultActive rejection", err)
	}

	h.home(t)
	if h.c.mon.FaultLatched() {
		t.Fatal("fault latch survived a successful homing cycle")
	}
	if err := h.c.Admit(MoveAbsolute{Target: 100, Profile: DefaultProfile()}); err != nil {
		t.Fatalf("move rejected after rehoming: %v", err)
	}
}

func TestEmergencyStopViaQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.home(t)

	h.c.Enqueue(SourceWeb, MoveAbsolute{Target: 800, Profile: h.c.Profile()})
	h.run(20 * time.Millisecond)
	if !h.sim.IsRunning() {
		t.Fatal("move did not start")
	}

	h.c.EmergencyStop()
	h.run(20 * time.Millisecond)

	if h.sim.IsRunning() {
		t.Fatal("axis still running after emergency stop")
	}
	snap, _ := h.c.Status()
	if snap.SystemState != SystemEmergencyStop || snap.SafetyState != SafetyEmergencyStop {
		t.Fatalf("states after estop: %s / %s", snap.SystemState, snap.SafetyState)
	}

	// A subsequent accepted command returns the system to ready.
	h.c.Enqueue(SourceWeb, MoveAbsolute{Target: 400, Profile: h.c.Profile()})
	h.run(5 * time.Second)
	snap, _ = h.c.Status()
	if snap.SystemState != SystemReady {
		t.Fatalf("system state = %s after recovery move", snap.SystemState)
	}
}

func TestEmergencyStopDirectPathWhenQueueFull(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.QueueCapacity = 2
	})

	// Saturate the queue so the estop cannot be enqueued.
	h.c.Enqueue(SourceSerial, EnableCmd{})
	h.c.Enqueue(SourceSerial, EnableCmd{})
	if h.c.Enqueue(SourceSerial, EnableCmd{}) {
		t.Fatal("third enqueue succeeded on a 2-deep queue")
	}

	h.sim.MoveTo(400)
	h.c.EmergencyStop()

	if h.sim.IsRunning() {
		t.Fatal("direct path did not stop the axis")
	}

	// The deferred flag makes the next tick record the estop state.
	h.run(2 * time.Millisecond)
	snap, _ := h.c.Status()
	if snap.SystemState != SystemEmergencyStop {
		t.Fatalf("system state = %s, want EmergencyStop", snap.SystemState)
	}
}

func TestOneCommandPerTick(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		h.c.Enqueue(SourceSerial, EnableCmd{})
	}
	h.run(time.Millisecond)
	if depth := h.c.arb.Depth(); depth != 2 {
		t.Fatalf("queue depth = %d after one tick, want 2", depth)
	}
	h.run(2 * time.Millisecond)
	if depth := h.c.arb.Depth(); depth != 0 {
		t.Fatalf("queue depth = %d after three ticks, want 0", depth)
	}
}

func TestUserLimitsClampedIntoPhysicalRange(t *testing.T) {
	var corrected []int32
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.UserMin = -10000
		cfg.UserMax = 10000
		cfg.HasUserLimits = true
		cfg.OnLimitsCorrected = func(min, max int32) {
			corrected = []int32{min, max}
		}
	})
	h.home(t)

	physMin, physMax, _ := h.c.seq.PhysicalLimits()
	opMin, opMax, ok := h.c.OperatingLimits()
	if !ok {
		t.Fatal("operating limits not established")
	}
	if opMin != physMin || opMax != physMax {
		t.Fatalf("operating %d..%d, want physical %d..%d", opMin, opMax, physMin, physMax)
	}
	if len(corrected) != 2 || corrected[0] != physMin || corrected[1] != physMax {
		t.Fatalf("corrected callback got %v", corrected)
	}
}

func TestHomingTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.Homing.Timeout = 500 * time.Millisecond
	})

	h.c.Enqueue(SourceInternal, HomeCmd{})
	h.run(2 * time.Second)

	if h.c.seq.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", h.c.seq.Phase())
	}
	if h.c.seq.Homed() {
		t.Fatal("timeout run reported homed")
	}
	snap, _ := h.c.Status()
	if snap.SafetyState != SafetyPositionError {
		t.Fatalf("safety state = %s, want PositionError", snap.SafetyState)
	}

	// A fresh attempt with a sane timeout recovers.
	h.c.seq.cfg.Timeout = 30 * time.Second
	h.home(t)
}

func TestStepperAlarmDetection(t *testing.T) {
	alarm := false
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.AlarmPin = func() bool { return alarm }
		cfg.AlarmEnabled = true
	})

	h.run(20 * time.Millisecond)
	snap, _ := h.c.Status()
	if snap.StepperAlarm {
		t.Fatal("alarm reported while line inactive")
	}

	alarm = true
	h.run(20 * time.Millisecond)
	snap, _ = h.c.Status()
	if !snap.StepperAlarm {
		t.Fatal("alarm not detected")
	}
	if snap.SafetyState != SafetyStepperAlarm {
		t.Fatalf("safety state = %s, want StepperAlarm", snap.SafetyState)
	}
}

func TestSnapshotMotionStates(t *testing.T) {
	h := newHarness(t, nil)
	h.home(t)

	snap, _ := h.c.Status()
	if snap.MotionState != MotionIdle {
		t.Fatalf("motion state = %s at rest", snap.MotionState)
	}

	h.c.Enqueue(SourceWeb, MoveAbsolute{Target: 700, Profile: h.c.Profile()})
	h.run(10 * time.Millisecond)
	snap, _ = h.c.Status()
	if snap.MotionState == MotionIdle {
		t.Fatal("motion state idle while moving")
	}
	if snap.SystemState != SystemRunning {
		t.Fatalf("system state = %s while moving", snap.SystemState)
	}
}
