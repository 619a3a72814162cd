// Motion controller task
//
// The controller owns all live axis state and runs the fixed-cadence
// motion loop. Each tick, in order: poll the limit monitor, process at
// most one queued command, advance the homing sequencer, publish the
// status snapshot; the driver alarm input is sampled every tenth tick.
// The loop never blocks: shared-state access either try-locks or is
// deferred to the next tick.
//
// Producers talk to the controller only through Enqueue, EmergencyStop
// and Status.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TimRosener/SkullStepperV4/pkg/log"
	"github.com/TimRosener/SkullStepperV4/pkg/metrics"
)

// alarmCheckTicks is how many control ticks pass between samples of the
// driver alarm input.
const alarmCheckTicks = 10

// ControllerConfig holds everything the motion task needs at
// construction. The values come from the config store; the controller
// itself never reads configuration mid-flight.
type ControllerConfig struct {
	// Tick is the control loop period (default 1 ms).
	Tick time.Duration

	// Profile is the default motion profile.
	Profile Profile

	// Homing holds the homing sequence parameters.
	Homing HomingConfig

	// Switches configures the limit monitor.
	Switches SwitchMonitorConfig

	// QueueCapacity sizes the arbiter queue (default 10).
	QueueCapacity int

	// UserMin/UserMax are the configured operating limits, applied
	// (clamped into the discovered physical range) after each homing
	// run. Ignored unless HasUserLimits.
	UserMin       int32
	UserMax       int32
	HasUserLimits bool

	// OnLimitsCorrected is called when the configured operating limits
	// fell outside the discovered physical range and were corrected;
	// the callee should persist the corrected values. May be nil.
	OnLimitsCorrected func(min, max int32)

	// AlarmPin samples the external driver alarm line (active true).
	// Nil disables alarm monitoring.
	AlarmPin PinReader

	// AlarmEnabled gates alarm monitoring without unwiring the pin.
	AlarmEnabled bool

	// Registry receives controller metrics (metrics.Default() if nil).
	Registry *metrics.Registry
}

// Controller runs the motion task.
type Controller struct {
	driver AxisDriver
	adv    Advancer

	arb  *Arbiter
	mon  *SwitchMonitor
	seq  *Sequencer
	exec *Executor

	board Board
	log   *log.Logger

	// driverMu serializes driver access between the tick loop and the
	// emergency fast path. The loop holds it for the whole tick body.
	driverMu sync.Mutex

	tick time.Duration

	userMin, userMax int32
	hasUserLimits    bool
	onCorrected      func(min, max int32)

	alarmPin     PinReader
	alarmEnabled bool
	alarmCounter int
	alarmActive  bool

	systemState SystemState
	safetyState SafetyState

	pendingEstop atomic.Bool

	dmxState atomic.Pointer[func() string]

	prevSpeed float64
	lastTick  time.Time
	started   time.Time

	running  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}

	// metrics
	mAccepted    *metrics.Counter
	mRejected    map[RejectReason]*metrics.Counter
	mDropped     *metrics.Counter
	mFaults      *metrics.Counter
	mHomingRuns  *metrics.Counter
	mHomingFails *metrics.Counter
	mPosition    *metrics.Gauge
	mSpeed       *metrics.Gauge
	mQueueDepth  *metrics.Gauge
}

// NewController wires the motion core around an axis driver.
func NewController(driver AxisDriver, cfg ControllerConfig) *Controller {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Millisecond
	}
	reg := cfg.Registry
	if reg == nil {
		reg = metrics.Default()
	}

	c := &Controller{
		driver:        driver,
		arb:           NewArbiter(cfg.QueueCapacity),
		mon:           NewSwitchMonitor(cfg.Switches),
		log:           log.GetLogger("stepper"),
		tick:          cfg.Tick,
		userMin:       cfg.UserMin,
		userMax:       cfg.UserMax,
		hasUserLimits: cfg.HasUserLimits,
		onCorrected:   cfg.OnLimitsCorrected,
		alarmPin:      cfg.AlarmPin,
		alarmEnabled:  cfg.AlarmEnabled,
		systemState:   SystemInitializing,
		safetyState:   SafetyNormal,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
	if adv, ok := driver.(Advancer); ok {
		c.adv = adv
	}
	c.seq = NewSequencer(driver, cfg.Homing, c.rangeEstablished)
	c.exec = NewExecutor(driver, c.seq, c.mon, cfg.Profile)
	c.driver.SetSpeed(cfg.Profile.MaxSpeed)
	c.driver.SetAcceleration(cfg.Profile.Acceleration)

	c.mAccepted = reg.Counter("stepper_commands_accepted_total",
		"Motion commands accepted by the executor")
	c.mRejected = map[RejectReason]*metrics.Counter{
		RejectNotHomed:      reg.Counter("stepper_commands_rejected_not_homed_total", "Commands rejected: not homed"),
		RejectFaultActive:   reg.Counter("stepper_commands_rejected_fault_total", "Commands rejected: fault latched"),
		RejectLimitsInvalid: reg.Counter("stepper_commands_rejected_limits_total", "Commands rejected: limits not established"),
	}
	c.mDropped = reg.Counter("stepper_commands_dropped_total",
		"Commands dropped on a full queue")
	c.mFaults = reg.Counter("stepper_limit_faults_total",
		"Unexpected limit activations that latched a fault")
	c.mHomingRuns = reg.Counter("stepper_homing_runs_total",
		"Homing sequences started")
	c.mHomingFails = reg.Counter("stepper_homing_failures_total",
		"Homing sequences that ended in error")
	c.mPosition = reg.Gauge("stepper_position_steps", "Current axis position")
	c.mSpeed = reg.Gauge("stepper_speed_steps_per_sec", "Current axis speed")
	c.mQueueDepth = reg.Gauge("stepper_queue_depth", "Pending command count")

	return c
}

// Start launches the motion task loop.
func (c *Controller) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	now := time.Now()
	c.started = now
	c.lastTick = now
	c.systemState = SystemReady
	c.log.Info("motion task started, tick %v", c.tick)
	go c.loop()
	return nil
}

// Stop halts the motion task loop. The axis is ramp-stopped first.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopChan)
	<-c.doneChan
	c.driverMu.Lock()
	c.driver.RampStop()
	c.driverMu.Unlock()
	c.log.Info("motion task stopped")
}

func (c *Controller) loop() {
	defer close(c.doneChan)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case now := <-ticker.C:
			c.runTick(now)
		}
	}
}

// runTick executes one control cycle. Split out so tests can drive the
// loop with synthetic time.
func (c *Controller) runTick(now time.Time) {
	dt := now.Sub(c.lastTick)
	c.lastTick = now

	c.driverMu.Lock()

	if c.adv != nil && dt > 0 {
		c.adv.Advance(dt)
	}

	if c.pendingEstop.Swap(false) {
		c.driver.HardStop()
		c.systemState = SystemEmergencyStop
		c.safetyState = SafetyEmergencyStop
	}

	// (a) limit switches
	for _, ev := range c.mon.Poll(now) {
		c.handleLimitEvent(ev)
	}

	// (b) at most one command per tick
	if req, ok := c.arb.Next(); ok {
		c.execute(now, req)
	}

	// (c) homing
	if c.seq.Active() {
		if c.seq.Advance(now, c.mon.LeftActive(), c.mon.RightActive()) {
			c.homingCompleted()
		} else if c.seq.Phase() == PhaseError {
			c.homingFailed()
		}
	}

	// (d) driver alarm, every tenth tick
	c.alarmCounter++
	if c.alarmCounter >= alarmCheckTicks {
		c.alarmCounter = 0
		c.checkAlarm()
	}

	snap := c.buildSnapshot(now)
	c.driverMu.Unlock()

	c.board.Publish(snap)
	c.mPosition.Set(float64(snap.CurrentPosition))
	c.mSpeed.Set(snap.CurrentSpeed)
	c.mQueueDepth.Set(float64(snap.QueueDepth))
}

// handleLimitEvent applies the safety policy for a confirmed limit
// transition. An activation the sequencer is waiting for is a finding;
// any other activation hard-stops the axis and latches the fault.
func (c *Controller) handleLimitEvent(ev LimitEvent) {
	if !ev.Active {
		c.log.Info("%s limit released", ev.Side)
		return
	}

	if c.mon.LeftActive() && c.mon.RightActive() {
		c.safetyState = SafetyBothLimits
		c.log.Error("both limit switches active")
	}

	if c.seq.Expecting(ev.Side) {
		// The homing sequencer consumes this edge on its next advance.
		c.log.Debug("%s limit found during homing", ev.Side)
		return
	}

	c.driver.HardStop()
	c.mon.LatchFault()
	c.mFaults.Inc()
	if ev.Side == SideLeft {
		c.safetyState = SafetyLeftLimit
	} else {
		c.safetyState = SafetyRightLimit
	}
	c.log.Error("unexpected %s limit activation, axis halted and fault latched", ev.Side)
}

func (c *Controller) execute(now time.Time, req Request) {
	if _, isHome := req.Cmd.(HomeCmd); isHome && !c.seq.Active() {
		c.mHomingRuns.Inc()
	}

	err := c.exec.Execute(now, req)
	if err != nil {
		if rej, ok := AsRejection(err); ok {
			if m := c.mRejected[rej.Reason]; m != nil {
				m.Inc()
			}
			c.log.Warn("%s from %s rejected: %s", req.Cmd.Name(), req.Source, rej.Reason)
		} else {
			if errors.Is(err, ErrBothLimits) {
				c.homingFailed()
			}
			c.log.Warn("%s from %s failed: %v", req.Cmd.Name(), req.Source, err)
		}
		return
	}

	c.mAccepted.Inc()
	switch req.Cmd.(type) {
	case EmergencyStopCmd:
		c.systemState = SystemEmergencyStop
		c.safetyState = SafetyEmergencyStop
	case EnableCmd, DisableCmd, StopCmd:
		// No system state change beyond what the snapshot reflects.
	default:
		if c.systemState == SystemEmergencyStop {
			c.systemState = SystemReady
		}
	}
}

// rangeEstablished is the sequencer's RangeFunc: clamp the configured
// operating limits into the discovered physical envelope and compute
// the reference target.
func (c *Controller) rangeEstablished(physMin, physMax int32) (int32, float64) {
	opMin, opMax := physMin, physMax
	if c.hasUserLimits {
		opMin = clampI32(c.userMin, physMin, physMax)
		opMax = clampI32(c.userMax, physMin, physMax)
		if opMin > opMax {
			opMin, opMax = physMin, physMax
		}
		if opMin != c.userMin || opMax != c.userMax {
			c.log.Warn("operating limits %d..%d outside physical range %d..%d, corrected to %d..%d",
				c.userMin, c.userMax, physMin, physMax, opMin, opMax)
			c.userMin, c.userMax = opMin, opMax
			if c.onCorrected != nil {
				c.onCorrected(opMin, opMax)
			}
		}
	}
	c.exec.SetOperatingLimits(opMin, opMax)

	pct := c.seq.cfg.ReferencePercent
	ref := opMin + int32(math.Round(float64(opMax-opMin)*pct/100))
	return ref, c.exec.Profile().MaxSpeed
}

func (c *Controller) homingCompleted() {
	c.mon.ClearFault()
	c.safetyState = SafetyNormal
	c.systemState = SystemReady
	c.log.Info("system homed, fault latch cleared")
}

func (c *Controller) homingFailed() {
	// Error leaves the fault latch as it was and the system unhomed;
	// the operator retries with a new Home command.
	c.exec.InvalidateLimits()
	c.mHomingFails.Inc()
	c.safetyState = SafetyPositionError
	c.log.Error("homing failed, retry with a new home command")
}

func (c *Controller) checkAlarm() {
	if c.alarmPin == nil || !c.alarmEnabled {
		return
	}
	active := c.alarmPin()
	if active == c.alarmActive {
		return
	}
	c.alarmActive = active
	if active {
		c.safetyState = SafetyStepperAlarm
		c.log.Error("stepper driver alarm active")
	} else {
		c.log.Info("stepper driver alarm cleared")
	}
}

func (c *Controller) buildSnapshot(now time.Time) Snapshot {
	pos := c.driver.CurrentPosition()
	speed := float64(c.driver.CurrentSpeedMilliHz()) / 1000.0

	motionState := MotionIdle
	switch {
	case c.seq.Active():
		motionState = MotionHoming
	case c.driver.IsRunning():
		abs := math.Abs(speed)
		prev := math.Abs(c.prevSpeed)
		switch {
		case abs > prev+1e-6:
			motionState = MotionAccelerating
		case abs < prev-1e-6:
			motionState = MotionDecelerating
		default:
			motionState = MotionConstantVelocity
		}
	}
	c.prevSpeed = speed

	systemState := c.systemState
	if systemState == SystemReady && motionState != MotionIdle {
		systemState = SystemRunning
	}

	opMin, opMax, limitsValid := c.exec.OperatingLimits()

	snap := Snapshot{
		SystemState:     systemState,
		MotionState:     motionState,
		SafetyState:     c.safetyState,
		CurrentPosition: pos,
		TargetPosition:  c.driver.TargetPosition(),
		CurrentSpeed:    speed,
		Enabled:         c.exec.Enabled(),
		LeftLimit:       c.mon.LeftActive(),
		RightLimit:      c.mon.RightActive(),
		StepperAlarm:    c.alarmActive,
		Homed:           c.seq.Homed(),
		FaultLatched:    c.mon.FaultLatched(),
		HomingPhase:     c.seq.Phase().String(),
		HomingProgress:  c.seq.Progress(),
		LimitsValid:     limitsValid,
		OperatingMin:    opMin,
		OperatingMax:    opMax,
		QueueDepth:      c.arb.Depth(),
		UptimeSeconds:   now.Sub(c.started).Seconds(),
	}
	if fn := c.dmxState.Load(); fn != nil {
		snap.DMXState = (*fn)()
	}
	return snap
}

// Enqueue submits a command through the arbiter. It returns false when
// the queue is full and the command was dropped.
func (c *Controller) Enqueue(source string, cmd Command) bool {
	if c.arb.Enqueue(source, cmd) {
		return true
	}
	c.mDropped.Inc()
	c.log.Warn("queue full, %s from %s dropped", cmd.Name(), source)
	return false
}

// Admit reports whether a command would pass the admission guard right
// now. Front ends use it to give the caller an immediate rejection
// reason; the authoritative check still happens when the motion task
// drains the command.
func (c *Controller) Admit(cmd Command) error {
	c.driverMu.Lock()
	defer c.driverMu.Unlock()
	return c.exec.admit(cmd)
}

// EmergencyStop halts the axis. The stop is queued like any command;
// if the queue is full it goes through the direct fast path, touching
// the driver under the same mutex the motion task uses.
func (c *Controller) EmergencyStop() {
	if c.Enqueue(SourceInternal, EmergencyStopCmd{}) {
		return
	}
	c.driverMu.Lock()
	c.driver.HardStop()
	c.driverMu.Unlock()
	c.pendingEstop.Store(true)
	c.log.Warn("emergency stop via direct path (queue full)")
}

// Status returns a copy of the latest published snapshot. ok is false
// on (transient) lock contention.
func (c *Controller) Status() (Snapshot, bool) {
	return c.board.Read()
}

// SetDMXStateProvider registers a callback that reports the DMX signal
// state string included in snapshots.
func (c *Controller) SetDMXStateProvider(fn func() string) {
	c.dmxState.Store(&fn)
}

// Profile returns the live motion profile.
func (c *Controller) Profile() Profile {
	c.driverMu.Lock()
	defer c.driverMu.Unlock()
	return c.exec.Profile()
}

// OperatingLimits returns the established operating range.
func (c *Controller) OperatingLimits() (min, max int32, ok bool) {
	c.driverMu.Lock()
	defer c.driverMu.Unlock()
	return c.exec.OperatingLimits()
}

// QueueDropped returns the count of commands dropped on a full queue.
func (c *Controller) QueueDropped() uint64 { return c.arb.Dropped() }

func clampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
