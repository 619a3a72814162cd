// DMX-to-motion translation task
//
// Runs on its own cadence, independent of the motion task, and talks
// to it only by enqueuing commands through the shared arbiter. Mode
// changes are debounced with a consecutive-poll hysteresis so a fader
// sweeping through the control band does not fire spurious stop or
// home commands, and position values pass through a minimum-delta
// filter to absorb LSB jitter from noisy consoles.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package dmx

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/TimRosener/SkullStepperV4/pkg/log"
	"github.com/TimRosener/SkullStepperV4/pkg/motion"
)

// Commander is the slice of the motion controller the translator is
// allowed to touch: the enqueue path and the live profile.
type Commander interface {
	Enqueue(source string, cmd motion.Command) bool
	Profile() motion.Profile
}

// TranslatorConfig holds translation parameters.
type TranslatorConfig struct {
	// Interval is the poll cadence (default 10 ms).
	Interval time.Duration

	// SignalTimeout declares the signal lost when the source has not
	// updated for this long; loss behaves as a stop.
	SignalTimeout time.Duration

	// ModeHoldPolls is how many consecutive polls a new mode must
	// persist before it takes effect.
	ModeHoldPolls int

	// Scale converts the 16-bit position value to steps; Offset is
	// added afterward.
	Scale  float64
	Offset int32

	// MinDelta suppresses position updates smaller than this many
	// steps. Absorbs stuck-LSB jitter; installation-specific.
	MinDelta int32

	// SpeedDeadband suppresses speed updates for mode-channel moves
	// smaller than this many counts.
	SpeedDeadband int
}

// DefaultTranslatorConfig returns the factory translation parameters.
func DefaultTranslatorConfig() TranslatorConfig {
	return TranslatorConfig{
		Interval:      10 * time.Millisecond,
		SignalTimeout: 5 * time.Second,
		ModeHoldPolls: 5,
		Scale:         1.0,
		MinDelta:      4,
		SpeedDeadband: 2,
	}
}

// Translator converts channel snapshots into motion commands.
type Translator struct {
	src  Source
	ctrl Commander
	cfg  TranslatorConfig
	log  *log.Logger

	mode          Mode
	candidate     Mode
	candidateRuns int

	state      atomic.Int32 // State
	lastTarget int32
	haveTarget bool
	lastSpeed  int

	running  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewTranslator creates a translator from src into ctrl.
func NewTranslator(src Source, ctrl Commander, cfg TranslatorConfig) *Translator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTranslatorConfig().Interval
	}
	if cfg.ModeHoldPolls <= 0 {
		cfg.ModeHoldPolls = DefaultTranslatorConfig().ModeHoldPolls
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = DefaultTranslatorConfig().SignalTimeout
	}
	if cfg.SpeedDeadband <= 0 {
		cfg.SpeedDeadband = DefaultTranslatorConfig().SpeedDeadband
	}
	return &Translator{
		src:      src,
		ctrl:     ctrl,
		cfg:      cfg,
		log:      log.GetLogger("dmx"),
		mode:     ModeStop,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// State returns the current signal state.
func (t *Translator) State() State {
	return State(t.state.Load())
}

// StateString returns the signal state for status snapshots.
func (t *Translator) StateString() string {
	return t.State().String()
}

// Start launches the translation loop.
func (t *Translator) Start() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.log.Info("translator started, %v cadence", t.cfg.Interval)
	go t.loop()
}

// Stop halts the translation loop.
func (t *Translator) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	close(t.stopChan)
	<-t.doneChan
}

func (t *Translator) loop() {
	defer close(t.doneChan)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case now := <-ticker.C:
			t.poll(now)
		}
	}
}

// poll runs one translation cycle. Exported to the tests via the
// package boundary only indirectly; production code reaches it through
// the loop.
func (t *Translator) poll(now time.Time) {
	snap := t.src.Snapshot()

	prevState := t.State()
	state := t.classifySignal(snap, now)
	t.state.Store(int32(state))

	if state != StateSignalPresent {
		if prevState == StateSignalPresent {
			t.log.Warn("signal lost (%s), stopping axis", state)
			t.setMode(ModeStop)
		}
		return
	}
	if prevState != StateSignalPresent {
		t.log.Info("signal acquired")
	}

	mode := t.holdMode(classify(snap.Channels[ChanMode]))
	switch mode {
	case ModeControl:
		t.translateControl(snap)
	case ModeHome, ModeStop:
		// Transition commands are sent by setMode; steady state is
		// quiet.
	}
}

func (t *Translator) classifySignal(snap Snapshot, now time.Time) State {
	if !snap.HasSignal {
		return StateNoSignal
	}
	if now.Sub(snap.At) > t.cfg.SignalTimeout {
		return StateTimeout
	}
	return StateSignalPresent
}

// holdMode applies the consecutive-poll hysteresis and returns the
// effective mode.
func (t *Translator) holdMode(m Mode) Mode {
	if m == t.mode {
		t.candidateRuns = 0
		return t.mode
	}
	if m != t.candidate {
		t.candidate = m
		t.candidateRuns = 1
		return t.mode
	}
	t.candidateRuns++
	if t.candidateRuns >= t.cfg.ModeHoldPolls {
		t.setMode(m)
	}
	return t.mode
}

// setMode commits a mode change and fires its transition command.
func (t *Translator) setMode(m Mode) {
	if m == t.mode {
		return
	}
	t.log.Info("mode %s -> %s", t.mode, m)
	t.mode = m
	t.candidateRuns = 0
	t.haveTarget = false
	t.lastSpeed = -1

	switch m {
	case ModeStop:
		t.ctrl.Enqueue(motion.SourceDMX, motion.StopCmd{})
	case ModeHome:
		t.ctrl.Enqueue(motion.SourceDMX, motion.HomeCmd{})
	case ModeControl:
		// First control poll sends the initial position.
	}
}

// translateControl maps the position and speed channels to commands.
func (t *Translator) translateControl(snap Snapshot) {
	profile := t.ctrl.Profile()

	if sp := int(snap.Channels[ChanSpeed]); sp > 0 {
		if t.lastSpeed < 0 || abs(sp-t.lastSpeed) > t.cfg.SpeedDeadband {
			speed := float64(sp) / 255.0 * profile.MaxSpeed
			if speed >= 1 {
				t.ctrl.Enqueue(motion.SourceDMX, motion.SetSpeed{Speed: speed})
				t.lastSpeed = sp
			}
		}
	}

	raw := uint16(snap.Channels[ChanPositionCoarse])<<8 | uint16(snap.Channels[ChanPositionFine])
	target := t.cfg.Offset + int32(math.Round(float64(raw)*t.cfg.Scale))
	if t.haveTarget && abs32(target-t.lastTarget) < t.cfg.MinDelta {
		return
	}
	if t.ctrl.Enqueue(motion.SourceDMX, motion.MoveAbsolute{Target: target, Profile: profile}) {
		t.lastTarget = target
		t.haveTarget = true
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
