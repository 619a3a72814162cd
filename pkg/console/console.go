// Package console implements the line-oriented command interface.
//
// A Session interprets one connection worth of commands; the transport
// (serial port, test buffer) is just an io.Reader/io.Writer pair, so
// the parser is testable without hardware.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.
package console

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TimRosener/SkullStepperV4/pkg/config"
	"github.com/TimRosener/SkullStepperV4/pkg/log"
	"github.com/TimRosener/SkullStepperV4/pkg/motion"
)

// Controller is the slice of the motion controller the console uses.
type Controller interface {
	Enqueue(source string, cmd motion.Command) bool
	Admit(cmd motion.Command) error
	Status() (motion.Snapshot, bool)
	EmergencyStop()
	Profile() motion.Profile
	OperatingLimits() (min, max int32, ok bool)
}

// Session interprets commands for one connection.
type Session struct {
	ctrl  Controller
	store *config.Store
	out   io.Writer
	log   *log.Logger

	jsonMode bool
	echo     bool
}

// NewSession creates a session writing replies to out.
func NewSession(ctrl Controller, store *config.Store, out io.Writer) *Session {
	return &Session{
		ctrl:  ctrl,
		store: store,
		out:   out,
		log:   log.GetLogger("console"),
	}
}

// Run reads lines from r until EOF or read error, executing each.
func (s *Session) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.echo {
			s.reply("%s", line)
		}
		s.Execute(line)
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("read error: %v", err)
	}
}

// Execute parses and runs a single command line.
func (s *Session) Execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	switch verb {
	case "HELP", "?":
		s.printHelp()
	case "STATUS":
		s.printStatus()
	case "CONFIG":
		s.doConfig(args)
	case "MOVE":
		s.doMove(args, false)
	case "MOVEREL":
		s.doMove(args, true)
	case "MOVEHOME":
		s.doMoveHome()
	case "HOME":
		s.submit(motion.HomeCmd{})
	case "STOP":
		s.submit(motion.StopCmd{})
	case "ESTOP", "EMERGENCY":
		s.ctrl.EmergencyStop()
		s.ok()
	case "ENABLE":
		s.submit(motion.EnableCmd{})
	case "DISABLE":
		s.submit(motion.DisableCmd{})
	case "SPEED":
		s.doSpeed(args)
	case "ACCEL":
		s.doAccel(args)
	case "JSON":
		s.doToggle(args, &s.jsonMode)
	case "ECHO":
		s.doToggle(args, &s.echo)
	default:
		s.fail("unknown command %q, try HELP", verb)
	}
}

// submit admits and enqueues a command, reporting the outcome.
func (s *Session) submit(cmd motion.Command) {
	if err := s.ctrl.Admit(cmd); err != nil {
		s.fail("%v", err)
		return
	}
	if !s.ctrl.Enqueue(motion.SourceSerial, cmd) {
		s.fail("command queue full")
		return
	}
	s.ok()
}

func (s *Session) doMove(args []string, relative bool) {
	if len(args) != 1 {
		s.fail("usage: MOVE <steps>")
		return
	}
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		s.fail("bad position %q", args[0])
		return
	}
	profile := s.ctrl.Profile()
	if relative {
		s.submit(motion.MoveRelative{Delta: int32(n), Profile: profile})
	} else {
		s.submit(motion.MoveAbsolute{Target: int32(n), Profile: profile})
	}
}

// doMoveHome moves to the configured reference position within the
// operating range (the same position homing parks at).
func (s *Session) doMoveHome() {
	min, max, ok := s.ctrl.OperatingLimits()
	if !ok {
		s.fail("not homed")
		return
	}
	pct := s.store.Get().Homing.ReferencePercent
	target := min + int32(math.Round(float64(max-min)*pct/100))
	s.submit(motion.MoveAbsolute{Target: target, Profile: s.ctrl.Profile()})
}

func (s *Session) doSpeed(args []string) {
	if len(args) == 0 {
		s.reply("speed %.1f", s.ctrl.Profile().MaxSpeed)
		return
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v <= 0 {
		s.fail("bad speed %q", args[0])
		return
	}
	s.submit(motion.SetSpeed{Speed: v})
}

func (s *Session) doAccel(args []string) {
	if len(args) == 0 {
		s.reply("accel %.1f", s.ctrl.Profile().Acceleration)
		return
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v <= 0 {
		s.fail("bad acceleration %q", args[0])
		return
	}
	s.submit(motion.SetAcceleration{Accel: v})
}

func (s *Session) doConfig(args []string) {
	switch {
	case len(args) == 0:
		s.printConfig()
	case strings.EqualFold(args[0], "SET") && len(args) == 3:
		if err := s.store.SetField(args[1], args[2]); err != nil {
			s.fail("%v", err)
			return
		}
		if err := s.store.Commit(); err != nil {
			s.fail("save failed: %v", err)
			return
		}
		s.ok()
	case strings.EqualFold(args[0], "RESET") && len(args) == 1:
		s.store.ResetAll()
		if err := s.store.Commit(); err != nil {
			s.fail("save failed: %v", err)
			return
		}
		s.ok()
	case strings.EqualFold(args[0], "RESET") && len(args) == 2:
		if err := s.store.ResetField(args[1]); err != nil {
			s.fail("%v", err)
			return
		}
		if err := s.store.Commit(); err != nil {
			s.fail("save failed: %v", err)
			return
		}
		s.ok()
	default:
		s.fail("usage: CONFIG [SET <key> <value> | RESET [<key>]]")
	}
}

func (s *Session) printConfig() {
	cfg := s.store.Get()
	if s.jsonMode {
		data, err := json.Marshal(cfg)
		if err != nil {
			s.fail("%v", err)
			return
		}
		s.reply("%s", data)
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		s.fail("%v", err)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		s.reply("%s", line)
	}
}

func (s *Session) printStatus() {
	snap, ok := s.ctrl.Status()
	if !ok {
		s.fail("status busy, retry")
		return
	}
	if s.jsonMode {
		data, err := json.Marshal(snap)
		if err != nil {
			s.fail("%v", err)
			return
		}
		s.reply("%s", data)
		return
	}
	s.reply("system    %s", snap.SystemState)
	s.reply("motion    %s", snap.MotionState)
	s.reply("safety    %s", snap.SafetyState)
	s.reply("position  %d (target %d)", snap.CurrentPosition, snap.TargetPosition)
	s.reply("speed     %.1f steps/s", snap.CurrentSpeed)
	s.reply("homed     %v", snap.Homed)
	if snap.LimitsValid {
		s.reply("range     %d..%d", snap.OperatingMin, snap.OperatingMax)
	}
	s.reply("limits    L=%v R=%v fault=%v alarm=%v",
		snap.LeftLimit, snap.RightLimit, snap.FaultLatched, snap.StepperAlarm)
	s.reply("enabled   %v", snap.Enabled)
	if snap.DMXState != "" {
		s.reply("dmx       %s", snap.DMXState)
	}
	s.reply("queue     %d", snap.QueueDepth)
	s.reply("uptime    %.0fs", snap.UptimeSeconds)
}

func (s *Session) doToggle(args []string, flag *bool) {
	if len(args) != 1 {
		s.fail("usage: ON or OFF")
		return
	}
	switch strings.ToUpper(args[0]) {
	case "ON":
		*flag = true
	case "OFF":
		*flag = false
	default:
		s.fail("usage: ON or OFF")
		return
	}
	s.ok()
}

func (s *Session) printHelp() {
	for _, line := range []string{
		"STATUS                 show system status",
		"CONFIG                 show configuration",
		"CONFIG SET <key> <v>   set and save a parameter",
		"CONFIG RESET [<key>]   restore factory defaults",
		"MOVE <steps>           move to absolute position",
		"MOVEREL <steps>        move by relative offset",
		"MOVEHOME               move to the reference position",
		"HOME                   run the homing sequence",
		"STOP                   ramped stop",
		"ESTOP                  immediate stop",
		"ENABLE / DISABLE       stepper driver outputs",
		"SPEED [<steps/s>]      show or set cruise speed",
		"ACCEL [<steps/s^2>]    show or set acceleration",
		"JSON ON|OFF            machine-readable output",
		"ECHO ON|OFF            echo received lines",
	} {
		s.reply("%s", line)
	}
}

func (s *Session) ok() {
	if s.jsonMode {
		s.reply(`{"ok":true}`)
		return
	}
	s.reply("OK")
}

func (s *Session) fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if s.jsonMode {
		data, _ := json.Marshal(map[string]interface{}{"ok": false, "error": msg})
		s.reply("%s", data)
		return
	}
	s.reply("ERROR: %s", msg)
}

func (s *Session) reply(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\r\n", args...)
}
