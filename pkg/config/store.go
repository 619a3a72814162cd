// Settings store with atomic persistence
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/TimRosener/SkullStepperV4/pkg/log"
)

// Store holds the live configuration. Writers validate before
// committing; the motion task only reads, so contention is
// read-mostly. Reads offer a try-lock variant for the control loop.
type Store struct {
	mu    sync.RWMutex
	path  string
	cfg   Config
	dirty bool
	log   *log.Logger
}

// Load reads the configuration file at path. A missing file yields the
// factory defaults (and is created on the first Commit). A present but
// invalid file is an error: booting with silently-wrong motion
// parameters is worse than refusing to start.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		cfg:  Default(),
		log:  log.GetLogger("config"),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.log.Info("no config at %s, using factory defaults", path)
		s.dirty = true
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	s.cfg = cfg
	s.log.Info("loaded %s", path)
	return s, nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// TryGet returns a copy without blocking. The motion task uses this so
// a writer holding the lock defers the read to the next tick instead
// of stalling the loop.
func (s *Store) TryGet() (Config, bool) {
	if !s.mu.TryRLock() {
		return Config{}, false
	}
	cfg := s.cfg
	s.mu.RUnlock()
	return cfg, true
}

// Update applies fn to a copy of the record, validates the result and
// installs it. The store is marked dirty; call Commit to persist.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg = next
	s.dirty = true
	return nil
}

// Dirty reports whether in-memory changes have not been persisted.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Commit persists the current record with a write-then-rename so a
// crash mid-write cannot corrupt the stored settings.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&s.cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("config: tempfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename: %w", err)
	}

	s.dirty = false
	s.log.Info("committed %s", s.path)
	return nil
}

// ResetAll restores factory defaults (not yet persisted).
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = Default()
	s.dirty = true
	s.log.Info("configuration reset to factory defaults")
}

// SetField sets one parameter by dotted key, as used by the serial
// console's CONFIG SET command. Keys are case-insensitive.
func (s *Store) SetField(key, value string) error {
	return s.Update(func(c *Config) error {
		return setField(c, strings.ToLower(key), value)
	})
}

// ResetField restores one parameter to its factory default, leaving
// its siblings alone. A bare section name ("motion", "dmx") resets the
// whole section.
func (s *Store) ResetField(key string) error {
	def := Default()
	return s.Update(func(c *Config) error {
		return copyField(c, &def, strings.ToLower(key))
	})
}

func setField(c *Config, key, value string) error {
	f := func() error { return fmt.Errorf("%w for %s: %q", ErrBadValue, key, value) }
	parseF := func(dst *float64) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return f()
		}
		*dst = v
		return nil
	}
	parseI := func(dst *int32) error {
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return f()
		}
		*dst = int32(v)
		return nil
	}
	parseInt := func(dst *int) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return f()
		}
		*dst = v
		return nil
	}
	parseB := func(dst *bool) error {
		switch strings.ToLower(value) {
		case "true", "on", "1", "yes":
			*dst = true
		case "false", "off", "0", "no":
			*dst = false
		default:
			return f()
		}
		return nil
	}

	switch key {
	case "motion.maxspeed", "maxspeed":
		return parseF(&c.Motion.MaxSpeed)
	case "motion.acceleration", "acceleration":
		if err := parseF(&c.Motion.Acceleration); err != nil {
			return err
		}
		c.Motion.Deceleration = c.Motion.Acceleration
		return nil
	case "motion.deceleration":
		return parseF(&c.Motion.Deceleration)
	case "motion.jerk":
		return parseF(&c.Motion.Jerk)
	case "homing.speed", "homingspeed":
		return parseF(&c.Homing.Speed)
	case "homing.backoffsteps":
		return parseI(&c.Homing.BackoffSteps)
	case "homing.startbackoffsteps":
		return parseI(&c.Homing.StartBackoff)
	case "homing.marginsteps":
		return parseI(&c.Homing.MarginSteps)
	case "homing.timeoutsec":
		return parseF(&c.Homing.TimeoutSec)
	case "homing.referencepercent", "homepercent":
		return parseF(&c.Homing.ReferencePercent)
	case "limits.usermin", "minlimit":
		c.Limits.Set = true
		return parseI(&c.Limits.UserMin)
	case "limits.usermax", "maxlimit":
		c.Limits.Set = true
		return parseI(&c.Limits.UserMax)
	case "dmx.startchannel", "dmxchannel":
		return parseInt(&c.DMX.StartChannel)
	case "dmx.scale", "dmxscale":
		return parseF(&c.DMX.Scale)
	case "dmx.offset", "dmxoffset":
		return parseI(&c.DMX.Offset)
	case "dmx.timeoutms":
		return parseInt(&c.DMX.TimeoutMs)
	case "dmx.mindelta":
		return parseI(&c.DMX.MinDelta)
	case "safety.debouncems":
		return parseInt(&c.Safety.DebounceMs)
	case "safety.alarmenabled":
		return parseB(&c.Safety.AlarmEnabled)
	case "safety.emergencydecel":
		return parseF(&c.Safety.EmergencyDecel)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

func copyField(dst, src *Config, key string) error {
	switch key {
	case "motion":
		dst.Motion = src.Motion
	case "motion.maxspeed", "maxspeed":
		dst.Motion.MaxSpeed = src.Motion.MaxSpeed
	case "motion.acceleration", "acceleration":
		// Deceleration mirrors acceleration, same as SetField.
		dst.Motion.Acceleration = src.Motion.Acceleration
		dst.Motion.Deceleration = src.Motion.Deceleration
	case "motion.deceleration":
		dst.Motion.Deceleration = src.Motion.Deceleration
	case "motion.jerk":
		dst.Motion.Jerk = src.Motion.Jerk
	case "homing":
		dst.Homing = src.Homing
	case "homing.speed", "homingspeed":
		dst.Homing.Speed = src.Homing.Speed
	case "homing.backoffsteps":
		dst.Homing.BackoffSteps = src.Homing.BackoffSteps
	case "homing.startbackoffsteps":
		dst.Homing.StartBackoff = src.Homing.StartBackoff
	case "homing.marginsteps":
		dst.Homing.MarginSteps = src.Homing.MarginSteps
	case "homing.timeoutsec":
		dst.Homing.TimeoutSec = src.Homing.TimeoutSec
	case "homing.referencepercent", "homepercent":
		dst.Homing.ReferencePercent = src.Homing.ReferencePercent
	case "limits":
		dst.Limits = src.Limits
	case "limits.usermin", "minlimit":
		dst.Limits.UserMin = src.Limits.UserMin
	case "limits.usermax", "maxlimit":
		dst.Limits.UserMax = src.Limits.UserMax
	case "dmx":
		dst.DMX = src.DMX
	case "dmx.startchannel", "dmxchannel":
		dst.DMX.StartChannel = src.DMX.StartChannel
	case "dmx.scale", "dmxscale":
		dst.DMX.Scale = src.DMX.Scale
	case "dmx.offset", "dmxoffset":
		dst.DMX.Offset = src.DMX.Offset
	case "dmx.timeoutms":
		dst.DMX.TimeoutMs = src.DMX.TimeoutMs
	case "dmx.mindelta":
		dst.DMX.MinDelta = src.DMX.MinDelta
	case "safety":
		dst.Safety = src.Safety
	case "safety.debouncems":
		dst.Safety.DebounceMs = src.Safety.DebounceMs
	case "safety.alarmenabled":
		dst.Safety.AlarmEnabled = src.Safety.AlarmEnabled
	case "safety.emergencydecel":
		dst.Safety.EmergencyDecel = src.Safety.EmergencyDecel
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}
