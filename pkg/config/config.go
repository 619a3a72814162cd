// Package config provides the persistent settings store for the
// controller: a flat YAML document loaded at boot, mutated through
// validated setters, and committed back atomically on demand.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.
package config

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUnknownKey = errors.New("config: unknown parameter")
	ErrBadValue   = errors.New("config: invalid value")
)

// Motion holds the default motion profile parameters.
type Motion struct {
	MaxSpeed     float64 `yaml:"maxSpeed"`     // steps/sec
	Acceleration float64 `yaml:"acceleration"` // steps/sec^2
	Deceleration float64 `yaml:"deceleration"` // steps/sec^2
	Jerk         float64 `yaml:"jerk"`         // steps/sec^3
}

// Homing holds the homing sequence parameters. All of these are
// installation-specific: switch hardware and travel length dictate the
// correct values, so none are hard-coded.
type Homing struct {
	Speed            float64 `yaml:"speed"`            // steps/sec
	BackoffSteps     int32   `yaml:"backoffSteps"`     // steps
	StartBackoff     int32   `yaml:"startBackoffSteps"`
	MarginSteps      int32   `yaml:"marginSteps"`
	TimeoutSec       float64 `yaml:"timeoutSec"`
	ReferencePercent float64 `yaml:"referencePercent"` // % of operating range
}

// Limits holds the user-configured operating range. The range is
// clamped into the discovered physical envelope after each homing run.
type Limits struct {
	UserMin int32 `yaml:"userMin"`
	UserMax int32 `yaml:"userMax"`
	Set     bool  `yaml:"set"` // false until the user narrows the range
}

// DMX holds DMX mapping parameters.
type DMX struct {
	StartChannel int     `yaml:"startChannel"` // 1-512
	Scale        float64 `yaml:"scale"`        // 16-bit value to steps
	Offset       int32   `yaml:"offset"`       // steps
	TimeoutMs    int     `yaml:"timeoutMs"`    // signal-loss timeout
	MinDelta     int32   `yaml:"minDelta"`     // jitter filter, steps
}

// Safety holds safety interlock parameters.
type Safety struct {
	DebounceMs     int     `yaml:"debounceMs"`
	AlarmEnabled   bool    `yaml:"alarmEnabled"`
	EmergencyDecel float64 `yaml:"emergencyDecel"` // steps/sec^2
}

// Interfaces holds front-end addresses and toggles.
type Interfaces struct {
	HTTPAddr    string `yaml:"httpAddr"`
	MetricsAddr string `yaml:"metricsAddr"`
	SerialPort  string `yaml:"serialPort"`
	SerialBaud  int    `yaml:"serialBaud"`
}

// Config is the complete settings record.
type Config struct {
	Motion     Motion     `yaml:"motion"`
	Homing     Homing     `yaml:"homing"`
	Limits     Limits     `yaml:"limits"`
	DMX        DMX        `yaml:"dmx"`
	Safety     Safety     `yaml:"safety"`
	Interfaces Interfaces `yaml:"interfaces"`
}

// Default returns the factory configuration.
func Default() Config {
	return Config{
		Motion: Motion{
			MaxSpeed:     5000,
			Acceleration: 5000,
			Deceleration: 5000,
			Jerk:         1000,
		},
		Homing: Homing{
			Speed:            500,
			BackoffSteps:     50,
			StartBackoff:     200,
			MarginSteps:      10,
			TimeoutSec:       30,
			ReferencePercent: 50,
		},
		Limits: Limits{},
		DMX: DMX{
			StartChannel: 1,
			Scale:        1.0,
			Offset:       0,
			TimeoutMs:    5000,
			MinDelta:     4,
		},
		Safety: Safety{
			DebounceMs:     100,
			AlarmEnabled:   true,
			EmergencyDecel: 20000,
		},
		Interfaces: Interfaces{
			HTTPAddr:    ":8080",
			MetricsAddr: ":9100",
			SerialBaud:  115200,
		},
	}
}

// validRange documents a numeric bound used by Validate.
const (
	maxSpeedLimit = 50000 // steps/sec, step generator ceiling
	maxAccelLimit = 100000
)

// Validate checks the record and returns the first violation found.
func (c *Config) Validate() error {
	if c.Motion.MaxSpeed <= 0 || c.Motion.MaxSpeed > maxSpeedLimit {
		return fmt.Errorf("%w: motion.maxSpeed %.1f (want 0-%d)", ErrBadValue, c.Motion.MaxSpeed, maxSpeedLimit)
	}
	if c.Motion.Acceleration <= 0 || c.Motion.Acceleration > maxAccelLimit {
		return fmt.Errorf("%w: motion.acceleration %.1f", ErrBadValue, c.Motion.Acceleration)
	}
	if c.Motion.Deceleration <= 0 || c.Motion.Deceleration > maxAccelLimit {
		return fmt.Errorf("%w: motion.deceleration %.1f", ErrBadValue, c.Motion.Deceleration)
	}
	if c.Homing.Speed <= 0 || c.Homing.Speed > c.Motion.MaxSpeed {
		return fmt.Errorf("%w: homing.speed %.1f (want 0-maxSpeed)", ErrBadValue, c.Homing.Speed)
	}
	if c.Homing.BackoffSteps <= 0 || c.Homing.StartBackoff < c.Homing.BackoffSteps {
		return fmt.Errorf("%w: homing backoff %d/%d", ErrBadValue, c.Homing.BackoffSteps, c.Homing.StartBackoff)
	}
	if c.Homing.MarginSteps < 0 {
		return fmt.Errorf("%w: homing.marginSteps %d", ErrBadValue, c.Homing.MarginSteps)
	}
	if c.Homing.TimeoutSec <= 0 {
		return fmt.Errorf("%w: homing.timeoutSec %.1f", ErrBadValue, c.Homing.TimeoutSec)
	}
	if c.Homing.ReferencePercent < 0 || c.Homing.ReferencePercent > 100 {
		return fmt.Errorf("%w: homing.referencePercent %.1f (want 0-100)", ErrBadValue, c.Homing.ReferencePercent)
	}
	if c.Limits.Set && c.Limits.UserMin >= c.Limits.UserMax {
		return fmt.Errorf("%w: limits %d..%d", ErrBadValue, c.Limits.UserMin, c.Limits.UserMax)
	}
	if c.DMX.StartChannel < 1 || c.DMX.StartChannel > 512 {
		return fmt.Errorf("%w: dmx.startChannel %d (want 1-512)", ErrBadValue, c.DMX.StartChannel)
	}
	if c.DMX.Scale <= 0 {
		return fmt.Errorf("%w: dmx.scale %.3f", ErrBadValue, c.DMX.Scale)
	}
	if c.DMX.TimeoutMs <= 0 {
		return fmt.Errorf("%w: dmx.timeoutMs %d", ErrBadValue, c.DMX.TimeoutMs)
	}
	if c.Safety.DebounceMs <= 0 || c.Safety.DebounceMs > 1000 {
		return fmt.Errorf("%w: safety.debounceMs %d (want 1-1000)", ErrBadValue, c.Safety.DebounceMs)
	}
	if c.Safety.EmergencyDecel <= 0 {
		return fmt.Errorf("%w: safety.emergencyDecel %.1f", ErrBadValue, c.Safety.EmergencyDecel)
	}
	if c.Interfaces.SerialBaud <= 0 {
		return fmt.Errorf("%w: interfaces.serialBaud %d", ErrBadValue, c.Interfaces.SerialBaud)
	}
	return nil
}
