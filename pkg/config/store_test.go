// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	store, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return store, path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	store, _ := tempStore(t)

	cfg := store.Get()
	if cfg != Default() {
		t.Fatalf("config = %+v, want factory defaults", cfg)
	}
	if !store.Dirty() {
		t.Fatal("fresh store not marked dirty")
	}
}

func TestCommitAndReload(t *testing.T) {
	store, path := tempStore(t)

	if err := store.SetField("maxSpeed", "2500"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if store.Dirty() {
		t.Fatal("store dirty after commit")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get().Motion.MaxSpeed; got != 2500 {
		t.Fatalf("reloaded maxSpeed = %v, want 2500", got)
	}
	if reloaded.Dirty() {
		t.Fatal("reloaded store marked dirty")
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("motion: {maxSpeed: -4}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid file loaded without error")
	}
}

func TestUpdateRejectsInvalidChange(t *testing.T) {
	store, _ := tempStore(t)

	err := store.Update(func(c *Config) error {
		c.Motion.MaxSpeed = -1
		return nil
	})
	if !errors.Is(err, ErrBadValue) {
		t.Fatalf("err = %v, want ErrBadValue", err)
	}
	// The bad record must not be installed.
	if got := store.Get().Motion.MaxSpeed; got != Default().Motion.MaxSpeed {
		t.Fatalf("maxSpeed = %v after rejected update", got)
	}
}

func TestSetFieldAliases(t *testing.T) {
	store, _ := tempStore(t)

	cases := []struct {
		key, value string
		check      func(Config) bool
	}{
		{"maxSpeed", "3000", func(c Config) bool { return c.Motion.MaxSpeed == 3000 }},
		{"motion.maxspeed", "3500", func(c Config) bool { return c.Motion.MaxSpeed == 3500 }},
		{"homingSpeed", "800", func(c Config) bool { return c.Homing.Speed == 800 }},
		{"homePercent", "25", func(c Config) bool { return c.Homing.ReferencePercent == 25 }},
		{"minLimit", "100", func(c Config) bool { return c.Limits.UserMin == 100 && c.Limits.Set }},
		{"maxLimit", "900", func(c Config) bool { return c.Limits.UserMax == 900 }},
		{"dmxChannel", "17", func(c Config) bool { return c.DMX.StartChannel == 17 }},
		{"safety.alarmEnabled", "off", func(c Config) bool { return !c.Safety.AlarmEnabled }},
	}
	for _, tc := range cases {
		if err := store.SetField(tc.key, tc.value); err != nil {
			t.Fatalf("set %s: %v", tc.key, err)
		}
		if !tc.check(store.Get()) {
			t.Fatalf("set %s=%s did not take", tc.key, tc.value)
		}
	}
}

func TestSetAccelerationMirrorsDeceleration(t *testing.T) {
	store, _ := tempStore(t)

	if err := store.SetField("acceleration", "7000"); err != nil {
		t.Fatalf("set: %v", err)
	}
	cfg := store.Get()
	if cfg.Motion.Acceleration != 7000 || cfg.Motion.Deceleration != 7000 {
		t.Fatalf("accel/decel = %v/%v, want 7000 both", cfg.Motion.Acceleration, cfg.Motion.Deceleration)
	}
}

func TestSetFieldUnknownKey(t *testing.T) {
	store, _ := tempStore(t)

	err := store.SetField("frobnication", "1")
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("err = %v, want ErrUnknownKey", err)
	}
}

func TestSetFieldBadValueLeavesRecord(t *testing.T) {
	store, _ := tempStore(t)

	if err := store.SetField("maxSpeed", "fast"); !errors.Is(err, ErrBadValue) {
		t.Fatalf("err = %v, want ErrBadValue", err)
	}
	if err := store.SetField("maxSpeed", "999999"); !errors.Is(err, ErrBadValue) {
		t.Fatalf("out-of-range err = %v, want ErrBadValue", err)
	}
	if got := store.Get().Motion.MaxSpeed; got != Default().Motion.MaxSpeed {
		t.Fatalf("maxSpeed = %v after rejected sets", got)
	}
}

func TestResetFieldPreservesSiblings(t *testing.T) {
	store, _ := tempStore(t)

	store.SetField("maxSpeed", "1234")
	store.SetField("motion.jerk", "2000")
	if err := store.ResetField("maxSpeed"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	cfg := store.Get()
	if got := cfg.Motion.MaxSpeed; got != Default().Motion.MaxSpeed {
		t.Fatalf("maxSpeed = %v after reset", got)
	}
	if got := cfg.Motion.Jerk; got != 2000 {
		t.Fatalf("jerk = %v after resetting maxSpeed, want 2000 preserved", got)
	}
}

func TestResetFieldSectionKeyRestoresSection(t *testing.T) {
	store, _ := tempStore(t)

	store.SetField("maxSpeed", "1234")
	store.SetField("motion.jerk", "2000")
	if err := store.ResetField("motion"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := store.Get().Motion; got != Default().Motion {
		t.Fatalf("motion = %+v after section reset, want defaults", got)
	}
}

func TestResetAccelerationRestoresDeceleration(t *testing.T) {
	store, _ := tempStore(t)

	store.SetField("acceleration", "4321")
	if err := store.ResetField("acceleration"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	cfg := store.Get()
	if cfg.Motion.Acceleration != Default().Motion.Acceleration {
		t.Fatalf("acceleration = %v after reset", cfg.Motion.Acceleration)
	}
	if cfg.Motion.Deceleration != Default().Motion.Deceleration {
		t.Fatalf("deceleration = %v after reset, want mirrored default", cfg.Motion.Deceleration)
	}
}

func TestResetAll(t *testing.T) {
	store, _ := tempStore(t)

	store.SetField("maxSpeed", "1234")
	store.SetField("dmxChannel", "99")
	store.ResetAll()
	if store.Get() != Default() {
		t.Fatal("config differs from defaults after reset")
	}
}

func TestCommitIsAtomicRename(t *testing.T) {
	store, path := tempStore(t)
	if err := store.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".config-") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestValidateCatchesCrossFieldViolations(t *testing.T) {
	cfg := Default()
	cfg.Homing.Speed = cfg.Motion.MaxSpeed + 1
	if err := cfg.Validate(); !errors.Is(err, ErrBadValue) {
		t.Fatalf("homing speed above max speed passed validation: %v", err)
	}
}
