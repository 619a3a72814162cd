// Package dmx translates DMX512 console input into motion commands.
//
// The upstream wire protocol is decoded elsewhere; this package only
// consumes a five-channel snapshot cache. Relative to the configured
// start channel the footprint is:
//
//	ch+0  mode select (banded: stop / control / home)
//	ch+1  position coarse byte
//	ch+2  position fine byte
//	ch+3  speed
//	ch+4  reserved
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.
package dmx

import (
	"sync"
	"time"
)

// Footprint is the number of consecutive DMX channels consumed.
const Footprint = 5

// Channel offsets within the footprint.
const (
	ChanMode = iota
	ChanPositionCoarse
	ChanPositionFine
	ChanSpeed
	chanReserved
)

// Mode is the coarse command classification from the mode channel.
type Mode int

const (
	ModeStop Mode = iota
	ModeControl
	ModeHome
)

func (m Mode) String() string {
	switch m {
	case ModeStop:
		return "stop"
	case ModeControl:
		return "control"
	case ModeHome:
		return "home"
	default:
		return "unknown"
	}
}

// Mode channel bands. Values are centered so console faders parked at
// 0%, 50% and 100% land comfortably inside a band.
const (
	modeControlFrom = 80
	modeHomeFrom    = 176
)

// classify maps the raw mode channel value to a Mode.
func classify(v byte) Mode {
	switch {
	case v >= modeHomeFrom:
		return ModeHome
	case v >= modeControlFrom:
		return ModeControl
	default:
		return ModeStop
	}
}

// State is the receiver signal state.
type State int

const (
	StateNoSignal State = iota
	StateSignalPresent
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateNoSignal:
		return "no_signal"
	case StateSignalPresent:
		return "signal_present"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Snapshot is one poll of the channel cache.
type Snapshot struct {
	Channels  [Footprint]byte
	HasSignal bool
	At        time.Time // time of the last valid upstream update
}

// Source produces channel snapshots. Implementations decode the
// upstream protocol (UART receiver, Art-Net, test fake) on their own
// cadence; Snapshot must be cheap and non-blocking.
type Source interface {
	Snapshot() Snapshot
}

// StaticSource is a Source whose snapshot is set explicitly. Used by
// tests and as a stand-in when no receiver hardware is present.
type StaticSource struct {
	mu   sync.Mutex
	snap Snapshot
}

// Set replaces the current snapshot.
func (s *StaticSource) Set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// SetChannels updates the channel values and marks the signal fresh.
func (s *StaticSource) SetChannels(ch [Footprint]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{Channels: ch, HasSignal: true, At: time.Now()}
}

// Snapshot returns the current snapshot.
func (s *StaticSource) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
