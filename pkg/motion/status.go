// Shared status snapshot
//
// The motion task publishes a copy of its state once per control tick;
// front ends read copies. Both sides use short-timeout acquisition so
// neither can stall the other: a failed publish or read is simply
// skipped and retried next opportunity.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"encoding/json"
	"runtime"
	"sync"
	"time"
)

// Snapshot is the published controller state. All fields are copies;
// readers never see live state.
type Snapshot struct {
	SystemState SystemState `json:"systemState"`
	MotionState MotionState `json:"motionState"`
	SafetyState SafetyState `json:"safetyState"`

	CurrentPosition int32   `json:"currentPosition"`
	TargetPosition  int32   `json:"targetPosition"`
	CurrentSpeed    float64 `json:"currentSpeed"`

	Enabled      bool `json:"stepperEnabled"`
	LeftLimit    bool `json:"leftLimit"`
	RightLimit   bool `json:"rightLimit"`
	StepperAlarm bool `json:"stepperAlarm"`

	Homed          bool   `json:"systemHomed"`
	FaultLatched   bool   `json:"faultLatched"`
	HomingPhase    string `json:"homingPhase"`
	HomingProgress int    `json:"homingProgress"`

	LimitsValid  bool  `json:"limitsValid"`
	OperatingMin int32 `json:"operatingMin"`
	OperatingMax int32 `json:"operatingMax"`

	DMXState string `json:"dmxState,omitempty"`

	QueueDepth    int     `json:"queueDepth"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// MarshalJSON renders the enum as its string form.
func (s SystemState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// MarshalJSON renders the enum as its string form.
func (s MotionState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// MarshalJSON renders the enum as its string form.
func (s SafetyState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// statusReadTimeout bounds how long a reader waits for the snapshot
// lock before giving up for this attempt.
const statusReadTimeout = 10 * time.Millisecond

// lockWithin tries to acquire mu, giving up after the timeout.
func lockWithin(mu *sync.Mutex, timeout time.Duration) bool {
	if mu.TryLock() {
		return true
	}
	deadline := time.Now().Add(timeout)
	for {
		runtime.Gosched()
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// Board holds the published snapshot. Single writer (motion task),
// many readers.
type Board struct {
	mu   sync.Mutex
	snap Snapshot
}

// Publish stores a new snapshot. The writer only try-locks: on
// contention the publish is skipped and the next tick's snapshot
// supersedes it.
func (b *Board) Publish(s Snapshot) bool {
	if !b.mu.TryLock() {
		return false
	}
	b.snap = s
	b.mu.Unlock()
	return true
}

// Read returns a copy of the latest snapshot. ok is false if the lock
// could not be acquired within the read timeout; the caller should
// retry rather than treat it as an error.
func (b *Board) Read() (Snapshot, bool) {
	if !lockWithin(&b.mu, statusReadTimeout) {
		return Snapshot{}, false
	}
	s := b.snap
	b.mu.Unlock()
	return s, true
}
