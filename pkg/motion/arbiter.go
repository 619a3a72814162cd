// Command arbitration queue
//
// A single bounded queue serializes motion intent from all producers
// (DMX, serial, web, internal). Enqueue never blocks: a full queue
// drops the command and the producer reports it, it does not retry.
// The motion task drains at most one command per control tick, in
// strict FIFO order.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package motion

import (
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity is the arbiter queue depth. Commands are
// low-frequency relative to the 1 ms drain cadence, so a small queue
// suffices.
const DefaultQueueCapacity = 10

// Arbiter is the multi-producer, single-consumer command queue.
type Arbiter struct {
	queue   chan Request
	nextID  atomic.Uint32
	dropped atomic.Uint64
}

// NewArbiter creates an arbiter with the given queue capacity
// (DefaultQueueCapacity if zero or negative).
func NewArbiter(capacity int) *Arbiter {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Arbiter{queue: make(chan Request, capacity)}
}

// Enqueue adds a command without blocking. It returns false when the
// queue is full; the caller must treat the command as dropped.
func (a *Arbiter) Enqueue(source string, cmd Command) bool {
	req := Request{
		Cmd:       cmd,
		Source:    source,
		ID:        a.nextID.Add(1),
		Timestamp: time.Now(),
	}
	select {
	case a.queue <- req:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Next removes the oldest pending command, if any. Called only by the
// motion task.
func (a *Arbiter) Next() (Request, bool) {
	select {
	case req := <-a.queue:
		return req, true
	default:
		return Request{}, false
	}
}

// Depth returns the number of pending commands.
func (a *Arbiter) Depth() int { return len(a.queue) }

// Capacity returns the queue capacity.
func (a *Arbiter) Capacity() int { return cap(a.queue) }

// Dropped returns the number of commands dropped on a full queue.
func (a *Arbiter) Dropped() uint64 { return a.dropped.Load() }
