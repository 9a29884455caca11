// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"sync"
	"time"
)

type gateState int

const (
	gateOpen gateState = iota
	gateClosed
	gateAborted
)

// ReceiveGate admits synchronous receive calls only while the connection
// is started, and lets Consumer.pause/close drain in-flight receivers
// before cancelling their subscriptions. It is the Go port of the
// mutex+condition-variable entry/exit manager spec.md §4.2 describes.
type ReceiveGate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state gateState
	// generation increments every time AbortWaiters is called so a waiter
	// that was parked before an abort still returns abortedError, even if
	// the gate has been reopened by the time it wakes.
	generation int
	occupancy  int
}

// NewReceiveGate returns a gate in the given initial state: open if the
// consumer is not constructed paused, closed otherwise.
func NewReceiveGate(open bool) *ReceiveGate {
	g := &ReceiveGate{}
	g.cond = sync.NewCond(&g.mu)

	if !open {
		g.state = gateClosed
	}

	return g
}

// Enter blocks while the gate is closed until it opens (returns true,
// increments occupancy), the deadline expires (returns false, nil), or
// the gate is aborted, or was aborted while the caller waited (returns
// false, abortedError).
func (g *ReceiveGate) Enter(tt *TimeTracker) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gen := g.generation

	for {
		if g.generation != gen {
			// AbortWaiters ran while this caller was parked.
			return false, abortedError{}
		}

		switch g.state {
		case gateOpen:
			g.occupancy++

			return true, nil
		case gateAborted:
			return false, abortedError{}
		}

		if tt.TimedOut() {
			return false, nil
		}

		if tt.Infinite() {
			g.cond.Wait()

			continue
		}

		g.waitWithTimeout(tt.Remaining())
	}
}

// waitWithTimeout blocks on the condition variable for at most d. The
// mutex must be held on entry and is held again on return. Callers
// re-check their own condition (state/occupancy) against the deadline
// after waking, since the wakeup may be the timer, a real broadcast, or a
// spurious one.
func (g *ReceiveGate) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer timer.Stop()

	g.cond.Wait()
}

// Exit decrements occupancy and wakes any waitToClear callers if it has
// reached zero. Calling Exit without a matching Enter is a programming
// error and panics, matching the invariant spec.md §4.2 states.
func (g *ReceiveGate) Exit() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.occupancy == 0 {
		panic("consumer: ReceiveGate.Exit called without matching Enter")
	}

	g.occupancy--

	if g.occupancy == 0 {
		g.cond.Broadcast()
	}
}

// Open sets the gate to OPEN and wakes all waiters so they can enter.
func (g *ReceiveGate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = gateOpen
	g.cond.Broadcast()
}

// Close sets the gate to CLOSED. New entrants block; existing occupants
// are unaffected.
func (g *ReceiveGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = gateClosed
}

// AbortWaiters sets the gate to ABORTED for the current generation and
// wakes every waiter so each returns abortedError. Reopening afterwards
// (Open) clears the abort and starts a fresh generation.
func (g *ReceiveGate) AbortWaiters() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = gateAborted
	g.generation++
	g.cond.Broadcast()
}

// WaitToClear blocks until occupancy reaches zero or the deadline expires,
// returning whether occupancy reached zero.
func (g *ReceiveGate) WaitToClear(tt *TimeTracker) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.occupancy > 0 {
		if tt.TimedOut() {
			return false
		}

		if tt.Infinite() {
			g.cond.Wait()

			continue
		}

		g.waitWithTimeout(tt.Remaining())
	}

	return true
}
