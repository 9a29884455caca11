// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"errors"
	"testing"
	"time"
)

func TestReceiveGateEnterOpenSucceeds(t *testing.T) {
	g := NewReceiveGate(true)

	entered, err := g.Enter(ZeroTimeTracker())
	if err != nil || !entered {
		t.Fatalf("Enter() = (%v, %v), want (true, nil) on an open gate", entered, err)
	}

	g.Exit()
}

func TestReceiveGateEnterClosedTimesOut(t *testing.T) {
	g := NewReceiveGate(false)

	entered, err := g.Enter(NewTimeTracker(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("Enter() err = %v, want nil on timeout", err)
	}

	if entered {
		t.Error("Enter() entered = true on a gate that never opened")
	}
}

func TestReceiveGateOpenWakesWaiters(t *testing.T) {
	g := NewReceiveGate(false)

	result := make(chan bool, 1)

	go func() {
		entered, _ := g.Enter(InfiniteTimeTracker())
		result <- entered
	}()

	time.Sleep(20 * time.Millisecond)
	g.Open()

	select {
	case entered := <-result:
		if !entered {
			t.Error("Enter() returned false after Open()")
		}
	case <-time.After(time.Second):
		t.Fatal("Enter() never returned after Open()")
	}
}

func TestReceiveGateAbortWaiters(t *testing.T) {
	g := NewReceiveGate(false)

	result := make(chan error, 1)

	go func() {
		_, err := g.Enter(InfiniteTimeTracker())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	g.AbortWaiters()

	select {
	case err := <-result:
		if !errors.Is(err, abortedError{}) {
			t.Errorf("Enter() err = %v, want abortedError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enter() never returned after AbortWaiters()")
	}
}

func TestReceiveGateExitWithoutEnterPanics(t *testing.T) {
	g := NewReceiveGate(true)

	defer func() {
		if recover() == nil {
			t.Error("Exit() without a matching Enter did not panic")
		}
	}()

	g.Exit()
}

func TestReceiveGateWaitToClear(t *testing.T) {
	g := NewReceiveGate(true)

	entered, err := g.Enter(ZeroTimeTracker())
	if err != nil || !entered {
		t.Fatalf("Enter() = (%v, %v), want (true, nil)", entered, err)
	}

	cleared := make(chan bool, 1)

	go func() {
		cleared <- g.WaitToClear(NewTimeTracker(time.Second))
	}()

	time.Sleep(20 * time.Millisecond)
	g.Exit()

	select {
	case ok := <-cleared:
		if !ok {
			t.Error("WaitToClear() = false, want true once occupancy reached zero")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitToClear() never returned after Exit()")
	}
}

func TestReceiveGateWaitToClearTimesOutWithOccupant(t *testing.T) {
	g := NewReceiveGate(true)

	entered, err := g.Enter(ZeroTimeTracker())
	if err != nil || !entered {
		t.Fatalf("Enter() = (%v, %v), want (true, nil)", entered, err)
	}

	defer g.Exit()

	if ok := g.WaitToClear(NewTimeTracker(50 * time.Millisecond)); ok {
		t.Error("WaitToClear() = true while an occupant never exited")
	}
}

func TestReceiveGateReopenAfterAbortUsesNewGeneration(t *testing.T) {
	g := NewReceiveGate(false)

	g.AbortWaiters()
	g.Open()

	entered, err := g.Enter(ZeroTimeTracker())
	if err != nil || !entered {
		t.Fatalf("Enter() after reopen = (%v, %v), want (true, nil)", entered, err)
	}

	g.Exit()
}
