// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"sync"
	"testing"
	"time"
)

func newTestListenerConsumer(ch *fakeChannel, listener MessageListener, closing func() bool) *ListenerConsumer {
	return newListenerConsumer(ch, "Q", false, listener, ackAuto, time.Second, defaultLogger(), closing, nil)
}

// TestListenerConsumerStopResume is the literal S4 scenario: install,
// deliver, stop, publish-while-stopped, start, deliver again.
func TestListenerConsumerStopResume(t *testing.T) {
	ch := newFakeChannel()

	received := make(chan string, 2)
	listener := MessageListenerFunc(func(m *Message) { received <- string(m.Body()) })

	lc := newTestListenerConsumer(ch, listener, func() bool { return false })

	if err := lc.Start(); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	ch.publish("m1")

	select {
	case got := <-received:
		if got != "m1" {
			t.Fatalf("listener got %q, want m1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was never invoked for m1")
	}

	if err := lc.Stop(); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}

	if ch.activeSubs() != 0 {
		t.Error("subscription still active after Stop()")
	}

	// m2 published while stopped: nothing is subscribed, so it just queues
	// and produces no callback.
	ch.publish("m2")

	select {
	case got := <-received:
		t.Fatalf("listener invoked with %q while stopped, want no callback", got)
	case <-time.After(100 * time.Millisecond):
	}

	if err := lc.Start(); err != nil {
		t.Fatalf("second Start() = %v, want nil", err)
	}

	ch.publish("m3")

	select {
	case got := <-received:
		if got != "m3" {
			t.Fatalf("listener got %q after restart, want m3", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was never invoked for m3 after restart")
	}
}

// TestListenerConsumerCloseWaitsForInFlight is the literal S6 scenario:
// Stop waits for an in-flight onMessage to finish before cancelling.
func TestListenerConsumerCloseWaitsForInFlight(t *testing.T) {
	ch := newFakeChannel()

	var started, finished sync.WaitGroup

	started.Add(1)
	finished.Add(1)

	listener := MessageListenerFunc(func(*Message) {
		started.Done()
		time.Sleep(150 * time.Millisecond)
		finished.Done()
	})

	lc := newTestListenerConsumer(ch, listener, func() bool { return false })
	lc.termination = time.Second

	if err := lc.Start(); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	go ch.publish("slow")

	started.Wait()

	stopReturned := make(chan struct{})

	go func() {
		_ = lc.Stop()
		close(stopReturned)
	}()

	select {
	case <-stopReturned:
		t.Fatal("Stop() returned before the in-flight listener invocation finished")
	case <-time.After(50 * time.Millisecond):
	}

	<-stopReturned
}

func TestListenerConsumerClosingNacksWithoutInvokingListener(t *testing.T) {
	ch := newFakeChannel()

	invoked := false
	listener := MessageListenerFunc(func(*Message) { invoked = true })

	lc := newTestListenerConsumer(ch, listener, func() bool { return true })

	if err := lc.Start(); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	ch.publish("dropped")

	if invoked {
		t.Error("listener invoked on a closing consumer")
	}

	if len(ch.nacked) != 1 {
		t.Errorf("nacked = %v, want exactly one nack", ch.nacked)
	}
}

func TestListenerConsumerPanicNacksAndRequeues(t *testing.T) {
	ch := newFakeChannel()

	listener := MessageListenerFunc(func(*Message) { panic("boom") })

	lc := newTestListenerConsumer(ch, listener, func() bool { return false })

	if err := lc.Start(); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	ch.publish("panics")

	if len(ch.nacked) != 1 {
		t.Fatalf("nacked = %v, want exactly one nack after listener panic", ch.nacked)
	}

	if !ch.requeued[0] {
		t.Error("nack after listener panic should requeue")
	}
}
