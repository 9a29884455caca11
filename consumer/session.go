// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import "sync"

// AckMode mirrors the acknowledgement modes the messaging standard defines.
// AUTO and DUPS_OK behave identically at this layer (auto-ack after
// delivery); CLIENT defers ack to the message; TRANSACTED defers to
// session commit, per spec.md §6.
type AckMode int

const (
	AckAuto AckMode = iota
	AckDupsOK
	AckClient
	AckTransacted
)

func (m AckMode) policy() ackPolicy {
	switch m {
	case AckAuto, AckDupsOK:
		return ackAuto
	case AckTransacted:
		return ackTransacted
	default:
		return ackClient
	}
}

// Session is the minimal stand-in for the external session-level
// collaborator spec.md §1(c) names: it owns the registry of Consumers
// (breaking the Consumer<->Session cycle the original source has, per
// spec.md §9 "Cyclic references") and the connection start/stop signal,
// and tracks messages a Consumer hands it for later acknowledgement on the
// client-ack/transacted paths. Wire-level send/receive and real commit
// semantics belong to a fuller session type this package does not provide.
type Session struct {
	mu            sync.Mutex
	consumers     map[*Consumer]struct{}
	started       bool
	ackMode       AckMode
	terminationTO func() (nanoseconds int64)
	unacked       []*Message
}

// NewSession returns a Session in the stopped state with the given default
// ack mode and a termination-timeout provider (connection config, in
// nanoseconds, per spec.md §5).
func NewSession(ackMode AckMode, terminationTimeoutNanos func() int64) *Session {
	return &Session{
		consumers:     make(map[*Consumer]struct{}),
		ackMode:       ackMode,
		terminationTO: terminationTimeoutNanos,
	}
}

// AckMode returns the session's acknowledgement mode.
func (s *Session) AckMode() AckMode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ackMode
}

// IsStopped reports whether the owning connection is currently stopped.
func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.started
}

// register adds c to the session's registry. Called by NewConsumer.
func (s *Session) register(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumers[c] = struct{}{}
}

// unregister removes c, called once internalClose has completed.
func (s *Session) unregister(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.consumers, c)
}

// unackedMessageReceived records a message the core did not auto-ack so a
// full session implementation could later acknowledge or redeliver it on
// commit/rollback. This package does not implement commit; it only
// provides the bookkeeping hook spec.md §1(c) calls for.
func (s *Session) unackedMessageReceived(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unacked = append(s.unacked, m)
}

// Start transitions the connection to started: every registered Consumer
// is resumed. Mirrors javax.jms.Connection#start() from the original.
func (s *Session) Start() error {
	s.mu.Lock()
	s.started = true
	consumers := s.snapshot()
	s.mu.Unlock()

	for _, c := range consumers {
		if err := c.resume(); err != nil {
			return err
		}
	}

	return nil
}

// Stop transitions the connection to stopped: every registered Consumer is
// paused, draining in-flight receivers within the stop-timeout. Mirrors
// javax.jms.Connection#stop().
func (s *Session) Stop() error {
	s.mu.Lock()
	s.started = false
	consumers := s.snapshot()
	s.mu.Unlock()

	for _, c := range consumers {
		if err := c.pause(); err != nil {
			return err
		}
	}

	return nil
}

// Close closes every registered Consumer, then clears the registry.
func (s *Session) Close() error {
	s.mu.Lock()
	consumers := s.snapshot()
	s.mu.Unlock()

	for _, c := range consumers {
		if err := c.internalClose(); err != nil {
			return err
		}

		s.unregister(c)
	}

	return nil
}

func (s *Session) snapshot() []*Consumer {
	out := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		out = append(out, c)
	}

	return out
}

func (s *Session) terminationTimeout() int64 {
	if s.terminationTO == nil {
		return int64(oneSecondNanos)
	}

	return s.terminationTO()
}

const oneSecondNanos = 1_000_000_000
