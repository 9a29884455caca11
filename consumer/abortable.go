// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Abortable is any resource the Consumer can broadcast lifecycle events to
// uniformly: the ReceiveBuffer and the active ListenerConsumer both
// implement it.
type Abortable interface {
	Start() error
	Stop() error
	Abort() error
}

// AbortableSet is a concurrency-safe bag of Abortables that is itself an
// Abortable, broadcasting Start/Stop/Abort to every member. Re-entrancy is
// prevented per action: a Stop already broadcasting on this set makes a
// nested Stop a no-op, matching the reentrancy guard the original consumer
// used around its own abortable bag.
type AbortableSet struct {
	mu      sync.Mutex
	members []Abortable

	aborting atomic.Bool
	starting atomic.Bool
	stopping atomic.Bool
}

// NewAbortableSet returns an empty set.
func NewAbortableSet() *AbortableSet {
	return &AbortableSet{}
}

// Add registers a member. Safe to call concurrently with broadcasts; a
// broadcast already in flight will not retroactively include it.
func (s *AbortableSet) Add(a Abortable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members = append(s.members, a)
}

// Remove drops a member, e.g. a ListenerConsumer that is being replaced by
// SetMessageListener or torn down by close.
func (s *AbortableSet) Remove(a Abortable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.members {
		if m == a {
			s.members = append(s.members[:i], s.members[i+1:]...)

			return
		}
	}
}

func (s *AbortableSet) snapshot() []Abortable {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Abortable, len(s.members))
	copy(out, s.members)

	return out
}

// Start broadcasts Start to every current member.
func (s *AbortableSet) Start() error {
	return s.act(&s.starting, Abortable.Start)
}

// Stop broadcasts Stop to every current member.
func (s *AbortableSet) Stop() error {
	return s.act(&s.stopping, Abortable.Stop)
}

// Abort broadcasts Abort to every current member.
func (s *AbortableSet) Abort() error {
	return s.act(&s.aborting, Abortable.Abort)
}

func (s *AbortableSet) act(flag *atomic.Bool, do func(Abortable) error) error {
	if !flag.CompareAndSwap(false, true) {
		return nil
	}
	defer flag.Store(false)

	var errs error

	for _, m := range s.snapshot() {
		if err := do(m); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
