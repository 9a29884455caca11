// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"sync/atomic"
	"time"
)

const stopTimeout = 1 * time.Second

// Consumer owns the lifecycle and state machine of a single subscriber
// attached to a Destination, per spec.md §3/§4.1. It mediates between
// blocking synchronous receives, an optional push listener, and
// connection-level start/stop/close signals.
type Consumer struct {
	session     *Session
	destination Destination
	uniqueTag   string
	channel     brokerChannel
	logger      LoggerFunc

	durable atomic.Bool
	noLocal atomic.Bool

	closing atomic.Bool
	closed  atomic.Bool

	gate      *ReceiveGate
	buffer    *ReceiveBuffer
	abortable *AbortableSet

	listenerConsumer atomic.Pointer[ListenerConsumer]
	listenerFn       atomic.Pointer[MessageListener]
}

// Option configures a Consumer at construction time.
type Option func(*Consumer)

// WithDurable marks the subscription durable. Set by the creating session
// before first use, per spec.md §4.1.
func WithDurable(durable bool) Option {
	return func(c *Consumer) { c.durable.Store(durable) }
}

// WithNoLocal marks the subscription as rejecting messages published by
// the same connection.
func WithNoLocal(noLocal bool) Option {
	return func(c *Consumer) { c.noLocal.Store(noLocal) }
}

// WithLogger overrides the default zap-backed logger.
func WithLogger(l LoggerFunc) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithBatchingSize overrides the ReceiveBuffer's default pre-fetch size.
func WithBatchingSize(n int) Option {
	return func(c *Consumer) {
		c.buffer = NewReceiveBuffer(c.channel, c.destination.queueName(c.uniqueTag), c.noLocal.Load(), n)
	}
}

// NewConsumer constructs a Consumer bound to destination over channel,
// registers it with session, and sets the gate's initial state from
// initiallyPaused, per spec.md §4.1's construction contract.
func NewConsumer(session *Session, channel brokerChannel, destination Destination, uniqueTag string, initiallyPaused bool, opts ...Option) *Consumer {
	c := &Consumer{
		session:     session,
		destination: destination,
		uniqueTag:   uniqueTag,
		channel:     channel,
		logger:      defaultLogger(),
		gate:        NewReceiveGate(!initiallyPaused),
		abortable:   NewAbortableSet(),
	}
	c.buffer = NewReceiveBuffer(channel, destination.queueName(uniqueTag), false, defaultBatchingSize)

	for _, opt := range opts {
		opt(c)
	}

	c.buffer.noLocal = c.noLocal.Load()

	c.abortable.Add(c.buffer)

	if session != nil {
		session.register(c)
	}

	return c
}

// Destination returns the destination this consumer reads from.
func (c *Consumer) Destination() Destination {
	return c.destination
}

// Queue returns the destination if it is queue-shaped, mirroring the
// original RMQMessageConsumer.getQueue() guard: calling it on a topic
// subscription is a programming error, not a runtime condition to
// tolerate.
func (c *Consumer) Queue() (Destination, error) {
	if !c.destination.IsQueue {
		return Destination{}, IllegalStateError{Reason: "consumer is subscribed to a topic, not a queue"}
	}

	return c.destination, nil
}

// Topic returns the destination if it is topic-shaped, the mirror image of
// Queue.
func (c *Consumer) Topic() (Destination, error) {
	if c.destination.IsQueue {
		return Destination{}, IllegalStateError{Reason: "consumer is subscribed to a queue, not a topic"}
	}

	return c.destination, nil
}

// MessageListener returns the currently installed listener, or nil if none
// is installed. Ported from the original's getMessageListener(), which
// spec.md's distillation dropped in favor of the setter alone.
func (c *Consumer) MessageListener() MessageListener {
	l := c.listenerFn.Load()
	if l == nil {
		return nil
	}

	return *l
}

// Durable reports whether this is a durable subscription.
func (c *Consumer) Durable() bool {
	return c.durable.Load()
}

// NoLocal reports whether this consumer rejects same-connection messages.
func (c *Consumer) NoLocal() bool {
	return c.noLocal.Load()
}

// Session returns the owning session.
func (c *Consumer) Session() *Session {
	return c.session
}

// IsClosed reports whether Close has completed.
func (c *Consumer) IsClosed() bool {
	return c.closed.Load()
}

func (c *Consumer) checkOpen() error {
	if c.closed.Load() || c.closing.Load() {
		return IllegalStateError{Reason: "consumer is closed or closing"}
	}

	return nil
}

// Receive blocks indefinitely until a message is available, the consumer
// is closed, or the wait is aborted. Equivalent to ReceiveTimeout(0).
func (c *Consumer) Receive() (*Message, error) {
	return c.ReceiveTimeout(0)
}

// ReceiveTimeout blocks for up to timeout waiting for a message.
// timeout == 0 means wait indefinitely, per the messaging-standard
// convention spec.md §4.1 names. Returns (nil, nil) on timeout, abort, or
// quiescence due to stop/close; only structural errors (I/O, decode)
// surface as non-nil errors.
func (c *Consumer) ReceiveTimeout(timeout time.Duration) (*Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var tt *TimeTracker
	if timeout == 0 {
		tt = InfiniteTimeTracker()
	} else {
		tt = NewTimeTracker(timeout)
	}

	entered, err := c.gate.Enter(tt)
	if err != nil {
		return nil, nil // aborted: translate to nil at the public boundary
	}

	if !entered {
		return nil, nil // timed out waiting to enter
	}

	defer c.gate.Exit()

	return c.receiveLocked(tt)
}

// ReceiveNoWait returns a message if immediately available in the buffer
// or via a single non-blocking broker fetch, else nil.
func (c *Consumer) ReceiveNoWait() (*Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	tt := ZeroTimeTracker()

	entered, err := c.gate.Enter(tt)
	if err != nil || !entered {
		return nil, nil
	}

	defer c.gate.Exit()

	return c.receiveLocked(tt)
}

func (c *Consumer) receiveLocked(tt *TimeTracker) (*Message, error) {
	d, err := c.buffer.Get(tt)
	if err != nil {
		if _, aborted := err.(abortedError); aborted {
			return nil, nil
		}

		return nil, err
	}

	if d == nil {
		return nil, nil
	}

	msg, err := decodeMessage(*d, c.channel)
	if err != nil {
		return nil, DecodeError{Cause: err}
	}

	if c.autoAck() {
		if ackErr := c.channel.basicAck(d.DeliveryTag); ackErr != nil {
			return nil, IOError{Cause: ackErr}
		}
	} else if c.session != nil {
		c.session.unackedMessageReceived(msg)
	}

	return msg, nil
}

func (c *Consumer) autoAck() bool {
	if c.session == nil {
		return true
	}

	mode := c.session.AckMode().policy()

	return mode == ackAuto
}

// SetMessageListener atomically replaces the installed listener. If
// listener equals the current one (by reference, preserved per spec.md §9
// open question), it is a no-op. Otherwise the current ListenerConsumer is
// stopped then aborted, the new listener installed, and — if non-nil and
// the connection is not stopped — a new ListenerConsumer started. If two
// installs race, the loser's ListenerConsumer is aborted and
// IllegalStateError is returned.
func (c *Consumer) SetMessageListener(listener MessageListener) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	current := c.listenerFn.Load()
	if current != nil && listener != nil && sameListener(*current, listener) {
		return nil
	}

	if current == nil && listener == nil {
		return nil
	}

	if old := c.listenerConsumer.Swap(nil); old != nil {
		c.abortable.Remove(old)
		_ = old.Stop()
		_ = old.Abort()
	}

	if listener == nil {
		c.listenerFn.Store(nil)

		return nil
	}

	c.listenerFn.Store(&listener)

	lc := newListenerConsumer(
		c.channel,
		c.destination.queueName(c.uniqueTag),
		c.noLocal.Load(),
		listener,
		c.sessionAckPolicy(),
		c.terminationTimeout(),
		c.logger,
		func() bool { return c.closing.Load() || c.closed.Load() },
		func(m *Message, _ error) {
			if c.session != nil {
				c.session.unackedMessageReceived(m)
			}
		},
	)

	if !c.listenerConsumer.CompareAndSwap(nil, lc) {
		_ = lc.Abort()

		return IllegalStateError{Reason: "listener concurrently set on consumer"}
	}

	c.abortable.Add(lc)

	if c.session == nil || !c.session.IsStopped() {
		return lc.Start()
	}

	return nil
}

func (c *Consumer) sessionAckPolicy() ackPolicy {
	if c.session == nil {
		return ackAuto
	}

	return c.session.AckMode().policy()
}

func (c *Consumer) terminationTimeout() time.Duration {
	if c.session == nil {
		return stopTimeout
	}

	return time.Duration(c.session.terminationTimeout())
}

// Close runs internalClose and then removes the consumer from its
// session's registry.
func (c *Consumer) Close() error {
	if c.session != nil {
		defer c.session.unregister(c)
	}

	return c.internalClose()
}

// pause closes the gate, waits up to stopTimeout for in-flight receivers
// to exit, then stops all abortables (cancelling subscriptions without
// aborting waits). Used on connection stop.
func (c *Consumer) pause() error {
	c.gate.Close()
	c.gate.WaitToClear(NewTimeTracker(stopTimeout))

	return c.abortable.Stop()
}

// resume starts all abortables (re-subscribing the listener consumer if
// one is installed, since it is itself a member of the set), then opens
// the gate. Used on connection start.
func (c *Consumer) resume() error {
	if err := c.abortable.Start(); err != nil {
		return err
	}

	c.gate.Open()

	return nil
}

// internalClose sets closing, closes the gate and aborts its waiters
// (without waiting for occupants to exit), removes the
// listener consumer, aborts the whole AbortableSet, then sets closed and
// clears closing. Idempotent: a second call observes closed already set
// and returns immediately.
func (c *Consumer) internalClose() error {
	if c.closed.Load() {
		return nil
	}

	c.closing.Store(true)

	c.gate.Close()
	c.gate.AbortWaiters()

	if old := c.listenerConsumer.Swap(nil); old != nil {
		c.abortable.Remove(old)
		_ = old.Stop()
		_ = old.Abort()
	}

	err := c.abortable.Abort()

	c.closed.Store(true)
	c.closing.Store(false)

	return err
}
