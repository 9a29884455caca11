// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// defaultBatchingSize is the number of messages a single OnceOnlyConsumer
// pre-fetches before it auto-cancels, bounding broker chatter for bursts
// of receive() calls against one subscription.
const defaultBatchingSize = 5

// ReceiveBuffer bridges the broker's push-only subscription model to pull
// semantics, amortizing one outstanding subscription across many receive
// calls. It guards its FIFO with a mutex and uses a condition variable for
// producer-to-consumer signalling, per spec.md §4.3 and §5.
type ReceiveBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	channel      brokerChannel
	queueName    string
	noLocal      bool
	batchingSize int

	fifo    []Delivery
	pending *OnceOnlyConsumer
	aborted bool
}

// NewReceiveBuffer constructs a buffer bound to one queue. batchingSize
// defaults to defaultBatchingSize when zero.
func NewReceiveBuffer(channel brokerChannel, queueName string, noLocal bool, batchingSize int) *ReceiveBuffer {
	if batchingSize <= 0 {
		batchingSize = defaultBatchingSize
	}

	b := &ReceiveBuffer{
		channel:      channel,
		queueName:    queueName,
		noLocal:      noLocal,
		batchingSize: batchingSize,
	}
	b.cond = sync.NewCond(&b.mu)

	return b
}

// Get implements the protocol in spec.md §4.3: dequeue if available,
// one-shot basicGet if the deadline is zero, else start or join the
// in-flight subscription and block for a delivery.
func (b *ReceiveBuffer) Get(tt *TimeTracker) (*Delivery, error) {
	b.mu.Lock()

	if d, ok := b.dequeue(); ok {
		b.mu.Unlock()

		return &d, nil
	}

	if tt.Zero() {
		b.mu.Unlock()

		d, ok, err := b.channel.basicGet(b.queueName, false)
		if err != nil {
			return nil, IOError{Cause: err}
		}

		if !ok {
			return nil, nil
		}

		return &d, nil
	}

	if err := b.ensureSubscription(); err != nil {
		b.mu.Unlock()

		return nil, err
	}

	defer b.mu.Unlock()

	for {
		if d, ok := b.dequeue(); ok {
			return &d, nil
		}

		if b.aborted {
			return nil, abortedError{}
		}

		if tt.TimedOut() {
			return nil, nil
		}

		if tt.Infinite() {
			b.cond.Wait()

			continue
		}

		b.waitWithTimeout(tt.Remaining())
	}
}

func (b *ReceiveBuffer) dequeue() (Delivery, bool) {
	if len(b.fifo) == 0 {
		return Delivery{}, false
	}

	d := b.fifo[0]
	b.fifo = b.fifo[1:]

	return d, true
}

// ensureSubscription starts a OnceOnlyConsumer if none is currently
// in-flight. Must be called with mu held.
func (b *ReceiveBuffer) ensureSubscription() error {
	if b.pending != nil {
		return nil
	}

	tag := "jms-consumer-" + uuid.NewString()

	ooc := newOnceOnlyConsumer(b, tag, b.batchingSize)

	subscribedTag, err := b.channel.basicConsume(b.queueName, tag, false, b.noLocal, false, ooc)
	if err != nil {
		return IOError{Cause: err}
	}

	ooc.tag = subscribedTag
	b.pending = ooc

	return nil
}

func (b *ReceiveBuffer) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer timer.Stop()

	b.cond.Wait()
}

// deliver is called by the OnceOnlyConsumer for every message it receives;
// it enqueues into the FIFO and signals waiters.
func (b *ReceiveBuffer) deliver(d Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fifo = append(b.fifo, d)
	b.cond.Broadcast()
}

// subscriptionDone clears the in-flight slot once the OnceOnlyConsumer has
// exhausted its budget and self-cancelled, or the broker cancelled it.
func (b *ReceiveBuffer) subscriptionDone(ooc *OnceOnlyConsumer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == ooc {
		b.pending = nil
	}
}

// Start re-arms the buffer for a fresh subscription cycle on resume. The
// buffer itself holds no subscription across Stop/Start; the next Get
// call opens one lazily.
func (b *ReceiveBuffer) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.aborted = false

	return nil
}

// Stop cancels the in-flight subscription, if any. Buffered responses
// remain and are handed out on subsequent Get calls after resume.
func (b *ReceiveBuffer) Stop() error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if pending == nil {
		return nil
	}

	return b.channel.basicCancel(pending.tag)
}

// Abort cancels the in-flight subscription, wakes all waiters with
// abortedError, and discards the FIFO. Rather than leaving the discarded
// deliveries unacknowledged and relying on broker redelivery once the
// channel eventually closes, it nacks each with requeue so redelivery
// starts immediately.
func (b *ReceiveBuffer) Abort() error {
	b.mu.Lock()
	pending := b.pending
	discarded := b.fifo
	b.pending = nil
	b.fifo = nil
	b.aborted = true
	b.cond.Broadcast()
	b.mu.Unlock()

	var errs error

	for _, d := range discarded {
		if err := b.channel.basicNack(d.DeliveryTag, true); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if pending != nil {
		if err := b.channel.basicCancel(pending.tag); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// OnceOnlyConsumer is a pre-fetching subscription callback that accepts up
// to batchingSize deliveries then auto-cancels itself, per spec.md §4.3.
type OnceOnlyConsumer struct {
	buffer *ReceiveBuffer
	tag    string
	budget int

	mu       sync.Mutex
	received int
}

func newOnceOnlyConsumer(buffer *ReceiveBuffer, tag string, budget int) *OnceOnlyConsumer {
	return &OnceOnlyConsumer{buffer: buffer, tag: tag, budget: budget}
}

func (o *OnceOnlyConsumer) onDelivery(d Delivery) {
	o.buffer.deliver(d)

	o.mu.Lock()
	o.received++
	exhausted := o.received >= o.budget
	o.mu.Unlock()

	if exhausted {
		_ = o.buffer.channel.basicCancel(o.tag)
	}
}

func (o *OnceOnlyConsumer) onCancel() {
	o.buffer.subscriptionDone(o)
}

func (o *OnceOnlyConsumer) onCancelOk() {
	o.buffer.subscriptionDone(o)
}

func (o *OnceOnlyConsumer) onShutdown(error) {
	o.buffer.subscriptionDone(o)
}
