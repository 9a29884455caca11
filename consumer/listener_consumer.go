// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ackPolicy decides whether the core acks right after successful
// delivery (auto/dups-ok) or defers to the application/session.
type ackPolicy int

const (
	ackAuto      ackPolicy = iota // AUTO or DUPS_OK: core acks after delivery.
	ackClient                     // CLIENT: application acks via Message.Acknowledge.
	ackTransacted                 // TRANSACTED: session commit handles it.
)

// ListenerConsumer is a broker subscription bound to one application
// listener, per spec.md §4.4. At most one invocation runs at a time; it is
// governed only by Stop/Abort, never by the ReceiveGate.
type ListenerConsumer struct {
	channel     brokerChannel
	queueName   string
	noLocal     bool
	listener    MessageListener
	ackMode     ackPolicy
	termination time.Duration
	logger      LoggerFunc
	onMessage   func(*Message, error) // session-facing unacked-message hook

	mu       sync.Mutex
	tag      string
	running  bool
	closing  func() bool
	inFlight sync.WaitGroup
}

// newListenerConsumer constructs a consumer that is not yet subscribed;
// call Start to subscribe.
func newListenerConsumer(
	channel brokerChannel,
	queueName string,
	noLocal bool,
	listener MessageListener,
	ackMode ackPolicy,
	termination time.Duration,
	logger LoggerFunc,
	closing func() bool,
	onUnacked func(*Message, error),
) *ListenerConsumer {
	if logger == nil {
		logger = defaultLogger()
	}

	return &ListenerConsumer{
		channel:     channel,
		queueName:   queueName,
		noLocal:     noLocal,
		listener:    listener,
		ackMode:     ackMode,
		termination: termination,
		logger:      logger,
		closing:     closing,
		onMessage:   onUnacked,
	}
}

// Start subscribes to the broker. Implements Abortable.
func (lc *ListenerConsumer) Start() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.running {
		return nil
	}

	tag := "jms-consumer-" + uuid.NewString()

	subscribedTag, err := lc.channel.basicConsume(lc.queueName, tag, false, lc.noLocal, false, lc)
	if err != nil {
		return IOError{Cause: err}
	}

	lc.tag = subscribedTag
	lc.running = true

	return nil
}

// Stop waits up to the termination timeout for an in-flight listener
// invocation to return, then cancels the subscription. Implements
// Abortable as the "orderly" half of spec.md §4.4.
func (lc *ListenerConsumer) Stop() error {
	lc.mu.Lock()

	if !lc.running {
		lc.mu.Unlock()

		return nil
	}

	tag := lc.tag
	lc.running = false
	lc.mu.Unlock()

	waited := make(chan struct{})

	go func() {
		lc.inFlight.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(lc.termination):
	}

	return lc.channel.basicCancel(tag)
}

// Abort immediately cancels the subscription, without waiting for an
// in-flight invocation. Implements the "forced" half of spec.md §4.4.
// It does not wake a Stop that is already waiting on an in-flight
// invocation: once Stop has begun, Abort finds the consumer not running
// and returns without doing anything.
func (lc *ListenerConsumer) Abort() error {
	lc.mu.Lock()

	if !lc.running {
		lc.mu.Unlock()

		return nil
	}

	tag := lc.tag
	lc.running = false
	lc.mu.Unlock()

	return lc.channel.basicCancel(tag)
}

func (lc *ListenerConsumer) onDelivery(d Delivery) {
	lc.inFlight.Add(1)
	defer lc.inFlight.Done()

	if lc.closing() {
		if err := lc.channel.basicNack(d.DeliveryTag, true); err != nil {
			lc.logger(fmt.Errorf("nack on closing consumer: %w", err))
		}

		return
	}

	msg, err := decodeMessage(d, lc.channel)
	if err != nil {
		lc.logger(DecodeError{Cause: err})

		if nerr := lc.channel.basicNack(d.DeliveryTag, true); nerr != nil {
			lc.logger(fmt.Errorf("nack on decode failure: %w", nerr))
		}

		return
	}

	if !lc.invokeListener(msg) {
		if err := lc.channel.basicNack(d.DeliveryTag, true); err != nil {
			lc.logger(fmt.Errorf("nack after listener panic: %w", err))
		}

		return
	}

	switch lc.ackMode {
	case ackAuto:
		if err := lc.channel.basicAck(d.DeliveryTag); err != nil {
			lc.logger(fmt.Errorf("ack after delivery: %w", err))
		}
	case ackClient, ackTransacted:
		if lc.onMessage != nil {
			lc.onMessage(msg, nil)
		}
	}
}

// invokeListener runs the listener and recovers from a panic, translating
// it into a nack-and-redeliver per spec.md §4.4 point 5 ("if the listener
// raises an exception, the message is nacked").
func (lc *ListenerConsumer) invokeListener(msg *Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			lc.logger(fmt.Errorf("listener panic: %v", r))

			ok = false
		}
	}()

	lc.listener.OnMessage(msg)

	return true
}

func (lc *ListenerConsumer) onCancel() {
	lc.mu.Lock()
	lc.running = false
	lc.mu.Unlock()
}

func (lc *ListenerConsumer) onCancelOk() {
	lc.mu.Lock()
	lc.running = false
	lc.mu.Unlock()
}

func (lc *ListenerConsumer) onShutdown(err error) {
	lc.logger(fmt.Errorf("listener consumer channel shutdown: %w", err))

	lc.mu.Lock()
	lc.running = false
	lc.mu.Unlock()
}
