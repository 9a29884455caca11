// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import "sync"

// fakeChannel is an in-memory brokerChannel stand-in for exercising the
// receive/listener state machines without a live broker, mirroring the
// role *amqpChannel plays against a real AMQP091 connection.
type fakeChannel struct {
	mu sync.Mutex

	queued []Delivery
	subs   map[string]deliveryCallback

	acked     []uint64
	nacked    []uint64
	requeued  []bool
	cancelled []string

	getQueues     []string
	consumeQueues []string

	nextTag uint64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[string]deliveryCallback)}
}

func (f *fakeChannel) basicGet(queue string, _ bool) (Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getQueues = append(f.getQueues, queue)

	if len(f.queued) == 0 {
		return Delivery{}, false, nil
	}

	d := f.queued[0]
	f.queued = f.queued[1:]

	return d, true, nil
}

func (f *fakeChannel) basicConsume(queue string, tag string, _, _, _ bool, cb deliveryCallback) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.consumeQueues = append(f.consumeQueues, queue)
	f.subs[tag] = cb

	return tag, nil
}

func (f *fakeChannel) basicAck(deliveryTag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acked = append(f.acked, deliveryTag)

	return nil
}

func (f *fakeChannel) basicNack(deliveryTag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nacked = append(f.nacked, deliveryTag)
	f.requeued = append(f.requeued, requeue)

	return nil
}

func (f *fakeChannel) basicCancel(tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, tag)
	delete(f.subs, tag)

	return nil
}

// publish delivers body to exactly one active subscriber (broker
// round-robin stand-in); if none is subscribed, it queues for basicGet.
func (f *fakeChannel) publish(body string) Delivery {
	f.mu.Lock()
	f.nextTag++
	d := Delivery{DeliveryTag: f.nextTag, Body: []byte(body)}

	var cb deliveryCallback
	for _, sub := range f.subs {
		cb = sub

		break
	}
	f.mu.Unlock()

	if cb == nil {
		f.mu.Lock()
		f.queued = append(f.queued, d)
		f.mu.Unlock()

		return d
	}

	cb.onDelivery(d)

	return d
}

func (f *fakeChannel) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs)
}
