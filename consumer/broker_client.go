// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"github.com/rabbitmq/amqp091-go"
)

// Delivery is the opaque tuple the broker hands back for a single message:
// envelope (delivery tag, redelivered flag) plus body. Ownership transfers
// from the broker client to the ReceiveBuffer to the Consumer to the
// application as it is handed out.
type Delivery struct {
	DeliveryTag uint64
	Redelivered bool
	RoutingKey  string
	ContentType string
	Headers     map[string]interface{}
	Body        []byte
}

// deliveryCallback is the broker's push surface: onDelivery for each
// message, onCancel/onCancelOk when a subscription ends, onShutdown if the
// underlying channel dies mid-subscription.
type deliveryCallback interface {
	onDelivery(Delivery)
	onCancel()
	onCancelOk()
	onShutdown(error)
}

// brokerChannel is the out-of-scope wire-level collaborator spec.md names:
// basicGet/basicConsume/basicAck/basicCancel/basicNack. The consumer core
// depends on this narrow capability set, not on *amqp091.Channel directly,
// so the buffer and listener paths can be exercised without a live broker
// in tests.
type brokerChannel interface {
	basicGet(queue string, autoAck bool) (Delivery, bool, error)
	basicConsume(queue, tag string, autoAck, noLocal, exclusive bool, cb deliveryCallback) (string, error)
	basicAck(deliveryTag uint64) error
	basicNack(deliveryTag uint64, requeue bool) error
	basicCancel(tag string) error
}

// amqpChannel adapts *amqp091.Channel to brokerChannel. This file and
// bridge.go are the only files in this package that import amqp091.
type amqpChannel struct {
	ch *amqp091.Channel
}

// NewAMQPChannel wraps a live AMQP091 channel for use as a Consumer's
// brokerChannel. Exported so callers holding a *amqp091.Connection, such as
// NewConsumerFromConnection in bridge.go, can hand NewConsumer a freshly
// opened channel without this package's tests depending on a live broker.
func NewAMQPChannel(ch *amqp091.Channel) *amqpChannel {
	return &amqpChannel{ch: ch}
}

func (a *amqpChannel) basicGet(queue string, autoAck bool) (Delivery, bool, error) {
	msg, ok, err := a.ch.Get(queue, autoAck)
	if err != nil {
		return Delivery{}, false, err
	}

	if !ok {
		return Delivery{}, false, nil
	}

	return deliveryFromAMQP(msg), true, nil
}

func (a *amqpChannel) basicConsume(queue, tag string, autoAck, noLocal, exclusive bool, cb deliveryCallback) (string, error) {
	deliveries, err := a.ch.Consume(queue, tag, autoAck, exclusive, noLocal, false, nil)
	if err != nil {
		return "", err
	}

	closed := a.ch.NotifyClose(make(chan *amqp091.Error, 1))

	go func() {
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					cb.onCancelOk()

					return
				}

				cb.onDelivery(deliveryFromAMQP(d))
			case reason, ok := <-closed:
				if !ok {
					return
				}

				cb.onShutdown(reason)

				return
			}
		}
	}()

	return tag, nil
}

func (a *amqpChannel) basicAck(deliveryTag uint64) error {
	return a.ch.Ack(deliveryTag, false)
}

func (a *amqpChannel) basicNack(deliveryTag uint64, requeue bool) error {
	return a.ch.Nack(deliveryTag, false, requeue)
}

func (a *amqpChannel) basicCancel(tag string) error {
	return a.ch.Cancel(tag, false)
}

func deliveryFromAMQP(d amqp091.Delivery) Delivery {
	return Delivery{
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		RoutingKey:  d.RoutingKey,
		ContentType: d.ContentType,
		Headers:     d.Headers,
		Body:        d.Body,
	}
}
