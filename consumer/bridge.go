// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// NewConsumerFromConnection opens a fresh channel on conn and constructs a
// Consumer bound to destination over it. This is the seam between a live
// AMQP091 connection and the JMS-style receive/listener core in this
// package; the wire-level broker client spec.md §1 names as an external
// collaborator is amqp091-go itself, not a separate transport package.
func NewConsumerFromConnection(conn *amqp091.Connection, session *Session, destination Destination, uniqueTag string, initiallyPaused bool, opts ...Option) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}

	return NewConsumer(session, NewAMQPChannel(ch), destination, uniqueTag, initiallyPaused, opts...), nil
}
