// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

import "sync/atomic"

// Message is handed to the application by synchronous receive or a
// listener callback. It wraps a decoded Delivery plus whatever is needed
// to acknowledge it exactly once on the client-ack path.
type Message struct {
	delivery Delivery
	channel  brokerChannel
	acked    atomic.Bool
}

func newMessage(d Delivery, ch brokerChannel) *Message {
	return &Message{delivery: d, channel: ch}
}

// Body returns the raw payload bytes.
func (m *Message) Body() []byte {
	return m.delivery.Body
}

// Headers returns message metadata headers.
func (m *Message) Headers() map[string]interface{} {
	return m.delivery.Headers
}

// ContentType returns the MIME type of the payload.
func (m *Message) ContentType() string {
	return m.delivery.ContentType
}

// RoutingKey returns the routing key the message was published with.
func (m *Message) RoutingKey() string {
	return m.delivery.RoutingKey
}

// Redelivered reports whether the broker marked this delivery as a
// redelivery of a message seen before.
func (m *Message) Redelivered() bool {
	return m.delivery.Redelivered
}

// Acknowledge acknowledges the message exactly once. Used on the
// client-ack path, where the application (not the consumer core) decides
// when delivery succeeded.
func (m *Message) Acknowledge() error {
	if !m.acked.CompareAndSwap(false, true) {
		return nil
	}

	return m.channel.basicAck(m.delivery.DeliveryTag)
}

// decodeMessage is the message (de)serialization collaborator, out of
// scope per spec.md §1(b). Bodies pass through unchanged; a real deployment
// would plug a codec in here.
func decodeMessage(d Delivery, ch brokerChannel) (*Message, error) {
	return newMessage(d, ch), nil
}
