// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package consumer

// Destination is the abstract address a Consumer reads from. IsQueue is
// true for point-to-point queues; false for topic-shaped destinations,
// where the core allocates a private per-consumer queue named after the
// owning consumer's own unique tag rather than sharing PhysicalName.
type Destination struct {
	IsQueue      bool
	PhysicalName string
}

// queueName picks the AMQP queue this consumer's subscriptions read from:
// the destination's shared physical name for a queue, or uniqueTag — the
// single source of truth for a topic subscriber's private queue, per
// spec.md §6 ("use the consumer's per-consumer unique tag").
func (d Destination) queueName(uniqueTag string) string {
	if d.IsQueue {
		return d.PhysicalName
	}

	return uniqueTag
}
