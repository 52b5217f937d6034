package events

import (
	"strconv"

	"github.com/weirdTDD/orderflow/internal/bus"
)

// Topic names. Each topic is durable: the broker keeps a message until the
// consuming group acknowledges it.
const (
	TopicOrderCreated     = "order.created"
	TopicPaymentProcessed = "payment.processed"
	TopicInventoryUpdated = "inventory.updated"
)

// Consumer group names, one per reacting component.
const (
	GroupOrders    = "orders-svc"
	GroupInventory = "inventory-svc"
	GroupPayments  = "payments-svc"
)

// Transport headers mirrored from the envelope, for filtering without
// decoding the payload.
const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// PartitionKey keeps every event of one order on the same partition, so the
// per-order sequence within a topic is preserved.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// ToMessage frames env for publishing, keyed by the correlation id so all
// events of one order stay ordered relative to each other.
func ToMessage(topic string, env Envelope) bus.Message {
	return bus.Message{
		Topic: topic,
		Key:   PartitionKey(env.CorrelationID),
		Value: MustMarshal(env),
		Headers: map[string]string{
			HeaderEventType:    env.EventType,
			HeaderEventVersion: strconv.Itoa(env.EventVersion),
		},
	}
}
