// Package saga wires the fulfillment choreography. There is no central
// coordinator: each component reacts to events and publishes its own, and
// this package only declares who listens where.
package saga

import (
	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/inventory"
	"github.com/weirdTDD/orderflow/internal/orders"
	"github.com/weirdTDD/orderflow/internal/payments"
)

// Components are the three reacting parties of the flow. Any of them may be
// nil when a binary hosts only a subset.
type Components struct {
	Orders    *orders.Service
	Inventory *inventory.Service
	Payments  *payments.Processor
}

// Subscriptions flattens the components' declared subscriptions into the
// full routing table of the saga.
func Subscriptions(c Components) []bus.Subscription {
	var subs []bus.Subscription
	if c.Orders != nil {
		subs = append(subs, c.Orders.Subscriptions()...)
	}
	if c.Inventory != nil {
		subs = append(subs, c.Inventory.Subscriptions()...)
	}
	if c.Payments != nil {
		subs = append(subs, c.Payments.Subscriptions()...)
	}
	return subs
}

// Wire attaches every component to b.
func Wire(b bus.Bus, c Components) error {
	return bus.Attach(b, Subscriptions(c)...)
}
