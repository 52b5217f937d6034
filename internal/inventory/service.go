package inventory

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/redisx"
)

const consumerName = "inventory"

// Service is the inventory component of the fulfillment flow. The checkout
// path calls ReserveForOrder directly; everything after that is driven by
// payment.processed events and the expiry sweep. Stock changes are announced
// on inventory.updated.
type Service struct {
	ledger Ledger
	pub    bus.Publisher
	dedup  redisx.Deduper
	log    *logrus.Entry
	name   string
	ttl    time.Duration
}

func NewService(ledger Ledger, pub bus.Publisher, dedup redisx.Deduper, log *logrus.Entry, producer string, ttl time.Duration) *Service {
	return &Service{ledger: ledger, pub: pub, dedup: dedup, log: log, name: producer, ttl: ttl}
}

// Subscriptions declares which topics this component reacts to.
func (s *Service) Subscriptions() []bus.Subscription {
	return []bus.Subscription{
		{Topic: events.TopicPaymentProcessed, Group: events.GroupInventory, Handler: s.HandlePaymentProcessed},
	}
}

// Catalog operations, used by the HTTP surface.

func (s *Service) AddProduct(ctx context.Context, item Item) error {
	if err := s.ledger.AddItem(ctx, item); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"product_id": item.ProductID, "quantity": item.Quantity}).Info("product added")
	return nil
}

func (s *Service) Product(ctx context.Context, productID string) (Item, error) {
	return s.ledger.Item(ctx, productID)
}

func (s *Service) Products(ctx context.Context) ([]Item, error) {
	return s.ledger.Items(ctx)
}

// ReserveForOrder holds stock for a new order and announces the outcome on
// inventory.updated. On a shortfall nothing is held, the insufficient event
// is published, and the InsufficientStockError is returned for the caller
// to render.
func (s *Service) ReserveForOrder(ctx context.Context, orderID string, demands []Demand) error {
	_, err := s.ledger.Reserve(ctx, orderID, demands, s.ttl)

	var short *InsufficientStockError
	if errors.As(err, &short) {
		items := make([]events.ShortfallItem, 0, len(short.Shortfalls))
		for _, f := range short.Shortfalls {
			items = append(items, events.ShortfallItem{ProductID: f.ProductID, Requested: f.Requested, Available: f.Available})
		}
		if perr := s.publishUpdate(ctx, orderID, events.StockInsufficient, "", items); perr != nil {
			return perr
		}
		s.log.WithFields(logrus.Fields{"order_id": orderID, "shortfalls": len(items)}).Info("reservation rejected")
		return err
	}
	if err != nil {
		return err
	}

	if perr := s.publishUpdate(ctx, orderID, events.StockReserved, "", nil); perr != nil {
		return perr
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "lines": len(demands)}).Info("stock reserved")
	return nil
}

// HandlePaymentProcessed settles the order's holds: a successful payment
// deducts them from stock, a failed one returns them to the pool.
func (s *Service) HandlePaymentProcessed(ctx context.Context, m bus.Message) error {
	env, err := events.DecodeEnvelope(m.Value)
	if err != nil {
		return bus.Permanent(err)
	}
	p, err := events.DecodePaymentProcessed(env)
	if err != nil {
		return bus.Permanent(err)
	}

	seen, err := s.dedup.Seen(ctx, consumerName, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	log := s.log.WithFields(logrus.Fields{"order_id": p.OrderID, "event_id": env.EventID})
	switch p.Status {
	case events.PaymentSuccess:
		n, err := s.ledger.Confirm(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if n == 0 {
			// Holds already settled, usually by the expiry sweep racing
			// the payment.
			log.Warn("payment succeeded but no active holds to confirm")
		} else {
			log.WithField("holds", n).Info("stock confirmed")
		}
	case events.PaymentFailed:
		n, err := s.ledger.Release(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if n > 0 {
			rel := events.NewFrom(env, events.TypeInventoryUpdated, s.name, events.InventoryUpdated{
				OrderID:   p.OrderID,
				Status:    events.StockReleased,
				Reason:    events.ReasonPaymentFailed,
				Timestamp: time.Now().UTC(),
			})
			if err := s.pub.Publish(ctx, events.ToMessage(events.TopicInventoryUpdated, rel)); err != nil {
				return err
			}
			log.WithField("holds", n).Info("stock released after failed payment")
		}
	}

	if err := s.dedup.Mark(ctx, consumerName, env.EventID); err != nil {
		// Redelivery lands on idempotent settles; losing the mark is safe.
		log.WithError(err).Warn("dedup mark failed")
	}
	return nil
}

// SweepExpired releases every overdue hold and publishes one release event
// per affected order, so the order side can cancel.
func (s *Service) SweepExpired(ctx context.Context) error {
	released, err := s.ledger.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, orderID := range released {
		if err := s.publishUpdate(ctx, orderID, events.StockReleased, events.ReasonExpired, nil); err != nil {
			return errors.Wrapf(err, "announce expiry of order %s", orderID)
		}
		s.log.WithField("order_id", orderID).Info("expired reservation released")
	}
	return nil
}

func (s *Service) publishUpdate(ctx context.Context, orderID string, status events.StockStatus, reason string, items []events.ShortfallItem) error {
	env := events.New(events.TypeInventoryUpdated, s.name, orderID, events.InventoryUpdated{
		OrderID:   orderID,
		Status:    status,
		Reason:    reason,
		Items:     items,
		Timestamp: time.Now().UTC(),
	})
	return s.pub.Publish(ctx, events.ToMessage(events.TopicInventoryUpdated, env))
}
