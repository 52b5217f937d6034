package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/redisx"
)

const consumerName = "orders"

var (
	ErrNoItems = errors.New("orders: order has no items")
	ErrBadItem = errors.New("orders: item quantity must be positive")
)

// Cache holds serialized order snapshots for the read path. The Redis
// implementation lives in redisx; NopCache serves wiring without Redis.
type Cache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool)
	Set(ctx context.Context, orderID string, raw []byte) error
	Invalidate(ctx context.Context, orderID string) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NopCache) Set(context.Context, string, []byte) error  { return nil }
func (NopCache) Invalidate(context.Context, string) error   { return nil }

var _ Cache = (*redisx.OrderCache)(nil)

// Service owns the order lifecycle. The checkout path calls Create and
// AnnounceCreated; after that the order only moves when payment or
// inventory events arrive.
type Service struct {
	store Store
	cache Cache
	pub   bus.Publisher
	dedup redisx.Deduper
	log   *logrus.Entry
	name  string
}

func NewService(store Store, cache Cache, pub bus.Publisher, dedup redisx.Deduper, log *logrus.Entry, producer string) *Service {
	return &Service{store: store, cache: cache, pub: pub, dedup: dedup, log: log, name: producer}
}

// Subscriptions declares which topics this component reacts to.
func (s *Service) Subscriptions() []bus.Subscription {
	return []bus.Subscription{
		{Topic: events.TopicPaymentProcessed, Group: events.GroupOrders, Handler: s.HandlePaymentProcessed},
		{Topic: events.TopicInventoryUpdated, Group: events.GroupOrders, Handler: s.HandleInventoryUpdated},
	}
}

// Create persists a new pending order. Items are snapshotted as given and
// the total is computed here, once; later catalog price changes never
// touch an existing order.
func (s *Service) Create(ctx context.Context, userID string, items []Item) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrNoItems
	}
	var total int64
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, errors.Wrapf(ErrBadItem, "product %s", it.ProductID)
		}
		total += it.PriceCents * int64(it.Quantity)
	}

	now := time.Now().UTC()
	o := Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Items:      append([]Item(nil), items...),
		TotalCents: total,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return Order{}, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "user_id": userID, "total_cents": total}).Info("order created")
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if raw, ok := s.cache.Get(ctx, id); ok {
		var o Order
		if err := json.Unmarshal(raw, &o); err == nil {
			return o, nil
		}
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if raw, err := json.Marshal(o); err == nil {
		_ = s.cache.Set(ctx, id, raw)
	}
	return o, nil
}

// AnnounceCreated publishes order.created. The checkout flow calls it only
// after stock was reserved, so consumers never see an order without holds
// behind it.
func (s *Service) AnnounceCreated(ctx context.Context, o Order) error {
	lines := make([]events.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, events.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, PriceCents: it.PriceCents})
	}
	env := events.New(events.TypeOrderCreated, s.name, o.ID, events.OrderCreated{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Items:      lines,
		TotalCents: o.TotalCents,
		Timestamp:  o.CreatedAt,
	})
	return s.pub.Publish(ctx, events.ToMessage(events.TopicOrderCreated, env))
}

// HandlePaymentProcessed settles the order on its payment outcome.
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

	to, paymentID := StatusConfirmed, p.PaymentID
	if p.Status == events.PaymentFailed {
		to, paymentID = StatusFailed, ""
	}
	if err := s.settle(ctx, p.OrderID, to, paymentID); err != nil {
		return err
	}
	if err := s.dedup.Mark(ctx, consumerName, env.EventID); err != nil {
		s.log.WithError(err).Warn("dedup mark failed")
	}
	return nil
}

// HandleInventoryUpdated reacts to stock outcomes: a shortfall or an
// expiry release cancels the order. Reserved and payment-failure releases
// carry no new order state.
func (s *Service) HandleInventoryUpdated(ctx context.Context, m bus.Message) error {
	env, err := events.DecodeEnvelope(m.Value)
	if err != nil {
		return bus.Permanent(err)
	}
	p, err := events.DecodeInventoryUpdated(env)
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

	switch {
	case p.Status == events.StockInsufficient:
		err = s.settle(ctx, p.OrderID, StatusCancelled, "")
	case p.Status == events.StockReleased && p.Reason == events.ReasonExpired:
		err = s.settle(ctx, p.OrderID, StatusCancelled, "")
	}
	if err != nil {
		return err
	}
	if err := s.dedup.Mark(ctx, consumerName, env.EventID); err != nil {
		s.log.WithError(err).Warn("dedup mark failed")
	}
	return nil
}

// settle applies a terminal status. A missing order is retryable: checkout
// and event consumption race, so the row may not be visible yet. A lost
// race against another terminal status stays a no-op; first writer wins.
func (s *Service) settle(ctx context.Context, orderID string, to Status, paymentID string) error {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return errors.Wrapf(err, "settle %s", orderID)
	}
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		s.log.WithFields(logrus.Fields{"order_id": orderID, "from": o.Status, "to": to}).Warn("transition not allowed, keeping current status")
		return nil
	}
	applied, err := s.store.Transition(ctx, orderID, o.Status, to, paymentID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		s.log.WithError(err).Warn("cache invalidate failed")
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "status": to}).Info("order settled")
	return nil
}
