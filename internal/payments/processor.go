package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/redisx"
)

const consumerName = "payments"

// Processor charges each created order once and announces the outcome on
// payment.processed. A declined or timed-out charge is an outcome, not an
// error: the event says failed and the message is acked.
type Processor struct {
	store   Store
	gateway Gateway
	pub     bus.Publisher
	dedup   redisx.Deduper
	log     *logrus.Entry
	name    string
	timeout time.Duration
}

func NewProcessor(store Store, gateway Gateway, pub bus.Publisher, dedup redisx.Deduper, log *logrus.Entry, producer string, timeout time.Duration) *Processor {
	return &Processor{store: store, gateway: gateway, pub: pub, dedup: dedup, log: log, name: producer, timeout: timeout}
}

// Subscriptions declares which topics this component reacts to.
func (p *Processor) Subscriptions() []bus.Subscription {
	return []bus.Subscription{
		{Topic: events.TopicOrderCreated, Group: events.GroupPayments, Handler: p.HandleOrderCreated},
	}
}

func (p *Processor) ByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return p.store.ByOrder(ctx, orderID)
}

func (p *Processor) HandleOrderCreated(ctx context.Context, m bus.Message) error {
	env, err := events.DecodeEnvelope(m.Value)
	if err != nil {
		return bus.Permanent(err)
	}
	oc, err := events.DecodeOrderCreated(env)
	if err != nil {
		return bus.Permanent(err)
	}

	seen, err := p.dedup.Seen(ctx, consumerName, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	log := p.log.WithFields(logrus.Fields{"order_id": oc.OrderID, "event_id": env.EventID})

	// A successful charge must never repeat, even when the order arrives
	// again under a fresh event id. Re-announce the known outcome instead.
	if prev, ok, err := p.store.Successful(ctx, oc.OrderID); err != nil {
		return err
	} else if ok {
		log.WithField("payment_id", prev.ID).Info("order already paid, re-announcing")
		if err := p.announce(ctx, env, prev); err != nil {
			return err
		}
		return p.mark(ctx, env.EventID, log)
	}

	payment := Payment{
		ID:          uuid.NewString(),
		OrderID:     oc.OrderID,
		UserID:      oc.UserID,
		AmountCents: oc.TotalCents,
		CreatedAt:   time.Now().UTC(),
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	txn, chargeErr := p.gateway.Charge(cctx, oc.OrderID, oc.TotalCents)
	cancel()
	if chargeErr != nil {
		payment.Status = StatusFailed
		log.WithError(chargeErr).Info("charge failed")
	} else {
		payment.Status = StatusSuccess
		payment.TransactionID = txn
		log.WithField("payment_id", payment.ID).Info("charge succeeded")
	}

	if err := p.store.Create(ctx, payment); err != nil {
		return err
	}
	if err := p.announce(ctx, env, payment); err != nil {
		return err
	}
	return p.mark(ctx, env.EventID, log)
}

func (p *Processor) announce(ctx context.Context, cause events.Envelope, pay Payment) error {
	var txn *string
	if pay.TransactionID != "" {
		txn = &pay.TransactionID
	}
	status := events.PaymentSuccess
	if pay.Status == StatusFailed {
		status = events.PaymentFailed
	}
	env := events.NewFrom(cause, events.TypePaymentProcessed, p.name, events.PaymentProcessed{
		OrderID:       pay.OrderID,
		PaymentID:     pay.ID,
		Status:        status,
		AmountCents:   pay.AmountCents,
		TransactionID: txn,
		Timestamp:     time.Now().UTC(),
	})
	return p.pub.Publish(ctx, events.ToMessage(events.TopicPaymentProcessed, env))
}

func (p *Processor) mark(ctx context.Context, eventID string, log *logrus.Entry) error {
	if err := p.dedup.Mark(ctx, consumerName, eventID); err != nil {
		// Redelivery is absorbed by the paid-order check.
		log.WithError(err).Warn("dedup mark failed")
	}
	return nil
}
