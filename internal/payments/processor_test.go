package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/logging"
	"github.com/weirdTDD/orderflow/internal/redisx"
)

type capturePub struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (p *capturePub) Publish(_ context.Context, m bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *capturePub) outcomes(t *testing.T) []events.PaymentProcessed {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.PaymentProcessed
	for _, m := range p.msgs {
		require.Equal(t, events.TopicPaymentProcessed, m.Topic)
		env, err := events.DecodeEnvelope(m.Value)
		require.NoError(t, err)
		pp, err := events.DecodePaymentProcessed(env)
		require.NoError(t, err)
		out = append(out, pp)
	}
	return out
}

// scriptGateway plays back charge outcomes in order; nil means success.
type scriptGateway struct {
	mu    sync.Mutex
	script []error
	calls  int
	delay  time.Duration
}

func (g *scriptGateway) Charge(ctx context.Context, _ string, _ int64) (string, error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	var err error
	if idx < len(g.script) {
		err = g.script[idx]
	}
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if err != nil {
		return "", err
	}
	return "txn-test", nil
}

func (g *scriptGateway) charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestProcessor(t *testing.T, gw Gateway) (*Processor, *MemoryStore, *capturePub) {
	t.Helper()
	store := NewMemoryStore()
	pub := &capturePub{}
	proc := NewProcessor(store, gw, pub, redisx.NewMemoryDeduper(), logging.Discard(), "payments-test", time.Second)
	return proc, store, pub
}

func orderCreatedMsg(orderID string, totalCents int64, eventID string) bus.Message {
	env := events.New(events.TypeOrderCreated, "orders-test", orderID, events.OrderCreated{
		OrderID: orderID,
		UserID:  "u-1",
		Items: []events.LineItem{
			{ProductID: "p-1", Quantity: 2, PriceCents: totalCents / 2},
		},
		TotalCents: totalCents,
		Timestamp:  time.Now().UTC(),
	})
	if eventID != "" {
		env.EventID = eventID
	}
	return events.ToMessage(events.TopicOrderCreated, env)
}

func TestSuccessfulChargeIsAnnouncedAndStored(t *testing.T) {
	gw := &scriptGateway{}
	proc, store, pub := newTestProcessor(t, gw)
	ctx := context.Background()

	require.NoError(t, proc.HandleOrderCreated(ctx, orderCreatedMsg("o-1", 9000, "")))

	outs := pub.outcomes(t)
	require.Len(t, outs, 1)
	assert.Equal(t, "o-1", outs[0].OrderID)
	assert.Equal(t, events.PaymentSuccess, outs[0].Status)
	assert.Equal(t, int64(9000), outs[0].AmountCents)
	assert.NotEmpty(t, outs[0].PaymentID)
	require.NotNil(t, outs[0].TransactionID)
	assert.Equal(t, "txn-test", *outs[0].TransactionID)

	ps, err := store.ByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, StatusSuccess, ps[0].Status)
	assert.Equal(t, "u-1", ps[0].UserID)
}

func TestDeclinedChargeIsAnOutcomeNotAnError(t *testing.T) {
	gw := &scriptGateway{script: []error{ErrDeclined}}
	proc, store, pub := newTestProcessor(t, gw)
	ctx := context.Background()

	require.NoError(t, proc.HandleOrderCreated(ctx, orderCreatedMsg("o-1", 9000, "")))

	outs := pub.outcomes(t)
	require.Len(t, outs, 1)
	assert.Equal(t, events.PaymentFailed, outs[0].Status)
	assert.Nil(t, outs[0].TransactionID)

	ps, err := store.ByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, StatusFailed, ps[0].Status)
	assert.Empty(t, ps[0].TransactionID)
}

func TestSlowGatewayCountsAsFailed(t *testing.T) {
	gw := &scriptGateway{delay: 200 * time.Millisecond}
	store := NewMemoryStore()
	pub := &capturePub{}
	proc := NewProcessor(store, gw, pub, redisx.NewMemoryDeduper(), logging.Discard(), "payments-test", 10*time.Millisecond)

	require.NoError(t, proc.HandleOrderCreated(context.Background(), orderCreatedMsg("o-1", 9000, "")))

	outs := pub.outcomes(t)
	require.Len(t, outs, 1)
	assert.Equal(t, events.PaymentFailed, outs[0].Status)
}

func TestDuplicateEventChargesOnce(t *testing.T) {
	gw := &scriptGateway{}
	proc, store, pub := newTestProcessor(t, gw)
	ctx := context.Background()

	msg := orderCreatedMsg("o-1", 9000, "evt-1")
	require.NoError(t, proc.HandleOrderCreated(ctx, msg))
	require.NoError(t, proc.HandleOrderCreated(ctx, msg))

	assert.Equal(t, 1, gw.charges())
	assert.Len(t, pub.outcomes(t), 1)
	ps, err := store.ByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestPaidOrderIsNeverChargedTwice(t *testing.T) {
	gw := &scriptGateway{}
	proc, store, pub := newTestProcessor(t, gw)
	ctx := context.Background()

	// Same order, distinct event ids: the dedup misses but the paid-order
	// check must still stop the second charge.
	require.NoError(t, proc.HandleOrderCreated(ctx, orderCreatedMsg("o-1", 9000, "evt-1")))
	require.NoError(t, proc.HandleOrderCreated(ctx, orderCreatedMsg("o-1", 9000, "evt-2")))

	assert.Equal(t, 1, gw.charges())

	outs := pub.outcomes(t)
	require.Len(t, outs, 2)
	assert.Equal(t, outs[0].PaymentID, outs[1].PaymentID)
	assert.Equal(t, events.PaymentSuccess, outs[1].Status)

	ps, err := store.ByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestFailedOrderMayBeRetriedWithFreshPayment(t *testing.T) {
	gw := &scriptGateway{script: []error{ErrDeclined, nil}}
	proc, store, pub := newTestProcessor(t, gw)
	ctx := context.Background()

	require.NoError(t, proc.HandleOrderCreated(ctx, orderCreatedMsg("o-1", 9000, "evt-1")))
	require.NoError(t, proc.HandleOrderCreated(ctx, orderCreatedMsg("o-1", 9000, "evt-2")))

	assert.Equal(t, 2, gw.charges())

	outs := pub.outcomes(t)
	require.Len(t, outs, 2)
	assert.Equal(t, events.PaymentFailed, outs[0].Status)
	assert.Equal(t, events.PaymentSuccess, outs[1].Status)
	assert.NotEqual(t, outs[0].PaymentID, outs[1].PaymentID)

	ps, err := store.ByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestGarbageMessageIsPermanent(t *testing.T) {
	proc, _, _ := newTestProcessor(t, &scriptGateway{})
	err := proc.HandleOrderCreated(context.Background(), bus.Message{Value: []byte("{")})
	require.Error(t, err)
	assert.True(t, bus.IsPermanent(err))
}

func TestByOrderUnknown(t *testing.T) {
	proc, _, _ := newTestProcessor(t, &scriptGateway{})
	_, err := proc.ByOrder(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSimulatedGatewayExtremes(t *testing.T) {
	ctx := context.Background()

	always := NewSimulatedGateway(1.0, 0)
	_, err := always.Charge(ctx, "o-1", 100)
	require.ErrorIs(t, err, ErrDeclined)

	never := NewSimulatedGateway(0, 0)
	txn, err := never.Charge(ctx, "o-1", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, txn)
}
