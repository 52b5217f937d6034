package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirdTDD/orderflow/internal/logging"
)

func newTestBus(t *testing.T) *Memory {
	t.Helper()
	b := NewMemory(logging.Discard(), 5*time.Millisecond)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) handle(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, string(m.Value))
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func TestMemoryDeliversToEveryGroup(t *testing.T) {
	b := newTestBus(t)
	first, second := &recorder{}, &recorder{}
	require.NoError(t, b.Subscribe("order.created", "inventory-svc", first.handle))
	require.NoError(t, b.Subscribe("order.created", "payments-svc", second.handle))

	require.NoError(t, b.Publish(context.Background(), Message{Topic: "order.created", Value: []byte("o-1")}))

	require.Eventually(t, func() bool {
		return len(first.got()) == 1 && len(second.got()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"o-1"}, first.got())
	assert.Equal(t, []string{"o-1"}, second.got())
}

func TestMemoryRedeliversUntilHandlerSucceeds(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, b.Subscribe("payment.processed", "orders-svc", func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), Message{Topic: "payment.processed", Value: []byte("p-1")}))

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return attempts
	}
	require.Eventually(t, func() bool { return count() == 3 }, time.Second, 5*time.Millisecond)
	// Acked on the third attempt; no further redelivery.
	require.Never(t, func() bool { return count() > 3 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestMemoryKeepsPerGroupOrder(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	failedOnce := make(map[string]bool)
	var delivered []string
	require.NoError(t, b.Subscribe("inventory.updated", "orders-svc", func(_ context.Context, m Message) error {
		mu.Lock()
		defer mu.Unlock()
		v := string(m.Value)
		if !failedOnce[v] {
			failedOnce[v] = true
			return errors.New("transient")
		}
		delivered = append(delivered, v)
		return nil
	}))

	want := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		v := fmt.Sprintf("m-%d", i)
		want = append(want, v)
		require.NoError(t, b.Publish(context.Background(), Message{Topic: "inventory.updated", Value: []byte(v)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == len(want)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// A failed message is retried in place, never reordered behind its
	// successors.
	assert.Equal(t, want, delivered)
}

func TestMemoryDropsPoisonMessage(t *testing.T) {
	b := newTestBus(t)

	rec := &recorder{}
	require.NoError(t, b.Subscribe("order.created", "payments-svc", func(ctx context.Context, m Message) error {
		if string(m.Value) == "poison" {
			return Permanent(errors.New("undecodable payload"))
		}
		return rec.handle(ctx, m)
	}))

	require.NoError(t, b.Publish(context.Background(), Message{Topic: "order.created", Value: []byte("poison")}))
	require.NoError(t, b.Publish(context.Background(), Message{Topic: "order.created", Value: []byte("good")}))

	require.Eventually(t, func() bool {
		got := rec.got()
		return len(got) == 1 && got[0] == "good"
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryRejectsDuplicateGroup(t *testing.T) {
	b := newTestBus(t)
	noop := func(context.Context, Message) error { return nil }

	require.NoError(t, b.Subscribe("order.created", "orders-svc", noop))
	err := b.Subscribe("order.created", "orders-svc", noop)
	require.ErrorIs(t, err, ErrDuplicateGroup)

	// Same group on another topic is a distinct subscription.
	require.NoError(t, b.Subscribe("payment.processed", "orders-svc", noop))
}

func TestMemoryClosedBusRejectsUse(t *testing.T) {
	b := NewMemory(logging.Discard(), time.Millisecond)
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), Message{Topic: "order.created"})
	require.ErrorIs(t, err, ErrBusClosed)

	err = b.Subscribe("order.created", "orders-svc", func(context.Context, Message) error { return nil })
	require.ErrorIs(t, err, ErrBusClosed)

	// Closing twice is a no-op.
	require.NoError(t, b.Close())
}

func TestAttachStopsAtFirstFailure(t *testing.T) {
	b := newTestBus(t)
	noop := func(context.Context, Message) error { return nil }

	err := Attach(b,
		Subscription{Topic: "order.created", Group: "payments-svc", Handler: noop},
		Subscription{Topic: "order.created", Group: "payments-svc", Handler: noop},
	)
	require.ErrorIs(t, err, ErrDuplicateGroup)
}

func TestPermanentMarksAndUnwraps(t *testing.T) {
	cause := errors.New("bad status")
	err := Permanent(cause)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsPermanent(cause))
	assert.False(t, IsPermanent(nil))

	// Marker survives wrapping.
	wrapped := fmt.Errorf("decode: %w", err)
	assert.True(t, IsPermanent(wrapped))
}
