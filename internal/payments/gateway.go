package payments

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrDeclined = errors.New("payments: charge declined")

// Gateway charges an order total against a provider. Callers bound the call
// with a context deadline; running past it counts as a failed charge.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amountCents int64) (transactionID string, err error)
}

// SimulatedGateway stands in for a real provider: it sleeps a little and
// declines a configurable share of charges.
type SimulatedGateway struct {
	failureRate float64
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedGateway(failureRate float64, latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		failureRate: failureRate,
		latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, _ string, _ int64) (string, error) {
	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.latency):
		}
	}

	g.mu.Lock()
	declined := g.rng.Float64() < g.failureRate
	g.mu.Unlock()
	if declined {
		return "", ErrDeclined
	}
	return "txn-" + uuid.NewString(), nil
}
