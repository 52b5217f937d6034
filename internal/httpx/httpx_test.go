package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirdTDD/orderflow/internal/bus"
	"github.com/weirdTDD/orderflow/internal/events"
	"github.com/weirdTDD/orderflow/internal/inventory"
	"github.com/weirdTDD/orderflow/internal/logging"
	"github.com/weirdTDD/orderflow/internal/orders"
	"github.com/weirdTDD/orderflow/internal/payments"
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

func (p *capturePub) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Topic)
	}
	return out
}

type testAPI struct {
	router   *chi.Mux
	payments *payments.Processor
	pub      *capturePub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	pub := &capturePub{}
	dedup := redisx.NewMemoryDeduper()
	log := logging.Discard()

	inv := inventory.NewService(inventory.NewMemoryLedger(), pub, dedup, log, "inventory-test", 15*time.Minute)
	ord := orders.NewService(orders.NewMemoryStore(), orders.NopCache{}, pub, dedup, log, "orders-test")
	pay := payments.NewProcessor(payments.NewMemoryStore(), payments.NewSimulatedGateway(0, 0), pub, dedup, log, "payments-test", time.Second)

	r := NewRouter()
	(&OrdersHandler{Orders: ord, Inventory: inv, Log: log}).Register(r)
	(&ProductsHandler{Inventory: inv, Log: log}).Register(r)
	(&PaymentsHandler{Payments: pay, Log: log}).Register(r)
	return &testAPI{router: r, payments: pay, pub: pub}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seedProduct(t *testing.T, id string, price int64, quantity int) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/products", map[string]any{
		"productId": id,
		"name":      "product " + id,
		"price":     price,
		"quantity":  quantity,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCheckoutAcceptsOrderAndAnnouncesIt(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, "p-1", 4500, 10)
	api.seedProduct(t, "p-2", 1500, 5)

	rec := api.do(t, http.MethodPost, "/orders", map[string]any{
		"userId": "u-1",
		"items": []map[string]any{
			{"productId": "p-1", "quantity": 2},
			{"productId": "p-2", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	o := decodeBody[orders.Order](t, rec)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, int64(2*4500+1500), o.TotalCents)

	// Reservation first, announcement second.
	assert.Equal(t, []string{events.TopicInventoryUpdated, events.TopicOrderCreated}, api.pub.topics())

	got := api.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, o.ID, decodeBody[orders.Order](t, got).ID)
}

func TestCheckoutShortfallIsConflict(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, "p-1", 4500, 1)

	rec := api.do(t, http.MethodPost, "/orders", map[string]any{
		"userId": "u-1",
		"items":  []map[string]any{{"productId": "p-1", "quantity": 3}},
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	body := decodeBody[struct {
		Error   string          `json:"error"`
		OrderID string          `json:"orderId"`
		Items   []shortfallResp `json:"items"`
	}](t, rec)
	assert.Equal(t, "insufficient stock", body.Error)
	assert.NotEmpty(t, body.OrderID)
	require.Len(t, body.Items, 1)
	assert.Equal(t, shortfallResp{ProductID: "p-1", Requested: 3, Available: 1}, body.Items[0])

	// No order.created for a rejected checkout.
	assert.Equal(t, []string{events.TopicInventoryUpdated}, api.pub.topics())
}

func TestCheckoutValidation(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, "p-1", 4500, 10)

	cases := []struct {
		name string
		body any
	}{
		{"missing user", map[string]any{"items": []map[string]any{{"productId": "p-1", "quantity": 1}}}},
		{"no items", map[string]any{"userId": "u-1", "items": []map[string]any{}}},
		{"zero quantity", map[string]any{"userId": "u-1", "items": []map[string]any{{"productId": "p-1", "quantity": 0}}}},
		{"unknown product", map[string]any{"userId": "u-1", "items": []map[string]any{{"productId": "ghost", "quantity": 1}}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/orders", c.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := api.do(t, http.MethodPost, "/orders", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.seedProduct(t, "p-1", 4500, 10)

	dup := api.do(t, http.MethodPost, "/products", map[string]any{
		"productId": "p-1", "name": "again", "price": 1, "quantity": 1,
	})
	assert.Equal(t, http.StatusConflict, dup.Code)

	one := api.do(t, http.MethodGet, "/products/p-1", nil)
	require.Equal(t, http.StatusOK, one.Code)
	p := decodeBody[productResp](t, one)
	assert.Equal(t, productResp{ProductID: "p-1", Name: "product p-1", Price: 4500, Quantity: 10, Reserved: 0, Available: 10}, p)

	list := api.do(t, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decodeBody[[]productResp](t, list), 1)

	missing := api.do(t, http.MethodGet, "/products/ghost", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestPaymentsByOrder(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/payments/order/o-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Drive a charge through the processor, then read it back.
	env := events.New(events.TypeOrderCreated, "orders-test", "o-1", events.OrderCreated{
		OrderID:    "o-1",
		UserID:     "u-1",
		Items:      []events.LineItem{{ProductID: "p-1", Quantity: 1, PriceCents: 4500}},
		TotalCents: 4500,
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, api.payments.HandleOrderCreated(context.Background(),
		events.ToMessage(events.TopicOrderCreated, env)))

	rec = api.do(t, http.MethodGet, "/payments/order/o-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ps := decodeBody[[]payments.Payment](t, rec)
	require.Len(t, ps, 1)
	assert.Equal(t, payments.StatusSuccess, ps[0].Status)
	assert.Equal(t, int64(4500), ps[0].AmountCents)
}
