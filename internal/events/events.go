package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// SchemaVersion is the envelope version this codebase writes and accepts.
const SchemaVersion = 1

const (
	TypeOrderCreated     = "OrderCreated"
	TypePaymentProcessed = "PaymentProcessed"
	TypeInventoryUpdated = "InventoryUpdated"
)

var (
	ErrUnknownStatus  = errors.New("unknown status value")
	ErrUnknownVersion = errors.New("unsupported event version")
	ErrWrongEventType = errors.New("unexpected event type")
)

// Envelope is the common frame around every published payload. Consumers
// route and dedup on the frame alone; the payload stays opaque until the
// typed decoders run.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // the order id
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope around payload. Marshalling our own payload structs
// cannot fail, so a failure here is a programming error.
func New(eventType, producer, orderID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       uuid.NewString(),
		CorrelationID: orderID,
		Payload:       MustMarshal(payload),
	}
}

// NewFrom builds the reaction to an earlier event, keeping its trace and
// correlation ids so the whole flow of one order can be followed.
func NewFrom(cause Envelope, eventType, producer string, payload any) Envelope {
	env := New(eventType, producer, cause.CorrelationID, payload)
	if cause.TraceID != "" {
		env.TraceID = cause.TraceID
	}
	return env
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, pkgerrors.Wrap(err, "decode envelope")
	}
	return env, nil
}

func (e Envelope) check(eventType string) error {
	if e.EventType != eventType {
		return pkgerrors.Wrapf(ErrWrongEventType, "got %q, want %q", e.EventType, eventType)
	}
	if e.EventVersion != SchemaVersion {
		return pkgerrors.Wrapf(ErrUnknownVersion, "version %d", e.EventVersion)
	}
	return nil
}

// PaymentStatus enumerates the terminal outcomes of one payment attempt.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentSuccess, PaymentFailed:
		return nil
	}
	return pkgerrors.Wrapf(ErrUnknownStatus, "payment status %q", string(s))
}

// StockStatus enumerates the outcomes carried on inventory.updated.
// "released" is published by the expiry sweep so the order side can cancel.
type StockStatus string

const (
	StockReserved     StockStatus = "reserved"
	StockInsufficient StockStatus = "insufficient"
	StockReleased     StockStatus = "released"
)

func (s StockStatus) Validate() error {
	switch s {
	case StockReserved, StockInsufficient, StockReleased:
		return nil
	}
	return pkgerrors.Wrapf(ErrUnknownStatus, "stock status %q", string(s))
}

// Release reasons carried by inventory.updated. Only an expiry release may
// cancel an order; a payment-failure release accompanies the failure the
// order already learned from payment.processed.
const (
	ReasonExpired       = "expired"
	ReasonPaymentFailed = "payment_failed"
)

// LineItem is one ordered product line, snapshotted at order creation.
type LineItem struct {
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price"`
}

// ShortfallItem reports one product whose available stock fell short.
type ShortfallItem struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// OrderCreated is published once per order that has been created and had its
// inventory reserved. Payment proceeds from this event alone.
type OrderCreated struct {
	OrderID    string     `json:"orderId"`
	UserID     string     `json:"userId"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"totalAmount"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PaymentProcessed is published once per payment attempt.
// TransactionID is null unless Status is "success".
type PaymentProcessed struct {
	OrderID       string        `json:"orderId"`
	PaymentID     string        `json:"paymentId"`
	Status        PaymentStatus `json:"status"`
	AmountCents   int64         `json:"amount"`
	TransactionID *string       `json:"transactionId"`
	Timestamp     time.Time     `json:"timestamp"`
}

// InventoryUpdated is published on reservation success, on shortfall, and on
// expiry-driven release. Items is only set on shortfall.
type InventoryUpdated struct {
	OrderID   string          `json:"orderId"`
	Status    StockStatus     `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Items     []ShortfallItem `json:"items,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeOrderCreated unmarshals and validates an order.created envelope.
func DecodeOrderCreated(env Envelope) (OrderCreated, error) {
	var p OrderCreated
	if err := env.check(TypeOrderCreated); err != nil {
		return p, err
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, pkgerrors.Wrap(err, "decode OrderCreated payload")
	}
	return p, nil
}

// DecodePaymentProcessed unmarshals a payment.processed envelope and rejects
// unknown status values instead of letting them mismatch downstream.
func DecodePaymentProcessed(env Envelope) (PaymentProcessed, error) {
	var p PaymentProcessed
	if err := env.check(TypePaymentProcessed); err != nil {
		return p, err
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, pkgerrors.Wrap(err, "decode PaymentProcessed payload")
	}
	if err := p.Status.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// DecodeInventoryUpdated unmarshals an inventory.updated envelope and rejects
// unknown status values.
func DecodeInventoryUpdated(env Envelope) (InventoryUpdated, error) {
	var p InventoryUpdated
	if err := env.check(TypeInventoryUpdated); err != nil {
		return p, err
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, pkgerrors.Wrap(err, "decode InventoryUpdated payload")
	}
	if err := p.Status.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
