package payments

import "time"

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Payment is one charge attempt. An order may accumulate several failed
// attempts but holds at most one successful payment.
type Payment struct {
	ID            string    `json:"paymentId"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	AmountCents   int64     `json:"amount"`
	Status        Status    `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
