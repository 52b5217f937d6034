package orders

import "time"

// Item is one order line. Price is snapshotted from the catalog when the
// order is created and never re-read afterwards.
type Item struct {
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price"`
}

type Order struct {
	ID         string    `json:"orderId"`
	UserID     string    `json:"userId"`
	Items      []Item    `json:"items"`
	TotalCents int64     `json:"totalAmount"`
	Status     Status    `json:"status"`
	PaymentID  string    `json:"paymentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
