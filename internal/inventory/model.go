package inventory

import "time"

// Item is one product in the ledger. Quantity is stock on hand, Reserved is
// the share held for pending orders; what a buyer can still claim is the
// difference.
type Item struct {
	ProductID  string
	Name       string
	PriceCents int64
	Quantity   int
	Reserved   int
}

func (i Item) Available() int { return i.Quantity - i.Reserved }

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusReleased  ReservationStatus = "released"
)

// Terminal reports whether the reservation reached a final state; confirm
// and release are no-ops from there.
func (s ReservationStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusReleased
}

// Reservation is one product hold belonging to an order. All holds of an
// order move through their lifecycle together.
type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}
