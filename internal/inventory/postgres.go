package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PostgresLedger persists stock in inventory_items and holds in
// reservations. Multi-product operations run in one transaction and lock
// item rows in product-id order, so concurrent reservations cannot
// deadlock or oversell.
type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) AddItem(ctx context.Context, item Item) error {
	ct, err := l.db.Exec(ctx, `
		INSERT INTO inventory_items(product_id, name, price_cents, quantity, reserved)
		VALUES ($1,$2,$3,$4,0)
		ON CONFLICT (product_id) DO NOTHING`,
		item.ProductID, item.Name, item.PriceCents, item.Quantity)
	if err != nil {
		return errors.Wrap(err, "insert item")
	}
	if ct.RowsAffected() == 0 {
		return ErrProductExists
	}
	return nil
}

func (l *PostgresLedger) Item(ctx context.Context, productID string) (Item, error) {
	var it Item
	err := l.db.QueryRow(ctx, `
		SELECT product_id, name, price_cents, quantity, reserved
		FROM inventory_items WHERE product_id=$1`, productID).
		Scan(&it.ProductID, &it.Name, &it.PriceCents, &it.Quantity, &it.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrProductNotFound
	}
	if err != nil {
		return Item{}, errors.Wrap(err, "select item")
	}
	return it, nil
}

func (l *PostgresLedger) Items(ctx context.Context) ([]Item, error) {
	rows, err := l.db.Query(ctx, `
		SELECT product_id, name, price_cents, quantity, reserved
		FROM inventory_items ORDER BY product_id`)
	if err != nil {
		return nil, errors.Wrap(err, "select items")
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.PriceCents, &it.Quantity, &it.Reserved); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Reserve(ctx context.Context, orderID string, demands []Demand, ttl time.Duration) ([]Reservation, error) {
	demands = normalizeDemands(demands)

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin reserve")
	}
	defer tx.Rollback(ctx)

	existing, err := reservationsOf(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	// Lock and check every line before holding anything, so a rejection
	// reports all shortfalls and the rollback leaves the ledger unchanged.
	var shorts []Shortfall
	for _, d := range demands {
		var quantity, reserved int
		err := tx.QueryRow(ctx, `
			SELECT quantity, reserved FROM inventory_items
			WHERE product_id=$1 FOR UPDATE`, d.ProductID).
			Scan(&quantity, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(ErrProductNotFound, "product %s", d.ProductID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "lock item")
		}
		if free := quantity - reserved; free < d.Quantity {
			shorts = append(shorts, Shortfall{ProductID: d.ProductID, Requested: d.Quantity, Available: free})
		}
	}
	if len(shorts) > 0 {
		return nil, &InsufficientStockError{OrderID: orderID, Shortfalls: shorts}
	}

	now := time.Now().UTC()
	expires := now.Add(ttl)
	held := make([]Reservation, 0, len(demands))
	for _, d := range demands {
		if _, err := tx.Exec(ctx, `
			UPDATE inventory_items SET reserved = reserved + $2
			WHERE product_id=$1`, d.ProductID, d.Quantity); err != nil {
			return nil, errors.Wrap(err, "hold stock")
		}
		r := Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			Status:    StatusReserved,
			ExpiresAt: expires,
			CreatedAt: now,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(id, order_id, product_id, quantity, status, expires_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			r.ID, r.OrderID, r.ProductID, r.Quantity, string(r.Status), r.ExpiresAt, r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "insert reservation")
		}
		held = append(held, r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit reserve")
	}
	return held, nil
}

func (l *PostgresLedger) Confirm(ctx context.Context, orderID string) (int, error) {
	return l.settle(ctx, orderID, StatusConfirmed)
}

func (l *PostgresLedger) Release(ctx context.Context, orderID string) (int, error) {
	return l.settle(ctx, orderID, StatusReleased)
}

// settle moves an order's active holds to a terminal state. Confirmed holds
// are deducted from stock on hand; released holds return to the available
// pool. Locking the reservation rows first makes concurrent settles of the
// same order resolve to exactly one winner.
func (l *PostgresLedger) settle(ctx context.Context, orderID string, to ReservationStatus) (int, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin settle")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM reservations
		WHERE order_id=$1 AND status=$2
		ORDER BY product_id
		FOR UPDATE`, orderID, string(StatusReserved))
	if err != nil {
		return 0, errors.Wrap(err, "lock reservations")
	}
	type hold struct {
		productID string
		quantity  int
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.productID, &h.quantity); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan reservation")
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "read reservations")
	}
	if len(holds) == 0 {
		return 0, nil
	}

	stockUpdate := `UPDATE inventory_items SET reserved = reserved - $2 WHERE product_id=$1`
	if to == StatusConfirmed {
		stockUpdate = `UPDATE inventory_items SET quantity = quantity - $2, reserved = reserved - $2 WHERE product_id=$1`
	}
	for _, h := range holds {
		if _, err := tx.Exec(ctx, stockUpdate, h.productID, h.quantity); err != nil {
			return 0, errors.Wrap(err, "settle stock")
		}
	}
	ct, err := tx.Exec(ctx, `
		UPDATE reservations SET status=$3
		WHERE order_id=$1 AND status=$2`, orderID, string(StatusReserved), string(to))
	if err != nil {
		return 0, errors.Wrap(err, "settle reservations")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit settle")
	}
	return int(ct.RowsAffected()), nil
}

// SweepExpired releases each expired order in its own transaction. An order
// confirmed by a racing payment between the scan and its release settles as
// a no-op here.
func (l *PostgresLedger) SweepExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := l.db.Query(ctx, `
		SELECT DISTINCT order_id FROM reservations
		WHERE status=$1 AND expires_at <= $2
		ORDER BY order_id`, string(StatusReserved), cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "select expired")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan order id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read expired")
	}

	var released []string
	for _, id := range ids {
		n, err := l.Release(ctx, id)
		if err != nil {
			return released, errors.Wrapf(err, "release order %s", id)
		}
		if n > 0 {
			released = append(released, id)
		}
	}
	return released, nil
}

func reservationsOf(ctx context.Context, tx pgx.Tx, orderID string) ([]Reservation, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, status, expires_at, created_at
		FROM reservations WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select reservations")
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var (
			r      Reservation
			status string
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.Quantity, &status, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		r.Status = ReservationStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
