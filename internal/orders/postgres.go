package orders

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, o Order) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin create")
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_id, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.UserID, string(o.Status), o.PaymentID, o.TotalCents, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyExists
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, price_cents)
			VALUES ($1,$2,$3,$4)`,
			o.ID, it.ProductID, it.Quantity, it.PriceCents); err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit create")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	var (
		o      Order
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, status, payment_id, total_cents, created_at, updated_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.UserID, &status, &o.PaymentID, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, errors.Wrap(err, "select order")
	}
	o.Status = Status(status)

	rows, err := s.db.Query(ctx, `
		SELECT product_id, quantity, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return Order{}, errors.Wrap(err, "select order items")
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.PriceCents); err != nil {
			return Order{}, errors.Wrap(err, "scan order item")
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Order{}, errors.Wrap(err, "read order items")
	}
	return o, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status, paymentID string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE orders SET status=$3, payment_id=COALESCE(NULLIF($4,''), payment_id), updated_at=now()
		WHERE id=$1 AND status=$2`, id, string(from), string(to), paymentID)
	if err != nil {
		return false, errors.Wrap(err, "update status")
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing order.
	var cur string
	err = s.db.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, errors.Wrap(err, "check status")
	}
	return false, nil
}
