package payments

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

func (s *PostgresStore) Create(ctx context.Context, p Payment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payments(id, order_id, user_id, amount_cents, status, transaction_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.OrderID, p.UserID, p.AmountCents, string(p.Status), p.TransactionID, p.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert payment")
	}
	return nil
}

func (s *PostgresStore) ByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, user_id, amount_cents, status, transaction_id, created_at
		FROM payments WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select payments")
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read payments")
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *PostgresStore) Successful(ctx context.Context, orderID string) (Payment, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, order_id, user_id, amount_cents, status, transaction_id, created_at
		FROM payments WHERE order_id=$1 AND status=$2
		ORDER BY created_at LIMIT 1`, orderID, string(StatusSuccess))
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	return p, true, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p      Payment
		status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.AmountCents, &status, &p.TransactionID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, err
		}
		return Payment{}, errors.Wrap(err, "scan payment")
	}
	p.Status = Status(status)
	return p, nil
}
