package repo

import (
	"context"
	"database/sql"
	"time"

	"storefront-orders/internal/domain"
)

type PaymentRepo interface {
	CreateAttempt(ctx context.Context, tx *sql.Tx, attempt *domain.PaymentAttempt) error
	// UpdateAttemptStatus only moves attempts that are still pending.
	UpdateAttemptStatus(ctx context.Context, tx *sql.Tx, gatewayRef string, status domain.AttemptStatus) error
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) CreateAttempt(ctx context.Context, tx *sql.Tx, a *domain.PaymentAttempt) error {
	query := `INSERT INTO payment_attempts (id, order_id, gateway_ref, amount, currency, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.ExecContext(
		ctx, query, a.ID, a.OrderID, a.GatewayRef, a.Amount, a.Currency, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (r *paymentRepo) UpdateAttemptStatus(ctx context.Context, tx *sql.Tx, gatewayRef string, status domain.AttemptStatus) error {
	query := `
		UPDATE payment_attempts
		SET status = $2,
		    updated_at = now()
		WHERE gateway_ref = $1 AND status = $3
	`
	_, err := tx.ExecContext(ctx, query, gatewayRef, status, domain.AttemptPending)
	return err
}

func (r *paymentRepo) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error) {
	query := `
		SELECT id, order_id, gateway_ref, amount, currency, status, created_at, updated_at
		FROM payment_attempts
		WHERE status = $1
		AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.AttemptPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		var a domain.PaymentAttempt
		err := rows.Scan(
			&a.ID,
			&a.OrderID,
			&a.GatewayRef,
			&a.Amount,
			&a.Currency,
			&a.Status,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
