package repo

import (
	"context"
	"database/sql"
	"errors"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletRepo interface {
	// Debit reports false, leaving the balance untouched, when the wallet is
	// missing or holds less than amount.
	Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) (bool, error)
	// Credit creates the wallet on first use.
	Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error
	AppendTransaction(ctx context.Context, tx *sql.Tx, t *domain.WalletTransaction) error
	FindBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, bool, error)
	// History returns transactions newest first.
	History(ctx context.Context, userID uuid.UUID) ([]domain.WalletTransaction, error)
}

type walletRepo struct {
	db *sql.DB
}

func NewWalletRepo(db *sql.DB) WalletRepo {
	return &walletRepo{db: db}
}

func (r *walletRepo) Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE wallets SET balance = balance - $2, updated_at = now() WHERE user_id = $1 AND balance >= $2",
		userID, amount,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *walletRepo) Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()`,
		userID, amount,
	)
	return err
}

func (r *walletRepo) AppendTransaction(ctx context.Context, tx *sql.Tx, t *domain.WalletTransaction) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO wallet_transactions (id, user_id, type, amount, reason, order_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		t.ID, t.UserID, t.Type, t.Amount, t.Reason, t.OrderID, t.CreatedAt,
	)
	return err
}

func (r *walletRepo) FindBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, bool, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return balance, true, nil
}

func (r *walletRepo) History(ctx context.Context, userID uuid.UUID) ([]domain.WalletTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, type, amount, reason, order_id, created_at FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC, id",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []domain.WalletTransaction{}
	for rows.Next() {
		var (
			t       domain.WalletTransaction
			orderID uuid.NullUUID
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Reason, &orderID, &t.CreatedAt); err != nil {
			return nil, err
		}
		if orderID.Valid {
			id := orderID.UUID
			t.OrderID = &id
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
