package service

import (
	"context"
	"database/sql"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WalletService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
}

// Ledger owns wallet balances. Every balance change appends one immutable
// transaction in the same database transaction, so the balance always equals
// credits minus debits.
type Ledger struct {
	wallets repo.WalletRepo
	logger  *zap.Logger
}

func NewLedger(wallets repo.WalletRepo, logger *zap.Logger) *Ledger {
	return &Ledger{wallets: wallets, logger: logger}
}

func (l *Ledger) Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal, reason string, orderID *uuid.UUID) error {
	if !amount.IsPositive() {
		return apperr.Validation(apperr.CodeValidation, "credit amount must be positive")
	}
	if err := l.wallets.Credit(ctx, tx, userID, amount); err != nil {
		return apperr.Internal(err)
	}
	return l.append(ctx, tx, userID, domain.TxnCredit, amount, reason, orderID)
}

// Debit fails with insufficient_balance and leaves the balance unchanged
// when amount exceeds it.
func (l *Ledger) Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal, reason string, orderID *uuid.UUID) error {
	if !amount.IsPositive() {
		return apperr.Validation(apperr.CodeValidation, "debit amount must be positive")
	}
	ok, err := l.wallets.Debit(ctx, tx, userID, amount)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.ErrInsufficientBalance
	}
	return l.append(ctx, tx, userID, domain.TxnDebit, amount, reason, orderID)
}

func (l *Ledger) append(ctx context.Context, tx *sql.Tx, userID uuid.UUID, typ domain.TransactionType, amount decimal.Decimal, reason string, orderID *uuid.UUID) error {
	txn := &domain.WalletTransaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Reason:    reason,
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.wallets.AppendTransaction(ctx, tx, txn); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Balance reports zero for users without a wallet.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	balance, _, err := l.wallets.FindBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, apperr.Internal(err)
	}
	return balance, nil
}

// GetWallet returns the balance and history, newest first. A user who never
// had a wallet gets a zero balance and an empty history.
func (l *Ledger) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	balance, found, err := l.wallets.FindBalance(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	wallet := &domain.Wallet{UserID: userID, Balance: balance, Transactions: []domain.WalletTransaction{}}
	if !found {
		return wallet, nil
	}

	history, err := l.wallets.History(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	wallet.Transactions = history
	return wallet, nil
}
