package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentFailed   PaymentStatus = "Failed"
	PaymentRefunded PaymentStatus = "Refunded"
)

// PaymentMethod is closed: every switch over it must handle all three values.
type PaymentMethod string

const (
	MethodCOD     PaymentMethod = "COD"
	MethodGateway PaymentMethod = "Gateway"
	MethodWallet  PaymentMethod = "WalletBalance"
)

// ParsePaymentMethod accepts the canonical names case-insensitively.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cod":
		return MethodCOD, nil
	case "gateway":
		return MethodGateway, nil
	case "walletbalance", "wallet":
		return MethodWallet, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// InitialPaymentStatus is the payment status an order starts with.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	switch m {
	case MethodWallet:
		return PaymentPaid
	case MethodCOD, MethodGateway:
		return PaymentPending
	}
	panic(fmt.Sprintf("domain: unhandled payment method %q", string(m)))
}

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "Pending"
	AttemptSucceeded AttemptStatus = "Succeeded"
	AttemptFailed    AttemptStatus = "Failed"
	AttemptCanceled  AttemptStatus = "Canceled"
)

// PaymentAttempt records one payment intent created with the gateway for an
// order. Retrying a payment supersedes the previous attempt.
type PaymentAttempt struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	GatewayRef string
	Amount     decimal.Decimal
	Currency   string
	Status     AttemptStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
