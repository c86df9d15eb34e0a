package service

import (
	"context"
	"database/sql"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/database"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/events"
	"storefront-orders/internal/infrastructure/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("storefront-orders/service")

type Role string

const (
	RoleCustomer Role = "user"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by the webhook and the reconciliation sweeper.
	RoleSystem Role = "system"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

func (a Actor) privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// canSee hides other customers' orders behind not_found.
func (a Actor) canSee(o *domain.Order) bool {
	return a.privileged() || o.UserID == a.UserID
}

// minorUnits converts a total to the gateway's smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// requestIntent asks the gateway for an intent covering the order total. The
// attempt id doubles as the idempotency key so a replayed request cannot
// open a second intent.
func requestIntent(ctx context.Context, gw payment.PaymentGateway, timeout time.Duration, currency string, order *domain.Order, attemptID uuid.UUID) (*payment.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	intent, err := gw.CreatePaymentIntent(ctx, payment.IntentRequest{
		Amount:         minorUnits(order.Total),
		Currency:       currency,
		Receipt:        "order_rcptid_" + order.ID.String(),
		IdempotencyKey: attemptID.String(),
		Metadata: map[string]string{
			"order_id": order.ID.String(),
			"user_id":  order.UserID.String(),
		},
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	return intent, nil
}

func gatewayError(err error) error {
	return apperr.Payment(apperr.CodeGateway, "payment gateway unavailable", err)
}

// publish is fire-and-forget: failures are logged and never reach the caller.
func publish(ctx context.Context, pub events.Publisher, logger *zap.Logger, t events.EventType, order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, events.NewOrderEvent(t, order)); err != nil {
		logger.Warn("order event dropped",
			zap.String("type", string(t)),
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}

// cancelIntent releases a superseded or orphaned intent. It reports true when
// the intent could not be cancelled because the customer had already paid it.
// Any other failure only leaves an unpaid intent behind at the gateway.
func cancelIntent(ctx context.Context, gw payment.PaymentGateway, logger *zap.Logger, ref string) bool {
	if ref == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := gw.CancelPaymentIntent(ctx, ref)
	if err == nil {
		return false
	}
	if status, serr := gw.CheckStatus(ctx, ref); serr == nil && status == payment.IntentSucceeded {
		return true
	}
	logger.Warn("failed to cancel payment intent", zap.String("gateway_ref", ref), zap.Error(err))
	return false
}

// refundStrayCharge credits the wallet for money captured on an intent the
// order no longer collects through.
func refundStrayCharge(ctx context.Context, txr database.TxRunner, ledger *Ledger, logger *zap.Logger, order *domain.Order, ref string) bool {
	ctx = context.WithoutCancel(ctx)
	err := txr.WithTx(ctx, func(tx *sql.Tx) error {
		return ledger.Credit(ctx, tx, order.UserID, order.Total, "Refund for superseded payment "+ref, &order.ID)
	})
	if err != nil {
		logger.Error("failed to refund superseded payment",
			zap.String("order_id", order.ID.String()),
			zap.String("gateway_ref", ref),
			zap.Error(err),
		)
		return false
	}
	logger.Warn("refunded superseded payment to wallet",
		zap.String("order_id", order.ID.String()),
		zap.String("gateway_ref", ref),
		zap.String("amount", order.Total.String()),
	)
	return true
}
