package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/database"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/events"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentService interface {
	// Confirm marks a gateway order paid once the gateway reports the intent
	// as succeeded. Confirming the same reference twice is a no-op.
	Confirm(ctx context.Context, orderID uuid.UUID, actor Actor, gatewayRef string) (*domain.Order, error)
	// MarkFailed records a declined intent. The order stays open for Retry.
	MarkFailed(ctx context.Context, orderID uuid.UUID, gatewayRef string) (*domain.Order, error)
	// Retry replaces the order's intent with a fresh one for the current total.
	Retry(ctx context.Context, orderID uuid.UUID, actor Actor) (*RetryResult, error)
}

type RetryResult struct {
	OrderID      uuid.UUID       `json:"order_id"`
	Reference    string          `json:"gateway_ref"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	AmountMinor  int64           `json:"amount_minor"`
	Currency     string          `json:"currency"`
}

type PaymentConfig struct {
	Currency       string
	GatewayTimeout time.Duration
}

type PaymentDeps struct {
	Tx       database.TxRunner
	Orders   repo.OrderRepo
	Payments repo.PaymentRepo
	Ledger   *Ledger
	Gateway  payment.PaymentGateway
	Events   events.Publisher
	Logger   *zap.Logger
}

type paymentService struct {
	PaymentDeps
	cfg PaymentConfig
}

func NewPaymentService(deps PaymentDeps, cfg PaymentConfig) (PaymentService, error) {
	if deps.Tx == nil || deps.Orders == nil || deps.Payments == nil {
		return nil, errors.New("payment service: tx runner and repositories required")
	}
	if deps.Ledger == nil || deps.Gateway == nil {
		return nil, errors.New("payment service: ledger and gateway required")
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &paymentService{PaymentDeps: deps, cfg: cfg}, nil
}

func (s *paymentService) Confirm(ctx context.Context, orderID uuid.UUID, actor Actor, gatewayRef string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "payment.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID.String()), attribute.String("gateway_ref", gatewayRef))

	if gatewayRef == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "gateway reference is required")
	}
	order, err := s.Orders.FindById(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if order == nil || !actor.canSee(order) {
		return nil, apperr.NotFound("order")
	}
	if order.PaymentMethod != domain.MethodGateway && order.GatewayRef == "" {
		return nil, apperr.Conflict(apperr.CodePaymentNotConfirmable, "order is not paid through the gateway")
	}
	if order.GatewayRef != gatewayRef {
		return nil, apperr.Validation(apperr.CodeReferenceMismatch, "gateway reference does not match the order")
	}
	if order.PaymentStatus == domain.PaymentPaid || order.PaymentStatus == domain.PaymentRefunded {
		return order, nil
	}

	status, err := s.checkStatus(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}
	if status != payment.IntentSucceeded {
		return nil, apperr.Payment(apperr.CodePaymentIncomplete, "payment has not completed at the gateway (status "+string(status)+")", nil)
	}

	var refunded, changed bool
	err = s.Tx.WithTx(ctx, func(tx *sql.Tx) error {
		order, err = s.Orders.FindByIdForUpdate(ctx, tx, orderID)
		if err != nil {
			return apperr.Internal(err)
		}
		if order == nil {
			return apperr.NotFound("order")
		}
		// Re-checked under the row lock: a concurrent retry may have swapped
		// the reference, a concurrent confirm may have won.
		if order.GatewayRef != gatewayRef {
			return apperr.Validation(apperr.CodeReferenceMismatch, "gateway reference does not match the order")
		}
		if order.PaymentStatus == domain.PaymentPaid || order.PaymentStatus == domain.PaymentRefunded {
			return nil
		}

		changed = true
		order.PaymentStatus = domain.PaymentPaid
		// Money arrived for an order that was already closed; hand it back.
		if order.Status.Terminal() {
			if refunded, err = refundToWallet(ctx, tx, s.Ledger, order); err != nil {
				return err
			}
		}
		order.UpdatedAt = time.Now().UTC()
		if err := s.Orders.UpdateOrder(ctx, tx, order); err != nil {
			return apperr.Internal(err)
		}
		if err := s.Payments.UpdateAttemptStatus(ctx, tx, gatewayRef, domain.AttemptSucceeded); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.From(err)
	}
	if !changed {
		return order, nil
	}

	publish(ctx, s.Events, s.Logger, events.PaymentConfirmed, order)
	if refunded {
		publish(ctx, s.Events, s.Logger, events.OrderRefunded, order)
	}
	s.Logger.Info("payment confirmed",
		zap.String("order_id", order.ID.String()),
		zap.String("gateway_ref", gatewayRef),
		zap.Bool("refunded", refunded),
	)
	return order, nil
}

func (s *paymentService) MarkFailed(ctx context.Context, orderID uuid.UUID, gatewayRef string) (*domain.Order, error) {
	var (
		order   *domain.Order
		changed bool
	)
	err := s.Tx.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.Orders.FindByIdForUpdate(ctx, tx, orderID)
		if err != nil {
			return apperr.Internal(err)
		}
		if order == nil {
			return apperr.NotFound("order")
		}
		if err := s.Payments.UpdateAttemptStatus(ctx, tx, gatewayRef, domain.AttemptFailed); err != nil {
			return apperr.Internal(err)
		}
		// Declines for superseded references are stale news.
		if order.GatewayRef != gatewayRef || order.PaymentStatus != domain.PaymentPending {
			return nil
		}

		changed = true
		order.PaymentStatus = domain.PaymentFailed
		order.UpdatedAt = time.Now().UTC()
		if err := s.Orders.UpdateOrder(ctx, tx, order); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.From(err)
	}

	if changed {
		publish(ctx, s.Events, s.Logger, events.PaymentFailed, order)
		s.Logger.Info("payment failed", zap.String("order_id", order.ID.String()), zap.String("gateway_ref", gatewayRef))
	}
	return order, nil
}

func (s *paymentService) Retry(ctx context.Context, orderID uuid.UUID, actor Actor) (*RetryResult, error) {
	ctx, span := tracer.Start(ctx, "payment.Retry")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID.String()))

	order, err := s.Orders.FindById(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if order == nil || !actor.canSee(order) {
		return nil, apperr.NotFound("order")
	}
	if err := retryable(order); err != nil {
		return nil, err
	}
	// An intent already paid at the gateway is confirmed, not replaced.
	if order.PaymentStatus == domain.PaymentPending && order.GatewayRef != "" {
		status, err := s.checkStatus(ctx, order.GatewayRef)
		if err != nil && apperr.CodeOf(err) != apperr.CodeReferenceMismatch {
			return nil, err
		}
		if status == payment.IntentSucceeded {
			if _, err := s.Confirm(ctx, orderID, actor, order.GatewayRef); err != nil {
				return nil, err
			}
			return nil, apperr.ErrAlreadyPaid
		}
	}

	var (
		intent    *payment.Intent
		oldRef    string
		attemptID = uuid.New()
	)
	steps := []saga.Step{
		saga.Func{
			StepName: "payment_intent",
			ExecuteFn: func(ctx context.Context) error {
				intent, err = requestIntent(ctx, s.Gateway, s.cfg.GatewayTimeout, s.cfg.Currency, order, attemptID)
				return err
			},
			CompensateFn: func(ctx context.Context) error {
				return s.Gateway.CancelPaymentIntent(ctx, intent.Reference)
			},
		},
		saga.Func{
			StepName: "replace_reference",
			ExecuteFn: func(ctx context.Context) error {
				return s.Tx.WithTx(ctx, func(tx *sql.Tx) error {
					locked, err := s.Orders.FindByIdForUpdate(ctx, tx, orderID)
					if err != nil {
						return apperr.Internal(err)
					}
					if locked == nil {
						return apperr.NotFound("order")
					}
					if err := retryable(locked); err != nil {
						return err
					}

					now := time.Now().UTC()
					// A declined attempt keeps its Failed status.
					if locked.PaymentStatus == domain.PaymentPending {
						oldRef = locked.GatewayRef
					}
					if oldRef != "" {
						if err := s.Payments.UpdateAttemptStatus(ctx, tx, oldRef, domain.AttemptCanceled); err != nil {
							return apperr.Internal(err)
						}
					}
					locked.GatewayRef = intent.Reference
					locked.PaymentStatus = domain.PaymentPending
					locked.UpdatedAt = now
					if err := s.Orders.UpdateOrder(ctx, tx, locked); err != nil {
						return apperr.Internal(err)
					}
					err = s.Payments.CreateAttempt(ctx, tx, &domain.PaymentAttempt{
						ID:         attemptID,
						OrderID:    locked.ID,
						GatewayRef: intent.Reference,
						Amount:     locked.Total,
						Currency:   s.cfg.Currency,
						Status:     domain.AttemptPending,
						CreatedAt:  now,
						UpdatedAt:  now,
					})
					if err != nil {
						return apperr.Internal(err)
					}
					order = locked
					return nil
				})
			},
		},
	}
	if err := saga.NewOrchestrator(s.Logger, steps...).Start(ctx); err != nil {
		return nil, apperr.From(err)
	}

	if cancelIntent(ctx, s.Gateway, s.Logger, oldRef) && refundStrayCharge(ctx, s.Tx, s.Ledger, s.Logger, order, oldRef) {
		publish(ctx, s.Events, s.Logger, events.OrderRefunded, order)
	}
	s.Logger.Info("payment retried",
		zap.String("order_id", order.ID.String()),
		zap.String("old_ref", oldRef),
		zap.String("gateway_ref", intent.Reference),
	)
	return &RetryResult{
		OrderID:      order.ID,
		Reference:    intent.Reference,
		ClientSecret: intent.ClientSecret,
		Amount:       order.Total,
		AmountMinor:  intent.Amount,
		Currency:     intent.Currency,
	}, nil
}

func retryable(order *domain.Order) error {
	switch {
	case order.PaymentStatus == domain.PaymentPaid || order.PaymentStatus == domain.PaymentRefunded:
		return apperr.ErrAlreadyPaid
	case order.PaymentMethod != domain.MethodGateway:
		return apperr.Validation(apperr.CodeValidation, "only gateway orders can retry payment")
	case order.Status.Terminal():
		return apperr.Conflict(apperr.CodeInvalidTransition, "order is "+string(order.Status))
	}
	return nil
}

func (s *paymentService) checkStatus(ctx context.Context, ref string) (payment.IntentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	status, err := s.Gateway.CheckStatus(ctx, ref)
	if errors.Is(err, payment.ErrIntentNotFound) {
		return "", apperr.Validation(apperr.CodeReferenceMismatch, "gateway does not know this reference")
	}
	if err != nil {
		return "", gatewayError(err)
	}
	return status, nil
}
