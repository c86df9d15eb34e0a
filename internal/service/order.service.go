package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/database"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/events"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderService interface {
	GetOrder(ctx context.Context, id uuid.UUID, actor Actor) (*domain.Order, error)
	ListOrders(ctx context.Context, actor Actor, filter repo.OrderFilter) (*OrderPage, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, actor Actor, target domain.OrderStatus) (*domain.Order, error)
	RequestReturn(ctx context.Context, id uuid.UUID, userID uuid.UUID, reason string) (*domain.Order, error)
}

type OrderPage struct {
	Orders []domain.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

type OrderDeps struct {
	Tx        database.TxRunner
	Orders    repo.OrderRepo
	Payments  repo.PaymentRepo
	Inventory *Inventory
	Ledger    *Ledger
	Gateway   payment.PaymentGateway
	Events    events.Publisher
	Logger    *zap.Logger
}

type orderService struct {
	OrderDeps
}

func NewOrderService(deps OrderDeps) (OrderService, error) {
	if deps.Tx == nil || deps.Orders == nil || deps.Payments == nil {
		return nil, errors.New("order service: tx runner and repositories required")
	}
	if deps.Inventory == nil || deps.Ledger == nil || deps.Gateway == nil {
		return nil, errors.New("order service: inventory, ledger and gateway required")
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &orderService{OrderDeps: deps}, nil
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID, actor Actor) (*domain.Order, error) {
	order, err := s.Orders.FindById(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if order == nil || !actor.canSee(order) {
		return nil, apperr.NotFound("order")
	}
	return order, nil
}

// ListOrders pages through orders newest first. Customers only ever see
// their own orders whatever the filter says.
func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter repo.OrderFilter) (*OrderPage, error) {
	if !actor.privileged() {
		filter.UserID = actor.UserID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation(apperr.CodeValidation, "unknown order status "+string(filter.Status))
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}

	orders, total, err := s.Orders.List(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return &OrderPage{Orders: orders, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// UpdateStatus applies one transition of the order state machine. The order
// row is locked for the whole transaction and legality is checked against the
// locked row, so concurrent transitions serialize and a repeated terminal
// transition is rejected instead of refunding twice.
func (s *orderService) UpdateStatus(ctx context.Context, id uuid.UUID, actor Actor, target domain.OrderStatus) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id.String()), attribute.String("target", string(target)))

	if !target.Valid() {
		return nil, apperr.Validation(apperr.CodeValidation, "unknown order status "+string(target))
	}
	if !actor.privileged() && target != domain.OrderCancelled {
		return nil, apperr.Forbidden("customers may only cancel their orders")
	}

	var paidRef string
	if target == domain.OrderDelivered {
		paidRef = s.paidIntent(ctx, id)
	}

	var (
		order    *domain.Order
		from     domain.OrderStatus
		refunded bool
		captured bool
		staleRef string
	)
	err := s.Tx.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.Orders.FindByIdForUpdate(ctx, tx, id)
		if err != nil {
			return apperr.Internal(err)
		}
		if order == nil || !actor.canSee(order) {
			return apperr.NotFound("order")
		}

		from = order.Status
		effect, ok := domain.LookupTransition(from, target)
		if !ok {
			return apperr.InvalidTransition(string(from), string(target))
		}
		if effect.Has(domain.EffectNeedsReturnRequest) && !order.ReturnRequested() {
			return apperr.Conflict(apperr.CodeReturnNotAllowed, "order has no pending return request")
		}

		if effect.Has(domain.EffectRestock) {
			if err := s.Inventory.ReleaseItems(ctx, tx, order.Items); err != nil {
				return err
			}
		}
		if effect.Has(domain.EffectRefund) {
			refunded, err = refundToWallet(ctx, tx, s.Ledger, order)
			if err != nil {
				return err
			}
		}
		if effect.Has(domain.EffectSettle) && awaitingGateway(order) && paidRef != "" && order.GatewayRef == paidRef {
			captured = true
			order.PaymentStatus = domain.PaymentPaid
			if err := s.Payments.UpdateAttemptStatus(ctx, tx, paidRef, domain.AttemptSucceeded); err != nil {
				return apperr.Internal(err)
			}
		}
		// An unpaid gateway intent must not stay collectable once the order is
		// cancelled or paid in cash.
		if (target == domain.OrderCancelled || effect.Has(domain.EffectSettle)) && awaitingGateway(order) {
			staleRef = order.GatewayRef
			if err := s.Payments.UpdateAttemptStatus(ctx, tx, staleRef, domain.AttemptCanceled); err != nil {
				return apperr.Internal(err)
			}
		}
		if effect.Has(domain.EffectSettle) {
			settle(order)
		}

		order.Status = target
		order.UpdatedAt = time.Now().UTC()
		if err := s.Orders.UpdateOrder(ctx, tx, order); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.From(err)
	}

	// A card charged after cash was collected on delivery goes back to the
	// wallet. Cancelled orders are refunded when the payment is confirmed.
	if cancelIntent(ctx, s.Gateway, s.Logger, staleRef) && target == domain.OrderDelivered {
		refunded = refundStrayCharge(ctx, s.Tx, s.Ledger, s.Logger, order, staleRef)
	}
	if captured {
		publish(ctx, s.Events, s.Logger, events.PaymentConfirmed, order)
	}
	publish(ctx, s.Events, s.Logger, events.OrderStatusChanged, order)
	if refunded {
		publish(ctx, s.Events, s.Logger, events.OrderRefunded, order)
	}

	s.Logger.Info("order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor_role", string(actor.Role)),
		zap.Bool("refunded", refunded),
	)
	return order, nil
}

// RequestReturn records a customer's return request. The order stays
// Delivered until an admin moves it to Returned.
func (s *orderService) RequestReturn(ctx context.Context, id uuid.UUID, userID uuid.UUID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "return reason is required")
	}

	var order *domain.Order
	err := s.Tx.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.Orders.FindByIdForUpdate(ctx, tx, id)
		if err != nil {
			return apperr.Internal(err)
		}
		if order == nil || order.UserID != userID {
			return apperr.NotFound("order")
		}
		if order.ReturnRequested() {
			return apperr.Conflict(apperr.CodeReturnAlreadyRequested, "a return was already requested for this order")
		}
		if order.Status != domain.OrderDelivered {
			return apperr.Conflict(apperr.CodeReturnNotAllowed, "only delivered orders can be returned")
		}

		now := time.Now().UTC()
		order.ReturnReason = reason
		order.ReturnRequestedAt = &now
		order.UpdatedAt = now
		if err := s.Orders.UpdateOrder(ctx, tx, order); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.From(err)
	}

	s.Logger.Info("return requested", zap.String("order_id", order.ID.String()), zap.String("user_id", userID.String()))
	return order, nil
}

// refundToWallet credits the full total back to the owner's wallet when the
// order was paid. Unpaid orders, including COD that was never collected, are
// left alone.
func refundToWallet(ctx context.Context, tx *sql.Tx, ledger *Ledger, order *domain.Order) (bool, error) {
	if order.PaymentStatus != domain.PaymentPaid {
		return false, nil
	}
	if err := ledger.Credit(ctx, tx, order.UserID, order.Total, "Refund for order "+order.ID.String(), &order.ID); err != nil {
		return false, err
	}
	order.PaymentStatus = domain.PaymentRefunded
	return true, nil
}

// paidIntent returns the order's pending gateway reference when the gateway
// already reports it as paid. Lookup failures are logged and treated as unpaid.
func (s *orderService) paidIntent(ctx context.Context, id uuid.UUID) string {
	order, err := s.Orders.FindById(ctx, id)
	if err != nil || order == nil || !awaitingGateway(order) || order.GatewayRef == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	status, err := s.Gateway.CheckStatus(ctx, order.GatewayRef)
	if err != nil {
		s.Logger.Warn("could not check payment intent", zap.String("gateway_ref", order.GatewayRef), zap.Error(err))
		return ""
	}
	if status != payment.IntentSucceeded {
		return ""
	}
	return order.GatewayRef
}

func awaitingGateway(order *domain.Order) bool {
	return order.PaymentMethod == domain.MethodGateway && order.PaymentStatus == domain.PaymentPending
}

// settle records cash collected at the door.
func settle(order *domain.Order) {
	switch order.PaymentMethod {
	case domain.MethodGateway:
		if order.PaymentStatus == domain.PaymentPending {
			order.PaymentMethod = domain.MethodCOD
			order.PaymentStatus = domain.PaymentPaid
		}
	case domain.MethodCOD:
		order.PaymentStatus = domain.PaymentPaid
	case domain.MethodWallet:
	}
}
