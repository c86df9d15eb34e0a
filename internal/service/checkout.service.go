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
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type CheckoutRequest struct {
	UserID        uuid.UUID
	Address       domain.Address
	PaymentMethod domain.PaymentMethod
	CouponCode    string
}

type CheckoutResult struct {
	Order *domain.Order `json:"order"`
	// Payment is set for gateway orders so the client can collect payment.
	Payment *payment.Intent `json:"payment,omitempty"`
}

type CheckoutService interface {
	PlaceOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

type CheckoutConfig struct {
	ShippingFee    decimal.Decimal
	CODLimit       decimal.Decimal
	Currency       string
	GatewayTimeout time.Duration
}

type CheckoutDeps struct {
	Tx        database.TxRunner
	Carts     repo.CartRepo
	Products  repo.ProductRepo
	Orders    repo.OrderRepo
	Payments  repo.PaymentRepo
	Inventory *Inventory
	Coupons   CouponService
	Ledger    *Ledger
	Gateway   payment.PaymentGateway
	Events    events.Publisher
	Logger    *zap.Logger
}

type checkoutService struct {
	CheckoutDeps
	cfg CheckoutConfig
}

func NewCheckoutService(deps CheckoutDeps, cfg CheckoutConfig) (CheckoutService, error) {
	switch {
	case deps.Tx == nil:
		return nil, errors.New("checkout: tx runner required")
	case deps.Carts == nil || deps.Products == nil || deps.Orders == nil || deps.Payments == nil:
		return nil, errors.New("checkout: repositories required")
	case deps.Inventory == nil || deps.Coupons == nil || deps.Ledger == nil:
		return nil, errors.New("checkout: inventory, coupons and ledger required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout: payment gateway required")
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
	return &checkoutService{CheckoutDeps: deps, cfg: cfg}, nil
}

// PlaceOrder validates the cart against the catalog, prices it and then
// runs the saga: an optional gateway intent followed by one database
// transaction that reserves stock, redeems the coupon, debits the wallet and
// writes the order. Nothing is mutated before validation passes.
func (s *checkoutService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("payment_method", string(req.PaymentMethod)),
	)

	order, coupon, err := s.prepare(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, apperr.CodeOf(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("order_id", order.ID.String()))

	var (
		intent    *payment.Intent
		attemptID = uuid.New()
		steps     []saga.Step
	)
	if order.PaymentMethod == domain.MethodGateway {
		steps = append(steps, saga.Func{
			StepName: "payment_intent",
			ExecuteFn: func(ctx context.Context) error {
				in, err := requestIntent(ctx, s.Gateway, s.cfg.GatewayTimeout, s.cfg.Currency, order, attemptID)
				if err != nil {
					return err
				}
				intent = in
				order.GatewayRef = in.Reference
				return nil
			},
			CompensateFn: func(ctx context.Context) error {
				return s.Gateway.CancelPaymentIntent(ctx, intent.Reference)
			},
		})
	}
	steps = append(steps, saga.Func{
		StepName: "persist_order",
		ExecuteFn: func(ctx context.Context) error {
			return s.Tx.WithTx(ctx, func(tx *sql.Tx) error {
				return s.persist(ctx, tx, order, coupon, intent, attemptID)
			})
		},
	})

	if err := saga.NewOrchestrator(s.Logger, steps...).Start(ctx); err != nil {
		err = apperr.From(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
		return nil, err
	}

	if err := s.Carts.DeleteCart(ctx, order.UserID); err != nil {
		s.Logger.Warn("failed to clear cart after checkout", zap.String("user_id", order.UserID.String()), zap.Error(err))
	}
	publish(ctx, s.Events, s.Logger, events.OrderPlaced, order)

	s.Logger.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("total", order.Total.String()),
	)
	return &CheckoutResult{Order: order, Payment: intent}, nil
}

func (s *checkoutService) prepare(ctx context.Context, req CheckoutRequest) (*domain.Order, *domain.Coupon, error) {
	if req.UserID == uuid.Nil {
		return nil, nil, apperr.Validation(apperr.CodeValidation, "user id is required")
	}
	switch req.PaymentMethod {
	case domain.MethodCOD, domain.MethodGateway, domain.MethodWallet:
	default:
		return nil, nil, apperr.Validation(apperr.CodeValidation, "unsupported payment method")
	}

	cart, err := s.Carts.GetCart(ctx, req.UserID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, nil, apperr.ErrEmptyCart
	}
	lines, err := mergeLines(cart.Items)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uuid.UUID, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.Products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, nil, apperr.NotFound("product " + l.ProductID.String())
		}
		if !p.IsListed || p.Stock < l.Quantity {
			return nil, nil, apperr.OutOfStock(p.ID, p.Name)
		}
		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  l.Quantity,
			UnitPrice: p.EffectivePrice(),
		})
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.Address,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   req.PaymentMethod.InitialPaymentStatus(),
		Status:          domain.OrderPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.Price(decimal.Zero, s.cfg.ShippingFee)

	var coupon *domain.Coupon
	if req.CouponCode != "" {
		coupon, err = s.Coupons.Validate(ctx, req.CouponCode, req.UserID, order.Subtotal)
		if err != nil {
			return nil, nil, err
		}
		order.CouponCode = coupon.Code
		order.Price(coupon.DiscountAmount, s.cfg.ShippingFee)
	}

	switch order.PaymentMethod {
	case domain.MethodCOD:
		if order.Total.GreaterThan(s.cfg.CODLimit) {
			return nil, nil, apperr.Validation(apperr.CodeCODLimitExceeded,
				"cash on delivery is only available for orders up to "+s.cfg.CODLimit.StringFixed(2))
		}
	case domain.MethodWallet:
		balance, err := s.Ledger.Balance(ctx, req.UserID)
		if err != nil {
			return nil, nil, err
		}
		if balance.LessThan(order.Total) {
			return nil, nil, apperr.ErrInsufficientBalance
		}
	case domain.MethodGateway:
	}

	return order, coupon, nil
}

// persist runs inside one transaction. Stock and coupon usage are re-checked
// by their conditional writes, so a concurrent checkout that won the race
// surfaces here as insufficient_stock or coupon_limit_exceeded.
func (s *checkoutService) persist(ctx context.Context, tx *sql.Tx, order *domain.Order, coupon *domain.Coupon, intent *payment.Intent, attemptID uuid.UUID) error {
	if err := s.Inventory.ReserveItems(ctx, tx, order.Items); err != nil {
		return err
	}
	if coupon != nil {
		if err := s.Coupons.CommitUsage(ctx, tx, coupon, order.UserID); err != nil {
			return err
		}
	}
	if order.PaymentMethod == domain.MethodWallet {
		if err := s.Ledger.Debit(ctx, tx, order.UserID, order.Total, "Payment for order "+order.ID.String(), &order.ID); err != nil {
			return err
		}
	}
	if err := s.Orders.CreateOrder(ctx, tx, order); err != nil {
		return apperr.Internal(err)
	}
	if intent != nil {
		attempt := &domain.PaymentAttempt{
			ID:         attemptID,
			OrderID:    order.ID,
			GatewayRef: intent.Reference,
			Amount:     order.Total,
			Currency:   s.cfg.Currency,
			Status:     domain.AttemptPending,
			CreatedAt:  order.CreatedAt,
			UpdatedAt:  order.CreatedAt,
		}
		if err := s.Payments.CreateAttempt(ctx, tx, attempt); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

// mergeLines folds duplicate products into one line, keeping first-seen order.
func mergeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	index := make(map[uuid.UUID]int, len(lines))
	out := make([]domain.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, apperr.Validation(apperr.CodeValidation, "quantity must be at least 1")
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
