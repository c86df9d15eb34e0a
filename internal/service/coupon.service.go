package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateCouponRequest struct {
	Code           string          `json:"code" binding:"required,min=3,max=32"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	MinPurchase    decimal.Decimal `json:"min_purchase"`
	EndDate        time.Time       `json:"end_date"`
	UsagePerUser   *int            `json:"usage_per_user"`
}

type CouponService interface {
	// Validate checks a code for a user and cart subtotal without mutating
	// anything.
	Validate(ctx context.Context, code string, userID uuid.UUID, subtotal decimal.Decimal) (*domain.Coupon, error)
	// CommitUsage records one redemption inside tx.
	CommitUsage(ctx context.Context, tx *sql.Tx, coupon *domain.Coupon, userID uuid.UUID) error

	CreateCoupon(ctx context.Context, req *CreateCouponRequest) (*domain.Coupon, error)
	ListCoupons(ctx context.Context) ([]domain.Coupon, error)
	ToggleCoupon(ctx context.Context, id uuid.UUID) (*domain.Coupon, error)
	ApplicableCoupons(ctx context.Context, userID uuid.UUID, subtotal decimal.Decimal) ([]domain.Coupon, error)
}

type couponService struct {
	repo   repo.CouponRepo
	logger *zap.Logger
	now    func() time.Time
}

func NewCouponService(r repo.CouponRepo, logger *zap.Logger) CouponService {
	return &couponService{repo: r, logger: logger, now: time.Now}
}

func (s *couponService) Validate(ctx context.Context, code string, userID uuid.UUID, subtotal decimal.Decimal) (*domain.Coupon, error) {
	code = strings.TrimSpace(code)
	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if coupon == nil {
		return nil, apperr.Validation(apperr.CodeCouponInvalid, "coupon not found")
	}
	if !coupon.IsActive {
		return nil, apperr.Validation(apperr.CodeCouponInvalid, "coupon is inactive")
	}
	if coupon.Expired(s.now()) {
		return nil, apperr.Validation(apperr.CodeCouponInvalid, "coupon has expired")
	}
	if subtotal.LessThan(coupon.MinPurchase) {
		return nil, apperr.Validation(apperr.CodeCouponMinimumNotMet,
			"minimum purchase of "+coupon.MinPurchase.StringFixed(2)+" required")
	}

	used, err := s.repo.UsageCount(ctx, coupon.ID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if coupon.Exhausted(used) {
		return nil, apperr.ErrCouponLimitExceeded
	}
	return coupon, nil
}

func (s *couponService) CommitUsage(ctx context.Context, tx *sql.Tx, coupon *domain.Coupon, userID uuid.UUID) error {
	ok, err := s.repo.IncrementUsage(ctx, tx, coupon.ID, userID, coupon.UsagePerUser)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.ErrCouponLimitExceeded
	}
	return nil
}

func (s *couponService) CreateCoupon(ctx context.Context, req *CreateCouponRequest) (*domain.Coupon, error) {
	if !req.DiscountAmount.IsPositive() {
		return nil, apperr.Validation(apperr.CodeValidation, "discount amount must be positive")
	}
	if req.MinPurchase.IsNegative() {
		return nil, apperr.Validation(apperr.CodeValidation, "minimum purchase cannot be negative")
	}
	if !req.EndDate.After(s.now()) {
		return nil, apperr.Validation(apperr.CodeValidation, "end date must be in the future")
	}
	if req.UsagePerUser != nil && *req.UsagePerUser < 1 {
		return nil, apperr.Validation(apperr.CodeValidation, "usage per user must be at least 1")
	}

	coupon := &domain.Coupon{
		ID:             uuid.New(),
		Code:           strings.ToUpper(strings.TrimSpace(req.Code)),
		DiscountAmount: req.DiscountAmount,
		MinPurchase:    req.MinPurchase,
		EndDate:        req.EndDate,
		IsActive:       true,
		UsagePerUser:   req.UsagePerUser,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.Create(ctx, coupon); err != nil {
		if errors.Is(err, repo.ErrDuplicateCode) {
			return nil, apperr.Conflict(apperr.CodeCouponExists, "coupon code already exists")
		}
		return nil, apperr.Internal(err)
	}

	s.logger.Info("coupon created", zap.String("code", coupon.Code), zap.String("coupon_id", coupon.ID.String()))
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	coupons, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return coupons, nil
}

func (s *couponService) ToggleCoupon(ctx context.Context, id uuid.UUID) (*domain.Coupon, error) {
	coupon, err := s.repo.FindById(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if coupon == nil {
		return nil, apperr.NotFound("coupon")
	}

	coupon.IsActive = !coupon.IsActive
	if err := s.repo.SetActive(ctx, id, coupon.IsActive); err != nil {
		return nil, apperr.Internal(err)
	}
	return coupon, nil
}

func (s *couponService) ApplicableCoupons(ctx context.Context, userID uuid.UUID, subtotal decimal.Decimal) ([]domain.Coupon, error) {
	coupons, err := s.repo.ListApplicable(ctx, userID, subtotal, s.now())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return coupons, nil
}
