package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ErrDuplicateCode is returned by Create when the code exists in any casing.
var ErrDuplicateCode = errors.New("coupon code already exists")

type CouponRepo interface {
	Create(ctx context.Context, c *domain.Coupon) error
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
	FindById(ctx context.Context, id uuid.UUID) (*domain.Coupon, error)
	List(ctx context.Context) ([]domain.Coupon, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UsageCount(ctx context.Context, couponID, userID uuid.UUID) (int, error)
	// IncrementUsage reports false when the user already reached limit.
	IncrementUsage(ctx context.Context, tx *sql.Tx, couponID, userID uuid.UUID, limit *int) (bool, error)
	ListApplicable(ctx context.Context, userID uuid.UUID, subtotal decimal.Decimal, now time.Time) ([]domain.Coupon, error)
}

const couponColumns = "id, code, discount_amount, min_purchase, end_date, is_active, usage_per_user, created_at"

type couponRepo struct {
	db *sql.DB
}

func NewCouponRepo(db *sql.DB) CouponRepo {
	return &couponRepo{db: db}
}

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var (
		c     domain.Coupon
		limit sql.NullInt32
	)
	if err := row.Scan(&c.ID, &c.Code, &c.DiscountAmount, &c.MinPurchase, &c.EndDate, &c.IsActive, &limit, &c.CreatedAt); err != nil {
		return nil, err
	}
	if limit.Valid {
		n := int(limit.Int32)
		c.UsagePerUser = &n
	}
	return &c, nil
}

func (r *couponRepo) Create(ctx context.Context, c *domain.Coupon) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO coupons ("+couponColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		c.ID, c.Code, c.DiscountAmount, c.MinPurchase, c.EndDate, c.IsActive, c.UsagePerUser, c.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

func (r *couponRepo) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := scanCoupon(r.db.QueryRowContext(ctx,
		"SELECT "+couponColumns+" FROM coupons WHERE LOWER(code) = LOWER($1)", code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *couponRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Coupon, error) {
	c, err := scanCoupon(r.db.QueryRowContext(ctx,
		"SELECT "+couponColumns+" FROM coupons WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *couponRepo) List(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+couponColumns+" FROM coupons ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return collectCoupons(rows)
}

func (r *couponRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE coupons SET is_active = $2 WHERE id = $1", id, active)
	return err
}

func (r *couponRepo) UsageCount(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT used_count FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2",
		couponID, userID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// The upsert creates the per-user row on first use. The conflict branch
// holds the row lock while it checks the limit, so concurrent redemptions
// by one user cannot both pass.
func (r *couponRepo) IncrementUsage(ctx context.Context, tx *sql.Tx, couponID, userID uuid.UUID, limit *int) (bool, error) {
	var used int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO coupon_usages (coupon_id, user_id, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, user_id) DO UPDATE
		SET used_count = coupon_usages.used_count + 1
		WHERE $3::int IS NULL OR coupon_usages.used_count < $3::int
		RETURNING used_count`,
		couponID, userID, limit,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *couponRepo) ListApplicable(ctx context.Context, userID uuid.UUID, subtotal decimal.Decimal, now time.Time) ([]domain.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.code, c.discount_amount, c.min_purchase, c.end_date, c.is_active, c.usage_per_user, c.created_at
		FROM coupons c
		LEFT JOIN coupon_usages u ON u.coupon_id = c.id AND u.user_id = $1
		WHERE c.is_active
		  AND c.end_date > $3
		  AND c.min_purchase <= $2
		  AND (c.usage_per_user IS NULL OR COALESCE(u.used_count, 0) < c.usage_per_user)
		ORDER BY c.discount_amount DESC`,
		userID, subtotal, now,
	)
	if err != nil {
		return nil, err
	}
	return collectCoupons(rows)
}

func collectCoupons(rows *sql.Rows) ([]domain.Coupon, error) {
	defer rows.Close()
	var out []domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
