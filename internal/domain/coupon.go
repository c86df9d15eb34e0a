package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Coupon struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	MinPurchase    decimal.Decimal `json:"min_purchase"`
	EndDate        time.Time       `json:"end_date"`
	IsActive       bool            `json:"is_active"`
	// UsagePerUser nil means unlimited.
	UsagePerUser *int      `json:"usage_per_user"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Coupon) Expired(now time.Time) bool {
	return !now.Before(c.EndDate)
}

// Exhausted reports whether a user who already redeemed used times may not
// redeem again.
func (c *Coupon) Exhausted(used int) bool {
	return c.UsagePerUser != nil && used >= *c.UsagePerUser
}
