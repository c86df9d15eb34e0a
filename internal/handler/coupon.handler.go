package handler

import (
	"net/http"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/middleware"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CouponHandler struct {
	coupons service.CouponService
	logger  *zap.Logger
}

func NewCouponHandler(coupons service.CouponService, logger *zap.Logger) *CouponHandler {
	return &CouponHandler{coupons: coupons, logger: logger}
}

func (h *CouponHandler) Create(c *gin.Context) {
	var req service.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}
	coupon, err := h.coupons.CreateCoupon(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

func (h *CouponHandler) List(c *gin.Context) {
	coupons, err := h.coupons.ListCoupons(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (h *CouponHandler) Toggle(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	coupon, err := h.coupons.ToggleCoupon(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}

// Applicable handles GET /coupons/applicable?subtotal=.
func (h *CouponHandler) Applicable(c *gin.Context) {
	subtotal, err := decimal.NewFromString(c.Query("subtotal"))
	if err != nil || subtotal.IsNegative() {
		writeError(c, h.logger, apperr.Validation(apperr.CodeValidation, "subtotal must be a non-negative amount"))
		return
	}
	coupons, err := h.coupons.ApplicableCoupons(c.Request.Context(), middleware.CurrentActor(c).UserID, subtotal)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}
