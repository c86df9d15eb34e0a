package handler

import (
	"net/http"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/middleware"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PlaceOrderRequest struct {
	ShippingAddress domain.Address `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method" binding:"required"`
	CouponCode      string         `json:"coupon_code" binding:"max=32"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type ConfirmPaymentRequest struct {
	OrderID    string `json:"order_id" binding:"required,uuid"`
	GatewayRef string `json:"gateway_ref" binding:"required"`
}

type ReturnRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type listQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Status string `form:"status"`
}

type OrderHandler struct {
	checkout service.CheckoutService
	orders   service.OrderService
	payments service.PaymentService
	logger   *zap.Logger
}

func NewOrderHandler(checkout service.CheckoutService, orders service.OrderService, payments service.PaymentService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{checkout: checkout, orders: orders, payments: payments, logger: logger}
}

// PlaceOrder handles POST /orders.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(c, h.logger, apperr.Validation(apperr.CodeValidation, err.Error()))
		return
	}

	result, err := h.checkout.PlaceOrder(c.Request.Context(), service.CheckoutRequest{
		UserID:        middleware.CurrentActor(c).UserID,
		Address:       req.ShippingAddress,
		PaymentMethod: method,
		CouponCode:    req.CouponCode,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListMine handles GET /orders.
func (h *OrderHandler) ListMine(c *gin.Context) {
	h.list(c, repo.OrderFilter{UserID: middleware.CurrentActor(c).UserID})
}

// ListAll handles GET /admin/orders.
func (h *OrderHandler) ListAll(c *gin.Context) {
	h.list(c, repo.OrderFilter{})
}

func (h *OrderHandler) list(c *gin.Context, filter repo.OrderFilter) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}
	filter.Page, filter.Limit, filter.Status = q.Page, q.Limit, domain.OrderStatus(q.Status)

	page, err := h.orders.ListOrders(c.Request.Context(), middleware.CurrentActor(c), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetOrder handles GET /orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id, middleware.CurrentActor(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateStatus handles PATCH /orders/:id/status.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), id, middleware.CurrentActor(c), domain.OrderStatus(req.Status))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// RetryPayment handles POST /orders/:id/retry-payment.
func (h *OrderHandler) RetryPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	result, err := h.payments.Retry(c.Request.Context(), id, middleware.CurrentActor(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ConfirmPayment handles PATCH /orders/payment, the client-side callback
// after the customer completed payment.
func (h *OrderHandler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}
	orderID := uuid.MustParse(req.OrderID)

	order, err := h.payments.Confirm(c.Request.Context(), orderID, middleware.CurrentActor(c), req.GatewayRef)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// RequestReturn handles POST /orders/:id/request-return.
func (h *OrderHandler) RequestReturn(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}

	order, err := h.orders.RequestReturn(c.Request.Context(), id, middleware.CurrentActor(c).UserID, req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
