package server_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/handler"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/server"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var secret = []byte("router-test-secret")

type stubCheckout struct {
	got service.CheckoutRequest
	err error
}

func (s *stubCheckout) PlaceOrder(_ context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.CheckoutResult{Order: &domain.Order{
		ID:            uuid.New(),
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.OrderPending,
		Total:         decimal.NewFromInt(1600),
	}}, nil
}

type stubOrders struct {
	actor  service.Actor
	target domain.OrderStatus
	filter repo.OrderFilter
	reason string
	err    error
}

func (s *stubOrders) GetOrder(_ context.Context, id uuid.UUID, actor service.Actor) (*domain.Order, error) {
	s.actor = actor
	return &domain.Order{ID: id}, s.err
}

func (s *stubOrders) ListOrders(_ context.Context, actor service.Actor, filter repo.OrderFilter) (*service.OrderPage, error) {
	s.actor, s.filter = actor, filter
	return &service.OrderPage{Orders: []domain.Order{}, Page: 1, Limit: 20}, s.err
}

func (s *stubOrders) UpdateStatus(_ context.Context, id uuid.UUID, actor service.Actor, target domain.OrderStatus) (*domain.Order, error) {
	s.actor, s.target = actor, target
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: id, Status: target}, nil
}

func (s *stubOrders) RequestReturn(_ context.Context, id uuid.UUID, _ uuid.UUID, reason string) (*domain.Order, error) {
	s.reason = reason
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: id, Status: domain.OrderDelivered, ReturnReason: reason}, nil
}

type stubPayments struct {
	confirmedRef string
	err          error
}

func (s *stubPayments) Confirm(_ context.Context, orderID uuid.UUID, _ service.Actor, ref string) (*domain.Order, error) {
	s.confirmedRef = ref
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Order{ID: orderID, GatewayRef: ref, PaymentStatus: domain.PaymentPaid}, nil
}

func (s *stubPayments) MarkFailed(_ context.Context, orderID uuid.UUID, ref string) (*domain.Order, error) {
	return &domain.Order{ID: orderID}, s.err
}

func (s *stubPayments) Retry(_ context.Context, orderID uuid.UUID, _ service.Actor) (*service.RetryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.RetryResult{OrderID: orderID, Reference: "pi_new", Currency: "inr"}, nil
}

type stubWallets struct{}

func (stubWallets) GetWallet(_ context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return &domain.Wallet{UserID: userID, Balance: decimal.NewFromInt(250), Transactions: []domain.WalletTransaction{}}, nil
}

type stubCoupons struct {
	subtotal decimal.Decimal
}

func (s *stubCoupons) Validate(context.Context, string, uuid.UUID, decimal.Decimal) (*domain.Coupon, error) {
	return nil, apperr.ErrCouponInvalid
}

func (s *stubCoupons) CommitUsage(context.Context, *sql.Tx, *domain.Coupon, uuid.UUID) error {
	return nil
}

func (s *stubCoupons) CreateCoupon(_ context.Context, req *service.CreateCouponRequest) (*domain.Coupon, error) {
	return &domain.Coupon{ID: uuid.New(), Code: req.Code, IsActive: true}, nil
}

func (s *stubCoupons) ListCoupons(context.Context) ([]domain.Coupon, error) {
	return []domain.Coupon{}, nil
}

func (s *stubCoupons) ToggleCoupon(_ context.Context, id uuid.UUID) (*domain.Coupon, error) {
	return nil, apperr.NotFound("coupon")
}

func (s *stubCoupons) ApplicableCoupons(_ context.Context, _ uuid.UUID, subtotal decimal.Decimal) ([]domain.Coupon, error) {
	s.subtotal = subtotal
	return []domain.Coupon{}, nil
}

type harness struct {
	router   *gin.Engine
	checkout *stubCheckout
	orders   *stubOrders
	payments *stubPayments
	coupons  *stubCoupons
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		checkout: &stubCheckout{},
		orders:   &stubOrders{},
		payments: &stubPayments{},
		coupons:  &stubCoupons{},
	}
	logger := zap.NewNop()
	h.router = server.NewRouter(server.Handlers{
		Orders:  handler.NewOrderHandler(h.checkout, h.orders, h.payments, logger),
		Wallet:  handler.NewWalletHandler(stubWallets{}, logger),
		Coupons: handler.NewCouponHandler(h.coupons, logger),
	}, server.Options{
		JWTSecret:      secret,
		RequestTimeout: 5 * time.Second,
		RateLimit:      3,
	}, logger)
	return h
}

func token(t *testing.T, sub string, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func validOrderBody() gin.H {
	return gin.H{
		"payment_method": "COD",
		"shipping_address": gin.H{
			"name":     "Asha Rao",
			"phone":    "9876543210",
			"street":   "12 MG Road",
			"city":     "Bengaluru",
			"state":    "KA",
			"country":  "India",
			"zip_code": "560001",
		},
	}
}

func TestAuth(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	rec := h.do(t, http.MethodGet, "/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeUnauthorized, errorCode(t, rec))

	rec = h.do(t, http.MethodGet, "/wallet", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": user.String()}).SignedString([]byte("other"))
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/wallet", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/wallet", token(t, "not-a-uuid", "user"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/wallet", token(t, user.String(), "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wallet domain.Wallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wallet))
	assert.Equal(t, user, wallet.UserID)
	assert.True(t, decimal.NewFromInt(250).Equal(wallet.Balance))
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/admin/orders", token(t, uuid.NewString(), "user"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeForbidden, errorCode(t, rec))

	// unknown roles are treated as customers
	rec = h.do(t, http.MethodGet, "/admin/orders", token(t, uuid.NewString(), "system"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/admin/orders?status=Pending&page=2", token(t, uuid.NewString(), "admin"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.RoleAdmin, h.orders.actor.Role)
	assert.Equal(t, domain.OrderPending, h.orders.filter.Status)
	assert.Equal(t, 2, h.orders.filter.Page)
	assert.Equal(t, uuid.Nil, h.orders.filter.UserID)
}

func TestPlaceOrder(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	rec := h.do(t, http.MethodPost, "/orders", token(t, user.String(), "user"), validOrderBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, user, h.checkout.got.UserID)
	assert.Equal(t, domain.MethodCOD, h.checkout.got.PaymentMethod)
	assert.Equal(t, "560001", h.checkout.got.Address.ZipCode)

	var res service.CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.OrderPending, res.Order.Status)
	assert.Nil(t, res.Payment)
}

func TestPlaceOrder_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	bearer := token(t, uuid.NewString(), "user")

	noAddress := validOrderBody()
	delete(noAddress, "shipping_address")
	badMethod := validOrderBody()
	badMethod["payment_method"] = "Cheque"

	for name, body := range map[string]gin.H{"missing address": noAddress, "unknown method": badMethod} {
		rec := h.do(t, http.MethodPost, "/orders", bearer, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, apperr.CodeValidation, errorCode(t, rec), name)
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.ErrEmptyCart, http.StatusBadRequest, apperr.CodeEmptyCart},
		{apperr.ErrInsufficientBalance, http.StatusPaymentRequired, apperr.CodeInsufficientBalance},
		{apperr.InsufficientStock(uuid.New()), http.StatusConflict, apperr.CodeInsufficientStock},
		{apperr.NotFound("product"), http.StatusNotFound, apperr.CodeNotFound},
		{context.DeadlineExceeded, http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.checkout.err = tc.err

		rec := h.do(t, http.MethodPost, "/orders", token(t, uuid.NewString(), "user"), validOrderBody())
		assert.Equal(t, tc.status, rec.Code, tc.code)
		assert.Equal(t, tc.code, errorCode(t, rec))
	}
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	rec := h.do(t, http.MethodPatch, "/orders/"+id.String()+"/status", token(t, uuid.NewString(), "admin"), gin.H{"status": "Shipped"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderShipped, h.orders.target)

	h.orders.err = apperr.InvalidTransition("Cancelled", "Processing")
	rec = h.do(t, http.MethodPatch, "/orders/"+id.String()+"/status", token(t, uuid.NewString(), "admin"), gin.H{"status": "Processing"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeInvalidTransition, errorCode(t, rec))

	rec = h.do(t, http.MethodPatch, "/orders/not-an-id/status", token(t, uuid.NewString(), "admin"), gin.H{"status": "Shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPatch, "/orders/"+id.String()+"/status", token(t, uuid.NewString(), "admin"), gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmPayment(t *testing.T) {
	h := newHarness(t)
	bearer := token(t, uuid.NewString(), "user")

	rec := h.do(t, http.MethodPatch, "/orders/payment", bearer, gin.H{"order_id": uuid.NewString(), "gateway_ref": "pi_123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pi_123", h.payments.confirmedRef)

	rec = h.do(t, http.MethodPatch, "/orders/payment", bearer, gin.H{"order_id": "42", "gateway_ref": "pi_123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.payments.err = apperr.Payment(apperr.CodePaymentIncomplete, "payment has not completed", nil)
	rec = h.do(t, http.MethodPatch, "/orders/payment", bearer, gin.H{"order_id": uuid.NewString(), "gateway_ref": "pi_123"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, apperr.CodePaymentIncomplete, errorCode(t, rec))
}

func TestRetryPayment(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	rec := h.do(t, http.MethodPost, "/orders/"+id.String()+"/retry-payment", token(t, uuid.NewString(), "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.RetryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, id, res.OrderID)
	assert.Equal(t, "pi_new", res.Reference)

	h.payments.err = apperr.ErrAlreadyPaid
	rec = h.do(t, http.MethodPost, "/orders/"+id.String()+"/retry-payment", token(t, uuid.NewString(), "user"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeAlreadyPaid, errorCode(t, rec))
}

func TestRequestReturn(t *testing.T) {
	h := newHarness(t)
	path := "/orders/" + uuid.NewString() + "/request-return"
	bearer := token(t, uuid.NewString(), "user")

	rec := h.do(t, http.MethodPost, path, bearer, gin.H{"reason": "damaged in transit"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "damaged in transit", h.orders.reason)

	rec = h.do(t, http.MethodPost, path, bearer, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrderIsRateLimitedPerUser(t *testing.T) {
	h := newHarness(t)
	bearer := token(t, uuid.NewString(), "user")

	for i := 0; i < 3; i++ {
		rec := h.do(t, http.MethodPost, "/orders", bearer, validOrderBody())
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/orders", bearer, validOrderBody())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperr.CodeRateLimited, errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/orders", token(t, uuid.NewString(), "user"), validOrderBody())
	assert.Equal(t, http.StatusCreated, rec.Code, "other callers have their own bucket")
}

func TestCoupons(t *testing.T) {
	h := newHarness(t)
	adminBearer := token(t, uuid.NewString(), "admin")

	rec := h.do(t, http.MethodPost, "/admin/coupons", adminBearer, gin.H{
		"code":            "WELCOME10",
		"discount_amount": "100",
		"min_purchase":    "500",
		"end_date":        time.Now().Add(24 * time.Hour),
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPatch, "/admin/coupons/"+uuid.NewString()+"/toggle", adminBearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/coupons/applicable?subtotal=1499.50", token(t, uuid.NewString(), "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1499.5", h.coupons.subtotal.String())

	rec = h.do(t, http.MethodGet, "/coupons/applicable?subtotal=abc", token(t, uuid.NewString(), "user"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
