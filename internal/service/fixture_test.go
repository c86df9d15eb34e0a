package service_test

import (
	"context"
	"testing"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store     *memStore
	gateway   *payment.MockGateway
	events    *recordingPublisher
	ledger    *service.Ledger
	coupons   service.CouponService
	checkout  service.CheckoutService
	orders    service.OrderService
	payments  service.PaymentService
	inventory *service.Inventory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	store := newMemStore()
	gw := payment.NewMockGateway(0)
	pub := &recordingPublisher{}

	inventory := service.NewInventory(memProducts{store})
	ledger := service.NewLedger(memWallets{store}, logger)
	coupons := service.NewCouponService(memCoupons{store}, logger)

	checkout, err := service.NewCheckoutService(service.CheckoutDeps{
		Tx:        store,
		Carts:     memCarts{store},
		Products:  memProducts{store},
		Orders:    memOrders{store},
		Payments:  memPayments{store},
		Inventory: inventory,
		Coupons:   coupons,
		Ledger:    ledger,
		Gateway:   gw,
		Events:    pub,
		Logger:    logger,
	}, service.CheckoutConfig{
		ShippingFee:    decimal.NewFromInt(100),
		CODLimit:       decimal.NewFromInt(2000),
		Currency:       "inr",
		GatewayTimeout: time.Second,
	})
	require.NoError(t, err)

	orders, err := service.NewOrderService(service.OrderDeps{
		Tx:        store,
		Orders:    memOrders{store},
		Payments:  memPayments{store},
		Inventory: inventory,
		Ledger:    ledger,
		Gateway:   gw,
		Events:    pub,
		Logger:    logger,
	})
	require.NoError(t, err)

	payments, err := service.NewPaymentService(service.PaymentDeps{
		Tx:       store,
		Orders:   memOrders{store},
		Payments: memPayments{store},
		Ledger:   ledger,
		Gateway:  gw,
		Events:   pub,
		Logger:   logger,
	}, service.PaymentConfig{Currency: "inr", GatewayTimeout: time.Second})
	require.NoError(t, err)

	return &fixture{
		store:     store,
		gateway:   gw,
		events:    pub,
		ledger:    ledger,
		coupons:   coupons,
		checkout:  checkout,
		orders:    orders,
		payments:  payments,
		inventory: inventory,
	}
}

func testAddress() domain.Address {
	return domain.Address{
		Name:    "Asha Rao",
		Phone:   "9876543210",
		Street:  "12 MG Road",
		City:    "Bengaluru",
		State:   "KA",
		Country: "India",
		ZipCode: "560001",
	}
}

func admin() service.Actor {
	return service.Actor{UserID: uuid.New(), Role: service.RoleAdmin}
}

func customer(id uuid.UUID) service.Actor {
	return service.Actor{UserID: id, Role: service.RoleCustomer}
}

// placeOrder checks out a single line of p for a fresh user.
func (f *fixture) placeOrder(t *testing.T, method domain.PaymentMethod, p domain.Product, qty int) (*service.CheckoutResult, uuid.UUID) {
	t.Helper()
	user := uuid.New()
	if method == domain.MethodWallet {
		f.store.fund(user, "100000")
	}
	f.store.setCart(user, domain.CartLine{ProductID: p.ID, Quantity: qty})

	res, err := f.checkout.PlaceOrder(context.Background(), service.CheckoutRequest{
		UserID:        user,
		Address:       testAddress(),
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return res, user
}

// advance walks an order through the given statuses as an admin.
func (f *fixture) advance(t *testing.T, id uuid.UUID, statuses ...domain.OrderStatus) *domain.Order {
	t.Helper()
	var (
		order *domain.Order
		err   error
	)
	for _, s := range statuses {
		order, err = f.orders.UpdateStatus(context.Background(), id, admin(), s)
		require.NoError(t, err, "moving to %s", s)
	}
	return order
}

func intPtr(n int) *int { return &n }
