package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/events"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for Postgres. WithTx serializes
// transactions and restores a snapshot when fn fails, which gives the
// services the same all-or-nothing behaviour the real database does.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[uuid.UUID]domain.Product
	orders   map[uuid.UUID]domain.Order
	attempts map[string]domain.PaymentAttempt
	coupons  map[uuid.UUID]domain.Coupon
	usages   map[usageKey]int
	wallets  map[uuid.UUID]decimal.Decimal
	txns     []domain.WalletTransaction
	carts    map[uuid.UUID]domain.Cart

	failCreateOrder error
}

type usageKey struct {
	coupon uuid.UUID
	user   uuid.UUID
}

type memSnapshot struct {
	products map[uuid.UUID]domain.Product
	orders   map[uuid.UUID]domain.Order
	attempts map[string]domain.PaymentAttempt
	coupons  map[uuid.UUID]domain.Coupon
	usages   map[usageKey]int
	wallets  map[uuid.UUID]decimal.Decimal
	txns     []domain.WalletTransaction
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[uuid.UUID]domain.Product),
		orders:   make(map[uuid.UUID]domain.Order),
		attempts: make(map[string]domain.PaymentAttempt),
		coupons:  make(map[uuid.UUID]domain.Coupon),
		usages:   make(map[usageKey]int),
		wallets:  make(map[uuid.UUID]decimal.Decimal),
		carts:    make(map[uuid.UUID]domain.Cart),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memSnapshot{
		products: cloneMap(s.products),
		orders:   cloneMap(s.orders),
		attempts: cloneMap(s.attempts),
		coupons:  cloneMap(s.coupons),
		usages:   cloneMap(s.usages),
		wallets:  cloneMap(s.wallets),
		txns:     append([]domain.WalletTransaction(nil), s.txns...),
	}
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.products, s.orders, s.attempts = snap.products, snap.orders, snap.attempts
		s.coupons, s.usages, s.wallets, s.txns = snap.coupons, snap.usages, snap.wallets, snap.txns
		s.mu.Unlock()
		return err
	}
	return nil
}

// seeding and inspection helpers

func (s *memStore) addProduct(name string, stock int, price, discount string) domain.Product {
	p := domain.Product{
		ID:       uuid.New(),
		Name:     name,
		IsListed: true,
		Stock:    stock,
		Price:    decimal.RequireFromString(price),
	}
	if discount != "" {
		p.DiscountPrice = decimal.NewNullDecimal(decimal.RequireFromString(discount))
	}
	s.mu.Lock()
	s.products[p.ID] = p
	s.mu.Unlock()
	return p
}

func (s *memStore) setCart(userID uuid.UUID, lines ...domain.CartLine) {
	s.mu.Lock()
	s.carts[userID] = domain.Cart{UserID: userID, Items: lines, UpdatedAt: time.Now()}
	s.mu.Unlock()
}

func (s *memStore) addCoupon(code string, discount, min string, usagePerUser *int) domain.Coupon {
	c := domain.Coupon{
		ID:             uuid.New(),
		Code:           code,
		DiscountAmount: decimal.RequireFromString(discount),
		MinPurchase:    decimal.RequireFromString(min),
		EndDate:        time.Now().Add(24 * time.Hour),
		IsActive:       true,
		UsagePerUser:   usagePerUser,
		CreatedAt:      time.Now(),
	}
	s.mu.Lock()
	s.coupons[c.ID] = c
	s.mu.Unlock()
	return c
}

func (s *memStore) fund(userID uuid.UUID, amount string) {
	s.mu.Lock()
	s.wallets[userID] = s.wallets[userID].Add(decimal.RequireFromString(amount))
	s.mu.Unlock()
}

func (s *memStore) stock(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *memStore) balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[userID]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) usage(couponID, userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usages[usageKey{couponID, userID}]
}

func (s *memStore) walletTxns(userID uuid.UUID) []domain.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WalletTransaction
	for _, t := range s.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) attempt(ref string) domain.PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[ref]
}

func (s *memStore) putOrder(o domain.Order) {
	s.mu.Lock()
	s.orders[o.ID] = copyOrder(o)
	s.mu.Unlock()
}

func (s *memStore) order(id uuid.UUID) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOrder(s.orders[id])
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.ReturnRequestedAt != nil {
		t := *o.ReturnRequestedAt
		o.ReturnRequestedAt = &t
	}
	return o
}

// carts

type memCarts struct{ *memStore }

func (r memCarts) GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[userID]
	if !ok {
		return nil, nil
	}
	c.Items = append([]domain.CartLine(nil), c.Items...)
	return &c, nil
}

func (r memCarts) DeleteCart(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

// products

type memProducts struct{ *memStore }

func (r memProducts) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r memProducts) DecrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	r.products[id] = p
	return true, nil
}

func (r memProducts) IncrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[id]
	p.Stock += qty
	r.products[id] = p
	return nil
}

// orders

type memOrders struct{ *memStore }

func (r memOrders) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	o = copyOrder(o)
	return &o, nil
}

func (r memOrders) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.FindById(ctx, id)
}

func (r memOrders) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateOrder != nil {
		return r.failCreateOrder
	}
	r.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r memOrders) UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return errors.New("update of unknown order")
	}
	r.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r memOrders) List(ctx context.Context, f repo.OrderFilter) ([]domain.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Order
	for _, o := range r.orders {
		if f.UserID != uuid.Nil && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		all = append(all, copyOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (f.Page - 1) * f.Limit
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := min(start+f.Limit, len(all))
	return all[start:end], len(all), nil
}

// payment attempts

type memPayments struct{ *memStore }

func (r memPayments) CreateAttempt(ctx context.Context, tx *sql.Tx, a *domain.PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.attempts[a.GatewayRef]; dup {
		return errors.New("duplicate gateway reference")
	}
	r.attempts[a.GatewayRef] = *a
	return nil
}

func (r memPayments) UpdateAttemptStatus(ctx context.Context, tx *sql.Tx, ref string, status domain.AttemptStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[ref]; ok && a.Status == domain.AttemptPending {
		a.Status = status
		r.attempts[ref] = a
	}
	return nil
}

func (r memPayments) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentAttempt
	for _, a := range r.attempts {
		if a.Status == domain.AttemptPending && a.CreatedAt.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// coupons

type memCoupons struct{ *memStore }

func (r memCoupons) Create(ctx context.Context, c *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.coupons {
		if strings.EqualFold(existing.Code, c.Code) {
			return repo.ErrDuplicateCode
		}
	}
	r.coupons[c.ID] = *c
	return nil
}

func (r memCoupons) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if strings.EqualFold(c.Code, code) {
			return &c, nil
		}
	}
	return nil, nil
}

func (r memCoupons) FindById(ctx context.Context, id uuid.UUID) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memCoupons) List(ctx context.Context) ([]domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Coupon, 0, len(r.coupons))
	for _, c := range r.coupons {
		out = append(out, c)
	}
	return out, nil
}

func (r memCoupons) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.coupons[id]
	c.IsActive = active
	r.coupons[id] = c
	return nil
}

func (r memCoupons) UsageCount(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	return r.usage(couponID, userID), nil
}

func (r memCoupons) IncrementUsage(ctx context.Context, tx *sql.Tx, couponID, userID uuid.UUID, limit *int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := usageKey{couponID, userID}
	if limit != nil && r.usages[k] >= *limit {
		return false, nil
	}
	r.usages[k]++
	return true, nil
}

func (r memCoupons) ListApplicable(ctx context.Context, userID uuid.UUID, subtotal decimal.Decimal, now time.Time) ([]domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Coupon
	for _, c := range r.coupons {
		if c.IsActive && !c.Expired(now) && !subtotal.LessThan(c.MinPurchase) && !c.Exhausted(r.usages[usageKey{c.ID, userID}]) {
			out = append(out, c)
		}
	}
	return out, nil
}

// wallets

type memWallets struct{ *memStore }

func (r memWallets) Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.wallets[userID]
	if !ok || bal.LessThan(amount) {
		return false, nil
	}
	r.wallets[userID] = bal.Sub(amount)
	return true, nil
}

func (r memWallets) Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[userID] = r.wallets[userID].Add(amount)
	return nil
}

func (r memWallets) AppendTransaction(ctx context.Context, tx *sql.Tx, t *domain.WalletTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns = append(r.txns, *t)
	return nil
}

func (r memWallets) FindBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.wallets[userID]
	return bal, ok, nil
}

func (r memWallets) History(ctx context.Context, userID uuid.UUID) ([]domain.WalletTransaction, error) {
	txns := r.walletTxns(userID)
	out := make([]domain.WalletTransaction, 0, len(txns))
	for i := len(txns) - 1; i >= 0; i-- {
		out = append(out, txns[i])
	}
	return out, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
