package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type OrderRepo interface {
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindByIdForUpdate locks the order row until tx ends.
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)
}

// OrderFilter selects a page of orders, newest first. Zero values match all.
type OrderFilter struct {
	UserID uuid.UUID
	Status domain.OrderStatus
	Page   int
	Limit  int
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id, user_id, shipping_address, payment_method, payment_status, status,
	subtotal, discount, shipping_fee, total, coupon_code, gateway_ref, return_reason,
	return_requested_at, created_at, updated_at`

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order       domain.Order
		requestedAt sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ShippingAddress,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.Status,
		&order.Subtotal,
		&order.Discount,
		&order.ShippingFee,
		&order.Total,
		&order.CouponCode,
		&order.GatewayRef,
		&order.ReturnReason,
		&requestedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if requestedAt.Valid {
		order.ReturnRequestedAt = &requestedAt.Time
	}
	return &order, nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, r.db, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) findOne(ctx context.Context, q querier, query string, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, q, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, shipping_address, payment_method, payment_status, status,
			subtotal, discount, shipping_fee, total, coupon_code, gateway_ref, return_reason,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.UserID, order.ShippingAddress, order.PaymentMethod, order.PaymentStatus, order.Status,
		order.Subtotal, order.Discount, order.ShippingFee, order.Total, order.CouponCode, order.GatewayRef,
		order.ReturnReason, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range order.Items {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, name, quantity, unit_price) VALUES ($1, $2, $3, $4, $5)",
			order.ID, it.ProductID, it.Name, it.Quantity, it.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_method = $3,
		    payment_status = $4,
		    gateway_ref = $5,
		    return_reason = $6,
		    return_requested_at = $7,
		    updated_at = $8
		WHERE id = $1`,
		order.ID, order.Status, order.PaymentMethod, order.PaymentStatus, order.GatewayRef,
		order.ReturnReason, order.ReturnRequestedAt, order.UpdatedAt,
	)
	return err
}

func (r *orderRepo) List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	where := "WHERE ($1::uuid IS NULL OR user_id = $1) AND ($2 = '' OR status = $2)"
	var userArg any
	if filter.UserID != uuid.Nil {
		userArg = filter.UserID
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, userArg, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders "+where+" ORDER BY created_at DESC LIMIT $3 OFFSET $4",
		userArg, string(filter.Status), filter.Limit, (filter.Page-1)*filter.Limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []uuid.UUID
	)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	out := make(map[uuid.UUID][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx,
		"SELECT order_id, product_id, name, quantity, unit_price FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY name",
		uuidStrings(orderIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
