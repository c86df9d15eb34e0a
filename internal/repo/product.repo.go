package repo

import (
	"context"
	"database/sql"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type ProductRepo interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error)
	// DecrementStock reports false when the product has fewer than qty units.
	DecrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, qty int) (bool, error)
	IncrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, qty int) error
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	out := make(map[uuid.UUID]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, is_listed, stock, price, discount_price FROM products WHERE id = ANY($1::uuid[])",
		uuidStrings(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.IsListed, &p.Stock, &p.Price, &p.DiscountPrice); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// The conditional update takes the row lock, so concurrent reservations on
// one product serialize and stock never goes negative.
func (r *productRepo) DecrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, qty int) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2",
		id, qty,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *productRepo) IncrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, qty int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1",
		id, qty,
	)
	return err
}
