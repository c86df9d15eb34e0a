package service

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"storefront-orders/internal/apperr"
	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
)

// Inventory reserves and releases product stock inside the caller's
// transaction.
type Inventory struct {
	products repo.ProductRepo
}

func NewInventory(products repo.ProductRepo) *Inventory {
	return &Inventory{products: products}
}

// Reserve decrements stock, re-checking availability against the row the
// update locks rather than any earlier read.
func (i *Inventory) Reserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return apperr.Validation(apperr.CodeValidation, "quantity must be at least 1")
	}
	ok, err := i.products.DecrementStock(ctx, tx, productID, qty)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.InsufficientStock(productID)
	}
	return nil
}

func (i *Inventory) Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, qty int) error {
	if err := i.products.IncrementStock(ctx, tx, productID, qty); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// ReserveItems reserves every line of an order. Rows are always locked in
// product id order so two checkouts over the same products cannot deadlock.
func (i *Inventory) ReserveItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error {
	for _, it := range byProduct(items) {
		if err := i.Reserve(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseItems returns every line of an order to stock, in the same lock
// order as ReserveItems.
func (i *Inventory) ReleaseItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error {
	for _, it := range byProduct(items) {
		if err := i.Release(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func byProduct(items []domain.OrderItem) []domain.OrderItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b domain.OrderItem) int {
		return strings.Compare(a.ProductID.String(), b.ProductID.String())
	})
	return sorted
}
