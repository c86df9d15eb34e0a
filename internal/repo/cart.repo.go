package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CartRepo reads the cart snapshot kept in Redis by the cart service.
type CartRepo interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	DeleteCart(ctx context.Context, userID uuid.UUID) error
}

type cartRepo struct {
	client *redis.Client
}

func NewCartRepo(client *redis.Client) CartRepo {
	return &cartRepo{client: client}
}

func cartKey(userID uuid.UUID) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

// GetCart returns nil when the user has no cart.
func (r *cartRepo) GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return &cart, nil
}

func (r *cartRepo) DeleteCart(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, cartKey(userID)).Err()
}
