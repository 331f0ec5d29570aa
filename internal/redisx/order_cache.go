package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/quickbuy/internal/checkout"
)

// OrderCache keeps rendered order views for a few minutes; the database
// stays the source of truth.
type OrderCache struct {
	rdb redis.Cmdable
}

func NewOrderCache(rdb redis.Cmdable) *OrderCache {
	return &OrderCache{rdb: rdb}
}

// Get returns (nil, nil) on a miss.
func (c *OrderCache) Get(ctx context.Context, orderID string) (*checkout.OrderView, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderView, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v checkout.OrderView
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode cached order %s: %w", orderID, err)
	}
	return &v, nil
}

func (c *OrderCache) Put(ctx context.Context, v *checkout.OrderView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderView, v.Order.ID), b, TTLOrderView).Err()
}
