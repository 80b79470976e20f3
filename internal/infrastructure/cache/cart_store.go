// Package cache keeps buyer carts in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

const cartKeyPrefix = "cart:"

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CartStore implements cart.Store. Each cart is one JSON value whose TTL is
// refreshed on every save.
type CartStore struct {
	client redisClient
	ttl    time.Duration
}

func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

// NewRedisClient connects and pings addr.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func cartKey(buyerID string) string {
	return cartKeyPrefix + buyerID
}

func (s *CartStore) Get(ctx context.Context, buyerID string) (*cart.Cart, error) {
	val, err := s.client.Get(ctx, cartKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", buyerID, err)
	}
	var c cart.Cart
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", buyerID, err)
	}
	return &c, nil
}

func (s *CartStore) Save(ctx context.Context, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, cartKey(c.BuyerID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cart %s: %w", c.BuyerID, err)
	}
	return nil
}

// Delete succeeds when the cart is already gone.
func (s *CartStore) Delete(ctx context.Context, buyerID string) error {
	if err := s.client.Del(ctx, cartKey(buyerID)).Err(); err != nil {
		return fmt.Errorf("delete cart %s: %w", buyerID, err)
	}
	return nil
}
