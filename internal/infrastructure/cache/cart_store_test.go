package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestCartStore_SaveGetDelete(t *testing.T) {
	client := newFakeRedis()
	s := &CartStore{client: client, ttl: time.Hour}
	ctx := context.Background()

	c := cart.New("buyer-1")
	require.NoError(t, c.AddItem(cart.Item{ProductID: "p-1", ProductName: "Mug", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 2}))
	require.NoError(t, s.Save(ctx, c))
	assert.Equal(t, time.Hour, client.ttls["cart:buyer-1"])

	got, err := s.Get(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 2, got.Items[0].Quantity)

	require.NoError(t, s.Delete(ctx, "buyer-1"))
	require.NoError(t, s.Delete(ctx, "buyer-1"))
	_, err = s.Get(ctx, "buyer-1")
	assert.ErrorIs(t, err, cart.ErrCartNotFound)
}

func TestCartStore_Errors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	s := &CartStore{client: client, ttl: time.Hour}

	_, err := s.Get(context.Background(), "buyer-1")
	assert.ErrorContains(t, err, "connection refused")
	assert.NotErrorIs(t, err, cart.ErrCartNotFound)
	assert.Error(t, s.Delete(context.Background(), "buyer-1"))
}
