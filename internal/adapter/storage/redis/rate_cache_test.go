package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestRateCache_SetGet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cache := NewRateCache(client)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "ETH", "USD")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "eth", "usd", decimal.RequireFromString("2000.125"), time.Minute))
	assert.Equal(t, "2000.125", mustGet(t, mr, "rate:ETH:USD"))

	rate, ok, err := cache.Get(ctx, "ETH", "usd")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("2000.125")))

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "ETH", "USD")
	require.NoError(t, err)
	assert.False(t, ok, "expired rate is a miss")
}

func TestRateCache_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set("rate:ETH:USD", "not-a-number"))

	_, ok, err := NewRateCache(client).Get(context.Background(), "ETH", "USD")
	assert.Error(t, err)
	assert.False(t, ok)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
