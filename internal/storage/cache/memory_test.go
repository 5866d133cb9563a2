package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	type payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}

	require.NoError(t, c.Set(ctx, "quote:AAPL", payload{Symbol: "AAPL", Price: "187.44"}, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "quote:AAPL", &got))
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "187.44", got.Price)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()

	var got string
	err := c.Get(context.Background(), "absent", &got)
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fx:EUR", "1.09", 10*time.Minute))

	var got string
	require.NoError(t, c.Get(ctx, "fx:EUR", &got))

	now = now.Add(11 * time.Minute)
	err := c.Get(ctx, "fx:EUR", &got)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "quote:AAPL", "x", time.Minute))
	require.NoError(t, c.Delete(ctx, "quote:AAPL"))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "quote:AAPL", &got), ErrMiss)
}

func TestMemoryCacheDeletePattern(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "quote:AAPL", "x", time.Minute))
	require.NoError(t, c.Set(ctx, "quote:TSLA", "y", time.Minute))
	require.NoError(t, c.Set(ctx, "fx:EUR", "z", time.Minute))

	require.NoError(t, c.DeletePattern(ctx, "quote:*"))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "quote:AAPL", &got), ErrMiss)
	assert.ErrorIs(t, c.Get(ctx, "quote:TSLA", &got), ErrMiss)
	assert.NoError(t, c.Get(ctx, "fx:EUR", &got))
}
