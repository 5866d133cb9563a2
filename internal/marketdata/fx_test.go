package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/internal/storage/cache"
)

func newTestConverter(t *testing.T, handler http.HandlerFunc) (*Converter, *Breaker) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	breaker := NewBreaker("fx_test", DefaultBreakerConfig())
	converter := NewConverter(server.URL, 2*time.Second, cache.NewMemoryCache(), 10*time.Minute, breaker)
	return converter, breaker
}

func TestRateToUSDLive(t *testing.T) {
	converter, _ := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/EUR", r.URL.Path)
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"USD":1.0843,"GBP":0.85}}`))
	})

	rate := converter.RateToUSD(context.Background(), "EUR")

	assert.Equal(t, domain.RateSourceLive, rate.Source)
	assert.Equal(t, "1.0843", rate.ToUSD.String())
}

func TestRateToUSDBypassesForUSD(t *testing.T) {
	converter, _ := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called for USD")
	})

	rate := converter.RateToUSD(context.Background(), "USD")

	assert.Equal(t, "1", rate.ToUSD.String())
	assert.Equal(t, domain.RateSourceLive, rate.Source)
}

func TestRateToUSDServedFromCache(t *testing.T) {
	var calls int64
	converter, _ := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_, _ = w.Write([]byte(`{"base":"GBP","rates":{"USD":1.2712}}`))
	})

	first := converter.RateToUSD(context.Background(), "GBP")
	second := converter.RateToUSD(context.Background(), "GBP")

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, domain.RateSourceLive, first.Source)
	assert.Equal(t, domain.RateSourceCache, second.Source)
	assert.True(t, first.ToUSD.Equal(second.ToUSD))
}

func TestRateToUSDFallbackOnFailure(t *testing.T) {
	converter, _ := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rate := converter.RateToUSD(context.Background(), "HKD")

	assert.Equal(t, domain.RateSourceFallback, rate.Source)
	assert.Equal(t, "0.128", rate.ToUSD.String())
}

func TestRateToUSDFallbackUnknownCurrency(t *testing.T) {
	converter, _ := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rate := converter.RateToUSD(context.Background(), "XXX")

	assert.Equal(t, domain.RateSourceFallback, rate.Source)
	assert.Equal(t, "1", rate.ToUSD.String())
}

func TestRateToUSDOpenBreakerSkipsNetwork(t *testing.T) {
	var calls int64
	converter, breaker := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	})

	for i := 0; i < 5; i++ {
		rate := converter.RateToUSD(context.Background(), "HKD")
		require.Equal(t, domain.RateSourceFallback, rate.Source)
	}
	require.Equal(t, BreakerOpen, breaker.State())

	before := atomic.LoadInt64(&calls)
	rate := converter.RateToUSD(context.Background(), "HKD")

	assert.Equal(t, domain.RateSourceFallback, rate.Source)
	assert.Equal(t, "0.128", rate.ToUSD.String())
	assert.Equal(t, before, atomic.LoadInt64(&calls))
}

func TestRateToUSDUnbuildableRequestCountsAsFailure(t *testing.T) {
	breaker := NewBreaker("fx_bad_url", DefaultBreakerConfig())
	converter := NewConverter("http://bad host", time.Second, cache.NewMemoryCache(), time.Minute, breaker)

	for i := 0; i < 5; i++ {
		rate := converter.RateToUSD(context.Background(), "HKD")
		require.Equal(t, domain.RateSourceFallback, rate.Source)
	}

	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestRateToUSDMissingUSDCountsAsFailure(t *testing.T) {
	converter, _ := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"JPY","rates":{"EUR":0.0062}}`))
	})

	rate := converter.RateToUSD(context.Background(), "JPY")

	assert.Equal(t, domain.RateSourceFallback, rate.Source)
	assert.Equal(t, "0.0067", rate.ToUSD.String())
}
