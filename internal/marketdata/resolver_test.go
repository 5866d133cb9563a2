package marketdata

import (
	"context"
	"fmt"
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

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *Breaker) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	breaker := NewBreaker("market_data_test", DefaultBreakerConfig())
	resolver := NewResolver(server.URL, 2*time.Second, cache.NewMemoryCache(), 5*time.Minute, breaker)
	return resolver, breaker
}

func TestResolveSuccess(t *testing.T) {
	var calls int64
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		assert.Equal(t, "/lookup/AAPL", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ticker": "AAPL",
			"company_name": "Apple Inc.",
			"currency": "USD",
			"price": "187.44",
			"kind": "equity",
			"exchange": "NASDAQ"
		}`))
	})

	quote, err := resolver.Resolve(context.Background(), " aapl ")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, "Apple Inc.", quote.Name)
	assert.Equal(t, "USD", quote.Currency)
	assert.Equal(t, domain.KindEquity, quote.Kind)
	assert.Equal(t, "187.44", quote.Price.StringFixed(2))
}

func TestResolveCachesQuotes(t *testing.T) {
	var calls int64
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_, _ = w.Write([]byte(`{"ticker":"VALE3","company_name":"Vale S.A.","currency":"BRL","price":"61.20","kind":"equity"}`))
	})

	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), "VALE3")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestResolveNotFound(t *testing.T) {
	resolver, breaker := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := resolver.Resolve(context.Background(), "NOPE")
	require.ErrorIs(t, err, domain.ErrInstrumentNotFound)

	// An answered 404 is not an outage.
	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestResolveEmptyBodyIsNotFound(t *testing.T) {
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ticker":"ZZZZ","company_name":"","currency":"","price":"0"}`))
	})

	_, err := resolver.Resolve(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, domain.ErrInstrumentNotFound)
}

func TestResolveServerErrorsOpenBreaker(t *testing.T) {
	var calls int64
	resolver, breaker := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := resolver.Resolve(context.Background(), "FAIL")
		require.ErrorIs(t, err, domain.ErrMarketDataUnavailable)
	}

	require.Equal(t, BreakerOpen, breaker.State())

	// With the breaker open the upstream is no longer called.
	_, err := resolver.Resolve(context.Background(), "FAIL")
	assert.ErrorIs(t, err, domain.ErrMarketDataUnavailable)
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))
}

func TestResolveUnbuildableRequestCountsAsFailure(t *testing.T) {
	breaker := NewBreaker("market_data_bad_url", DefaultBreakerConfig())
	resolver := NewResolver("http://bad host", time.Second, cache.NewMemoryCache(), time.Minute, breaker)

	for i := 0; i < 5; i++ {
		_, err := resolver.Resolve(context.Background(), fmt.Sprintf("SYM%d", i))
		require.ErrorIs(t, err, domain.ErrMarketDataUnavailable)
	}

	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestResolveRejectsBadSymbols(t *testing.T) {
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called for invalid symbols")
	})

	for _, symbol := range []string{"", "lower case", "WAY-TOO-LONG-SYMBOL-1234", "BAD$CHAR"} {
		_, err := resolver.Resolve(context.Background(), symbol)
		assert.ErrorIs(t, err, domain.ErrValidation, "symbol %q", symbol)
	}
}
