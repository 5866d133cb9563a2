package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/internal/storage/cache"
	"github.com/tradeguard/compliance-engine/pkg/logger"
	"github.com/tradeguard/compliance-engine/pkg/metrics"
)

const (
	dependencyFxRates = "fx_rates"
	rateCacheClass    = "currency"
)

// Approximate rates used when the live source cannot be reached. Serving a
// stale-ish rate keeps valuation working; the degraded quality travels on
// Rate.Source, never as an error.
var fallbackRates = map[string]decimal.Decimal{
	"HKD": decimal.NewFromFloat(0.128),
	"GBP": decimal.NewFromFloat(1.27),
	"CAD": decimal.NewFromFloat(0.74),
	"JPY": decimal.NewFromFloat(0.0067),
	"EUR": decimal.NewFromFloat(1.09),
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Converter resolves foreign-currency-to-USD exchange rates. RateToUSD never
// fails: a dead upstream degrades to the static fallback table.
type Converter struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	breaker    *Breaker
}

func NewConverter(baseURL string, timeout time.Duration, c cache.Cache, cacheTTL time.Duration, breaker *Breaker) *Converter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Converter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      c,
		cacheTTL:   cacheTTL,
		breaker:    breaker,
	}
}

// RateToUSD returns USD-per-unit of the given currency. USD bypasses cache
// and breaker entirely.
func (c *Converter) RateToUSD(ctx context.Context, currency string) domain.Rate {
	now := time.Now()

	if currency == "USD" {
		return domain.Rate{Currency: "USD", ToUSD: decimal.NewFromInt(1), Source: domain.RateSourceLive, FetchedAt: now}
	}

	cacheKey := fmt.Sprintf("fx:%s", currency)

	var cached domain.Rate
	if err := c.cache.Get(ctx, cacheKey, &cached); err == nil {
		metrics.RecordCacheHit(rateCacheClass)
		cached.Source = domain.RateSourceCache
		return cached
	}
	metrics.RecordCacheMiss(rateCacheClass)

	if !c.breaker.Allow() {
		return c.fallback(currency, now)
	}

	rate, err := c.fetch(ctx, currency)
	if err != nil {
		return c.fallback(currency, now)
	}

	if err := c.cache.Set(ctx, cacheKey, rate, c.cacheTTL); err != nil {
		logger.Warn("failed to cache exchange rate",
			zap.String("currency", currency),
			zap.Error(err))
	}

	return rate
}

func (c *Converter) fetch(ctx context.Context, currency string) (domain.Rate, error) {
	timer := metrics.NewTimer()
	url := fmt.Sprintf("%s/latest/%s", c.baseURL, currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyFxRates, "error", timer.Elapsed().Seconds())
		return domain.Rate{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyFxRates, "error", timer.Elapsed().Seconds())
		logger.Warn("exchange rate lookup failed",
			zap.String("currency", currency),
			zap.Error(err))
		return domain.Rate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyFxRates, "error", timer.Elapsed().Seconds())
		return domain.Rate{}, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyFxRates, "error", timer.Elapsed().Seconds())
		return domain.Rate{}, err
	}

	usd, ok := body.Rates["USD"]
	if !ok || usd.IsZero() {
		c.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyFxRates, "error", timer.Elapsed().Seconds())
		return domain.Rate{}, fmt.Errorf("rate source has no USD rate for %s", currency)
	}

	c.breaker.RecordSuccess()
	metrics.RecordUpstreamCall(dependencyFxRates, "success", timer.Elapsed().Seconds())

	return domain.Rate{
		Currency:  currency,
		ToUSD:     usd,
		Source:    domain.RateSourceLive,
		FetchedAt: time.Now(),
	}, nil
}

func (c *Converter) fallback(currency string, now time.Time) domain.Rate {
	metrics.FallbackRates.Inc()

	rate, ok := fallbackRates[currency]
	if !ok {
		// No approximation on file; 1:1 keeps valuation moving, matching
		// the upstream contract that conversion never blocks a trade.
		rate = decimal.NewFromInt(1)
	}

	logger.Warn("serving fallback exchange rate",
		zap.String("currency", currency),
		zap.String("rate", rate.String()))

	return domain.Rate{
		Currency:  currency,
		ToUSD:     rate,
		Source:    domain.RateSourceFallback,
		FetchedAt: now,
	}
}
