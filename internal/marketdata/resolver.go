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
	dependencyMarketData = "market_data"
	quoteCacheClass      = "ticker"
)

type lookupResponse struct {
	Ticker      string          `json:"ticker"`
	CompanyName string          `json:"company_name"`
	Currency    string          `json:"currency"`
	Price       decimal.Decimal `json:"price"`
	Kind        string          `json:"kind"`
	Exchange    string          `json:"exchange"`
}

// Resolver turns an instrument symbol into a canonical name, trading currency
// and reference price. The external lookup sits behind a TTL cache and a
// circuit breaker; an unresolvable instrument blocks the trade rather than
// approving it by omission.
type Resolver struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	breaker    *Breaker
}

func NewResolver(baseURL string, timeout time.Duration, c cache.Cache, cacheTTL time.Duration, breaker *Breaker) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      c,
		cacheTTL:   cacheTTL,
		breaker:    breaker,
	}
}

// Resolve is idempotent and safe to retry; its only side effect is cache
// population. It returns ErrInstrumentNotFound when the source answers that
// the symbol does not exist and ErrMarketDataUnavailable on any failure to
// get an answer.
func (r *Resolver) Resolve(ctx context.Context, rawSymbol string) (*domain.Quote, error) {
	symbol, err := domain.NormalizeSymbol(rawSymbol)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("quote:%s", symbol)

	var cached domain.Quote
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		metrics.RecordCacheHit(quoteCacheClass)
		return &cached, nil
	}
	metrics.RecordCacheMiss(quoteCacheClass)

	if !r.breaker.Allow() {
		logger.Warn("market data lookup short-circuited",
			zap.String("symbol", symbol))
		return nil, domain.ErrMarketDataUnavailable
	}

	quote, err := r.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, cacheKey, quote, r.cacheTTL); err != nil {
		logger.Warn("failed to cache quote",
			zap.String("symbol", symbol),
			zap.Error(err))
	}

	return quote, nil
}

func (r *Resolver) fetch(ctx context.Context, symbol string) (*domain.Quote, error) {
	timer := metrics.NewTimer()
	url := fmt.Sprintf("%s/lookup/%s", r.baseURL, symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyMarketData, "error", timer.Elapsed().Seconds())
		logger.Error("market data lookup request invalid",
			zap.String("symbol", symbol),
			zap.Error(err))
		return nil, domain.ErrMarketDataUnavailable
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyMarketData, "error", timer.Elapsed().Seconds())
		logger.Error("market data lookup failed",
			zap.String("symbol", symbol),
			zap.Error(err))
		return nil, domain.ErrMarketDataUnavailable
	}
	defer resp.Body.Close()

	// A clean 404 is an answer, not an outage.
	if resp.StatusCode == http.StatusNotFound {
		r.breaker.RecordSuccess()
		metrics.RecordUpstreamCall(dependencyMarketData, "not_found", timer.Elapsed().Seconds())
		return nil, fmt.Errorf("%w: %s", domain.ErrInstrumentNotFound, symbol)
	}

	if resp.StatusCode != http.StatusOK {
		r.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyMarketData, "error", timer.Elapsed().Seconds())
		logger.Error("market data lookup returned unexpected status",
			zap.String("symbol", symbol),
			zap.Int("status", resp.StatusCode))
		return nil, domain.ErrMarketDataUnavailable
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		r.breaker.RecordFailure()
		metrics.RecordUpstreamCall(dependencyMarketData, "error", timer.Elapsed().Seconds())
		return nil, domain.ErrMarketDataUnavailable
	}

	r.breaker.RecordSuccess()
	metrics.RecordUpstreamCall(dependencyMarketData, "success", timer.Elapsed().Seconds())

	// A symbol with neither a name nor a positive price is treated as
	// unknown even when the source returns 200.
	if body.CompanyName == "" && body.Price.IsZero() {
		return nil, fmt.Errorf("%w: no company information or price data for %s", domain.ErrInstrumentNotFound, symbol)
	}

	name := body.CompanyName
	if name == "" {
		name = fmt.Sprintf("Unknown (%s)", symbol)
	}

	currency := body.Currency
	if currency == "" {
		currency = "USD"
	}

	kind := domain.InstrumentKind(body.Kind)
	if kind != domain.KindEquity && kind != domain.KindBond {
		kind = domain.KindEquity
	}

	return &domain.Quote{
		Symbol:    symbol,
		Name:      name,
		Kind:      kind,
		Currency:  currency,
		Price:     body.Price,
		Exchange:  body.Exchange,
		FetchedAt: time.Now(),
	}, nil
}
