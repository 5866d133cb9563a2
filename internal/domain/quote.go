package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a resolved instrument: canonical name, trading currency and a
// reference price. Quotes are decision inputs at the moment of resolution
// only; they are never used to backfill a stored request.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Kind      InstrumentKind  `json:"kind"`
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	Exchange  string          `json:"exchange,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type RateSource string

const (
	RateSourceLive     RateSource = "live"
	RateSourceCache    RateSource = "cache"
	RateSourceFallback RateSource = "fallback"
)

// Rate is a USD-per-unit conversion rate for one foreign currency. Source
// records where the number came from; a degraded source is logged, never an
// error.
type Rate struct {
	Currency  string          `json:"currency"`
	ToUSD     decimal.Decimal `json:"to_usd"`
	Source    RateSource      `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}
