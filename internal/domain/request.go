package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type InstrumentKind string

const (
	KindEquity InstrumentKind = "equity"
	KindBond   InstrumentKind = "bond"
)

// TradingRequest is one proposed trade moving through the compliance state
// machine. Monetary fields are a snapshot taken at submission: later rate or
// price changes never alter a stored request.
type TradingRequest struct {
	ID              string          `db:"id" json:"id"`
	SubmitterID     string          `db:"submitter_id" json:"submitter_id"`
	Symbol          string          `db:"symbol" json:"symbol"`
	InstrumentName  string          `db:"instrument_name" json:"instrument_name"`
	Kind            InstrumentKind  `db:"kind" json:"kind"`
	Side            TradeSide       `db:"side" json:"side"`
	Quantity        int64           `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	Currency        string          `db:"currency" json:"currency"`
	UnitPriceUSD    decimal.Decimal `db:"unit_price_usd" json:"unit_price_usd"`
	TotalValueUSD   decimal.Decimal `db:"total_value_usd" json:"total_value_usd"`
	ExchangeRate    decimal.Decimal `db:"exchange_rate" json:"exchange_rate"`
	Status          RequestStatus   `db:"status" json:"status"`
	Escalated       bool            `db:"escalated" json:"escalated"`
	EscalationNote  *string         `db:"escalation_note" json:"escalation_note,omitempty"`
	RejectionReason *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// Terminal reports whether no further transition is legal. A rejected request
// that has not yet been escalated can still be re-opened.
func (r *TradingRequest) Terminal() bool {
	switch r.Status {
	case StatusApproved:
		return true
	case StatusRejected:
		return r.Escalated
	default:
		return false
	}
}

// TradeProposal is the submit input before any state exists.
type TradeProposal struct {
	SubmitterID string         `json:"submitter_id"`
	Symbol      string         `json:"symbol"`
	Kind        InstrumentKind `json:"kind"`
	Side        TradeSide      `json:"side"`
	Quantity    int64          `json:"quantity"`
}

type RequestFilter struct {
	SubmitterID string
	Symbol      string
	Status      RequestStatus
	Escalated   *bool
	From        *time.Time
	To          *time.Time
}

type SortOrder string

const (
	SortNewestFirst SortOrder = "newest"
	SortOldestFirst SortOrder = "oldest"
)

type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 || p.PageSize > 500 {
		p.PageSize = 50
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page wraps one page of results with enough shape for the caller to keep
// paginating.
type Page[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	HasMore    bool `json:"has_more"`
}

func NewPage[T any](items []T, total int, p Pagination) Page[T] {
	return Page[T]{
		Items:      items,
		TotalCount: total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		HasMore:    p.Offset()+len(items) < total,
	}
}
