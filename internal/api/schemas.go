package api

import (
	"time"

	"github.com/tradeguard/compliance-engine/internal/domain"
)

type SubmitTradeRequest struct {
	SubmitterID string `json:"submitter_id" validate:"required"`
	Symbol      string `json:"symbol" validate:"required"`
	Kind        string `json:"kind,omitempty"`
	Side        string `json:"side" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required"`
}

type EscalateRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

type DecisionRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

type AddRestrictedRequest struct {
	Symbol  string `json:"symbol" validate:"required"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

type RemoveRestrictedRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

type PurgeAuditRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	MaxAge  string `json:"max_age" validate:"required"` // Go duration, e.g. "8760h"
}

type PurgeAuditResponse struct {
	Deleted int64  `json:"deleted"`
	Cutoff  string `json:"cutoff"`
}

type TradeResponse struct {
	Request        *domain.TradingRequest `json:"request"`
	ProcessingTime string                 `json:"processing_time,omitempty"`
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      int       `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SystemStatsResponse struct {
	Database DatabaseStats `json:"database"`
	Breakers BreakerStats  `json:"breakers"`
	API      APIStats      `json:"api"`
}

type DatabaseStats struct {
	ActiveConnections int32  `json:"active_connections"`
	IdleConnections   int32  `json:"idle_connections"`
	TotalConnections  int32  `json:"total_connections"`
	WaitCount         int64  `json:"wait_count"`
	WaitDuration      string `json:"wait_duration"`
}

type BreakerStats struct {
	MarketData string `json:"market_data"`
	FxRates    string `json:"fx_rates"`
}

type APIStats struct {
	ActiveGoroutines int    `json:"active_goroutines"`
	MemoryUsed       string `json:"memory_used"`
}
