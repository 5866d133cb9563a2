package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_requests_submitted_total",
		Help: "Total number of trade proposals submitted",
	}, []string{"status"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_decisions_total",
		Help: "Total number of restriction decisions by outcome",
	}, []string{"outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "request_transitions_total",
		Help: "Total number of trading request state transitions",
	}, []string{"transition", "status"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"class"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"class"})

	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_calls_total",
		Help: "Total number of external dependency calls",
	}, []string{"dependency", "status"})

	UpstreamCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_call_duration_seconds",
		Help:    "Duration of external dependency calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"dependency"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Total number of circuit breaker state transitions",
	}, []string{"dependency", "state"})

	BreakerShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_short_circuits_total",
		Help: "Total number of calls rejected by an open circuit breaker",
	}, []string{"dependency"})

	FallbackRates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fx_fallback_rates_total",
		Help: "Total number of conversions served from the static fallback table",
	})

	DatabaseQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "database_queries_total",
		Help: "Total number of database queries",
	}, []string{"query_type", "status"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "database_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_type"})

	AuditEntriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_entries_written_total",
		Help: "Total number of audit entries appended",
	}, []string{"action"})
)

func RecordCacheHit(class string) {
	CacheHits.WithLabelValues(class).Inc()
}

func RecordCacheMiss(class string) {
	CacheMisses.WithLabelValues(class).Inc()
}

func RecordUpstreamCall(dependency, status string, duration float64) {
	UpstreamCalls.WithLabelValues(dependency, status).Inc()
	UpstreamCallDuration.WithLabelValues(dependency).Observe(duration)
}

func RecordDatabaseQuery(queryType, status string, duration float64) {
	DatabaseQueries.WithLabelValues(queryType, status).Inc()
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(duration)
}

func RecordDecision(outcome string) {
	Decisions.WithLabelValues(outcome).Inc()
}

func RecordTransition(transition, status string) {
	Transitions.WithLabelValues(transition, status).Inc()
}

type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
