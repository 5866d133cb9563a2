package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/pkg/logger"
	"github.com/tradeguard/compliance-engine/pkg/metrics"
)

const (
	maxQuantity         = 1_000_000
	minEscalationReason = 10
	rejectionRestricted = "restricted instrument"

	// Internal monetary precision; display rounding to 2 places is the
	// caller's concern.
	usdScale = 6
)

// InstrumentResolver prices a symbol. Implemented by marketdata.Resolver.
type InstrumentResolver interface {
	Resolve(ctx context.Context, symbol string) (*domain.Quote, error)
}

// RateSource converts a currency to USD and never fails. Implemented by
// marketdata.Converter.
type RateSource interface {
	RateToUSD(ctx context.Context, currency string) domain.Rate
}

// Engine drives the trading-request state machine: submit values a proposal,
// decide applies the restriction verdict, and the manual operations move
// escalated requests to their final state. Every transition commits the row
// update and one audit entry together.
type Engine struct {
	store       RequestStore
	registry    RegistryStore
	resolver    InstrumentResolver
	rates       RateSource
	maxTradeUSD decimal.Decimal
	now         func() time.Time
}

func NewEngine(store RequestStore, registry RegistryStore, resolver InstrumentResolver, rates RateSource, maxTradeUSD int64) *Engine {
	return &Engine{
		store:       store,
		registry:    registry,
		resolver:    resolver,
		rates:       rates,
		maxTradeUSD: decimal.NewFromInt(maxTradeUSD),
		now:         time.Now,
	}
}

// WithClock substitutes the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) newAuditEntry(actorID string, role domain.ActorRole, action, targetType, targetID, details, origin string) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ActorID:    actorID,
		ActorRole:  role,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		Origin:     origin,
		CreatedAt:  e.now(),
	}
}

// Submit validates and values a proposal and creates the request in pending.
// It is a pure valuation step: the restricted registry is not consulted
// until Decide. No request is created when the instrument cannot be
// resolved.
func (e *Engine) Submit(ctx context.Context, proposal domain.TradeProposal, origin string) (*domain.TradingRequest, error) {
	if err := validateProposal(proposal); err != nil {
		metrics.RequestsSubmitted.WithLabelValues("invalid").Inc()
		return nil, err
	}

	symbol, err := domain.NormalizeSymbol(proposal.Symbol)
	if err != nil {
		metrics.RequestsSubmitted.WithLabelValues("invalid").Inc()
		return nil, err
	}

	quote, err := e.resolver.Resolve(ctx, symbol)
	if err != nil {
		metrics.RequestsSubmitted.WithLabelValues("unresolvable").Inc()
		return nil, err
	}

	rate := e.rates.RateToUSD(ctx, quote.Currency)

	// Valuation snapshot: quantity * unit_price_usd is computed once at
	// submission and never recomputed from later rates.
	quantity := decimal.NewFromInt(proposal.Quantity)
	unitPriceUSD := quote.Price.Mul(rate.ToUSD).Round(usdScale)
	totalValueUSD := unitPriceUSD.Mul(quantity)

	if e.maxTradeUSD.IsPositive() && totalValueUSD.GreaterThan(e.maxTradeUSD) {
		maxShares := int64(0)
		if unitPriceUSD.IsPositive() {
			maxShares = e.maxTradeUSD.Div(unitPriceUSD).IntPart()
		}
		metrics.RequestsSubmitted.WithLabelValues("over_limit").Inc()
		return nil, fmt.Errorf("%w: trade value %s USD exceeds the %s USD limit (at most %d shares)",
			domain.ErrValidation, totalValueUSD.StringFixed(2), e.maxTradeUSD.StringFixed(2), maxShares)
	}

	kind := proposal.Kind
	if kind == "" {
		kind = quote.Kind
	}

	now := e.now()
	req := &domain.TradingRequest{
		ID:             uuid.New().String(),
		SubmitterID:    proposal.SubmitterID,
		Symbol:         symbol,
		InstrumentName: quote.Name,
		Kind:           kind,
		Side:           proposal.Side,
		Quantity:       proposal.Quantity,
		UnitPrice:      quote.Price,
		Currency:       quote.Currency,
		UnitPriceUSD:   unitPriceUSD,
		TotalValueUSD:  totalValueUSD,
		ExchangeRate:   rate.ToUSD,
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}

	details := fmt.Sprintf("%s %d %s @ %s %s (%s USD total, rate source %s)",
		req.Side, req.Quantity, req.Symbol,
		req.UnitPrice.StringFixed(2), req.Currency,
		req.TotalValueUSD.StringFixed(2), rate.Source)
	entry := e.newAuditEntry(proposal.SubmitterID, domain.RoleEmployee,
		domain.ActionSubmitRequest, domain.TargetTradingRequest, req.ID, details, origin)

	if err := e.store.CreateRequest(ctx, req, entry); err != nil {
		metrics.RequestsSubmitted.WithLabelValues("store_error").Inc()
		return nil, err
	}

	metrics.RequestsSubmitted.WithLabelValues("accepted").Inc()
	logger.WithContext(ctx).Info("trade proposal submitted",
		zap.String("request_id", req.ID),
		zap.String("submitter", req.SubmitterID),
		zap.String("symbol", req.Symbol),
		zap.Int64("quantity", req.Quantity),
		zap.String("total_usd", req.TotalValueUSD.StringFixed(2)),
		zap.String("rate_source", string(rate.Source)))

	return req, nil
}

// Decide applies the restriction verdict to a pending request: restricted
// symbols reject, everything else approves. The check is deterministic and
// runs immediately after Submit; there is no waiting period.
func (e *Engine) Decide(ctx context.Context, requestID, origin string) (*domain.TradingRequest, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPending || req.Escalated {
		return nil, fmt.Errorf("%w: request %s already decided", domain.ErrInvalidState, requestID)
	}

	restricted, err := e.registry.IsRestricted(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	now := e.now()
	update := TransitionUpdate{ProcessedAt: now}

	var action, details string
	if restricted {
		reason := rejectionRestricted
		update.Status = domain.StatusRejected
		update.RejectionReason = &reason
		action = domain.ActionRejectRequest
		details = fmt.Sprintf("auto-rejected: %s is on the restricted list", req.Symbol)
	} else {
		update.Status = domain.StatusApproved
		action = domain.ActionApproveRequest
		details = fmt.Sprintf("auto-approved: %s is not restricted", req.Symbol)
	}

	entry := e.newAuditEntry("system", domain.RoleSystem, action,
		domain.TargetTradingRequest, req.ID, details, origin)

	updated, err := e.store.TransitionRequest(ctx, req.ID,
		domain.StatusPending, false, update, entry)
	if err != nil {
		return nil, err
	}

	metrics.RecordDecision(string(update.Status))
	metrics.RecordTransition("decide", string(update.Status))
	logger.WithContext(ctx).Info("restriction decision recorded",
		zap.String("request_id", req.ID),
		zap.String("symbol", req.Symbol),
		zap.Bool("restricted", restricted))

	return updated, nil
}

// Escalate re-opens an automatically rejected request for human review. Only
// a rejected, not-yet-escalated request qualifies, and the reason must carry
// at least ten characters after trimming.
func (e *Engine) Escalate(ctx context.Context, requestID, actorID, reason, origin string) (*domain.TradingRequest, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minEscalationReason {
		return nil, fmt.Errorf("%w: escalation reason must be at least %d characters",
			domain.ErrInvalidState, minEscalationReason)
	}

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusRejected || req.Escalated {
		return nil, fmt.Errorf("%w: only a rejected, not yet escalated request can be escalated",
			domain.ErrInvalidState)
	}

	update := TransitionUpdate{
		Status:          domain.StatusPending,
		Escalated:       true,
		EscalationNote:  &reason,
		RejectionReason: req.RejectionReason, // carried for the reviewer
		ProcessedAt:     e.now(),
	}

	entry := e.newAuditEntry(actorID, domain.RoleEmployee, domain.ActionEscalateRequest,
		domain.TargetTradingRequest, req.ID, reason, origin)

	updated, err := e.store.TransitionRequest(ctx, req.ID,
		domain.StatusRejected, false, update, entry)
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("escalate", string(domain.StatusPending))
	logger.WithContext(ctx).Info("request escalated",
		zap.String("request_id", req.ID),
		zap.String("actor", actorID))

	return updated, nil
}

// Approve is the manual override for a pending request, in practice one that
// was escalated back to pending.
func (e *Engine) Approve(ctx context.Context, requestID, actorID, origin string) (*domain.TradingRequest, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: request %s is %s, not pending", domain.ErrInvalidState, requestID, req.Status)
	}

	update := TransitionUpdate{
		Status:          domain.StatusApproved,
		Escalated:       req.Escalated,
		EscalationNote:  req.EscalationNote,
		RejectionReason: req.RejectionReason,
		ProcessedAt:     e.now(),
	}

	entry := e.newAuditEntry(actorID, domain.RoleAdmin, domain.ActionApproveRequest,
		domain.TargetTradingRequest, req.ID, "manually approved", origin)

	updated, err := e.store.TransitionRequest(ctx, req.ID,
		domain.StatusPending, req.Escalated, update, entry)
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("approve_manual", string(domain.StatusApproved))
	logger.WithContext(ctx).Info("request manually approved",
		zap.String("request_id", req.ID),
		zap.String("actor", actorID))

	return updated, nil
}

// Reject is the manual rejection of a pending request. The reason may be
// omitted only for an escalated request, whose original rejection reason
// carries over.
func (e *Engine) Reject(ctx context.Context, requestID, actorID, reason, origin string) (*domain.TradingRequest, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: request %s is %s, not pending", domain.ErrInvalidState, requestID, req.Status)
	}

	reason = strings.TrimSpace(reason)
	rejectionReason := req.RejectionReason
	if reason != "" {
		rejectionReason = &reason
	} else if !req.Escalated {
		return nil, fmt.Errorf("%w: a rejection reason is required", domain.ErrValidation)
	}

	update := TransitionUpdate{
		Status:          domain.StatusRejected,
		Escalated:       req.Escalated,
		EscalationNote:  req.EscalationNote,
		RejectionReason: rejectionReason,
		ProcessedAt:     e.now(),
	}

	details := "manually rejected"
	if rejectionReason != nil {
		details = fmt.Sprintf("manually rejected: %s", *rejectionReason)
	}
	entry := e.newAuditEntry(actorID, domain.RoleAdmin, domain.ActionRejectRequest,
		domain.TargetTradingRequest, req.ID, details, origin)

	updated, err := e.store.TransitionRequest(ctx, req.ID,
		domain.StatusPending, req.Escalated, update, entry)
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("reject_manual", string(domain.StatusRejected))
	logger.WithContext(ctx).Info("request manually rejected",
		zap.String("request_id", req.ID),
		zap.String("actor", actorID))

	return updated, nil
}

func (e *Engine) Get(ctx context.Context, requestID string) (*domain.TradingRequest, error) {
	return e.store.GetRequest(ctx, requestID)
}

func (e *Engine) List(ctx context.Context, f domain.RequestFilter, sort domain.SortOrder, p domain.Pagination) (domain.Page[domain.TradingRequest], error) {
	return e.store.ListRequests(ctx, f, sort, p)
}

func validateProposal(p domain.TradeProposal) error {
	if strings.TrimSpace(p.SubmitterID) == "" {
		return fmt.Errorf("%w: submitter is required", domain.ErrValidation)
	}
	if p.Side != domain.SideBuy && p.Side != domain.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", domain.ErrValidation)
	}
	if p.Kind != "" && p.Kind != domain.KindEquity && p.Kind != domain.KindBond {
		return fmt.Errorf("%w: kind must be equity or bond", domain.ErrValidation)
	}
	if p.Quantity < 1 || p.Quantity > maxQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrValidation, maxQuantity)
	}
	return nil
}
