package api

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/internal/marketdata"
	"github.com/tradeguard/compliance-engine/internal/service"
	"github.com/tradeguard/compliance-engine/internal/storage/cache"
	"github.com/tradeguard/compliance-engine/internal/storage/postgres"
	"github.com/tradeguard/compliance-engine/pkg/logger"
)

type Handler struct {
	db                *postgres.DB
	cacheService      cache.Cache
	engine            *service.Engine
	registry          *service.Registry
	audit             *service.AuditTrail
	marketDataBreaker *marketdata.Breaker
	fxBreaker         *marketdata.Breaker
}

func NewHandler(
	db *postgres.DB,
	cacheService cache.Cache,
	engine *service.Engine,
	registry *service.Registry,
	audit *service.AuditTrail,
	marketDataBreaker *marketdata.Breaker,
	fxBreaker *marketdata.Breaker,
) *Handler {
	return &Handler{
		db:                db,
		cacheService:      cacheService,
		engine:            engine,
		registry:          registry,
		audit:             audit,
		marketDataBreaker: marketDataBreaker,
		fxBreaker:         fxBreaker,
	}
}

// statusForError maps the service error taxonomy onto HTTP codes in one
// place.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrInstrumentNotFound):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMarketDataUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrAlreadyRestricted):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrNotRestricted):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrRequestNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *Handler) errorJSON(c *fiber.Ctx, err error) error {
	code := statusForError(err)
	message := err.Error()
	if code == fiber.StatusInternalServerError || errors.Is(err, domain.ErrStoreUnavailable) {
		// Dependency failures are reported generically; details stay in the
		// logs.
		message = "operation could not be completed"
		logger.Error("request failed", zap.Error(err))
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: getRequestID(c),
		Timestamp: time.Now(),
	})
}

// SubmitTrade values the proposal and immediately records the restriction
// decision, so the caller always gets back an approved or rejected request.
func (h *Handler) SubmitTrade(c *fiber.Ctx) error {
	start := time.Now()

	var req SubmitTradeRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	proposal := domain.TradeProposal{
		SubmitterID: req.SubmitterID,
		Symbol:      req.Symbol,
		Kind:        domain.InstrumentKind(req.Kind),
		Side:        domain.TradeSide(req.Side),
		Quantity:    req.Quantity,
	}

	submitted, err := h.engine.Submit(c.Context(), proposal, c.IP())
	if err != nil {
		return h.errorJSON(c, err)
	}

	decided, err := h.engine.Decide(c.Context(), submitted.ID, c.IP())
	if err != nil {
		logger.Error("decision failed after submit",
			zap.String("request_id", submitted.ID),
			zap.Error(err))
		return h.errorJSON(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TradeResponse{
		Request:        decided,
		ProcessingTime: time.Since(start).String(),
	})
}

func (h *Handler) GetTrade(c *fiber.Ctx) error {
	req, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(TradeResponse{Request: req})
}

func (h *Handler) ListTrades(c *fiber.Ctx) error {
	filter := domain.RequestFilter{
		SubmitterID: c.Query("submitter"),
		Symbol:      c.Query("symbol"),
		Status:      domain.RequestStatus(c.Query("status")),
	}

	if v := c.Query("escalated"); v != "" {
		escalated := v == "true"
		filter.Escalated = &escalated
	}

	if dateStr := c.Query("from"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return h.errorJSON(c, fmt.Errorf("%w: invalid from date (use YYYY-MM-DD)", domain.ErrValidation))
		}
		filter.From = &parsed
	}
	if dateStr := c.Query("to"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return h.errorJSON(c, fmt.Errorf("%w: invalid to date (use YYYY-MM-DD)", domain.ErrValidation))
		}
		filter.To = &parsed
	}

	sort := domain.SortNewestFirst
	if c.Query("sort") == "oldest" {
		sort = domain.SortOldestFirst
	}

	page, err := h.engine.List(c.Context(), filter, sort, domain.Pagination{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	})
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(page)
}

func (h *Handler) EscalateTrade(c *fiber.Ctx) error {
	var req EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	updated, err := h.engine.Escalate(c.Context(), c.Params("id"), req.ActorID, req.Reason, c.IP())
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(TradeResponse{Request: updated})
}

func (h *Handler) ApproveTrade(c *fiber.Ctx) error {
	var req DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	updated, err := h.engine.Approve(c.Context(), c.Params("id"), req.ActorID, c.IP())
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(TradeResponse{Request: updated})
}

func (h *Handler) RejectTrade(c *fiber.Ctx) error {
	var req DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	updated, err := h.engine.Reject(c.Context(), c.Params("id"), req.ActorID, req.Reason, c.IP())
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(TradeResponse{Request: updated})
}

func (h *Handler) AddRestricted(c *fiber.Ctx) error {
	var req AddRestrictedRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	kind := domain.InstrumentKind(req.Kind)
	if kind == "" {
		kind = domain.KindEquity
	}

	inst, err := h.registry.Add(c.Context(), req.Symbol, req.Name, kind, req.ActorID, req.Reason, c.IP())
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(inst)
}

func (h *Handler) RemoveRestricted(c *fiber.Ctx) error {
	var req RemoveRestrictedRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	if err := h.registry.Remove(c.Context(), c.Params("symbol"), req.ActorID, req.Reason, c.IP()); err != nil {
		return h.errorJSON(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) ListRestricted(c *fiber.Ctx) error {
	instruments, err := h.registry.List(c.Context())
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"instruments": instruments,
		"count":       len(instruments),
	})
}

func (h *Handler) RegistryChangelog(c *fiber.Ctx) error {
	page, err := h.registry.Changes(c.Context(), domain.Pagination{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	})
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(page)
}

func (h *Handler) QueryAudit(c *fiber.Ctx) error {
	filter := domain.AuditFilter{
		ActorID:    c.Query("actor"),
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
	}

	if dateStr := c.Query("from"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return h.errorJSON(c, fmt.Errorf("%w: invalid from date (use YYYY-MM-DD)", domain.ErrValidation))
		}
		filter.From = &parsed
	}
	if dateStr := c.Query("to"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return h.errorJSON(c, fmt.Errorf("%w: invalid to date (use YYYY-MM-DD)", domain.ErrValidation))
		}
		filter.To = &parsed
	}

	page, err := h.audit.Query(c.Context(), filter, domain.Pagination{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	})
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(page)
}

func (h *Handler) AuditSummary(c *fiber.Ctx) error {
	filter := domain.AuditFilter{
		ActorID:    c.Query("actor"),
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
	}

	summary, err := h.audit.Summarize(c.Context(), filter)
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(summary)
}

func (h *Handler) PurgeAudit(c *fiber.Ctx) error {
	var req PurgeAuditRequest
	if err := c.BodyParser(&req); err != nil {
		return h.errorJSON(c, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	maxAge, err := time.ParseDuration(req.MaxAge)
	if err != nil || maxAge <= 0 {
		return h.errorJSON(c, fmt.Errorf("%w: max_age must be a positive duration", domain.ErrValidation))
	}

	cutoff := time.Now().Add(-maxAge)
	deleted, err := h.audit.Purge(c.Context(), req.ActorID, cutoff, c.IP())
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(PurgeAuditResponse{
		Deleted: deleted,
		Cutoff:  cutoff.Format(time.RFC3339),
	})
}

func (h *Handler) InvalidateCache(c *fiber.Ctx) error {
	pattern := c.Params("pattern", "*")

	if err := h.cacheService.DeletePattern(c.Context(), pattern); err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": fmt.Sprintf("cache invalidated for pattern: %s", pattern),
	})
}

func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	})
}

func (h *Handler) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]ServiceHealth)

	dbStart := time.Now()
	if err := h.db.HealthCheck(ctx); err != nil {
		services["database"] = ServiceHealth{
			Status: "unhealthy",
			Error:  err.Error(),
		}
	} else {
		services["database"] = ServiceHealth{
			Status:  "healthy",
			Latency: time.Since(dbStart).String(),
		}
	}

	cacheStart := time.Now()
	if err := h.cacheService.HealthCheck(ctx); err != nil {
		services["cache"] = ServiceHealth{
			Status: "unhealthy",
			Error:  err.Error(),
		}
	} else {
		services["cache"] = ServiceHealth{
			Status:  "healthy",
			Latency: time.Since(cacheStart).String(),
		}
	}

	status := "ready"
	for _, svc := range services {
		if svc.Status != "healthy" {
			status = "not_ready"
			break
		}
	}

	response := HealthResponse{
		Status:    status,
		Version:   "1.0.0",
		Timestamp: time.Now(),
		Services:  services,
	}

	if status != "ready" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}

	return c.JSON(response)
}

func (h *Handler) GetSystemStats(c *fiber.Ctx) error {
	dbStats := h.db.Stats()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := SystemStatsResponse{
		Database: DatabaseStats{
			ActiveConnections: dbStats.AcquiredConns(),
			IdleConnections:   dbStats.IdleConns(),
			TotalConnections:  dbStats.TotalConns(),
			WaitCount:         dbStats.EmptyAcquireCount(),
			WaitDuration:      dbStats.AcquireDuration().String(),
		},
		Breakers: BreakerStats{
			MarketData: h.marketDataBreaker.State().String(),
			FxRates:    h.fxBreaker.State().String(),
		},
		API: APIStats{
			ActiveGoroutines: runtime.NumGoroutine(),
			MemoryUsed:       fmt.Sprintf("%d MB", m.Alloc/1024/1024),
		},
	}

	return c.JSON(response)
}

func getRequestID(c *fiber.Ctx) string {
	if id := c.Locals("requestID"); id != nil {
		return id.(string)
	}
	return ""
}
