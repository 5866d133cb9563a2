package service

import (
	"context"
	"time"

	"github.com/tradeguard/compliance-engine/internal/domain"
)

// TransitionUpdate is the full field set a state transition may change. Every
// transition is committed in one transaction with exactly one audit entry.
type TransitionUpdate struct {
	Status          domain.RequestStatus
	Escalated       bool
	EscalationNote  *string
	RejectionReason *string
	ProcessedAt     time.Time
}

type RequestStore interface {
	// CreateRequest inserts the request and its audit entry atomically.
	CreateRequest(ctx context.Context, req *domain.TradingRequest, entry *domain.AuditEntry) error

	GetRequest(ctx context.Context, id string) (*domain.TradingRequest, error)

	// TransitionRequest applies the update only when the stored status and
	// escalation flag match the expectation, appending the audit entry in
	// the same transaction. A failed guard returns ErrInvalidState with no
	// write; concurrent transitions on one request serialize here.
	TransitionRequest(ctx context.Context, id string, expectStatus domain.RequestStatus, expectEscalated bool, update TransitionUpdate, entry *domain.AuditEntry) (*domain.TradingRequest, error)

	ListRequests(ctx context.Context, f domain.RequestFilter, sort domain.SortOrder, p domain.Pagination) (domain.Page[domain.TradingRequest], error)
}

type RegistryStore interface {
	// InsertRestricted writes the instrument, its changelog row and the
	// audit entry atomically. Returns ErrAlreadyRestricted on a duplicate.
	InsertRestricted(ctx context.Context, inst *domain.RestrictedInstrument, change *domain.RegistryChange, entry *domain.AuditEntry) error

	// DeleteRestricted removes the instrument with the same atomicity.
	// Returns ErrNotRestricted when the symbol is absent.
	DeleteRestricted(ctx context.Context, symbol string, change *domain.RegistryChange, entry *domain.AuditEntry) error

	IsRestricted(ctx context.Context, symbol string) (bool, error)
	ListRestricted(ctx context.Context) ([]domain.RestrictedInstrument, error)
	ListRegistryChanges(ctx context.Context, p domain.Pagination) (domain.Page[domain.RegistryChange], error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	QueryAudit(ctx context.Context, f domain.AuditFilter, p domain.Pagination) (domain.Page[domain.AuditEntry], error)
	SummarizeAudit(ctx context.Context, f domain.AuditFilter) (*domain.AuditSummary, error)

	// PurgeAudit deletes entries older than the cutoff and writes the purge
	// audit entry in the same transaction, so the cleanup itself is logged.
	PurgeAudit(ctx context.Context, olderThan time.Time, entry *domain.AuditEntry) (int64, error)
}

// Store is the durable backing for all three services.
type Store interface {
	RequestStore
	RegistryStore
	AuditStore
}
