package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/pkg/logger"
)

// AuditTrail is the system of record for who did what, when, to what and
// why. The public contract is append-only; the one sanctioned delete is the
// age-based retention purge, which logs itself before executing.
type AuditTrail struct {
	store AuditStore
	now   func() time.Time
}

func NewAuditTrail(store AuditStore) *AuditTrail {
	return &AuditTrail{store: store, now: time.Now}
}

// WithClock substitutes the time source for tests.
func (a *AuditTrail) WithClock(now func() time.Time) *AuditTrail {
	a.now = now
	return a
}

func (a *AuditTrail) Append(ctx context.Context, actorID string, role domain.ActorRole, action, targetType, targetID, details, origin string) (*domain.AuditEntry, error) {
	entry := &domain.AuditEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ActorID:    actorID,
		ActorRole:  role,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		Origin:     origin,
		CreatedAt:  a.now(),
	}
	if err := a.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (a *AuditTrail) Query(ctx context.Context, f domain.AuditFilter, p domain.Pagination) (domain.Page[domain.AuditEntry], error) {
	return a.store.QueryAudit(ctx, f, p)
}

func (a *AuditTrail) Summarize(ctx context.Context, f domain.AuditFilter) (*domain.AuditSummary, error) {
	return a.store.SummarizeAudit(ctx, f)
}

// Purge deletes entries older than the retention window. The purge itself is
// recorded in the same transaction, so the trail always shows that a cleanup
// ran, who ran it, and what the cutoff was.
func (a *AuditTrail) Purge(ctx context.Context, actorID string, olderThan time.Time, origin string) (int64, error) {
	entry := &domain.AuditEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ActorID:    actorID,
		ActorRole:  domain.RoleAdmin,
		Action:     domain.ActionPurgeAudit,
		TargetType: domain.TargetAuditTrail,
		TargetID:   "retention",
		Details:    fmt.Sprintf("deleting audit entries created before %s", olderThan.Format(time.RFC3339)),
		Origin:     origin,
		CreatedAt:  a.now(),
	}

	deleted, err := a.store.PurgeAudit(ctx, olderThan, entry)
	if err != nil {
		return 0, err
	}

	logger.Info("audit retention purge completed",
		zap.String("actor", actorID),
		zap.Time("cutoff", olderThan),
		zap.Int64("deleted", deleted))

	return deleted, nil
}
