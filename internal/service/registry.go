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

// Registry is the authoritative set of instruments forbidden from
// unsupervised trading. Every add and remove lands three writes in one
// transaction: the registry row, a changelog row and an audit entry.
type Registry struct {
	store RegistryStore
	now   func() time.Time
}

func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock substitutes the time source for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Add(ctx context.Context, rawSymbol, name string, kind domain.InstrumentKind, actorID, reason, origin string) (*domain.RestrictedInstrument, error) {
	symbol, err := domain.NormalizeSymbol(rawSymbol)
	if err != nil {
		return nil, err
	}
	if kind != domain.KindEquity && kind != domain.KindBond {
		return nil, fmt.Errorf("%w: kind must be equity or bond", domain.ErrValidation)
	}

	now := r.now()
	inst := &domain.RestrictedInstrument{
		Symbol:    symbol,
		Name:      name,
		Kind:      kind,
		CreatedAt: now,
	}
	change := &domain.RegistryChange{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Symbol:    symbol,
		Action:    domain.RegistryActionRestrict,
		ActorID:   actorID,
		Reason:    reason,
		CreatedAt: now,
	}
	entry := &domain.AuditEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ActorID:    actorID,
		ActorRole:  domain.RoleAdmin,
		Action:     domain.ActionAddRestricted,
		TargetType: domain.TargetRestricted,
		TargetID:   symbol,
		Details:    reason,
		Origin:     origin,
		CreatedAt:  now,
	}

	if err := r.store.InsertRestricted(ctx, inst, change, entry); err != nil {
		return nil, err
	}

	logger.Info("instrument restricted",
		zap.String("symbol", symbol),
		zap.String("actor", actorID))

	return inst, nil
}

func (r *Registry) Remove(ctx context.Context, rawSymbol, actorID, reason, origin string) error {
	symbol, err := domain.NormalizeSymbol(rawSymbol)
	if err != nil {
		return err
	}

	now := r.now()
	change := &domain.RegistryChange{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Symbol:    symbol,
		Action:    domain.RegistryActionUnrestrict,
		ActorID:   actorID,
		Reason:    reason,
		CreatedAt: now,
	}
	entry := &domain.AuditEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ActorID:    actorID,
		ActorRole:  domain.RoleAdmin,
		Action:     domain.ActionRemoveRestricted,
		TargetType: domain.TargetRestricted,
		TargetID:   symbol,
		Details:    reason,
		Origin:     origin,
		CreatedAt:  now,
	}

	if err := r.store.DeleteRestricted(ctx, symbol, change, entry); err != nil {
		return err
	}

	logger.Info("instrument unrestricted",
		zap.String("symbol", symbol),
		zap.String("actor", actorID))

	return nil
}

// IsRestricted is checked by value at decision time; there is no historical
// join back to the registry.
func (r *Registry) IsRestricted(ctx context.Context, rawSymbol string) (bool, error) {
	symbol, err := domain.NormalizeSymbol(rawSymbol)
	if err != nil {
		return false, err
	}
	return r.store.IsRestricted(ctx, symbol)
}

func (r *Registry) List(ctx context.Context) ([]domain.RestrictedInstrument, error) {
	return r.store.ListRestricted(ctx)
}

func (r *Registry) Changes(ctx context.Context, p domain.Pagination) (domain.Page[domain.RegistryChange], error) {
	return r.store.ListRegistryChanges(ctx, p)
}
