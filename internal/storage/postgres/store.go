package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/internal/service"
	"github.com/tradeguard/compliance-engine/pkg/metrics"
)

// Store persists trading requests, the restricted registry and the audit
// trail. Every state transition is one transaction covering the row update
// and its audit entry; a failure in either rolls back both.
type Store struct {
	pool *pgxpool.Pool
}

var _ service.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

const requestColumns = `
	id, submitter_id, symbol, instrument_name, kind, side, quantity,
	unit_price, currency, unit_price_usd, total_value_usd, exchange_rate,
	status, escalated, escalation_note, rejection_reason, created_at, processed_at`

func scanRequest(row pgx.Row) (*domain.TradingRequest, error) {
	var req domain.TradingRequest
	err := row.Scan(
		&req.ID,
		&req.SubmitterID,
		&req.Symbol,
		&req.InstrumentName,
		&req.Kind,
		&req.Side,
		&req.Quantity,
		&req.UnitPrice,
		&req.Currency,
		&req.UnitPriceUSD,
		&req.TotalValueUSD,
		&req.ExchangeRate,
		&req.Status,
		&req.Escalated,
		&req.EscalationNote,
		&req.RejectionReason,
		&req.CreatedAt,
		&req.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func insertAuditTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_entries
			(id, actor_id, actor_role, action, target_type, target_id, details, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.ActorID, entry.ActorRole, entry.Action,
		entry.TargetType, entry.TargetID, entry.Details, entry.Origin,
		entry.CreatedAt,
	)
	if err == nil {
		metrics.AuditEntriesWritten.WithLabelValues(entry.Action).Inc()
	}
	return err
}

func (s *Store) CreateRequest(ctx context.Context, req *domain.TradingRequest, entry *domain.AuditEntry) error {
	timer := metrics.NewTimer()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.RecordDatabaseQuery("create_request", "error", timer.Elapsed().Seconds())
		return storeErr("begin create request", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trading_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		req.ID, req.SubmitterID, req.Symbol, req.InstrumentName, req.Kind,
		req.Side, req.Quantity, req.UnitPrice, req.Currency, req.UnitPriceUSD,
		req.TotalValueUSD, req.ExchangeRate, req.Status, req.Escalated,
		req.EscalationNote, req.RejectionReason, req.CreatedAt, req.ProcessedAt,
	)
	if err != nil {
		metrics.RecordDatabaseQuery("create_request", "error", timer.Elapsed().Seconds())
		return storeErr("insert request", err)
	}

	if err := insertAuditTx(ctx, tx, entry); err != nil {
		metrics.RecordDatabaseQuery("create_request", "error", timer.Elapsed().Seconds())
		return storeErr("insert audit entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordDatabaseQuery("create_request", "error", timer.Elapsed().Seconds())
		return storeErr("commit create request", err)
	}

	metrics.RecordDatabaseQuery("create_request", "success", timer.Elapsed().Seconds())
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.TradingRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, `
		SELECT`+requestColumns+`
		FROM trading_requests
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get request", err)
	}
	return req, nil
}

func (s *Store) TransitionRequest(
	ctx context.Context,
	id string,
	expectStatus domain.RequestStatus,
	expectEscalated bool,
	update service.TransitionUpdate,
	entry *domain.AuditEntry,
) (*domain.TradingRequest, error) {
	timer := metrics.NewTimer()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.RecordDatabaseQuery("transition_request", "error", timer.Elapsed().Seconds())
		return nil, storeErr("begin transition", err)
	}
	defer tx.Rollback(ctx)

	// Compare-and-swap on (status, escalated): of two concurrent
	// administrative actions, exactly one matches the guard.
	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE trading_requests
		SET status = $1,
		    escalated = $2,
		    escalation_note = $3,
		    rejection_reason = $4,
		    processed_at = $5
		WHERE id = $6 AND status = $7 AND escalated = $8
		RETURNING`+requestColumns,
		update.Status, update.Escalated, update.EscalationNote,
		update.RejectionReason, update.ProcessedAt,
		id, expectStatus, expectEscalated,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.RecordDatabaseQuery("transition_request", "conflict", timer.Elapsed().Seconds())

		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM trading_requests WHERE id = $1)`, id,
		).Scan(&exists); checkErr != nil {
			return nil, storeErr("check request", checkErr)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrRequestNotFound, id)
		}
		return nil, fmt.Errorf("%w: request %s is not %s", domain.ErrInvalidState, id, expectStatus)
	}
	if err != nil {
		metrics.RecordDatabaseQuery("transition_request", "error", timer.Elapsed().Seconds())
		return nil, storeErr("update request", err)
	}

	if err := insertAuditTx(ctx, tx, entry); err != nil {
		metrics.RecordDatabaseQuery("transition_request", "error", timer.Elapsed().Seconds())
		return nil, storeErr("insert audit entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordDatabaseQuery("transition_request", "error", timer.Elapsed().Seconds())
		return nil, storeErr("commit transition", err)
	}

	metrics.RecordDatabaseQuery("transition_request", "success", timer.Elapsed().Seconds())
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context, f domain.RequestFilter, sort domain.SortOrder, p domain.Pagination) (domain.Page[domain.TradingRequest], error) {
	timer := metrics.NewTimer()
	p = p.Normalize()

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if f.SubmitterID != "" {
		argCount++
		where += fmt.Sprintf(" AND submitter_id = $%d", argCount)
		args = append(args, f.SubmitterID)
	}
	if f.Symbol != "" {
		argCount++
		where += fmt.Sprintf(" AND symbol = $%d", argCount)
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		argCount++
		where += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, f.Status)
	}
	if f.Escalated != nil {
		argCount++
		where += fmt.Sprintf(" AND escalated = $%d", argCount)
		args = append(args, *f.Escalated)
	}
	if f.From != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *f.From)
	}
	if f.To != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *f.To)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trading_requests"+where, args...).Scan(&total); err != nil {
		metrics.RecordDatabaseQuery("list_requests", "error", timer.Elapsed().Seconds())
		return domain.Page[domain.TradingRequest]{}, storeErr("count requests", err)
	}

	order := " ORDER BY created_at DESC, id DESC"
	if sort == domain.SortOldestFirst {
		order = " ORDER BY created_at ASC, id ASC"
	}

	query := "SELECT" + requestColumns + " FROM trading_requests" + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, p.PageSize, p.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseQuery("list_requests", "error", timer.Elapsed().Seconds())
		return domain.Page[domain.TradingRequest]{}, storeErr("list requests", err)
	}
	defer rows.Close()

	requests := make([]domain.TradingRequest, 0, p.PageSize)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return domain.Page[domain.TradingRequest]{}, storeErr("scan request", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.TradingRequest]{}, storeErr("iterate requests", err)
	}

	metrics.RecordDatabaseQuery("list_requests", "success", timer.Elapsed().Seconds())
	return domain.NewPage(requests, total, p), nil
}

func (s *Store) InsertRestricted(ctx context.Context, inst *domain.RestrictedInstrument, change *domain.RegistryChange, entry *domain.AuditEntry) error {
	timer := metrics.NewTimer()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin insert restricted", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO restricted_instruments (symbol, name, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO NOTHING`,
		inst.Symbol, inst.Name, inst.Kind, inst.CreatedAt,
	)
	if err != nil {
		metrics.RecordDatabaseQuery("insert_restricted", "error", timer.Elapsed().Seconds())
		return storeErr("insert restricted", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRestricted, inst.Symbol)
	}

	if err := insertChangeTx(ctx, tx, change); err != nil {
		return storeErr("insert changelog", err)
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return storeErr("insert audit entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit insert restricted", err)
	}

	metrics.RecordDatabaseQuery("insert_restricted", "success", timer.Elapsed().Seconds())
	return nil
}

func (s *Store) DeleteRestricted(ctx context.Context, symbol string, change *domain.RegistryChange, entry *domain.AuditEntry) error {
	timer := metrics.NewTimer()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin delete restricted", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM restricted_instruments WHERE symbol = $1`, symbol)
	if err != nil {
		metrics.RecordDatabaseQuery("delete_restricted", "error", timer.Elapsed().Seconds())
		return storeErr("delete restricted", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotRestricted, symbol)
	}

	if err := insertChangeTx(ctx, tx, change); err != nil {
		return storeErr("insert changelog", err)
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return storeErr("insert audit entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit delete restricted", err)
	}

	metrics.RecordDatabaseQuery("delete_restricted", "success", timer.Elapsed().Seconds())
	return nil
}

func insertChangeTx(ctx context.Context, tx pgx.Tx, change *domain.RegistryChange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO restricted_instrument_changelog (id, symbol, action, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		change.ID, change.Symbol, change.Action, change.ActorID, change.Reason, change.CreatedAt,
	)
	return err
}

func (s *Store) IsRestricted(ctx context.Context, symbol string) (bool, error) {
	timer := metrics.NewTimer()

	var restricted bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM restricted_instruments WHERE symbol = $1)`, symbol,
	).Scan(&restricted)
	if err != nil {
		metrics.RecordDatabaseQuery("is_restricted", "error", timer.Elapsed().Seconds())
		return false, storeErr("check restricted", err)
	}

	metrics.RecordDatabaseQuery("is_restricted", "success", timer.Elapsed().Seconds())
	return restricted, nil
}

func (s *Store) ListRestricted(ctx context.Context) ([]domain.RestrictedInstrument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, name, kind, created_at
		FROM restricted_instruments
		ORDER BY symbol ASC`)
	if err != nil {
		return nil, storeErr("list restricted", err)
	}
	defer rows.Close()

	var instruments []domain.RestrictedInstrument
	for rows.Next() {
		var inst domain.RestrictedInstrument
		if err := rows.Scan(&inst.Symbol, &inst.Name, &inst.Kind, &inst.CreatedAt); err != nil {
			return nil, storeErr("scan restricted", err)
		}
		instruments = append(instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate restricted", err)
	}

	return instruments, nil
}

func (s *Store) ListRegistryChanges(ctx context.Context, p domain.Pagination) (domain.Page[domain.RegistryChange], error) {
	p = p.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM restricted_instrument_changelog`).Scan(&total); err != nil {
		return domain.Page[domain.RegistryChange]{}, storeErr("count changelog", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, action, actor_id, reason, created_at
		FROM restricted_instrument_changelog
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, p.PageSize, p.Offset())
	if err != nil {
		return domain.Page[domain.RegistryChange]{}, storeErr("list changelog", err)
	}
	defer rows.Close()

	changes := make([]domain.RegistryChange, 0, p.PageSize)
	for rows.Next() {
		var change domain.RegistryChange
		if err := rows.Scan(&change.ID, &change.Symbol, &change.Action, &change.ActorID, &change.Reason, &change.CreatedAt); err != nil {
			return domain.Page[domain.RegistryChange]{}, storeErr("scan changelog", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.RegistryChange]{}, storeErr("iterate changelog", err)
	}

	return domain.NewPage(changes, total, p), nil
}

func (s *Store) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	timer := metrics.NewTimer()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries
			(id, actor_id, actor_role, action, target_type, target_id, details, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.ActorID, entry.ActorRole, entry.Action,
		entry.TargetType, entry.TargetID, entry.Details, entry.Origin,
		entry.CreatedAt,
	)
	if err != nil {
		metrics.RecordDatabaseQuery("append_audit", "error", timer.Elapsed().Seconds())
		return storeErr("append audit", err)
	}

	metrics.AuditEntriesWritten.WithLabelValues(entry.Action).Inc()
	metrics.RecordDatabaseQuery("append_audit", "success", timer.Elapsed().Seconds())
	return nil
}

func auditWhere(f domain.AuditFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if f.ActorID != "" {
		argCount++
		where += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		argCount++
		where += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, f.Action)
	}
	if f.TargetType != "" {
		argCount++
		where += fmt.Sprintf(" AND target_type = $%d", argCount)
		args = append(args, f.TargetType)
	}
	if f.TargetID != "" {
		argCount++
		where += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, f.TargetID)
	}
	if f.From != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *f.From)
	}
	if f.To != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *f.To)
	}

	return where, args
}

func (s *Store) QueryAudit(ctx context.Context, f domain.AuditFilter, p domain.Pagination) (domain.Page[domain.AuditEntry], error) {
	timer := metrics.NewTimer()
	p = p.Normalize()
	where, args := auditWhere(f)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&total); err != nil {
		metrics.RecordDatabaseQuery("query_audit", "error", timer.Elapsed().Seconds())
		return domain.Page[domain.AuditEntry]{}, storeErr("count audit", err)
	}

	query := `
		SELECT id, actor_id, actor_role, action, target_type, target_id, details, origin, created_at
		FROM audit_entries` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, p.PageSize, p.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseQuery("query_audit", "error", timer.Elapsed().Seconds())
		return domain.Page[domain.AuditEntry]{}, storeErr("query audit", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, p.PageSize)
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action,
			&entry.TargetType, &entry.TargetID, &entry.Details, &entry.Origin,
			&entry.CreatedAt,
		); err != nil {
			return domain.Page[domain.AuditEntry]{}, storeErr("scan audit", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.AuditEntry]{}, storeErr("iterate audit", err)
	}

	metrics.RecordDatabaseQuery("query_audit", "success", timer.Elapsed().Seconds())
	return domain.NewPage(entries, total, p), nil
}

func (s *Store) SummarizeAudit(ctx context.Context, f domain.AuditFilter) (*domain.AuditSummary, error) {
	where, args := auditWhere(f)

	summary := &domain.AuditSummary{
		ByActor:  make(map[string]int),
		ByAction: make(map[string]int),
		ByTarget: make(map[string]int),
	}

	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&summary.Total); err != nil {
		return nil, storeErr("summarize audit", err)
	}

	groups := map[string]map[string]int{
		"actor_id":    summary.ByActor,
		"action":      summary.ByAction,
		"target_type": summary.ByTarget,
	}

	for column, dest := range groups {
		query := fmt.Sprintf(
			"SELECT %s, COUNT(*) FROM audit_entries%s GROUP BY %s", column, where, column)

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, storeErr("summarize audit", err)
		}

		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, storeErr("scan audit summary", err)
			}
			dest[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storeErr("iterate audit summary", err)
		}
		rows.Close()
	}

	return summary, nil
}

func (s *Store) PurgeAudit(ctx context.Context, olderThan time.Time, entry *domain.AuditEntry) (int64, error) {
	timer := metrics.NewTimer()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storeErr("begin purge", err)
	}
	defer tx.Rollback(ctx)

	// The purge entry is written in the same transaction as the delete and
	// excluded from it, so the cleanup itself always stays on record.
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return 0, storeErr("insert purge entry", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM audit_entries WHERE created_at < $1 AND id <> $2`,
		olderThan, entry.ID,
	)
	if err != nil {
		metrics.RecordDatabaseQuery("purge_audit", "error", timer.Elapsed().Seconds())
		return 0, storeErr("purge audit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("commit purge", err)
	}

	metrics.RecordDatabaseQuery("purge_audit", "success", timer.Elapsed().Seconds())
	return tag.RowsAffected(), nil
}
