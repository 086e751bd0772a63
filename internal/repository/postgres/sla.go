package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/crmforge/policy-engine/internal/apperrors"
	"github.com/crmforge/policy-engine/internal/domain"
)

type SLARepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewSLARepository(db *sqlx.DB, log *slog.Logger) *SLARepository {
	return &SLARepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *SLARepository) CreateSLA(ctx context.Context, tx *sqlx.Tx, sla *domain.SLA) error {
	const op = "internal.repository.postgres.CreateSLA"

	if sla.ID == uuid.Nil {
		sla.ID = uuid.New()
	}

	query, args, err := r.sq.Insert("service_level_agreements").
		Columns("id", "tenant_id", "name", "enabled", "applies_to", "condition").
		Values(sla.ID, sla.TenantID, sla.Name, sla.Enabled, sla.AppliesTo, sla.Condition).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build insert query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return &apperrors.SLAAlreadyExistsError{Name: sla.Name}
		}

		return fmt.Errorf("%s: failed to execute insert: %w", op, err)
	}

	if err := r.insertPriorities(ctx, tx, sla.ID, sla.Priorities); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.insertBusinessDays(ctx, tx, sla.ID, sla.BusinessDays); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *SLARepository) GetSLAByID(ctx context.Context, ext sqlx.ExtContext, tenantID, slaID uuid.UUID) (*domain.SLA, error) {
	const op = "internal.repository.postgres.GetSLAByID"

	query, args, err := r.slaSelect().
		Where(sq.Eq{"tenant_id": tenantID, "id": slaID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var sla domain.SLA
	if err := sqlx.GetContext(ctx, ext, &sla, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w: SLA with id '%s'", op, apperrors.ErrNotFound, slaID)
		}

		return nil, fmt.Errorf("%s: failed to get SLA: %w", op, err)
	}

	slas := []domain.SLA{sla}
	if err := r.loadChildren(ctx, ext, slas); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &slas[0], nil
}

func (r *SLARepository) ListSLAs(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID) ([]domain.SLA, error) {
	const op = "internal.repository.postgres.ListSLAs"

	return r.selectSLAs(ctx, ext, op, sq.Eq{"tenant_id": tenantID})
}

func (r *SLARepository) ListEnabledSLAs(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, appliesTo string) ([]domain.SLA, error) {
	const op = "internal.repository.postgres.ListEnabledSLAs"

	return r.selectSLAs(ctx, ext, op, sq.Eq{
		"tenant_id":  tenantID,
		"enabled":    true,
		"applies_to": appliesTo,
	})
}

func (r *SLARepository) UpdateSLA(ctx context.Context, tx *sqlx.Tx, sla *domain.SLA) error {
	const op = "internal.repository.postgres.UpdateSLA"

	query, args, err := r.sq.Update("service_level_agreements").
		Set("name", sla.Name).
		Set("enabled", sla.Enabled).
		Set("applies_to", sla.AppliesTo).
		Set("condition", sla.Condition).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"tenant_id": sla.TenantID, "id": sla.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build update query: %w", op, err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return &apperrors.SLAAlreadyExistsError{Name: sla.Name}
		}

		return fmt.Errorf("%s: failed to execute update: %w", op, err)
	}

	if rowsAffected, err := res.RowsAffected(); err == nil && rowsAffected == 0 {
		return fmt.Errorf("%s: %w: SLA with id '%s'", op, apperrors.ErrNotFound, sla.ID)
	}

	return nil
}

// ReplacePriorities fully replaces the SLA's priority tiers. Child
// tables are owned collections; partial merges are never performed.
func (r *SLARepository) ReplacePriorities(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, tiers []domain.PriorityTier) error {
	const op = "internal.repository.postgres.ReplacePriorities"

	query, args, err := r.sq.Delete("sla_priorities").
		Where(sq.Eq{"sla_id": slaID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to delete priorities: %w", op, err)
	}

	if err := r.insertPriorities(ctx, tx, slaID, tiers); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *SLARepository) ReplaceBusinessDays(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, days []domain.BusinessDay) error {
	const op = "internal.repository.postgres.ReplaceBusinessDays"

	query, args, err := r.sq.Delete("sla_business_days").
		Where(sq.Eq{"sla_id": slaID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to delete business days: %w", op, err)
	}

	if err := r.insertBusinessDays(ctx, tx, slaID, days); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *SLARepository) DeleteSLA(ctx context.Context, tenantID, slaID uuid.UUID) error {
	const op = "internal.repository.postgres.DeleteSLA"

	query, args, err := r.sq.Delete("service_level_agreements").
		Where(sq.Eq{"tenant_id": tenantID, "id": slaID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: failed to execute delete: %w", op, err)
	}

	if rowsAffected, err := res.RowsAffected(); err == nil && rowsAffected == 0 {
		return fmt.Errorf("%s: %w: SLA with id '%s'", op, apperrors.ErrNotFound, slaID)
	}

	return nil
}

func (r *SLARepository) slaSelect() sq.SelectBuilder {
	return r.sq.Select("id", "tenant_id", "name", "enabled", "applies_to", "condition", "created_at", "updated_at").
		From("service_level_agreements")
}

func (r *SLARepository) selectSLAs(ctx context.Context, ext sqlx.ExtContext, op string, where sq.Eq) ([]domain.SLA, error) {
	query, args, err := r.slaSelect().
		Where(where).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var slas []domain.SLA
	if err := sqlx.SelectContext(ctx, ext, &slas, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	if err := r.loadChildren(ctx, ext, slas); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return slas, nil
}

// loadChildren populates Priorities and BusinessDays for the given
// SLAs with two IN queries instead of per-row lookups.
func (r *SLARepository) loadChildren(ctx context.Context, ext sqlx.ExtContext, slas []domain.SLA) error {
	if len(slas) == 0 {
		return nil
	}

	slaIDs := make([]uuid.UUID, len(slas))
	byID := make(map[uuid.UUID]*domain.SLA, len(slas))

	for i := range slas {
		slaIDs[i] = slas[i].ID
		byID[slas[i].ID] = &slas[i]
	}

	query, args, err := r.sq.Select("id", "sla_id", "priority", "response_minutes", "resolution_minutes").
		From("sla_priorities").
		Where(sq.Eq{"sla_id": slaIDs}).
		OrderBy("sla_id", "priority").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build priorities query: %w", err)
	}

	var tiers []domain.PriorityTier
	if err := sqlx.SelectContext(ctx, ext, &tiers, query, args...); err != nil {
		return fmt.Errorf("failed to select priorities: %w", err)
	}

	for _, tier := range tiers {
		if sla, ok := byID[tier.SLAID]; ok {
			sla.Priorities = append(sla.Priorities, tier)
		}
	}

	query, args, err = r.sq.Select("id", "sla_id", "day", "open_minute", "close_minute").
		From("sla_business_days").
		Where(sq.Eq{"sla_id": slaIDs}).
		OrderBy("sla_id", "day").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build business days query: %w", err)
	}

	var days []domain.BusinessDay
	if err := sqlx.SelectContext(ctx, ext, &days, query, args...); err != nil {
		return fmt.Errorf("failed to select business days: %w", err)
	}

	for _, day := range days {
		if sla, ok := byID[day.SLAID]; ok {
			sla.BusinessDays = append(sla.BusinessDays, day)
		}
	}

	return nil
}

func (r *SLARepository) insertPriorities(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, tiers []domain.PriorityTier) error {
	if len(tiers) == 0 {
		return nil
	}

	builder := r.sq.Insert("sla_priorities").
		Columns("id", "sla_id", "priority", "response_minutes", "resolution_minutes")

	for i := range tiers {
		if tiers[i].ID == uuid.Nil {
			tiers[i].ID = uuid.New()
		}
		tiers[i].SLAID = slaID

		builder = builder.Values(tiers[i].ID, slaID, tiers[i].Priority, tiers[i].ResponseMinutes, tiers[i].ResolutionMinutes)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build priorities insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert priorities: %w", err)
	}

	return nil
}

func (r *SLARepository) insertBusinessDays(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, days []domain.BusinessDay) error {
	if len(days) == 0 {
		return nil
	}

	builder := r.sq.Insert("sla_business_days").
		Columns("id", "sla_id", "day", "open_minute", "close_minute")

	for i := range days {
		if days[i].ID == uuid.Nil {
			days[i].ID = uuid.New()
		}
		days[i].SLAID = slaID

		builder = builder.Values(days[i].ID, slaID, days[i].Day, days[i].OpenMinute, days[i].CloseMinute)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build business days insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert business days: %w", err)
	}

	return nil
}
