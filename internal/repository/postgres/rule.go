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

type RuleRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewRuleRepository(db *sqlx.DB, log *slog.Logger) *RuleRepository {
	return &RuleRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// poolMember is the row shape of assignment_rule_users.
type poolMember struct {
	RuleID   uuid.UUID `db:"rule_id"`
	UserID   uuid.UUID `db:"user_id"`
	Position int       `db:"position"`
}

func (r *RuleRepository) CreateRule(ctx context.Context, tx *sqlx.Tx, rule *domain.AssignmentRule) error {
	const op = "internal.repository.postgres.CreateRule"

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	query, args, err := r.sq.Insert("assignment_rules").
		Columns("id", "tenant_id", "name", "doctype", "condition", "strategy", "rotation_index", "enabled").
		Values(rule.ID, rule.TenantID, rule.Name, rule.Doctype, rule.Condition, rule.Strategy, 0, rule.Enabled).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build insert query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return &apperrors.RuleAlreadyExistsError{Name: rule.Name}
		}

		return fmt.Errorf("%s: failed to execute insert: %w", op, err)
	}

	if err := r.insertPool(ctx, tx, rule.ID, rule.Pool); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rule.RotationIndex = 0

	return nil
}

func (r *RuleRepository) GetRuleByID(ctx context.Context, ext sqlx.ExtContext, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error) {
	const op = "internal.repository.postgres.GetRuleByID"

	query, args, err := r.ruleSelect().
		Where(sq.Eq{"tenant_id": tenantID, "id": ruleID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var rule domain.AssignmentRule
	if err := sqlx.GetContext(ctx, ext, &rule, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w: assignment rule with id '%s'", op, apperrors.ErrNotFound, ruleID)
		}

		return nil, fmt.Errorf("%s: failed to get rule: %w", op, err)
	}

	rules := []domain.AssignmentRule{rule}
	if err := r.loadPools(ctx, ext, rules); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &rules[0], nil
}

func (r *RuleRepository) ListRules(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID) ([]domain.AssignmentRule, error) {
	const op = "internal.repository.postgres.ListRules"

	return r.selectRules(ctx, ext, op, sq.Eq{"tenant_id": tenantID})
}

func (r *RuleRepository) ListEnabledRules(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, doctype string) ([]domain.AssignmentRule, error) {
	const op = "internal.repository.postgres.ListEnabledRules"

	return r.selectRules(ctx, ext, op, sq.Eq{
		"tenant_id": tenantID,
		"enabled":   true,
		"doctype":   doctype,
	})
}

// GetRuleForRotation reloads the rule row with FOR UPDATE so the
// rotation index read-modify-write is serialized; the lock is held
// until the surrounding transaction commits.
func (r *RuleRepository) GetRuleForRotation(ctx context.Context, tx *sqlx.Tx, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error) {
	const op = "internal.repository.postgres.GetRuleForRotation"

	query, args, err := r.ruleSelect().
		Where(sq.Eq{"tenant_id": tenantID, "id": ruleID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var rule domain.AssignmentRule
	if err := tx.GetContext(ctx, &rule, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w: assignment rule with id '%s'", op, apperrors.ErrNotFound, ruleID)
		}

		return nil, fmt.Errorf("%s: failed to get rule with lock: %w", op, err)
	}

	rules := []domain.AssignmentRule{rule}
	if err := r.loadPools(ctx, tx, rules); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &rules[0], nil
}

func (r *RuleRepository) AdvanceRotation(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, nextIndex int) error {
	const op = "internal.repository.postgres.AdvanceRotation"

	query, args, err := r.sq.Update("assignment_rules").
		Set("rotation_index", nextIndex).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": ruleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build update query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to execute update: %w", op, err)
	}

	return nil
}

func (r *RuleRepository) UpdateRule(ctx context.Context, tx *sqlx.Tx, rule *domain.AssignmentRule) error {
	const op = "internal.repository.postgres.UpdateRule"

	query, args, err := r.sq.Update("assignment_rules").
		Set("name", rule.Name).
		Set("doctype", rule.Doctype).
		Set("condition", rule.Condition).
		Set("strategy", rule.Strategy).
		Set("enabled", rule.Enabled).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"tenant_id": rule.TenantID, "id": rule.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build update query: %w", op, err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return &apperrors.RuleAlreadyExistsError{Name: rule.Name}
		}

		return fmt.Errorf("%s: failed to execute update: %w", op, err)
	}

	if rowsAffected, err := res.RowsAffected(); err == nil && rowsAffected == 0 {
		return fmt.Errorf("%s: %w: assignment rule with id '%s'", op, apperrors.ErrNotFound, rule.ID)
	}

	return nil
}

// ReplacePool swaps the rule's pool and resets rotation_index to 0 in
// the same transaction; an old index against a new pool is meaningless.
func (r *RuleRepository) ReplacePool(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, pool []uuid.UUID) error {
	const op = "internal.repository.postgres.ReplacePool"

	query, args, err := r.sq.Delete("assignment_rule_users").
		Where(sq.Eq{"rule_id": ruleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to delete pool: %w", op, err)
	}

	if err := r.insertPool(ctx, tx, ruleID, pool); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.AdvanceRotation(ctx, tx, ruleID, 0); err != nil {
		return fmt.Errorf("%s: failed to reset rotation index: %w", op, err)
	}

	return nil
}

func (r *RuleRepository) DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	const op = "internal.repository.postgres.DeleteRule"

	query, args, err := r.sq.Delete("assignment_rules").
		Where(sq.Eq{"tenant_id": tenantID, "id": ruleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: failed to execute delete: %w", op, err)
	}

	if rowsAffected, err := res.RowsAffected(); err == nil && rowsAffected == 0 {
		return fmt.Errorf("%s: %w: assignment rule with id '%s'", op, apperrors.ErrNotFound, ruleID)
	}

	return nil
}

func (r *RuleRepository) ruleSelect() sq.SelectBuilder {
	return r.sq.Select("id", "tenant_id", "name", "doctype", "condition", "strategy", "rotation_index", "enabled", "created_at", "updated_at").
		From("assignment_rules")
}

func (r *RuleRepository) selectRules(ctx context.Context, ext sqlx.ExtContext, op string, where sq.Eq) ([]domain.AssignmentRule, error) {
	query, args, err := r.ruleSelect().
		Where(where).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var rules []domain.AssignmentRule
	if err := sqlx.SelectContext(ctx, ext, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	if err := r.loadPools(ctx, ext, rules); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rules, nil
}

// loadPools populates Pool for the given rules, preserving pool order.
func (r *RuleRepository) loadPools(ctx context.Context, ext sqlx.ExtContext, rules []domain.AssignmentRule) error {
	if len(rules) == 0 {
		return nil
	}

	ruleIDs := make([]uuid.UUID, len(rules))
	byID := make(map[uuid.UUID]*domain.AssignmentRule, len(rules))

	for i := range rules {
		ruleIDs[i] = rules[i].ID
		byID[rules[i].ID] = &rules[i]
	}

	query, args, err := r.sq.Select("rule_id", "user_id", "position").
		From("assignment_rule_users").
		Where(sq.Eq{"rule_id": ruleIDs}).
		OrderBy("rule_id", "position ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build pool query: %w", err)
	}

	var members []poolMember
	if err := sqlx.SelectContext(ctx, ext, &members, query, args...); err != nil {
		return fmt.Errorf("failed to select pool members: %w", err)
	}

	for _, m := range members {
		if rule, ok := byID[m.RuleID]; ok {
			rule.Pool = append(rule.Pool, m.UserID)
		}
	}

	return nil
}

func (r *RuleRepository) insertPool(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, pool []uuid.UUID) error {
	if len(pool) == 0 {
		return nil
	}

	builder := r.sq.Insert("assignment_rule_users").
		Columns("rule_id", "user_id", "position")

	for position, userID := range pool {
		builder = builder.Values(ruleID, userID, position)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build pool insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert pool members: %w", err)
	}

	return nil
}
