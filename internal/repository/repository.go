// package repository defines the interfaces for the data persistence layer.
// These interfaces abstract the underlying database implementation from the service layer.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crmforge/policy-engine/internal/domain"
)

// SLARepository defines the contract for SLA, priority tier and
// business day storage. The ext arguments allow read methods to run
// either inside a transaction (*sqlx.Tx) or directly on a DB
// connection (*sqlx.DB).
type SLARepository interface {
	// CreateSLA inserts an SLA together with its priority tiers and
	// business days. Generated ids are written back into sla.
	// It returns apperrors.ErrAlreadyExists when the tenant already
	// has an SLA with the same name.
	CreateSLA(ctx context.Context, tx *sqlx.Tx, sla *domain.SLA) error

	// GetSLAByID fetches a single SLA with its children, scoped to tenant.
	// It returns apperrors.ErrNotFound when no row matches.
	GetSLAByID(ctx context.Context, ext sqlx.ExtContext, tenantID, slaID uuid.UUID) (*domain.SLA, error)

	// ListSLAs returns all SLAs for the tenant ordered by name, with children.
	ListSLAs(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID) ([]domain.SLA, error)

	// ListEnabledSLAs returns the enabled SLAs for (tenant, appliesTo)
	// ordered by name, with children. Name order is the deterministic
	// tie-break for first-match-wins evaluation.
	ListEnabledSLAs(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, appliesTo string) ([]domain.SLA, error)

	// UpdateSLA updates the SLA's scalar fields.
	// It returns apperrors.ErrNotFound when no row matches.
	UpdateSLA(ctx context.Context, tx *sqlx.Tx, sla *domain.SLA) error

	// ReplacePriorities deletes the SLA's priority tiers and inserts the given set.
	ReplacePriorities(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, tiers []domain.PriorityTier) error

	// ReplaceBusinessDays deletes the SLA's business days and inserts the given set.
	ReplaceBusinessDays(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, days []domain.BusinessDay) error

	// DeleteSLA hard-deletes an SLA; children cascade.
	// It returns apperrors.ErrNotFound when no row matches.
	DeleteSLA(ctx context.Context, tenantID, slaID uuid.UUID) error
}

// RuleRepository defines the contract for assignment rule storage,
// including the rotation state used by the round-robin strategy.
type RuleRepository interface {
	// CreateRule inserts a rule together with its ordered user pool.
	// It returns apperrors.ErrAlreadyExists when the tenant already
	// has a rule with the same name.
	CreateRule(ctx context.Context, tx *sqlx.Tx, rule *domain.AssignmentRule) error

	// GetRuleByID fetches a single rule with its pool, scoped to tenant.
	// It returns apperrors.ErrNotFound when no row matches.
	GetRuleByID(ctx context.Context, ext sqlx.ExtContext, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error)

	// ListRules returns all rules for the tenant ordered by name, with pools.
	ListRules(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID) ([]domain.AssignmentRule, error)

	// ListEnabledRules returns the enabled rules for (tenant, doctype)
	// ordered by name, with pools. All matching rules fire, in this order.
	ListEnabledRules(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, doctype string) ([]domain.AssignmentRule, error)

	// GetRuleForRotation reloads a rule and its pool with a row-level
	// lock ("FOR UPDATE") so the read-modify-write of the rotation
	// index is serialized across concurrent invocations.
	GetRuleForRotation(ctx context.Context, tx *sqlx.Tx, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error)

	// AdvanceRotation persists the next rotation index for the rule.
	AdvanceRotation(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, nextIndex int) error

	// UpdateRule updates the rule's scalar fields.
	// It returns apperrors.ErrNotFound when no row matches.
	UpdateRule(ctx context.Context, tx *sqlx.Tx, rule *domain.AssignmentRule) error

	// ReplacePool replaces the rule's user pool and resets the
	// rotation index to 0 — an old index is meaningless against a new pool.
	ReplacePool(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, pool []uuid.UUID) error

	// DeleteRule hard-deletes a rule; pool rows cascade.
	// It returns apperrors.ErrNotFound when no row matches.
	DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error
}

// AssignmentRepository defines the contract for assignment rows and the
// open-count aggregate the load-balancing strategy reads.
type AssignmentRepository interface {
	// GetOpenAssignment returns the Open assignment for
	// (tenant, doctype, entity, user), or apperrors.ErrNotFound.
	// This is the idempotency probe; it must run in the same
	// transaction as the subsequent CreateAssignment.
	GetOpenAssignment(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, doctype string, entityID, userID uuid.UUID) (*domain.Assignment, error)

	// CreateAssignment inserts an assignment row. A conflict with the
	// partial unique index on Open rows is reported as
	// apperrors.ErrAlreadyExists so callers can fall back to the
	// existing row instead of failing.
	CreateAssignment(ctx context.Context, tx *sqlx.Tx, assignment *domain.Assignment) error

	// CountOpenByUsers returns the number of Open assignments per user
	// across all doctypes for the tenant. Users with no open
	// assignments are absent from the map.
	CountOpenByUsers(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]int, error)

	// GetAssignmentByIDWithLock fetches an assignment by PK with a
	// row-level lock, scoped to tenant.
	GetAssignmentByIDWithLock(ctx context.Context, tx *sqlx.Tx, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error)

	// UpdateAssignmentStatus sets the status of an assignment row.
	UpdateAssignmentStatus(ctx context.Context, tx *sqlx.Tx, assignmentID uuid.UUID, status string) error

	// ListOpenByUser returns the user's Open assignments, newest first.
	ListOpenByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Assignment, error)

	// GetUserWorkloads returns per-user open/completed assignment
	// counts for the tenant.
	GetUserWorkloads(ctx context.Context, tenantID uuid.UUID) ([]domain.UserWorkload, error)
}
