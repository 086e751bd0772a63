package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crmforge/policy-engine/internal/apperrors"
	"github.com/crmforge/policy-engine/internal/condition"
	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/repository"
	"github.com/crmforge/policy-engine/internal/validation"
	"github.com/crmforge/policy-engine/pkg/logger/sl"
)

// CreateRuleInput carries a full assignment rule definition.
type CreateRuleInput struct {
	Name      string
	Doctype   string
	Condition *string
	Strategy  string
	Enabled   bool
	Pool      []uuid.UUID
}

// UpdateRuleInput is a partial update. A nil Pool keeps the existing
// pool; a non-nil Pool replaces it and resets the rotation index.
type UpdateRuleInput struct {
	Name      *string
	Doctype   *string
	Condition *string
	Strategy  *string
	Enabled   *bool
	Pool      []uuid.UUID
}

type AssignmentService interface {
	ListRules(ctx context.Context, tenantID uuid.UUID) ([]domain.AssignmentRule, error)
	GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error)
	CreateRule(ctx context.Context, tenantID uuid.UUID, input CreateRuleInput) (*domain.AssignmentRule, error)
	UpdateRule(ctx context.Context, tenantID, ruleID uuid.UUID, input UpdateRuleInput) (*domain.AssignmentRule, error)
	DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error

	ApplyRules(ctx context.Context, tenantID uuid.UUID, doctype string, entity domain.Entity) ([]domain.Assignment, error)
	Assign(ctx context.Context, tenantID uuid.UUID, doctype string, entityID, userID, assignedBy uuid.UUID) (*domain.Assignment, error)
	CompleteAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error)
	CancelAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error)
	ListOpenAssignments(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Assignment, error)
	GetWorkloadStats(ctx context.Context, tenantID uuid.UUID) ([]domain.UserWorkload, error)
}

type AssignmentServiceImpl struct {
	BaseService
	ext         sqlx.ExtContext
	rules       repository.RuleRepository
	assignments repository.AssignmentRepository
	evaluator   *condition.Evaluator
}

func NewAssignmentService(
	db Transactor,
	ext sqlx.ExtContext,
	log *slog.Logger,
	rules repository.RuleRepository,
	assignments repository.AssignmentRepository,
) *AssignmentServiceImpl {
	return &AssignmentServiceImpl{
		BaseService: NewBaseService(db, log),
		ext:         ext,
		rules:       rules,
		assignments: assignments,
		evaluator:   condition.NewEvaluator(log),
	}
}

// ----------------------------------------------------------------------
// Rule CRUD
// ----------------------------------------------------------------------

func (s *AssignmentServiceImpl) ListRules(ctx context.Context, tenantID uuid.UUID) ([]domain.AssignmentRule, error) {
	const op = "internal.service.assignment.ListRules"

	rules, err := s.rules.ListRules(ctx, s.ext, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list rules: %w", op, err)
	}

	return rules, nil
}

func (s *AssignmentServiceImpl) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error) {
	const op = "internal.service.assignment.GetRule"

	rule, err := s.rules.GetRuleByID(ctx, s.ext, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get rule: %w", op, err)
	}

	return rule, nil
}

func (s *AssignmentServiceImpl) CreateRule(ctx context.Context, tenantID uuid.UUID, input CreateRuleInput) (*domain.AssignmentRule, error) {
	const op = "internal.service.assignment.CreateRule"
	log := s.log.With(slog.String("op", op), slog.String("tenant_id", tenantID.String()))

	if err := validateRuleDefinition(input.Condition, input.Pool, false); err != nil {
		return nil, err
	}

	rule := &domain.AssignmentRule{
		TenantID:  tenantID,
		Name:      input.Name,
		Doctype:   input.Doctype,
		Condition: input.Condition,
		Strategy:  input.Strategy,
		Enabled:   input.Enabled,
		Pool:      input.Pool,
	}

	err := s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		return s.rules.CreateRule(ctx, tx, rule)
	})
	if err != nil {
		return nil, err
	}

	log.Info("assignment rule created", slog.String("rule_id", rule.ID.String()), slog.String("name", rule.Name))

	return s.GetRule(ctx, tenantID, rule.ID)
}

func (s *AssignmentServiceImpl) UpdateRule(ctx context.Context, tenantID, ruleID uuid.UUID, input UpdateRuleInput) (*domain.AssignmentRule, error) {
	const op = "internal.service.assignment.UpdateRule"
	log := s.log.With(slog.String("op", op), slog.String("rule_id", ruleID.String()))

	if err := validateRuleDefinition(input.Condition, input.Pool, true); err != nil {
		return nil, err
	}

	rule, err := s.rules.GetRuleByID(ctx, s.ext, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get rule: %w", op, err)
	}

	if input.Name != nil {
		rule.Name = *input.Name
	}
	if input.Doctype != nil {
		rule.Doctype = *input.Doctype
	}
	if input.Condition != nil {
		rule.Condition = input.Condition
	}
	if input.Strategy != nil {
		rule.Strategy = *input.Strategy
	}
	if input.Enabled != nil {
		rule.Enabled = *input.Enabled
	}

	err = s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		if err := s.rules.UpdateRule(ctx, tx, rule); err != nil {
			return err
		}

		// Replacing the pool also resets the rotation index: an old
		// index is meaningless against a new member list.
		if input.Pool != nil {
			if err := s.rules.ReplacePool(ctx, tx, ruleID, input.Pool); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("assignment rule updated")

	return s.GetRule(ctx, tenantID, ruleID)
}

func (s *AssignmentServiceImpl) DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	const op = "internal.service.assignment.DeleteRule"

	if err := s.rules.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return fmt.Errorf("%s: failed to delete rule: %w", op, err)
	}

	s.log.Info("assignment rule deleted", slog.String("op", op), slog.String("rule_id", ruleID.String()))

	return nil
}

// ----------------------------------------------------------------------
// Engine: rule application
// ----------------------------------------------------------------------

// ApplyRules evaluates every enabled rule for (tenant, doctype) against
// the entity, in name order, and fires ALL rules whose condition
// matches. Each firing rule contributes at most one Open assignment;
// firing against an entity the chosen user already holds Open is a
// no-op that returns the existing row. A rule with an empty pool or an
// unknown strategy is logged and skipped — one broken rule must not
// stop the rest. The whole application runs in one transaction.
func (s *AssignmentServiceImpl) ApplyRules(ctx context.Context, tenantID uuid.UUID, doctype string, entity domain.Entity) ([]domain.Assignment, error) {
	const op = "internal.service.assignment.ApplyRules"
	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", tenantID.String()),
		slog.String("doctype", doctype),
		slog.String("entity_id", entity.EntityID().String()),
	)

	rules, err := s.rules.ListEnabledRules(ctx, s.ext, tenantID, doctype)
	if err != nil {
		// Entity creation must survive a broken rule lookup.
		log.Warn("rule lookup failed, skipping assignment", sl.Err(err))

		return nil, nil
	}

	snapshot := entity.Snapshot()

	var matched []domain.AssignmentRule
	for i := range rules {
		if s.evaluator.Matches(rules[i].Condition, snapshot) {
			matched = append(matched, rules[i])
		}
	}

	if len(matched) == 0 {
		log.Debug("no assignment rules matched")

		return nil, nil
	}

	var created []domain.Assignment

	err = s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		for _, rule := range matched {
			assignment, err := s.applyRule(ctx, tx, tenantID, doctype, entity.EntityID(), rule)
			if err != nil {
				return err
			}
			if assignment != nil {
				created = append(created, *assignment)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("assignment rules applied",
		slog.Int("rules_matched", len(matched)),
		slog.Int("assignments", len(created)),
	)

	return created, nil
}

// applyRule picks a user per the rule's strategy and records the
// assignment. Returns nil without error when the rule cannot produce
// an assignment (empty pool, unknown strategy).
func (s *AssignmentServiceImpl) applyRule(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, doctype string, entityID uuid.UUID, rule domain.AssignmentRule) (*domain.Assignment, error) {
	const op = "internal.service.assignment.applyRule"
	log := s.log.With(slog.String("op", op), slog.String("rule_id", rule.ID.String()))

	if len(rule.Pool) == 0 {
		log.Warn("rule has an empty user pool, skipping")

		return nil, nil
	}

	var (
		userID uuid.UUID
		err    error
	)

	switch rule.Strategy {
	case domain.StrategyRoundRobin:
		userID, err = s.pickRoundRobin(ctx, tx, tenantID, rule.ID)
	case domain.StrategyLoadBalancing:
		userID, err = s.pickLeastLoaded(ctx, tx, tenantID, rule.Pool)
	default:
		log.Warn("rule has an unknown strategy, skipping", slog.String("strategy", rule.Strategy))

		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: strategy '%s' failed: %w", op, rule.Strategy, err)
	}

	return s.createIfNotExists(ctx, tx, &domain.Assignment{
		TenantID:   tenantID,
		Doctype:    doctype,
		EntityID:   entityID,
		AssignedTo: userID,
		Status:     domain.AssignmentStatusOpen,
	})
}

// pickRoundRobin reloads the rule under a row lock, takes the pool
// member at the current rotation index and advances the index. The
// lock serializes concurrent rotations so two in-flight applications
// cannot pick the same member.
func (s *AssignmentServiceImpl) pickRoundRobin(ctx context.Context, tx *sqlx.Tx, tenantID, ruleID uuid.UUID) (uuid.UUID, error) {
	rule, err := s.rules.GetRuleForRotation(ctx, tx, tenantID, ruleID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to lock rule for rotation: %w", err)
	}

	if len(rule.Pool) == 0 {
		return uuid.Nil, fmt.Errorf("rule pool emptied concurrently: %w", apperrors.ErrNoRuleMatched)
	}

	idx := rule.RotationIndex % len(rule.Pool)
	userID := rule.Pool[idx]

	if err := s.rules.AdvanceRotation(ctx, tx, ruleID, (idx+1)%len(rule.Pool)); err != nil {
		return uuid.Nil, fmt.Errorf("failed to advance rotation: %w", err)
	}

	return userID, nil
}

// pickLeastLoaded returns the pool member with the fewest Open
// assignments across all doctypes. Ties break by pool order, so the
// result is deterministic for a given pool and workload.
func (s *AssignmentServiceImpl) pickLeastLoaded(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, pool []uuid.UUID) (uuid.UUID, error) {
	counts, err := s.assignments.CountOpenByUsers(ctx, tx, tenantID, pool)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to count open assignments: %w", err)
	}

	best := pool[0]
	bestCount := counts[best]

	for _, userID := range pool[1:] {
		if counts[userID] < bestCount {
			best = userID
			bestCount = counts[userID]
		}
	}

	return best, nil
}

// createIfNotExists inserts the assignment unless the user already
// holds an Open one for the same entity, in which case the existing
// row is returned. The post-insert re-read covers the race where the
// probe misses but the partial unique index rejects the insert.
func (s *AssignmentServiceImpl) createIfNotExists(ctx context.Context, tx *sqlx.Tx, assignment *domain.Assignment) (*domain.Assignment, error) {
	const op = "internal.service.assignment.createIfNotExists"

	existing, err := s.assignments.GetOpenAssignment(ctx, tx, assignment.TenantID, assignment.Doctype, assignment.EntityID, assignment.AssignedTo)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("%s: failed to check for existing assignment: %w", op, err)
	}

	if err := s.assignments.CreateAssignment(ctx, tx, assignment); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			existing, rereadErr := s.assignments.GetOpenAssignment(ctx, tx, assignment.TenantID, assignment.Doctype, assignment.EntityID, assignment.AssignedTo)
			if rereadErr != nil {
				return nil, fmt.Errorf("%s: failed to load conflicting assignment: %w", op, rereadErr)
			}

			return existing, nil
		}

		return nil, fmt.Errorf("%s: failed to create assignment: %w", op, err)
	}

	return assignment, nil
}

// ----------------------------------------------------------------------
// Manual assignment and lifecycle
// ----------------------------------------------------------------------

// Assign records a manual assignment of an entity to a user on behalf
// of assignedBy. Like rule-triggered assignment it is idempotent per
// (tenant, doctype, entity, user) while the assignment is Open.
func (s *AssignmentServiceImpl) Assign(ctx context.Context, tenantID uuid.UUID, doctype string, entityID, userID, assignedBy uuid.UUID) (*domain.Assignment, error) {
	const op = "internal.service.assignment.Assign"

	var result *domain.Assignment

	err := s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		assignment, err := s.createIfNotExists(ctx, tx, &domain.Assignment{
			TenantID:   tenantID,
			Doctype:    doctype,
			EntityID:   entityID,
			AssignedTo: userID,
			AssignedBy: &assignedBy,
			Status:     domain.AssignmentStatusOpen,
		})
		if err != nil {
			return err
		}

		result = assignment

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("assignment recorded",
		slog.String("op", op),
		slog.String("assignment_id", result.ID.String()),
		slog.String("assigned_to", result.AssignedTo.String()),
	)

	return result, nil
}

// CompleteAssignment transitions an Open assignment to Completed.
func (s *AssignmentServiceImpl) CompleteAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error) {
	return s.closeAssignment(ctx, tenantID, assignmentID, domain.AssignmentStatusCompleted)
}

// CancelAssignment transitions an Open assignment to Cancelled.
func (s *AssignmentServiceImpl) CancelAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error) {
	return s.closeAssignment(ctx, tenantID, assignmentID, domain.AssignmentStatusCancelled)
}

func (s *AssignmentServiceImpl) closeAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID, status string) (*domain.Assignment, error) {
	const op = "internal.service.assignment.closeAssignment"

	var result *domain.Assignment

	err := s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		assignment, err := s.assignments.GetAssignmentByIDWithLock(ctx, tx, tenantID, assignmentID)
		if err != nil {
			return fmt.Errorf("failed to get assignment: %w", err)
		}

		if assignment.Status != domain.AssignmentStatusOpen {
			return fmt.Errorf("assignment is %s: %w", assignment.Status, apperrors.ErrAssignmentClosed)
		}

		if err := s.assignments.UpdateAssignmentStatus(ctx, tx, assignmentID, status); err != nil {
			return fmt.Errorf("failed to update assignment status: %w", err)
		}

		assignment.Status = status
		result = assignment

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("assignment closed",
		slog.String("op", op),
		slog.String("assignment_id", assignmentID.String()),
		slog.String("status", status),
	)

	return result, nil
}

func (s *AssignmentServiceImpl) ListOpenAssignments(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Assignment, error) {
	const op = "internal.service.assignment.ListOpenAssignments"

	assignments, err := s.assignments.ListOpenByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list assignments: %w", op, err)
	}

	return assignments, nil
}

func (s *AssignmentServiceImpl) GetWorkloadStats(ctx context.Context, tenantID uuid.UUID) ([]domain.UserWorkload, error) {
	const op = "internal.service.assignment.GetWorkloadStats"

	workloads, err := s.assignments.GetUserWorkloads(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get workloads: %w", op, err)
	}

	return workloads, nil
}

// ----------------------------------------------------------------------
// Input validation
// ----------------------------------------------------------------------

func validateRuleDefinition(cond *string, pool []uuid.UUID, partial bool) error {
	var problems []string

	if err := condition.Validate(cond); err != nil {
		problems = append(problems, fmt.Sprintf("condition does not compile: %v", err))
	}

	if pool != nil || !partial {
		if len(pool) == 0 {
			problems = append(problems, "user pool must not be empty")
		}

		seen := make(map[uuid.UUID]struct{}, len(pool))
		for _, userID := range pool {
			if _, dup := seen[userID]; dup {
				problems = append(problems, fmt.Sprintf("duplicate user '%s' in pool", userID))
			}
			seen[userID] = struct{}{}
		}
	}

	if len(problems) > 0 {
		return validation.NewValidationError(problems...)
	}

	return nil
}
