package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crmforge/policy-engine/internal/apperrors"
	"github.com/crmforge/policy-engine/internal/condition"
	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/repository"
	"github.com/crmforge/policy-engine/internal/schedule"
	"github.com/crmforge/policy-engine/internal/validation"
	"github.com/crmforge/policy-engine/pkg/logger/sl"
)

// PriorityTierInput is one priority tier in a create/update payload.
type PriorityTierInput struct {
	Priority          string
	ResponseMinutes   int
	ResolutionMinutes int
}

// BusinessDayInput is one weekly working window in a create/update
// payload. Times are minutes since midnight.
type BusinessDayInput struct {
	Day         string
	OpenMinute  int
	CloseMinute int
}

// CreateSLAInput carries a full SLA definition.
type CreateSLAInput struct {
	Name         string
	AppliesTo    string
	Condition    *string
	Enabled      bool
	Priorities   []PriorityTierInput
	BusinessDays []BusinessDayInput
}

// UpdateSLAInput is a partial update. Nil child slices keep the
// existing children; non-nil slices fully replace them.
type UpdateSLAInput struct {
	Name         *string
	AppliesTo    *string
	Condition    *string
	Enabled      *bool
	Priorities   []PriorityTierInput
	BusinessDays []BusinessDayInput
}

type SLAService interface {
	ListSLAs(ctx context.Context, tenantID uuid.UUID) ([]domain.SLA, error)
	GetSLA(ctx context.Context, tenantID, slaID uuid.UUID) (*domain.SLA, error)
	CreateSLA(ctx context.Context, tenantID uuid.UUID, input CreateSLAInput) (*domain.SLA, error)
	UpdateSLA(ctx context.Context, tenantID, slaID uuid.UUID, input UpdateSLAInput) (*domain.SLA, error)
	DeleteSLA(ctx context.Context, tenantID, slaID uuid.UUID) error

	ApplySLA(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity) error
	ApplySLAStrict(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity) error
	CheckBreach(entity domain.Entity) bool
	RecordFirstResponse(entity domain.Entity)
}

type SLAServiceImpl struct {
	BaseService
	ext       sqlx.ExtContext
	repo      repository.SLARepository
	evaluator *condition.Evaluator
	clock     *schedule.Calculator
	now       func() time.Time
}

func NewSLAService(
	db Transactor,
	ext sqlx.ExtContext,
	log *slog.Logger,
	repo repository.SLARepository,
) *SLAServiceImpl {
	return &SLAServiceImpl{
		BaseService: NewBaseService(db, log),
		ext:         ext,
		repo:        repo,
		evaluator:   condition.NewEvaluator(log),
		clock:       schedule.NewCalculator(log),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ----------------------------------------------------------------------
// Management CRUD
// ----------------------------------------------------------------------

func (s *SLAServiceImpl) ListSLAs(ctx context.Context, tenantID uuid.UUID) ([]domain.SLA, error) {
	const op = "internal.service.sla.ListSLAs"

	slas, err := s.repo.ListSLAs(ctx, s.ext, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list SLAs: %w", op, err)
	}

	return slas, nil
}

func (s *SLAServiceImpl) GetSLA(ctx context.Context, tenantID, slaID uuid.UUID) (*domain.SLA, error) {
	const op = "internal.service.sla.GetSLA"

	sla, err := s.repo.GetSLAByID(ctx, s.ext, tenantID, slaID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get SLA: %w", op, err)
	}

	return sla, nil
}

func (s *SLAServiceImpl) CreateSLA(ctx context.Context, tenantID uuid.UUID, input CreateSLAInput) (*domain.SLA, error) {
	const op = "internal.service.sla.CreateSLA"
	log := s.log.With(slog.String("op", op), slog.String("tenant_id", tenantID.String()))

	if err := validateSLADefinition(input.Condition, input.Priorities, input.BusinessDays, false); err != nil {
		return nil, err
	}

	sla := &domain.SLA{
		TenantID:     tenantID,
		Name:         input.Name,
		Enabled:      input.Enabled,
		AppliesTo:    input.AppliesTo,
		Condition:    input.Condition,
		Priorities:   tiersFromInput(input.Priorities),
		BusinessDays: daysFromInput(input.BusinessDays),
	}

	err := s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		return s.repo.CreateSLA(ctx, tx, sla)
	})
	if err != nil {
		return nil, err
	}

	log.Info("sla created", slog.String("sla_id", sla.ID.String()), slog.String("name", sla.Name))

	return s.GetSLA(ctx, tenantID, sla.ID)
}

func (s *SLAServiceImpl) UpdateSLA(ctx context.Context, tenantID, slaID uuid.UUID, input UpdateSLAInput) (*domain.SLA, error) {
	const op = "internal.service.sla.UpdateSLA"
	log := s.log.With(slog.String("op", op), slog.String("sla_id", slaID.String()))

	if err := validateSLADefinition(input.Condition, input.Priorities, input.BusinessDays, true); err != nil {
		return nil, err
	}

	sla, err := s.repo.GetSLAByID(ctx, s.ext, tenantID, slaID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get SLA: %w", op, err)
	}

	if input.Name != nil {
		sla.Name = *input.Name
	}
	if input.AppliesTo != nil {
		sla.AppliesTo = *input.AppliesTo
	}
	if input.Condition != nil {
		sla.Condition = input.Condition
	}
	if input.Enabled != nil {
		sla.Enabled = *input.Enabled
	}

	err = s.transaction(ctx, op, func(tx *sqlx.Tx) error {
		if err := s.repo.UpdateSLA(ctx, tx, sla); err != nil {
			return err
		}

		// Non-nil child sets fully replace the stored children.
		if input.Priorities != nil {
			if err := s.repo.ReplacePriorities(ctx, tx, slaID, tiersFromInput(input.Priorities)); err != nil {
				return err
			}
		}

		if input.BusinessDays != nil {
			if err := s.repo.ReplaceBusinessDays(ctx, tx, slaID, daysFromInput(input.BusinessDays)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("sla updated")

	return s.GetSLA(ctx, tenantID, slaID)
}

func (s *SLAServiceImpl) DeleteSLA(ctx context.Context, tenantID, slaID uuid.UUID) error {
	const op = "internal.service.sla.DeleteSLA"

	if err := s.repo.DeleteSLA(ctx, tenantID, slaID); err != nil {
		return fmt.Errorf("%s: failed to delete SLA: %w", op, err)
	}

	s.log.Info("sla deleted", slog.String("op", op), slog.String("sla_id", slaID.String()))

	return nil
}

// ----------------------------------------------------------------------
// Engine: matching and deadline assignment
// ----------------------------------------------------------------------

// ApplySLA matches the entity against the tenant's enabled SLAs and
// sets its SLA fields in place. Enabled SLAs are evaluated in name
// order and the first condition match wins. An absent match, missing
// tiers or an empty calendar leave the entity untouched without error
// — a broken or unconfigured policy must never block entity mutation.
// The caller persists the entity.
func (s *SLAServiceImpl) ApplySLA(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity) error {
	return s.applySLA(ctx, tenantID, entityType, entity, false)
}

// ApplySLAStrict is the explicit-intent variant used by the manual
// apply endpoint: an absent match or a misconfigured SLA is reported
// to the caller as a rejected-input error instead of being absorbed.
func (s *SLAServiceImpl) ApplySLAStrict(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity) error {
	return s.applySLA(ctx, tenantID, entityType, entity, true)
}

func (s *SLAServiceImpl) applySLA(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity, strict bool) error {
	const op = "internal.service.sla.ApplySLA"
	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", tenantID.String()),
		slog.String("entity_type", entityType),
		slog.String("entity_id", entity.EntityID().String()),
	)

	slas, err := s.repo.ListEnabledSLAs(ctx, s.ext, tenantID, entityType)
	if err != nil {
		if strict {
			return fmt.Errorf("%s: failed to list SLAs: %w", op, err)
		}

		log.Warn("sla lookup failed, leaving entity untouched", sl.Err(err))

		return nil
	}

	var matched *domain.SLA

	snapshot := entity.Snapshot()
	for i := range slas {
		if s.evaluator.Matches(slas[i].Condition, snapshot) {
			matched = &slas[i]
			break
		}
	}

	if matched == nil {
		if strict {
			return fmt.Errorf("%s: %w", op, apperrors.ErrNoSLAMatched)
		}

		log.Debug("no sla matched")

		return nil
	}

	tier := resolveTier(matched.Priorities, entity.PriorityLabel())
	if tier == nil {
		if strict {
			return fmt.Errorf("%s: %w", op, apperrors.ErrNoPriorityTiers)
		}

		log.Warn("matched sla has no priority tiers", slog.String("sla_id", matched.ID.String()))

		return nil
	}

	if len(matched.BusinessDays) == 0 {
		if strict {
			return fmt.Errorf("%s: %w", op, apperrors.ErrNoBusinessDays)
		}

		log.Warn("matched sla has no business days", slog.String("sla_id", matched.ID.String()))

		return nil
	}

	now := s.now()
	deadline := s.clock.Deadline(tier.ResponseMinutes, matched.BusinessDays, now)

	fields := entity.SLA()
	fields.SLAID = &matched.ID
	fields.SLAStartedAt = &now
	fields.ResponseDeadline = &deadline
	fields.FirstRespondedAt = nil
	fields.FirstResponseDuration = nil
	fields.SLAStatus = domain.SLAStatusOpen

	log.Info("sla applied",
		slog.String("sla_id", matched.ID.String()),
		slog.String("priority", tier.Priority),
		slog.Time("response_deadline", deadline),
	)

	return nil
}

// resolveTier picks the tier matching the entity's priority label, or
// falls back to the highest configured tier (High > Medium > Low).
// Returns nil when the SLA has no tiers at all.
func resolveTier(tiers []domain.PriorityTier, label string) *domain.PriorityTier {
	if len(tiers) == 0 {
		return nil
	}

	if label != "" {
		for i := range tiers {
			if tiers[i].Priority == label {
				return &tiers[i]
			}
		}
	}

	rank := map[string]int{
		domain.PriorityHigh:   0,
		domain.PriorityMedium: 1,
		domain.PriorityLow:    2,
	}

	sorted := make([]domain.PriorityTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, ok := rank[sorted[i].Priority]
		if !ok {
			ri = len(rank)
		}
		rj, ok := rank[sorted[j].Priority]
		if !ok {
			rj = len(rank)
		}

		return ri < rj
	})

	return &sorted[0]
}

// ----------------------------------------------------------------------
// Engine: state machine
// ----------------------------------------------------------------------

// CheckBreach marks the entity Breached when its response deadline has
// passed without a first response. Terminal states are never
// re-evaluated, so repeated calls after a breach do nothing. Returns
// true when a breach was recorded by this call.
func (s *SLAServiceImpl) CheckBreach(entity domain.Entity) bool {
	const op = "internal.service.sla.CheckBreach"

	fields := entity.SLA()
	if fields.SLAID == nil || fields.ResponseDeadline == nil || fields.Terminal() {
		return false
	}

	if s.now().After(*fields.ResponseDeadline) && fields.FirstRespondedAt == nil {
		fields.SLAStatus = domain.SLAStatusBreached

		s.log.Info("sla breached",
			slog.String("op", op),
			slog.String("entity_id", entity.EntityID().String()),
			slog.Time("response_deadline", *fields.ResponseDeadline),
		)

		return true
	}

	return false
}

// RecordFirstResponse records the first human response on the entity
// and resolves the SLA to Fulfilled or Breached depending on whether
// the deadline had passed. Idempotent: a later call finds
// FirstRespondedAt set and does nothing.
func (s *SLAServiceImpl) RecordFirstResponse(entity domain.Entity) {
	const op = "internal.service.sla.RecordFirstResponse"

	fields := entity.SLA()
	if fields.SLAID == nil || fields.FirstRespondedAt != nil {
		return
	}

	now := s.now()
	fields.FirstRespondedAt = &now

	if fields.SLAStartedAt != nil {
		duration := now.Sub(*fields.SLAStartedAt)
		fields.FirstResponseDuration = &duration
	}

	if fields.ResponseDeadline == nil || !now.After(*fields.ResponseDeadline) {
		fields.SLAStatus = domain.SLAStatusFulfilled
	} else {
		fields.SLAStatus = domain.SLAStatusBreached
	}

	s.log.Info("sla first response recorded",
		slog.String("op", op),
		slog.String("entity_id", entity.EntityID().String()),
		slog.String("sla_status", fields.SLAStatus),
	)
}

// ----------------------------------------------------------------------
// Input validation and conversion
// ----------------------------------------------------------------------

// validateSLADefinition enforces the cross-field rules the engine
// depends on at read time: unique priorities and days, resolution
// budgets above response budgets, windows that close after they open,
// and a condition that at least compiles. For partial updates nil
// child slices are skipped.
func validateSLADefinition(cond *string, tiers []PriorityTierInput, days []BusinessDayInput, partial bool) error {
	var problems []string

	if err := condition.Validate(cond); err != nil {
		problems = append(problems, fmt.Sprintf("condition does not compile: %v", err))
	}

	if tiers != nil || !partial {
		if len(tiers) == 0 {
			problems = append(problems, "at least one priority tier is required")
		}

		seen := make(map[string]struct{}, len(tiers))
		for _, tier := range tiers {
			if _, dup := seen[tier.Priority]; dup {
				problems = append(problems, fmt.Sprintf("duplicate priority level '%s'", tier.Priority))
			}
			seen[tier.Priority] = struct{}{}

			if tier.ResponseMinutes <= 0 {
				problems = append(problems, fmt.Sprintf("priority '%s': response minutes must be positive", tier.Priority))
			}
			if tier.ResolutionMinutes <= tier.ResponseMinutes {
				problems = append(problems, fmt.Sprintf("priority '%s': resolution minutes must exceed response minutes", tier.Priority))
			}
		}
	}

	if days != nil || !partial {
		if len(days) == 0 {
			problems = append(problems, "at least one business day is required")
		}

		seen := make(map[string]struct{}, len(days))
		for _, day := range days {
			if _, dup := seen[day.Day]; dup {
				problems = append(problems, fmt.Sprintf("duplicate day '%s'", day.Day))
			}
			seen[day.Day] = struct{}{}

			if day.CloseMinute <= day.OpenMinute {
				problems = append(problems, fmt.Sprintf("day '%s': close time must be after open time", day.Day))
			}
		}
	}

	if len(problems) > 0 {
		return validation.NewValidationError(problems...)
	}

	return nil
}

func tiersFromInput(inputs []PriorityTierInput) []domain.PriorityTier {
	tiers := make([]domain.PriorityTier, len(inputs))
	for i, input := range inputs {
		tiers[i] = domain.PriorityTier{
			Priority:          input.Priority,
			ResponseMinutes:   input.ResponseMinutes,
			ResolutionMinutes: input.ResolutionMinutes,
		}
	}

	return tiers
}

func daysFromInput(inputs []BusinessDayInput) []domain.BusinessDay {
	days := make([]domain.BusinessDay, len(inputs))
	for i, input := range inputs {
		days[i] = domain.BusinessDay{
			Day:         input.Day,
			OpenMinute:  input.OpenMinute,
			CloseMinute: input.CloseMinute,
		}
	}

	return days
}
