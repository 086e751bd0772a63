package http

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/service"
)

// Business-day times cross the wire as 24h wall-clock strings ("08:00")
// and are stored as minutes since midnight. The hhmm validation tag
// guarantees the format before conversion.

type priorityTierPayload struct {
	Priority          string `json:"priority" validate:"required,priority_label"`
	ResponseMinutes   int    `json:"response_minutes" validate:"required,min=1"`
	ResolutionMinutes int    `json:"resolution_minutes" validate:"required,min=1"`
}

type businessDayPayload struct {
	Day       string `json:"day" validate:"required,day_abbr"`
	OpenTime  string `json:"open_time" validate:"required,hhmm"`
	CloseTime string `json:"close_time" validate:"required,hhmm"`
}

type createSLARequest struct {
	Name         string                `json:"name" validate:"required,min=1,max=140"`
	AppliesTo    string                `json:"applies_to" validate:"required,entity_type"`
	Condition    *string               `json:"condition"`
	Enabled      *bool                 `json:"enabled"`
	Priorities   []priorityTierPayload `json:"priorities" validate:"required,min=1,dive"`
	BusinessDays []businessDayPayload  `json:"business_days" validate:"required,min=1,dive"`
}

type updateSLARequest struct {
	Name         *string               `json:"name" validate:"omitempty,min=1,max=140"`
	AppliesTo    *string               `json:"applies_to" validate:"omitempty,entity_type"`
	Condition    *string               `json:"condition"`
	Enabled      *bool                 `json:"enabled"`
	Priorities   []priorityTierPayload `json:"priorities" validate:"omitempty,min=1,dive"`
	BusinessDays []businessDayPayload  `json:"business_days" validate:"omitempty,min=1,dive"`
}

// applyEntityPayload is the caller-supplied entity snapshot the manual
// apply endpoints evaluate against.
type applyEntityPayload struct {
	EntityType string         `json:"entity_type" validate:"required,entity_type"`
	EntityID   uuid.UUID      `json:"entity_id" validate:"required"`
	Fields     map[string]any `json:"fields"`
}

type createRuleRequest struct {
	Name      string      `json:"name" validate:"required,min=1,max=140"`
	Doctype   string      `json:"doctype" validate:"required,entity_type"`
	Condition *string     `json:"condition"`
	Strategy  string      `json:"strategy" validate:"required,strategy"`
	Enabled   *bool       `json:"enabled"`
	Pool      []uuid.UUID `json:"pool" validate:"required,min=1"`
}

type updateRuleRequest struct {
	Name      *string     `json:"name" validate:"omitempty,min=1,max=140"`
	Doctype   *string     `json:"doctype" validate:"omitempty,entity_type"`
	Condition *string     `json:"condition"`
	Strategy  *string     `json:"strategy" validate:"omitempty,strategy"`
	Enabled   *bool       `json:"enabled"`
	Pool      []uuid.UUID `json:"pool" validate:"omitempty,min=1"`
}

type createAssignmentRequest struct {
	Doctype    string    `json:"doctype" validate:"required,entity_type"`
	EntityID   uuid.UUID `json:"entity_id" validate:"required"`
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	AssignedBy uuid.UUID `json:"assigned_by" validate:"required"`
}

// ----------------------------------------------------------------------
// Responses
// ----------------------------------------------------------------------

type priorityTierResponse struct {
	Priority          string `json:"priority"`
	ResponseMinutes   int    `json:"response_minutes"`
	ResolutionMinutes int    `json:"resolution_minutes"`
}

type businessDayResponse struct {
	Day       string `json:"day"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

type slaResponse struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Enabled      bool                   `json:"enabled"`
	AppliesTo    string                 `json:"applies_to"`
	Condition    *string                `json:"condition,omitempty"`
	Priorities   []priorityTierResponse `json:"priorities"`
	BusinessDays []businessDayResponse  `json:"business_days"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type slaFieldsResponse struct {
	SLAID            *uuid.UUID `json:"sla_id"`
	SLAStartedAt     *time.Time `json:"sla_started_at"`
	ResponseDeadline *time.Time `json:"response_deadline"`
	SLAStatus        string     `json:"sla_status"`
}

type ruleResponse struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Doctype       string      `json:"doctype"`
	Condition     *string     `json:"condition,omitempty"`
	Strategy      string      `json:"strategy"`
	RotationIndex int         `json:"rotation_index"`
	Enabled       bool        `json:"enabled"`
	Pool          []uuid.UUID `json:"pool"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type assignmentResponse struct {
	ID         uuid.UUID  `json:"id"`
	Doctype    string     `json:"doctype"`
	EntityID   uuid.UUID  `json:"entity_id"`
	AssignedTo uuid.UUID  `json:"assigned_to"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type workloadResponse struct {
	UserID               uuid.UUID `json:"user_id"`
	OpenAssignments      int       `json:"open_assignments"`
	CompletedAssignments int       `json:"completed_assignments"`
}

// ----------------------------------------------------------------------
// Conversion
// ----------------------------------------------------------------------

func minutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// clockToMinutes assumes the hhmm tag already validated the format.
func clockToMinutes(clock string) int {
	var h, m int
	fmt.Sscanf(clock, "%d:%d", &h, &m)

	return h*60 + m
}

func tierInputs(payloads []priorityTierPayload) []service.PriorityTierInput {
	if payloads == nil {
		return nil
	}

	inputs := make([]service.PriorityTierInput, len(payloads))
	for i, p := range payloads {
		inputs[i] = service.PriorityTierInput{
			Priority:          p.Priority,
			ResponseMinutes:   p.ResponseMinutes,
			ResolutionMinutes: p.ResolutionMinutes,
		}
	}

	return inputs
}

func dayInputs(payloads []businessDayPayload) []service.BusinessDayInput {
	if payloads == nil {
		return nil
	}

	inputs := make([]service.BusinessDayInput, len(payloads))
	for i, p := range payloads {
		inputs[i] = service.BusinessDayInput{
			Day:         p.Day,
			OpenMinute:  clockToMinutes(p.OpenTime),
			CloseMinute: clockToMinutes(p.CloseTime),
		}
	}

	return inputs
}

func toSLAResponse(sla *domain.SLA) slaResponse {
	tiers := make([]priorityTierResponse, len(sla.Priorities))
	for i, t := range sla.Priorities {
		tiers[i] = priorityTierResponse{
			Priority:          t.Priority,
			ResponseMinutes:   t.ResponseMinutes,
			ResolutionMinutes: t.ResolutionMinutes,
		}
	}

	days := make([]businessDayResponse, len(sla.BusinessDays))
	for i, d := range sla.BusinessDays {
		days[i] = businessDayResponse{
			Day:       d.Day,
			OpenTime:  minutesToClock(d.OpenMinute),
			CloseTime: minutesToClock(d.CloseMinute),
		}
	}

	return slaResponse{
		ID:           sla.ID,
		Name:         sla.Name,
		Enabled:      sla.Enabled,
		AppliesTo:    sla.AppliesTo,
		Condition:    sla.Condition,
		Priorities:   tiers,
		BusinessDays: days,
		CreatedAt:    sla.CreatedAt,
		UpdatedAt:    sla.UpdatedAt,
	}
}

func toSLAResponses(slas []domain.SLA) []slaResponse {
	out := make([]slaResponse, len(slas))
	for i := range slas {
		out[i] = toSLAResponse(&slas[i])
	}

	return out
}

func toRuleResponse(rule *domain.AssignmentRule) ruleResponse {
	return ruleResponse{
		ID:            rule.ID,
		Name:          rule.Name,
		Doctype:       rule.Doctype,
		Condition:     rule.Condition,
		Strategy:      rule.Strategy,
		RotationIndex: rule.RotationIndex,
		Enabled:       rule.Enabled,
		Pool:          rule.Pool,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}
}

func toRuleResponses(rules []domain.AssignmentRule) []ruleResponse {
	out := make([]ruleResponse, len(rules))
	for i := range rules {
		out[i] = toRuleResponse(&rules[i])
	}

	return out
}

func toAssignmentResponse(a *domain.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:         a.ID,
		Doctype:    a.Doctype,
		EntityID:   a.EntityID,
		AssignedTo: a.AssignedTo,
		AssignedBy: a.AssignedBy,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toAssignmentResponses(assignments []domain.Assignment) []assignmentResponse {
	out := make([]assignmentResponse, len(assignments))
	for i := range assignments {
		out[i] = toAssignmentResponse(&assignments[i])
	}

	return out
}

func toWorkloadResponses(workloads []domain.UserWorkload) []workloadResponse {
	out := make([]workloadResponse, len(workloads))
	for i, w := range workloads {
		out[i] = workloadResponse{
			UserID:               w.UserID,
			OpenAssignments:      w.OpenAssignments,
			CompletedAssignments: w.CompletedAssignments,
		}
	}

	return out
}
