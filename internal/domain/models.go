// package domain holds the persistence-facing models for the policy
// engine plus the narrow Entity contract the engines evaluate against.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entity types the engines operate on.
const (
	EntityTypeLead = "Lead"
	EntityTypeDeal = "Deal"
)

// Priority labels, highest first.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// SLA lifecycle states. Fulfilled and Breached are terminal.
const (
	SLAStatusOpen      = "Open"
	SLAStatusFulfilled = "Fulfilled"
	SLAStatusBreached  = "Breached"
)

// Assignment lifecycle states. Completed and Cancelled are terminal.
const (
	AssignmentStatusOpen      = "Open"
	AssignmentStatusCompleted = "Completed"
	AssignmentStatusCancelled = "Cancelled"
)

// Assignment strategies.
const (
	StrategyRoundRobin    = "round_robin"
	StrategyLoadBalancing = "load_balancing"
)

// SLA is a tenant-scoped service level agreement. Condition is an
// optional boolean expression; nil means the SLA always applies.
type SLA struct {
	ID        uuid.UUID `db:"id"`
	TenantID  uuid.UUID `db:"tenant_id"`
	Name      string    `db:"name"`
	Enabled   bool      `db:"enabled"`
	AppliesTo string    `db:"applies_to"`
	Condition *string   `db:"condition"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Priorities   []PriorityTier
	BusinessDays []BusinessDay
}

// PriorityTier maps one priority label to its business-hours budgets.
// Tenancy flows through the parent SLA, so there is no tenant_id here.
type PriorityTier struct {
	ID                uuid.UUID `db:"id"`
	SLAID             uuid.UUID `db:"sla_id"`
	Priority          string    `db:"priority"`
	ResponseMinutes   int       `db:"response_minutes"`
	ResolutionMinutes int       `db:"resolution_minutes"`
}

// BusinessDay is one working window within an SLA's weekly calendar.
// Times are minutes since midnight; a weekday absent from the set is
// fully closed.
type BusinessDay struct {
	ID          uuid.UUID `db:"id"`
	SLAID       uuid.UUID `db:"sla_id"`
	Day         string    `db:"day"`
	OpenMinute  int       `db:"open_minute"`
	CloseMinute int       `db:"close_minute"`
}

// AssignmentRule is a tenant-scoped automation rule. The pool is an
// ordered list of user ids; RotationIndex is only meaningful for the
// round_robin strategy and resets to 0 whenever the pool is replaced.
type AssignmentRule struct {
	ID            uuid.UUID `db:"id"`
	TenantID      uuid.UUID `db:"tenant_id"`
	Name          string    `db:"name"`
	Doctype       string    `db:"doctype"`
	Condition     *string   `db:"condition"`
	Strategy      string    `db:"strategy"`
	RotationIndex int       `db:"rotation_index"`
	Enabled       bool      `db:"enabled"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`

	Pool []uuid.UUID
}

// Assignment records that an entity is assigned to a user. AssignedBy
// is nil for rule-triggered assignments. At most one Open row may
// exist per (tenant, doctype, entity, user).
type Assignment struct {
	ID         uuid.UUID  `db:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"`
	Doctype    string     `db:"doctype"`
	EntityID   uuid.UUID  `db:"entity_id"`
	AssignedTo uuid.UUID  `db:"assigned_to"`
	AssignedBy *uuid.UUID `db:"assigned_by"`
	Status     string     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// UserWorkload is the per-user assignment aggregate used by the stats
// endpoint. OpenAssignments is the same signal the load-balancing
// strategy reads.
type UserWorkload struct {
	UserID               uuid.UUID `db:"user_id"`
	OpenAssignments      int       `db:"open_assignments"`
	CompletedAssignments int       `db:"completed_assignments"`
}
