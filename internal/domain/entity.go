package domain

import (
	"time"

	"github.com/google/uuid"
)

// SLAFields are the SLA-tracking columns embedded in a Lead or Deal.
// They are mutated only by the SLA engine; the owning entity service
// persists them.
type SLAFields struct {
	SLAID                 *uuid.UUID     `db:"sla_id"`
	SLAStartedAt          *time.Time     `db:"sla_started_at"`
	ResponseDeadline      *time.Time     `db:"response_deadline"`
	FirstRespondedAt      *time.Time     `db:"first_responded_at"`
	FirstResponseDuration *time.Duration `db:"first_response_duration"`
	SLAStatus             string         `db:"sla_status"`
}

// Terminal reports whether the SLA status can no longer change.
func (f *SLAFields) Terminal() bool {
	return f.SLAStatus == SLAStatusFulfilled || f.SLAStatus == SLAStatusBreached
}

// Entity is the contract both engines evaluate against. Lead and Deal
// are the two implementers; the engines never see their full row types.
type Entity interface {
	// EntityID is the primary key of the underlying record.
	EntityID() uuid.UUID

	// EntityType returns EntityTypeLead or EntityTypeDeal.
	EntityType() string

	// PriorityLabel returns the entity's priority ("" when unset).
	PriorityLabel() string

	// SLA exposes the mutable SLA fields; the SLA engine writes
	// through this pointer and the caller persists the record.
	SLA() *SLAFields

	// Snapshot returns a flat column-name -> value view of the record
	// for condition evaluation. Implementations must not include
	// anything beyond plain column values.
	Snapshot() map[string]any
}

// Lead is the minimal lead projection the policy engine works with.
type Lead struct {
	ID       uuid.UUID `db:"id"`
	TenantID uuid.UUID `db:"tenant_id"`
	Name     string    `db:"name"`
	Status   string    `db:"status"`
	Priority string    `db:"priority"`
	Source   string    `db:"source"`
	SLAFields
}

func (l *Lead) EntityID() uuid.UUID   { return l.ID }
func (l *Lead) EntityType() string    { return EntityTypeLead }
func (l *Lead) PriorityLabel() string { return l.Priority }
func (l *Lead) SLA() *SLAFields       { return &l.SLAFields }

func (l *Lead) Snapshot() map[string]any {
	return map[string]any{
		"id":       l.ID.String(),
		"name":     l.Name,
		"status":   l.Status,
		"priority": l.Priority,
		"source":   l.Source,
	}
}

// Deal is the minimal deal projection the policy engine works with.
type Deal struct {
	ID       uuid.UUID `db:"id"`
	TenantID uuid.UUID `db:"tenant_id"`
	Name     string    `db:"name"`
	Stage    string    `db:"stage"`
	Priority string    `db:"priority"`
	Value    float64   `db:"value"`
	SLAFields
}

func (d *Deal) EntityID() uuid.UUID   { return d.ID }
func (d *Deal) EntityType() string    { return EntityTypeDeal }
func (d *Deal) PriorityLabel() string { return d.Priority }
func (d *Deal) SLA() *SLAFields       { return &d.SLAFields }

func (d *Deal) Snapshot() map[string]any {
	return map[string]any{
		"id":       d.ID.String(),
		"name":     d.Name,
		"stage":    d.Stage,
		"priority": d.Priority,
		"value":    d.Value,
	}
}

// GenericEntity adapts an ad-hoc field map to the Entity interface. The
// manual apply endpoints use it because the caller supplies the entity
// snapshot instead of the engine loading a row.
type GenericEntity struct {
	ID     uuid.UUID
	Type   string
	Fields map[string]any
	SLAFields
}

func (g *GenericEntity) EntityID() uuid.UUID { return g.ID }
func (g *GenericEntity) EntityType() string  { return g.Type }
func (g *GenericEntity) SLA() *SLAFields     { return &g.SLAFields }

func (g *GenericEntity) PriorityLabel() string {
	if p, ok := g.Fields["priority"].(string); ok {
		return p
	}

	return ""
}

func (g *GenericEntity) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(g.Fields)+1)
	for k, v := range g.Fields {
		snapshot[k] = v
	}
	snapshot["id"] = g.ID.String()

	return snapshot
}
