package http

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/service"
)

type SLAServiceMock struct {
	mock.Mock
}

var _ service.SLAService = (*SLAServiceMock)(nil)

func (m *SLAServiceMock) ListSLAs(ctx context.Context, tenantID uuid.UUID) ([]domain.SLA, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.SLA), args.Error(1)
}

func (m *SLAServiceMock) GetSLA(ctx context.Context, tenantID, slaID uuid.UUID) (*domain.SLA, error) {
	args := m.Called(ctx, tenantID, slaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.SLA), args.Error(1)
}

func (m *SLAServiceMock) CreateSLA(ctx context.Context, tenantID uuid.UUID, input service.CreateSLAInput) (*domain.SLA, error) {
	args := m.Called(ctx, tenantID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.SLA), args.Error(1)
}

func (m *SLAServiceMock) UpdateSLA(ctx context.Context, tenantID, slaID uuid.UUID, input service.UpdateSLAInput) (*domain.SLA, error) {
	args := m.Called(ctx, tenantID, slaID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.SLA), args.Error(1)
}

func (m *SLAServiceMock) DeleteSLA(ctx context.Context, tenantID, slaID uuid.UUID) error {
	args := m.Called(ctx, tenantID, slaID)
	return args.Error(0)
}

func (m *SLAServiceMock) ApplySLA(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity) error {
	args := m.Called(ctx, tenantID, entityType, entity)
	return args.Error(0)
}

func (m *SLAServiceMock) ApplySLAStrict(ctx context.Context, tenantID uuid.UUID, entityType string, entity domain.Entity) error {
	args := m.Called(ctx, tenantID, entityType, entity)
	return args.Error(0)
}

func (m *SLAServiceMock) CheckBreach(entity domain.Entity) bool {
	args := m.Called(entity)
	return args.Bool(0)
}

func (m *SLAServiceMock) RecordFirstResponse(entity domain.Entity) {
	m.Called(entity)
}

type AssignmentServiceMock struct {
	mock.Mock
}

var _ service.AssignmentService = (*AssignmentServiceMock)(nil)

func (m *AssignmentServiceMock) ListRules(ctx context.Context, tenantID uuid.UUID) ([]domain.AssignmentRule, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.AssignmentRule), args.Error(1)
}

func (m *AssignmentServiceMock) GetRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error) {
	args := m.Called(ctx, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.AssignmentRule), args.Error(1)
}

func (m *AssignmentServiceMock) CreateRule(ctx context.Context, tenantID uuid.UUID, input service.CreateRuleInput) (*domain.AssignmentRule, error) {
	args := m.Called(ctx, tenantID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.AssignmentRule), args.Error(1)
}

func (m *AssignmentServiceMock) UpdateRule(ctx context.Context, tenantID, ruleID uuid.UUID, input service.UpdateRuleInput) (*domain.AssignmentRule, error) {
	args := m.Called(ctx, tenantID, ruleID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.AssignmentRule), args.Error(1)
}

func (m *AssignmentServiceMock) DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	args := m.Called(ctx, tenantID, ruleID)
	return args.Error(0)
}

func (m *AssignmentServiceMock) ApplyRules(ctx context.Context, tenantID uuid.UUID, doctype string, entity domain.Entity) ([]domain.Assignment, error) {
	args := m.Called(ctx, tenantID, doctype, entity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.Assignment), args.Error(1)
}

func (m *AssignmentServiceMock) Assign(ctx context.Context, tenantID uuid.UUID, doctype string, entityID, userID, assignedBy uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, tenantID, doctype, entityID, userID, assignedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.Assignment), args.Error(1)
}

func (m *AssignmentServiceMock) CompleteAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, tenantID, assignmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.Assignment), args.Error(1)
}

func (m *AssignmentServiceMock) CancelAssignment(ctx context.Context, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, tenantID, assignmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.Assignment), args.Error(1)
}

func (m *AssignmentServiceMock) ListOpenAssignments(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Assignment, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.Assignment), args.Error(1)
}

func (m *AssignmentServiceMock) GetWorkloadStats(ctx context.Context, tenantID uuid.UUID) ([]domain.UserWorkload, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.UserWorkload), args.Error(1)
}
