package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crmforge/policy-engine/internal/domain"
	"github.com/crmforge/policy-engine/internal/repository"
)

func newMockDBAndTx(t *testing.T) (*sqlx.DB, *sqlx.Tx, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, smock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")

	smock.ExpectBegin()

	tx, err := sqlxDB.Beginx()
	require.NoError(t, err)

	return sqlxDB, tx, smock
}

type TransactorMock struct {
	mock.Mock
}

func (m *TransactorMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*sqlx.Tx), args.Error(1)
}

type SLARepositoryMock struct {
	mock.Mock
}

var _ repository.SLARepository = (*SLARepositoryMock)(nil)

func (m *SLARepositoryMock) CreateSLA(ctx context.Context, tx *sqlx.Tx, sla *domain.SLA) error {
	args := m.Called(ctx, tx, sla)
	return args.Error(0)
}

func (m *SLARepositoryMock) GetSLAByID(ctx context.Context, ext sqlx.ExtContext, tenantID, slaID uuid.UUID) (*domain.SLA, error) {
	args := m.Called(ctx, ext, tenantID, slaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.SLA), args.Error(1)
}

func (m *SLARepositoryMock) ListSLAs(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID) ([]domain.SLA, error) {
	args := m.Called(ctx, ext, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.SLA), args.Error(1)
}

func (m *SLARepositoryMock) ListEnabledSLAs(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, appliesTo string) ([]domain.SLA, error) {
	args := m.Called(ctx, ext, tenantID, appliesTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.SLA), args.Error(1)
}

func (m *SLARepositoryMock) UpdateSLA(ctx context.Context, tx *sqlx.Tx, sla *domain.SLA) error {
	args := m.Called(ctx, tx, sla)
	return args.Error(0)
}

func (m *SLARepositoryMock) ReplacePriorities(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, tiers []domain.PriorityTier) error {
	args := m.Called(ctx, tx, slaID, tiers)
	return args.Error(0)
}

func (m *SLARepositoryMock) ReplaceBusinessDays(ctx context.Context, tx *sqlx.Tx, slaID uuid.UUID, days []domain.BusinessDay) error {
	args := m.Called(ctx, tx, slaID, days)
	return args.Error(0)
}

func (m *SLARepositoryMock) DeleteSLA(ctx context.Context, tenantID, slaID uuid.UUID) error {
	args := m.Called(ctx, tenantID, slaID)
	return args.Error(0)
}

type RuleRepositoryMock struct {
	mock.Mock
}

var _ repository.RuleRepository = (*RuleRepositoryMock)(nil)

func (m *RuleRepositoryMock) CreateRule(ctx context.Context, tx *sqlx.Tx, rule *domain.AssignmentRule) error {
	args := m.Called(ctx, tx, rule)
	return args.Error(0)
}

func (m *RuleRepositoryMock) GetRuleByID(ctx context.Context, ext sqlx.ExtContext, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error) {
	args := m.Called(ctx, ext, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.AssignmentRule), args.Error(1)
}

func (m *RuleRepositoryMock) ListRules(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID) ([]domain.AssignmentRule, error) {
	args := m.Called(ctx, ext, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.AssignmentRule), args.Error(1)
}

func (m *RuleRepositoryMock) ListEnabledRules(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, doctype string) ([]domain.AssignmentRule, error) {
	args := m.Called(ctx, ext, tenantID, doctype)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.AssignmentRule), args.Error(1)
}

func (m *RuleRepositoryMock) GetRuleForRotation(ctx context.Context, tx *sqlx.Tx, tenantID, ruleID uuid.UUID) (*domain.AssignmentRule, error) {
	args := m.Called(ctx, tx, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.AssignmentRule), args.Error(1)
}

func (m *RuleRepositoryMock) AdvanceRotation(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, nextIndex int) error {
	args := m.Called(ctx, tx, ruleID, nextIndex)
	return args.Error(0)
}

func (m *RuleRepositoryMock) UpdateRule(ctx context.Context, tx *sqlx.Tx, rule *domain.AssignmentRule) error {
	args := m.Called(ctx, tx, rule)
	return args.Error(0)
}

func (m *RuleRepositoryMock) ReplacePool(ctx context.Context, tx *sqlx.Tx, ruleID uuid.UUID, pool []uuid.UUID) error {
	args := m.Called(ctx, tx, ruleID, pool)
	return args.Error(0)
}

func (m *RuleRepositoryMock) DeleteRule(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	args := m.Called(ctx, tenantID, ruleID)
	return args.Error(0)
}

type AssignmentRepositoryMock struct {
	mock.Mock
}

var _ repository.AssignmentRepository = (*AssignmentRepositoryMock)(nil)

func (m *AssignmentRepositoryMock) GetOpenAssignment(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, doctype string, entityID, userID uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, ext, tenantID, doctype, entityID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.Assignment), args.Error(1)
}

func (m *AssignmentRepositoryMock) CreateAssignment(ctx context.Context, tx *sqlx.Tx, assignment *domain.Assignment) error {
	args := m.Called(ctx, tx, assignment)
	return args.Error(0)
}

func (m *AssignmentRepositoryMock) CountOpenByUsers(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, ext, tenantID, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

func (m *AssignmentRepositoryMock) GetAssignmentByIDWithLock(ctx context.Context, tx *sqlx.Tx, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, tx, tenantID, assignmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.Assignment), args.Error(1)
}

func (m *AssignmentRepositoryMock) UpdateAssignmentStatus(ctx context.Context, tx *sqlx.Tx, assignmentID uuid.UUID, status string) error {
	args := m.Called(ctx, tx, assignmentID, status)
	return args.Error(0)
}

func (m *AssignmentRepositoryMock) ListOpenByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Assignment, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.Assignment), args.Error(1)
}

func (m *AssignmentRepositoryMock) GetUserWorkloads(ctx context.Context, tenantID uuid.UUID) ([]domain.UserWorkload, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.UserWorkload), args.Error(1)
}
