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

type AssignmentRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewAssignmentRepository(db *sqlx.DB, log *slog.Logger) *AssignmentRepository {
	return &AssignmentRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *AssignmentRepository) GetOpenAssignment(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, doctype string, entityID, userID uuid.UUID) (*domain.Assignment, error) {
	const op = "internal.repository.postgres.GetOpenAssignment"

	query, args, err := r.assignmentSelect().
		Where(sq.Eq{
			"tenant_id":   tenantID,
			"doctype":     doctype,
			"entity_id":   entityID,
			"assigned_to": userID,
			"status":      domain.AssignmentStatusOpen,
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var assignment domain.Assignment
	if err := sqlx.GetContext(ctx, ext, &assignment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w: open assignment for entity '%s' and user '%s'", op, apperrors.ErrNotFound, entityID, userID)
		}

		return nil, fmt.Errorf("%s: failed to get assignment: %w", op, err)
	}

	return &assignment, nil
}

func (r *AssignmentRepository) CreateAssignment(ctx context.Context, tx *sqlx.Tx, assignment *domain.Assignment) error {
	const op = "internal.repository.postgres.CreateAssignment"

	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	if assignment.Status == "" {
		assignment.Status = domain.AssignmentStatusOpen
	}

	query, args, err := r.sq.Insert("assignments").
		Columns("id", "tenant_id", "doctype", "entity_id", "assigned_to", "assigned_by", "status").
		Values(assignment.ID, assignment.TenantID, assignment.Doctype, assignment.EntityID, assignment.AssignedTo, assignment.AssignedBy, assignment.Status).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build insert query: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			// The partial unique index on Open rows fired: an
			// equivalent open assignment already exists.
			return fmt.Errorf("%s: %w", op, apperrors.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: failed to execute insert: %w", op, err)
	}

	return nil
}

// CountOpenByUsers aggregates Open assignments per user across all
// doctypes for the tenant — the global workload signal the
// load-balancing strategy reads.
func (r *AssignmentRepository) CountOpenByUsers(ctx context.Context, ext sqlx.ExtContext, tenantID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	const op = "internal.repository.postgres.CountOpenByUsers"

	query, args, err := r.sq.Select("assigned_to", "COUNT(id) AS open_count").
		From("assignments").
		Where(sq.Eq{
			"tenant_id":   tenantID,
			"assigned_to": userIDs,
			"status":      domain.AssignmentStatusOpen,
		}).
		GroupBy("assigned_to").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var rows []struct {
		AssignedTo uuid.UUID `db:"assigned_to"`
		OpenCount  int       `db:"open_count"`
	}
	if err := sqlx.SelectContext(ctx, ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.AssignedTo] = row.OpenCount
	}

	return counts, nil
}

func (r *AssignmentRepository) GetAssignmentByIDWithLock(ctx context.Context, tx *sqlx.Tx, tenantID, assignmentID uuid.UUID) (*domain.Assignment, error) {
	const op = "internal.repository.postgres.GetAssignmentByIDWithLock"

	query, args, err := r.assignmentSelect().
		Where(sq.Eq{"tenant_id": tenantID, "id": assignmentID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var assignment domain.Assignment
	if err := tx.GetContext(ctx, &assignment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w: assignment with id '%s'", op, apperrors.ErrNotFound, assignmentID)
		}

		return nil, fmt.Errorf("%s: failed to get assignment with lock: %w", op, err)
	}

	return &assignment, nil
}

func (r *AssignmentRepository) UpdateAssignmentStatus(ctx context.Context, tx *sqlx.Tx, assignmentID uuid.UUID, status string) error {
	const op = "internal.repository.postgres.UpdateAssignmentStatus"

	query, args, err := r.sq.Update("assignments").
		Set("status", status).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": assignmentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build update query: %w", op, err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: failed to execute update: %w", op, err)
	}

	if rowsAffected, err := res.RowsAffected(); err == nil && rowsAffected == 0 {
		return fmt.Errorf("%s: %w: assignment with id '%s'", op, apperrors.ErrNotFound, assignmentID)
	}

	return nil
}

func (r *AssignmentRepository) ListOpenByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Assignment, error) {
	const op = "internal.repository.postgres.ListOpenByUser"

	query, args, err := r.assignmentSelect().
		Where(sq.Eq{
			"tenant_id":   tenantID,
			"assigned_to": userID,
			"status":      domain.AssignmentStatusOpen,
		}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var assignments []domain.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return assignments, nil
}

func (r *AssignmentRepository) GetUserWorkloads(ctx context.Context, tenantID uuid.UUID) ([]domain.UserWorkload, error) {
	const op = "internal.repository.postgres.GetUserWorkloads"

	query, args, err := r.sq.Select(
		"assigned_to AS user_id",
		"COUNT(CASE WHEN status = 'Open' THEN 1 END) AS open_assignments",
		"COUNT(CASE WHEN status = 'Completed' THEN 1 END) AS completed_assignments",
	).
		From("assignments").
		Where(sq.Eq{"tenant_id": tenantID}).
		GroupBy("assigned_to").
		OrderBy("assigned_to").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var workloads []domain.UserWorkload
	if err := r.db.SelectContext(ctx, &workloads, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return workloads, nil
}

func (r *AssignmentRepository) assignmentSelect() sq.SelectBuilder {
	return r.sq.Select("id", "tenant_id", "doctype", "entity_id", "assigned_to", "assigned_by", "status", "created_at", "updated_at").
		From("assignments")
}
