package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dayline-app/dayline-api/internal/models"
)

const taskColumns = `id, owner_id, title, description, progress, status, priority,
       due_date, task_date, assigned_by, continued_from, notes, created_at, updated_at`

// TaskRepository handles task persistence.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs the repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create stores a new task row.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.TaskDate.IsZero() {
		task.TaskDate = now.Truncate(24 * time.Hour)
	}
	task.AssignedBy = task.Assignment.Ref()
	const query = `INSERT INTO tasks
	(id, owner_id, title, description, progress, status, priority, due_date, task_date, assigned_by, continued_from, notes, created_at, updated_at)
	VALUES (:id, :owner_id, :title, :description, :progress, :status, :priority, :due_date, :task_date, :assigned_by, :continued_from, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	task.Normalize()
	return nil
}

// GetByID retrieves one task row.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)
	var task models.Task
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		return nil, err
	}
	task.Normalize()
	return &task, nil
}

// Update persists mutable task fields.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	task.AssignedBy = task.Assignment.Ref()
	const query = `UPDATE tasks SET
	title = :title, description = :description, progress = :progress, status = :status,
	priority = :priority, due_date = :due_date, notes = :notes, updated_at = :updated_at
	WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	task.Normalize()
	return nil
}

// SetProgress updates progress and derived status in one statement.
func (r *TaskRepository) SetProgress(ctx context.Context, id string, progress float64, status models.TaskStatus) error {
	const query = `UPDATE tasks SET progress = $1, status = $2, updated_at = $3 WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, progress, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set task progress: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a task and its dependent rows (media links, feedback).
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE parent_type = $1 AND parent_id = $2`, models.ParentTask, id); err != nil {
		return fmt.Errorf("delete task media: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feedback WHERE task_id = $1`, id); err != nil {
		return fmt.Errorf("delete task feedback: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// Exists reports whether the task row is present.
func (r *TaskRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	return exists, nil
}

// HasSuccessor reports whether any task continues the given one.
func (r *TaskRepository) HasSuccessor(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM tasks WHERE continued_from = $1)`, id); err != nil {
		return false, fmt.Errorf("check task successor: %w", err)
	}
	return exists, nil
}

// ListIncomplete returns unfinished tasks that no later task continues.
// Tasks with a successor stay queryable as history but are excluded here.
func (r *TaskRepository) ListIncomplete(ctx context.Context, ownerID string, from, to time.Time) ([]models.Task, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM tasks t WHERE t.owner_id = $1 AND t.progress < 100
	AND NOT EXISTS (SELECT 1 FROM tasks s WHERE s.continued_from = t.id)`, taskColumns))
	args := []interface{}{ownerID}
	if !from.IsZero() {
		args = append(args, from)
		builder.WriteString(fmt.Sprintf(" AND t.task_date >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		builder.WriteString(fmt.Sprintf(" AND t.task_date <= $%d", len(args)))
	}
	builder.WriteString(" ORDER BY t.task_date DESC, t.created_at DESC")

	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list incomplete tasks: %w", err)
	}
	for i := range tasks {
		tasks[i].Normalize()
	}
	return tasks, nil
}

// ListForRange returns an owner's tasks within a date range (report export).
func (r *TaskRepository) ListForRange(ctx context.Context, ownerID string, from, to time.Time) ([]models.Task, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM tasks WHERE owner_id = $1`, taskColumns))
	args := []interface{}{ownerID}
	if !from.IsZero() {
		args = append(args, from)
		builder.WriteString(fmt.Sprintf(" AND task_date >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		builder.WriteString(fmt.Sprintf(" AND task_date <= $%d", len(args)))
	}
	builder.WriteString(" ORDER BY task_date ASC, created_at ASC")

	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list tasks for range: %w", err)
	}
	for i := range tasks {
		tasks[i].Normalize()
	}
	return tasks, nil
}
