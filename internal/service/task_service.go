package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

const continuedSuffix = " (continued)"

type taskStore interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	SetProgress(ctx context.Context, id string, progress float64, status models.TaskStatus) error
	Delete(ctx context.Context, id string) error
	HasSuccessor(ctx context.Context, id string) (bool, error)
	ListIncomplete(ctx context.Context, ownerID string, from, to time.Time) ([]models.Task, error)
}

type taskUserStore interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type taskMediaStore interface {
	ListByParent(ctx context.Context, parentType models.ParentType, parentID string) ([]models.Artifact, error)
	AttachAll(ctx context.Context, parentType models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error)
}

// TaskService implements the task lifecycle: creation, progress-derived
// status, explicit hold, and the end-of-day continuation chain.
type TaskService struct {
	tasks     taskStore
	users     taskUserStore
	media     taskMediaStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTaskService constructs the task service.
func NewTaskService(tasks taskStore, users taskUserStore, media taskMediaStore, validate *validator.Validate, logger *zap.Logger) *TaskService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{tasks: tasks, users: users, media: media, validator: validate, logger: logger}
}

// Create stores a new task. Assigning to another user is a manager operation
// and records the manager-assigned variant on the task.
func (s *TaskService) Create(ctx context.Context, actorID string, role models.UserRole, req dto.CreateTaskRequest) (*models.Task, error) {
	if role == models.RoleObserver {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	priority := models.PriorityNormal
	if req.Priority != "" {
		parsed, ok := models.ParseTaskPriority(req.Priority)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", req.Priority))
		}
		priority = parsed
	}

	ownerID := actorID
	assignment := models.SelfAssigned()
	if req.AssigneeID != "" && req.AssigneeID != actorID {
		if role != models.RoleManager {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only managers may assign tasks to others")
		}
		exists, err := s.users.Exists(ctx, req.AssigneeID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assignee")
		}
		if !exists {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assignee does not exist")
		}
		ownerID = req.AssigneeID
		assignment = models.ManagerAssigned(actorID)
	}

	task := &models.Task{
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Progress:    0,
		Status:      models.TaskInProgress,
		Priority:    priority,
		DueDate:     req.DueDate,
		Assignment:  assignment,
		Notes:       renumberNotes(req.Notes),
		Media:       []models.Artifact{},
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}
	s.logger.Info("task created",
		zap.String("task_id", task.ID), zap.String("owner_id", task.OwnerID), zap.String("kind", string(assignment.Kind)))
	return task, nil
}

// Get loads a task with its media set.
func (s *TaskService) Get(ctx context.Context, actorID string, role models.UserRole, id string) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(task, actorID, role) {
		return nil, appErrors.ErrForbidden
	}
	media, err := s.media.ListByParent(ctx, models.ParentTask, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task media")
	}
	if media == nil {
		media = []models.Artifact{}
	}
	task.Media = media
	return task, nil
}

// Update applies a partial mutation. Progress drives status: reaching 100
// completes the task, lowering it reverts to in-progress. ON_HOLD is the only
// status that sticks independently of progress.
func (s *TaskService) Update(ctx context.Context, actorID string, role models.UserRole, id string, req dto.UpdateTaskRequest) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canMutate(task, actorID, role) {
		return nil, appErrors.ErrForbidden
	}
	// Assignees of manager-assigned tasks may only move progress and notes.
	// Checked up front so a mixed request changes nothing at all.
	if assigneeRestricted(task, actorID, role) {
		if req.Title != nil || req.Description != nil || req.Priority != nil || req.DueDate != nil {
			return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "assigned tasks allow only progress and notes changes")
		}
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title must not be empty")
		}
		task.Title = title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Priority != nil {
		parsed, ok := models.ParseTaskPriority(*req.Priority)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", *req.Priority))
		}
		task.Priority = parsed
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
	}
	if req.Notes != nil {
		task.Notes = renumberNotes(*req.Notes)
	}

	hold := task.Status == models.TaskOnHold
	if req.Status != nil {
		parsed, ok := models.ParseTaskStatus(*req.Status)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", *req.Status))
		}
		switch parsed {
		case models.TaskOnHold:
			if role != models.RoleManager {
				return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "only managers may place tasks on hold")
			}
			hold = true
		case models.TaskInProgress:
			hold = false
		case models.TaskCompleted:
			hold = false
			task.Progress = 100
		}
	}
	if req.Progress != nil {
		task.Progress = clampProgress(*req.Progress)
	}
	task.Status = deriveStatus(task.Progress, hold)

	if err := s.tasks.Update(ctx, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task")
	}
	return task, nil
}

// SetProgress updates only progress and the derived status.
func (s *TaskService) SetProgress(ctx context.Context, actorID string, role models.UserRole, id string, progress float64) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canMutate(task, actorID, role) {
		return nil, appErrors.ErrForbidden
	}

	task.Progress = clampProgress(progress)
	task.Status = deriveStatus(task.Progress, task.Status == models.TaskOnHold)

	if err := s.tasks.SetProgress(ctx, id, task.Progress, task.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task progress")
	}
	return task, nil
}

// Continue rolls an unfinished task into a new one. The predecessor stays
// untouched as history; its media rows are duplicated so both tasks reference
// the same stored objects.
func (s *TaskService) Continue(ctx context.Context, actorID string, role models.UserRole, id string) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canMutate(task, actorID, role) {
		return nil, appErrors.ErrForbidden
	}
	if task.Progress >= 100 {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "completed tasks cannot be continued")
	}
	hasSuccessor, err := s.tasks.HasSuccessor(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check task successor")
	}
	if hasSuccessor {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "task has already been continued")
	}

	predecessorID := id
	successor := &models.Task{
		OwnerID:       task.OwnerID,
		Title:         continuedTitle(task.Title),
		Description:   task.Description,
		Progress:      task.Progress,
		Status:        deriveStatus(task.Progress, false),
		Priority:      task.Priority,
		DueDate:       task.DueDate,
		Assignment:    task.Assignment,
		ContinuedFrom: &predecessorID,
		Notes:         renumberNotes(task.Notes),
		Media:         []models.Artifact{},
	}
	if err := s.tasks.Create(ctx, successor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create continuation task")
	}

	media, err := s.media.ListByParent(ctx, models.ParentTask, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load predecessor media")
	}
	if len(media) > 0 {
		copies := make([]models.Artifact, len(media))
		for i, artifact := range media {
			copies[i] = models.Artifact{
				StorageKey: artifact.StorageKey,
				URL:        artifact.URL,
				Filename:   artifact.Filename,
				MimeType:   artifact.MimeType,
				SizeBytes:  artifact.SizeBytes,
				Caption:    artifact.Caption,
				UploadedBy: artifact.UploadedBy,
			}
		}
		attached, err := s.media.AttachAll(ctx, models.ParentTask, successor.ID, copies)
		if err != nil {
			// The continuation is all-or-nothing: a successor without its
			// inherited media would also block every retry, because the
			// predecessor now has a successor.
			if derr := s.tasks.Delete(ctx, successor.ID); derr != nil {
				s.logger.Error("failed to roll back continuation task",
					zap.String("task_id", successor.ID), zap.Error(derr))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to carry over task media")
		}
		successor.Media = attached
	}

	s.logger.Info("task continued",
		zap.String("predecessor_id", id), zap.String("task_id", successor.ID))
	return successor, nil
}

// ListIncomplete returns unfinished, not-yet-continued tasks for the board's
// carry-over prompt. Staff see their own; managers and observers may inspect
// any owner.
func (s *TaskService) ListIncomplete(ctx context.Context, actorID string, role models.UserRole, ownerID string, from, to time.Time) ([]models.Task, error) {
	if ownerID == "" {
		ownerID = actorID
	}
	if ownerID != actorID && role == models.RoleStaff {
		return nil, appErrors.ErrForbidden
	}
	tasks, err := s.tasks.ListIncomplete(ctx, ownerID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list incomplete tasks")
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// Delete removes a task and its dependent rows.
func (s *TaskService) Delete(ctx context.Context, actorID string, role models.UserRole, id string) error {
	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canMutate(task, actorID, role) {
		return appErrors.ErrForbidden
	}
	if assigneeRestricted(task, actorID, role) {
		return appErrors.Clone(appErrors.ErrPolicyViolation, "assigned tasks can be removed only by a manager")
	}
	if err := s.tasks.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete task")
	}
	return nil
}

func (s *TaskService) load(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	return task, nil
}

func canView(task *models.Task, actorID string, role models.UserRole) bool {
	if role == models.RoleManager || role == models.RoleObserver {
		return true
	}
	return task.OwnerID == actorID || task.Assignment.AssignerID == actorID
}

func canMutate(task *models.Task, actorID string, role models.UserRole) bool {
	if role == models.RoleObserver {
		return false
	}
	if role == models.RoleManager {
		return true
	}
	return task.OwnerID == actorID
}

// assigneeRestricted reports whether the actor is the staff assignee of a
// manager-assigned task and therefore limited to progress and notes changes.
func assigneeRestricted(task *models.Task, actorID string, role models.UserRole) bool {
	return role == models.RoleStaff &&
		task.Assignment.Kind == models.AssignmentManager &&
		task.OwnerID == actorID
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func deriveStatus(progress float64, hold bool) models.TaskStatus {
	if progress >= 100 {
		return models.TaskCompleted
	}
	if hold {
		return models.TaskOnHold
	}
	return models.TaskInProgress
}

// continuedTitle appends the continuation marker once, regardless of how many
// times a task has rolled over.
func continuedTitle(title string) string {
	return strings.TrimSuffix(title, continuedSuffix) + continuedSuffix
}

// renumberNotes rewrites "N. text" note lines with a clean 1..n sequence and
// drops blank lines. Unnumbered lines are numbered as-is.
func renumberNotes(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	n := 0
	for _, line := range lines {
		text := strings.TrimSpace(stripNoteNumber(line))
		if text == "" {
			continue
		}
		n++
		out = append(out, fmt.Sprintf("%d. %s", n, text))
	}
	return strings.Join(out, "\n")
}

func stripNoteNumber(line string) string {
	trimmed := strings.TrimSpace(line)
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(trimmed) || trimmed[i] != '.' {
		return trimmed
	}
	return strings.TrimSpace(trimmed[i+1:])
}
