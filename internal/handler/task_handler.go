package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
	"github.com/dayline-app/dayline-api/pkg/response"
)

type taskService interface {
	Create(ctx context.Context, actorID string, role models.UserRole, req dto.CreateTaskRequest) (*models.Task, error)
	Get(ctx context.Context, actorID string, role models.UserRole, id string) (*models.Task, error)
	Update(ctx context.Context, actorID string, role models.UserRole, id string, req dto.UpdateTaskRequest) (*models.Task, error)
	SetProgress(ctx context.Context, actorID string, role models.UserRole, id string, progress float64) (*models.Task, error)
	Continue(ctx context.Context, actorID string, role models.UserRole, id string) (*models.Task, error)
	ListIncomplete(ctx context.Context, actorID string, role models.UserRole, ownerID string, from, to time.Time) ([]models.Task, error)
	Delete(ctx context.Context, actorID string, role models.UserRole, id string) error
}

// TaskHandler exposes task lifecycle endpoints.
type TaskHandler struct {
	tasks taskService
}

// NewTaskHandler constructs handler.
func NewTaskHandler(tasks taskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Create godoc
// @Summary Create a task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param payload body dto.CreateTaskRequest true "Task payload"
// @Success 201 {object} response.Envelope
// @Router /tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload"))
		return
	}
	task, err := h.tasks.Create(c.Request.Context(), claims.UserID, claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Get godoc
// @Summary Fetch a task with its media set
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Update godoc
// @Summary Update task fields
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.UpdateTaskRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id} [patch]
func (h *TaskHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload"))
		return
	}
	task, err := h.tasks.Update(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// SetProgress godoc
// @Summary Update only the progress percentage
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.SetProgressRequest true "Progress payload"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id}/progress [patch]
func (h *TaskHandler) SetProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SetProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload"))
		return
	}
	task, err := h.tasks.SetProgress(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), req.Progress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Continue godoc
// @Summary Carry an unfinished task over to a new day
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 201 {object} response.Envelope
// @Router /tasks/{id}/continue [post]
func (h *TaskHandler) Continue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	successor, err := h.tasks.Continue(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, successor)
}

// ListIncomplete godoc
// @Summary List unfinished tasks eligible for continuation
// @Tags Tasks
// @Produce json
// @Param ownerId query string false "Owner ID (defaults to caller)"
// @Param from query string false "Range start (YYYY-MM-DD)"
// @Param to query string false "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /tasks/incomplete [get]
func (h *TaskHandler) ListIncomplete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.IncompleteTasksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	from, err := parseDateParam(query.From)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from date, expected YYYY-MM-DD"))
		return
	}
	to, err := parseDateParam(query.To)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to date, expected YYYY-MM-DD"))
		return
	}
	tasks, err := h.tasks.ListIncomplete(c.Request.Context(), claims.UserID, claims.Role, query.OwnerID, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, nil)
}

// Delete godoc
// @Summary Delete a task and its dependent rows
// @Tags Tasks
// @Param id path string true "Task ID"
// @Success 204
// @Router /tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.tasks.Delete(c.Request.Context(), claims.UserID, claims.Role, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func parseDateParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
