package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/middleware"
	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

type taskServiceMock struct {
	task       *models.Task
	tasks      []models.Task
	err        error
	lastActor  string
	lastOwner  string
	lastFrom   time.Time
	lastTo     time.Time
	deleteErr  error
	deletedIDs []string
}

func (m *taskServiceMock) Create(_ context.Context, actorID string, _ models.UserRole, _ dto.CreateTaskRequest) (*models.Task, error) {
	m.lastActor = actorID
	return m.task, m.err
}

func (m *taskServiceMock) Get(_ context.Context, actorID string, _ models.UserRole, _ string) (*models.Task, error) {
	m.lastActor = actorID
	return m.task, m.err
}

func (m *taskServiceMock) Update(_ context.Context, actorID string, _ models.UserRole, _ string, _ dto.UpdateTaskRequest) (*models.Task, error) {
	m.lastActor = actorID
	return m.task, m.err
}

func (m *taskServiceMock) SetProgress(_ context.Context, actorID string, _ models.UserRole, _ string, _ float64) (*models.Task, error) {
	m.lastActor = actorID
	return m.task, m.err
}

func (m *taskServiceMock) Continue(_ context.Context, actorID string, _ models.UserRole, _ string) (*models.Task, error) {
	m.lastActor = actorID
	return m.task, m.err
}

func (m *taskServiceMock) ListIncomplete(_ context.Context, actorID string, _ models.UserRole, ownerID string, from, to time.Time) ([]models.Task, error) {
	m.lastActor = actorID
	m.lastOwner = ownerID
	m.lastFrom = from
	m.lastTo = to
	return m.tasks, m.err
}

func (m *taskServiceMock) Delete(_ context.Context, _ string, _ models.UserRole, id string) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return m.deleteErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func setClaims(c *gin.Context, userID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
}

func TestTaskHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &taskServiceMock{task: &models.Task{ID: "t1", Title: "Restock shelves"}}
	handler := NewTaskHandler(mockSvc)

	payload, _ := json.Marshal(dto.CreateTaskRequest{Title: "Restock shelves"})
	c, w := newGinContext(http.MethodPost, "/tasks", payload)
	setClaims(c, "staff-1", models.RoleStaff)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "staff-1", mockSvc.lastActor)
}

func TestTaskHandlerCreateRejectsMissingTitle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewTaskHandler(&taskServiceMock{})

	c, w := newGinContext(http.MethodPost, "/tasks", []byte(`{"description":"no title"}`))
	setClaims(c, "staff-1", models.RoleStaff)

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandlerCreateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewTaskHandler(&taskServiceMock{})

	payload, _ := json.Marshal(dto.CreateTaskRequest{Title: "Restock shelves"})
	c, w := newGinContext(http.MethodPost, "/tasks", payload)

	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTaskHandlerContinuePropagatesPolicyViolation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &taskServiceMock{err: appErrors.ErrPolicyViolation}
	handler := NewTaskHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/tasks/t1/continue", nil)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	setClaims(c, "staff-1", models.RoleStaff)

	handler.Continue(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestTaskHandlerListIncompleteParsesRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &taskServiceMock{tasks: []models.Task{}}
	handler := NewTaskHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/tasks/incomplete?ownerId=staff-2&from=2026-08-01&to=2026-08-28", nil)
	setClaims(c, "mgr-1", models.RoleManager)

	handler.ListIncomplete(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "staff-2", mockSvc.lastOwner)
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), mockSvc.lastFrom)
	require.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), mockSvc.lastTo)
}

func TestTaskHandlerListIncompleteRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewTaskHandler(&taskServiceMock{})

	c, w := newGinContext(http.MethodGet, "/tasks/incomplete?from=08-01-2026", nil)
	setClaims(c, "staff-1", models.RoleStaff)

	handler.ListIncomplete(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandlerDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &taskServiceMock{}
	handler := NewTaskHandler(mockSvc)

	c, w := newGinContext(http.MethodDelete, "/tasks/t1", nil)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}
	setClaims(c, "staff-1", models.RoleStaff)

	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, []string{"t1"}, mockSvc.deletedIDs)
}
