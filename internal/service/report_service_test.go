package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/models"
	"github.com/dayline-app/dayline-api/internal/repository"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
	"github.com/dayline-app/dayline-api/pkg/jobs"
	"github.com/dayline-app/dayline-api/pkg/storage"
)

type reportStoreStub struct {
	items  map[string]*models.ReportJob
	nextID int
}

func newReportStoreStub() *reportStoreStub {
	return &reportStoreStub{items: map[string]*models.ReportJob{}}
}

func (s *reportStoreStub) Create(_ context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		s.nextID++
		job.ID = "job-" + strings.Repeat("0", 3) + string(rune('0'+s.nextID))
	}
	clone := *job
	s.items[job.ID] = &clone
	return nil
}

func (s *reportStoreStub) GetByID(_ context.Context, id string) (*models.ReportJob, error) {
	job, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (s *reportStoreStub) Update(_ context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (s *reportStoreStub) ListQueued(_ context.Context, _ int) ([]models.ReportJob, error) {
	queued := []models.ReportJob{}
	for _, job := range s.items {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (s *reportStoreStub) ListFinishedBefore(_ context.Context, cutoff time.Time, _ int) ([]models.ReportJob, error) {
	finished := []models.ReportJob{}
	for _, job := range s.items {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			finished = append(finished, *job)
		}
	}
	return finished, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type exportTaskStoreStub struct {
	tasks []models.Task
}

func (s *exportTaskStoreStub) ListForRange(_ context.Context, _ string, _, _ time.Time) ([]models.Task, error) {
	return s.tasks, nil
}

func newExportServiceForTest(t *testing.T, tasks []models.Task) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewExportService(&exportTaskStoreStub{tasks: tasks}, store, signer, ExportConfig{APIPrefix: "/api/v1"}, nil, nil, nil)
}

func TestReportServiceCreateJobEnqueues(t *testing.T) {
	repo := newReportStoreStub()
	queue := &queueStub{}
	service := NewReportService(repo, queue, newExportServiceForTest(t, nil), nil, ReportServiceConfig{})

	job, err := service.CreateJob(context.Background(), dto.CreateReportRequest{Format: "csv", From: "2026-08-01", To: "2026-08-28"}, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.Equal(t, models.ReportFormatCSV, job.Format)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, job.ID, queue.jobs[0].ID)
}

func TestReportServiceCreateJobValidation(t *testing.T) {
	service := NewReportService(newReportStoreStub(), &queueStub{}, newExportServiceForTest(t, nil), nil, ReportServiceConfig{})

	_, err := service.CreateJob(context.Background(), dto.CreateReportRequest{Format: "xlsx"}, "staff-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = service.CreateJob(context.Background(), dto.CreateReportRequest{Format: "csv", From: "08/01/2026"}, "staff-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = service.CreateJob(context.Background(), dto.CreateReportRequest{Format: "csv", From: "2026-08-28", To: "2026-08-01"}, "staff-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	repo := newReportStoreStub()
	queue := &queueStub{err: assert.AnError}
	service := NewReportService(repo, queue, newExportServiceForTest(t, nil), nil, ReportServiceConfig{})

	_, err := service.CreateJob(context.Background(), dto.CreateReportRequest{Format: "pdf"}, "staff-1")
	require.Error(t, err)

	require.Len(t, repo.items, 1)
	for _, job := range repo.items {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
	}
}

func TestReportServiceGetStatusOwnership(t *testing.T) {
	repo := newReportStoreStub()
	require.NoError(t, repo.Create(context.Background(), &models.ReportJob{ID: "job-1", OwnerID: "staff-1", Format: models.ReportFormatCSV, Status: models.ReportStatusQueued}))
	service := NewReportService(repo, &queueStub{}, newExportServiceForTest(t, nil), nil, ReportServiceConfig{})

	_, err := service.GetStatus(context.Background(), "job-1", "staff-2", models.RoleStaff)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = service.GetStatus(context.Background(), "job-1", "staff-1", models.RoleStaff)
	require.NoError(t, err)
	_, err = service.GetStatus(context.Background(), "job-1", "mgr-1", models.RoleManager)
	require.NoError(t, err)

	_, err = service.GetStatus(context.Background(), "missing", "staff-1", models.RoleStaff)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportWorkerRendersAndFinishesJob(t *testing.T) {
	due := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	tasks := []models.Task{
		{
			ID: "t1", OwnerID: "staff-1", Title: "Close out stockroom",
			Progress: 100, Status: models.TaskCompleted, Priority: models.PriorityNormal,
			TaskDate: time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC), DueDate: &due,
			Assignment: models.ManagerAssigned("mgr-1"),
		},
		{
			ID: "t2", OwnerID: "staff-1", Title: "Stage deliveries",
			Progress: 40, Status: models.TaskInProgress, Priority: models.PriorityHigh,
			TaskDate:   time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
			Assignment: models.SelfAssigned(),
		},
	}
	exporter := newExportServiceForTest(t, tasks)
	repo := newReportStoreStub()
	job := &models.ReportJob{ID: "job-1", OwnerID: "staff-1", Format: models.ReportFormatCSV, Status: models.ReportStatusQueued}
	require.NoError(t, repo.Create(context.Background(), job))

	worker := NewReportWorker(repo, exporter, 3, nil)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))

	stored, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.Contains(t, *stored.ResultURL, "/api/v1/reports/download/")

	service := NewReportService(repo, &queueStub{}, exporter, nil, ReportServiceConfig{})
	download, err := service.ResolveDownload(context.Background(), extractToken(*stored.ResultURL))
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "Close out stockroom")
	assert.Contains(t, text, "Stage deliveries")
	assert.Contains(t, text, "mgr-1")
	assert.Contains(t, text, "self")
}

func TestReportServiceResolveDownloadRejectsBadToken(t *testing.T) {
	service := NewReportService(newReportStoreStub(), &queueStub{}, newExportServiceForTest(t, nil), nil, ReportServiceConfig{})

	_, err := service.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
