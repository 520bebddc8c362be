package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/models"
	"github.com/dayline-app/dayline-api/internal/service"
)

type reportServiceMock struct {
	job         *models.ReportJob
	jobErr      error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) CreateJob(_ context.Context, _ dto.CreateReportRequest, _ string) (*models.ReportJob, error) {
	return m.job, m.jobErr
}

func (m *reportServiceMock) GetStatus(_ context.Context, _, _ string, _ models.UserRole) (*models.ReportJob, error) {
	return m.job, m.jobErr
}

func (m *reportServiceMock) ResolveDownload(_ context.Context, _ string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func TestReportHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		job: &models.ReportJob{ID: "job-1", Status: models.ReportStatusQueued},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(dto.CreateReportRequest{Format: "csv"})
	c, w := newGinContext(http.MethodPost, "/reports", payload)
	setClaims(c, "staff-1", models.RoleStaff)

	handler.Create(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		job: &models.ReportJob{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	setClaims(c, "staff-1", models.RoleStaff)

	handler.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp(t.TempDir(), "export*.csv")
	require.NoError(t, err)
	_, _ = file.WriteString("Date,Title\n2026-08-27,Restock shelves\n")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "tasks.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/download/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Restock shelves")
	require.Contains(t, w.Header().Get("Content-Disposition"), "tasks.csv")
}
