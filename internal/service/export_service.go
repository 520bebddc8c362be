package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dayline-app/dayline-api/internal/models"
	"github.com/dayline-app/dayline-api/pkg/export"
	"github.com/dayline-app/dayline-api/pkg/storage"
)

type exportTaskStore interface {
	ListForRange(ctx context.Context, ownerID string, from, to time.Time) ([]models.Task, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(table export.Table) ([]byte, error)
}

type pdfRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders task summary reports and persists the files.
type ExportService struct {
	tasks   exportTaskStore
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(tasks exportTaskStore, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		tasks:   tasks,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job's owner and range and stores the
// rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	table, err := s.buildTable(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(table)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(table)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/download/%s", prefix, token),
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to the configured ResultTTL).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildTable(ctx context.Context, job *models.ReportJob) (export.Table, error) {
	from, to := derefTime(job.From), derefTime(job.To)
	tasks, err := s.tasks.ListForRange(ctx, job.OwnerID, from, to)
	if err != nil {
		return export.Table{}, err
	}

	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		assignedBy := "self"
		if task.Assignment.Kind == models.AssignmentManager {
			assignedBy = task.Assignment.AssignerID
		}
		rows = append(rows, []string{
			task.TaskDate.UTC().Format("2006-01-02"),
			task.Title,
			string(task.Status),
			fmt.Sprintf("%.0f", task.Progress),
			string(task.Priority),
			assignedBy,
			formatDue(task.DueDate),
		})
	}

	title := "Task Summary"
	if !from.IsZero() || !to.IsZero() {
		title = fmt.Sprintf("Task Summary %s - %s", formatRangeBound(from, "start"), formatRangeBound(to, "now"))
	}
	return export.Table{
		Title:   title,
		Columns: []string{"Date", "Title", "Status", "Progress (%)", "Priority", "Assigned By", "Due"},
		Rows:    rows,
	}, nil
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("tasks_%s_%s.%s", sanitizeFilename(job.OwnerID), timestamp, job.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatDue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func formatRangeBound(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.UTC().Format("2006-01-02")
}
