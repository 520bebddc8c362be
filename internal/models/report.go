package models

import "time"

// ReportFormat is the export file format.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ParseReportFormat converts an inbound string once at the boundary.
func ParseReportFormat(raw string) (ReportFormat, bool) {
	switch ReportFormat(raw) {
	case ReportFormatCSV:
		return ReportFormatCSV, true
	case ReportFormatPDF:
		return ReportFormatPDF, true
	}
	return "", false
}

// ReportStatus tracks a report job through the queue.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJob is one queued task summary export.
type ReportJob struct {
	ID           string       `db:"id" json:"id"`
	OwnerID      string       `db:"owner_id" json:"ownerId"`
	Format       ReportFormat `db:"format" json:"format"`
	From         *time.Time   `db:"range_from" json:"from,omitempty"`
	To           *time.Time   `db:"range_to" json:"to,omitempty"`
	Status       ReportStatus `db:"status" json:"status"`
	Progress     int          `db:"progress" json:"progress"`
	ResultURL    *string      `db:"result_url" json:"resultUrl,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finishedAt,omitempty"`
}
