package dto

// CreateReportRequest queues a task summary export.
type CreateReportRequest struct {
	Format string `json:"format" binding:"required,oneof=csv pdf" validate:"required,oneof=csv pdf"`
	From   string `json:"from"`
	To     string `json:"to"`
}
