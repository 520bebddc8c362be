package dto

import "time"

// CreateTaskRequest creates a new task. When AssigneeID is set and differs
// from the acting user, the task becomes manager-assigned to that user.
type CreateTaskRequest struct {
	Title       string     `json:"title" binding:"required" validate:"required"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Notes       string     `json:"notes"`
	AssigneeID  string     `json:"assigneeId"`
}

// UpdateTaskRequest mutates task fields. Pointer fields distinguish "absent"
// from "set to zero"; the whole request is rejected if any present field is
// not mutable by the actor.
type UpdateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Status      *string    `json:"status"`
	Notes       *string    `json:"notes"`
	Progress    *float64   `json:"progress"`
}

// SetProgressRequest updates only the progress percentage.
type SetProgressRequest struct {
	Progress float64 `json:"progress"`
}

// IncompleteTasksQuery bounds the continuation listing. OwnerID defaults to
// the acting user.
type IncompleteTasksQuery struct {
	OwnerID string `form:"ownerId"`
	From    string `form:"from"`
	To      string `form:"to"`
}
