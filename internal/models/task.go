package models

import (
	"strings"
	"time"
)

// TaskStatus is the closed task state enum. Stored strings are converted
// once at the repository boundary; no ad hoc casing transforms elsewhere.
type TaskStatus string

const (
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskOnHold     TaskStatus = "ON_HOLD"
)

// ParseTaskStatus converts an inbound string once at the boundary.
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch TaskStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case TaskInProgress:
		return TaskInProgress, true
	case TaskCompleted:
		return TaskCompleted, true
	case TaskOnHold:
		return TaskOnHold, true
	}
	return "", false
}

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityNormal TaskPriority = "NORMAL"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

// ParseTaskPriority converts an inbound string once at the boundary.
func ParseTaskPriority(raw string) (TaskPriority, bool) {
	switch TaskPriority(strings.ToUpper(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityNormal:
		return PriorityNormal, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityUrgent:
		return PriorityUrgent, true
	}
	return "", false
}

// AssignmentKind tags who assigned a task.
type AssignmentKind string

const (
	AssignmentSelf    AssignmentKind = "SELF"
	AssignmentManager AssignmentKind = "MANAGER"
)

// Assignment is the explicit tagged variant replacing the old implicit
// "assignedBy present or absent" convention. AssignerID is set only for
// manager-assigned tasks.
type Assignment struct {
	Kind       AssignmentKind `json:"kind"`
	AssignerID string         `json:"assignerId,omitempty"`
}

// SelfAssigned builds the self-assigned variant.
func SelfAssigned() Assignment {
	return Assignment{Kind: AssignmentSelf}
}

// ManagerAssigned builds the manager-assigned variant.
func ManagerAssigned(assignerID string) Assignment {
	return Assignment{Kind: AssignmentManager, AssignerID: assignerID}
}

// AssignmentFromRef converts the nullable assigned_by column exactly once.
func AssignmentFromRef(assignedBy *string) Assignment {
	if assignedBy == nil || *assignedBy == "" {
		return SelfAssigned()
	}
	return ManagerAssigned(*assignedBy)
}

// Ref converts back to the nullable column representation.
func (a Assignment) Ref() *string {
	if a.Kind != AssignmentManager || a.AssignerID == "" {
		return nil
	}
	id := a.AssignerID
	return &id
}

// Task is one unit of work on the daily board. Progress is fractional in
// [0,100]; status is derived from progress except for the explicit hold.
type Task struct {
	ID            string       `db:"id" json:"id"`
	OwnerID       string       `db:"owner_id" json:"ownerId"`
	Title         string       `db:"title" json:"title"`
	Description   string       `db:"description" json:"description"`
	Progress      float64      `db:"progress" json:"progress"`
	Status        TaskStatus   `db:"status" json:"status"`
	Priority      TaskPriority `db:"priority" json:"priority"`
	DueDate       *time.Time   `db:"due_date" json:"dueDate,omitempty"`
	DueUrgency    DueUrgency   `db:"-" json:"dueUrgency"`
	TaskDate      time.Time    `db:"task_date" json:"taskDate"`
	AssignedBy    *string      `db:"assigned_by" json:"-"`
	Assignment    Assignment   `db:"-" json:"assignment"`
	ContinuedFrom *string      `db:"continued_from" json:"continuedFromTaskId,omitempty"`
	Notes         string       `db:"notes" json:"notes"`
	Media         []Artifact   `db:"-" json:"media"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updatedAt"`
}

// Normalize derives the assignment variant from the scanned column and the
// urgency badge from the due date.
func (t *Task) Normalize() {
	t.Assignment = AssignmentFromRef(t.AssignedBy)
	t.DueUrgency = t.Urgency(time.Now().UTC())
	if t.Media == nil {
		t.Media = []Artifact{}
	}
}

// DueUrgency buckets a task's due date for the board's urgency badges.
type DueUrgency string

const (
	DueNone    DueUrgency = "NONE"
	DueLater   DueUrgency = "LATER"
	DueSoon    DueUrgency = "SOON"
	DueOverdue DueUrgency = "OVERDUE"
)

// Urgency classifies the task's due date relative to now. Tasks due within
// 24 hours count as SOON.
func (t *Task) Urgency(now time.Time) DueUrgency {
	if t.DueDate == nil {
		return DueNone
	}
	switch {
	case t.DueDate.Before(now):
		return DueOverdue
	case t.DueDate.Sub(now) <= 24*time.Hour:
		return DueSoon
	default:
		return DueLater
	}
}
