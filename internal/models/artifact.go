package models

import (
	"strings"
	"time"
)

// ParentType identifies which record owns an artifact.
type ParentType string

const (
	ParentTask     ParentType = "TASK"
	ParentFeedback ParentType = "FEEDBACK"
	ParentProfile  ParentType = "PROFILE"
)

// ParseParentType converts an inbound string once at the boundary.
func ParseParentType(raw string) (ParentType, bool) {
	switch ParentType(strings.ToUpper(strings.TrimSpace(raw))) {
	case ParentTask:
		return ParentTask, true
	case ParentFeedback:
		return ParentFeedback, true
	case ParentProfile:
		return ParentProfile, true
	}
	return "", false
}

// Artifact is one stored file plus its metadata, referenced by exactly one
// parent record. The URL column may be stale; private artifacts are
// re-signed through the read-access path before display.
type Artifact struct {
	ID         string     `db:"id" json:"id"`
	ParentType ParentType `db:"parent_type" json:"parentType"`
	ParentID   string     `db:"parent_id" json:"parentId"`
	StorageKey string     `db:"storage_key" json:"storageKey"`
	URL        string     `db:"url" json:"url"`
	Filename   string     `db:"filename" json:"filename"`
	MimeType   string     `db:"mime_type" json:"mimeType"`
	SizeBytes  int64      `db:"size_bytes" json:"sizeBytes"`
	Caption    *string    `db:"caption" json:"caption,omitempty"`
	Position   int        `db:"position" json:"position"`
	UploadedBy string     `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}
