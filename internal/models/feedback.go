package models

import "time"

// Feedback is one entry in a task's feedback thread. The thread CRUD lives
// with the surrounding app; this API only needs the row as an artifact
// parent.
type Feedback struct {
	ID        string    `db:"id" json:"id"`
	TaskID    string    `db:"task_id" json:"taskId"`
	AuthorID  string    `db:"author_id" json:"authorId"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
