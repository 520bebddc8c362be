package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FeedbackRepository resolves feedback rows; thread CRUD lives with the
// surrounding app, this API only needs existence checks for attachment.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Exists reports whether the feedback row is present.
func (r *FeedbackRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM feedback WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check feedback exists: %w", err)
	}
	return exists, nil
}
