package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dayline-app/dayline-api/internal/models"
)

// UserRepository resolves account rows owned by the external auth service.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID retrieves one user row.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, email, full_name, role, avatar_id, created_at FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// Exists reports whether the user row is present.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}
