package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dayline-app/dayline-api/internal/models"
)

const artifactColumns = `id, parent_type, parent_id, storage_key, url, filename,
       mime_type, size_bytes, caption, position, uploaded_by, created_at`

// ArtifactRepository handles artifact association persistence.
type ArtifactRepository struct {
	db *sqlx.DB
}

// NewArtifactRepository constructs the repository.
func NewArtifactRepository(db *sqlx.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// AttachAll appends artifacts to a parent in one transaction, preserving
// submission order after the parent's existing media.
func (r *ArtifactRepository) AttachAll(ctx context.Context, parentType models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attach: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var position int
	if err := tx.GetContext(ctx, &position,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM artifacts WHERE parent_type = $1 AND parent_id = $2`,
		parentType, parentID); err != nil {
		return nil, fmt.Errorf("next artifact position: %w", err)
	}

	const query = `INSERT INTO artifacts
	(id, parent_type, parent_id, storage_key, url, filename, mime_type, size_bytes, caption, position, uploaded_by, created_at)
	VALUES (:id, :parent_type, :parent_id, :storage_key, :url, :filename, :mime_type, :size_bytes, :caption, :position, :uploaded_by, :created_at)`

	attached := make([]models.Artifact, 0, len(artifacts))
	for i := range artifacts {
		artifact := artifacts[i]
		if artifact.ID == "" {
			artifact.ID = uuid.NewString()
		}
		artifact.ParentType = parentType
		artifact.ParentID = parentID
		artifact.Position = position + i
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, query, artifact); err != nil {
			return nil, fmt.Errorf("attach artifact: %w", err)
		}
		attached = append(attached, artifact)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attach: %w", err)
	}
	return attached, nil
}

// ListByParent returns a record's media set in display order.
func (r *ArtifactRepository) ListByParent(ctx context.Context, parentType models.ParentType, parentID string) ([]models.Artifact, error) {
	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE parent_type = $1 AND parent_id = $2 ORDER BY position ASC`, artifactColumns)
	var artifacts []models.Artifact
	if err := r.db.SelectContext(ctx, &artifacts, query, parentType, parentID); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

// GetByID retrieves one artifact row.
func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*models.Artifact, error) {
	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE id = $1`, artifactColumns)
	var artifact models.Artifact
	if err := r.db.GetContext(ctx, &artifact, query, id); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Detach removes an association. A missing row is a no-op so repeated
// detaches stay idempotent; the underlying storage object is untouched.
func (r *ArtifactRepository) Detach(ctx context.Context, parentType models.ParentType, parentID, artifactID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE id = $1 AND parent_type = $2 AND parent_id = $3`,
		artifactID, parentType, parentID)
	if err != nil {
		return false, fmt.Errorf("detach artifact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("detach artifact result: %w", err)
	}
	return affected > 0, nil
}

// SetCaption sets or clears the only mutable artifact field.
func (r *ArtifactRepository) SetCaption(ctx context.Context, id string, caption *string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE artifacts SET caption = $1 WHERE id = $2`, caption, id)
	if err != nil {
		return fmt.Errorf("set artifact caption: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
