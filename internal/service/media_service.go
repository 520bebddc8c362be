package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/models"
	"github.com/dayline-app/dayline-api/internal/upload"
	"github.com/dayline-app/dayline-api/pkg/config"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

type artifactStore interface {
	AttachAll(ctx context.Context, parentType models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error)
	ListByParent(ctx context.Context, parentType models.ParentType, parentID string) ([]models.Artifact, error)
	GetByID(ctx context.Context, id string) (*models.Artifact, error)
	Detach(ctx context.Context, parentType models.ParentType, parentID, artifactID string) (bool, error)
	SetCaption(ctx context.Context, id string, caption *string) error
}

type mediaTaskStore interface {
	GetByID(ctx context.Context, id string) (*models.Task, error)
}

type mediaFeedbackStore interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type mediaUserStore interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type urlCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// MediaService owns the media surface: credential issuance, upload sessions,
// attach/detach, captions, and read URL re-signing.
type MediaService struct {
	artifacts   artifactStore
	tasks       mediaTaskStore
	feedback    mediaFeedbackStore
	users       mediaUserStore
	cache       urlCache
	issuer      upload.CredentialIssuer
	registry    *upload.Registry
	compressor  *upload.Compressor
	transferrer *upload.Transferrer
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.UploadsConfig
}

// NewMediaService constructs the media service.
func NewMediaService(
	artifacts artifactStore,
	tasks mediaTaskStore,
	feedback mediaFeedbackStore,
	users mediaUserStore,
	cache urlCache,
	issuer upload.CredentialIssuer,
	registry *upload.Registry,
	compressor *upload.Compressor,
	transferrer *upload.Transferrer,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.UploadsConfig,
) *MediaService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaService{
		artifacts:   artifacts,
		tasks:       tasks,
		feedback:    feedback,
		users:       users,
		cache:       cache,
		issuer:      issuer,
		registry:    registry,
		compressor:  compressor,
		transferrer: transferrer,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// IssueCredential mints a presigned write/read handle pair for a client-side
// upload without going through a session.
func (s *MediaService) IssueCredential(ctx context.Context, actorID string, role models.UserRole, req dto.CredentialRequest) (*dto.CredentialResponse, error) {
	if role == models.RoleObserver {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credential payload")
	}
	cred, err := s.issuer.Issue(ctx, upload.CredentialRequest{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		OwnerID:     actorID,
		IsPrivate:   req.IsPrivate,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue upload credential")
	}
	return &dto.CredentialResponse{
		WriteHandle: cred.WriteURL,
		ReadHandle:  cred.ReadURL,
		StorageKey:  cred.StorageKey,
	}, nil
}

// StartSession queues a batch upload targeting one record. The session runs
// detached from the request; clients poll Session for progress and outcome.
func (s *MediaService) StartSession(ctx context.Context, actorID string, role models.UserRole, parentTypeRaw, parentID string, files []upload.File) (*upload.Session, error) {
	parentType, err := s.authorizeParent(ctx, parentTypeRaw, parentID, actorID, role, true)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one file is required")
	}
	for _, file := range files {
		if int64(len(file.Data)) > s.cfg.MaxFileSizeBytes {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("file %q exceeds the %d byte limit", file.Filename, s.cfg.MaxFileSizeBytes))
		}
	}

	session := upload.NewSession(parentType, parentID, actorID, parentType == models.ParentProfile, files, upload.SessionConfig{
		Concurrency: s.cfg.Concurrency,
		Compressor:  s.compressor,
		Transferrer: s.transferrer,
		Persister:   s,
		Logger:      s.logger,
	})
	s.registry.Put(session)
	go session.Run(context.Background())

	s.logger.Info("upload session started",
		zap.String("session_id", session.ID),
		zap.String("parent_type", string(parentType)),
		zap.String("parent_id", parentID),
		zap.Int("files", len(files)))
	return session, nil
}

// Session returns the polling snapshot for a registered session.
func (s *MediaService) Session(actorID string, role models.UserRole, sessionID string) (upload.Snapshot, error) {
	session, ok := s.registry.Get(sessionID)
	if !ok {
		return upload.Snapshot{}, appErrors.Clone(appErrors.ErrNotFound, "upload session not found")
	}
	if session.OwnerID != actorID && role != models.RoleManager {
		return upload.Snapshot{}, appErrors.ErrForbidden
	}
	return session.Snapshot(), nil
}

// CancelSession aborts in-flight transfers; completed files stay attached.
func (s *MediaService) CancelSession(actorID string, role models.UserRole, sessionID string) error {
	session, ok := s.registry.Get(sessionID)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "upload session not found")
	}
	if session.OwnerID != actorID && role != models.RoleManager {
		return appErrors.ErrForbidden
	}
	session.Cancel()
	return nil
}

// AttachArtifacts is the session settlement hook: one transactional append of
// the batch to the parent's media set.
func (s *MediaService) AttachArtifacts(ctx context.Context, parentType models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error) {
	return s.artifacts.AttachAll(ctx, parentType, parentID, artifacts)
}

// Attach appends already-uploaded objects to a record's media set.
func (s *MediaService) Attach(ctx context.Context, actorID string, role models.UserRole, parentTypeRaw, parentID string, req dto.AttachRequest) ([]models.Artifact, error) {
	parentType, err := s.authorizeParent(ctx, parentTypeRaw, parentID, actorID, role, true)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attach payload")
	}

	artifacts := make([]models.Artifact, len(req.Artifacts))
	for i, item := range req.Artifacts {
		artifacts[i] = models.Artifact{
			StorageKey: item.StorageKey,
			URL:        item.URL,
			Filename:   item.Filename,
			MimeType:   item.MimeType,
			SizeBytes:  item.SizeBytes,
			Caption:    item.Caption,
			UploadedBy: actorID,
		}
	}
	attached, err := s.artifacts.AttachAll(ctx, parentType, parentID, artifacts)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach media")
	}
	return attached, nil
}

// List returns the record's media set in display order.
func (s *MediaService) List(ctx context.Context, actorID string, role models.UserRole, parentTypeRaw, parentID string) ([]models.Artifact, error) {
	parentType, err := s.authorizeParent(ctx, parentTypeRaw, parentID, actorID, role, false)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.artifacts.ListByParent(ctx, parentType, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list media")
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}
	return artifacts, nil
}

// Detach removes the association only; the stored object stays. Removing an
// already-detached artifact succeeds so retries are safe.
func (s *MediaService) Detach(ctx context.Context, actorID string, role models.UserRole, parentTypeRaw, parentID, artifactID string) error {
	parentType, err := s.authorizeParent(ctx, parentTypeRaw, parentID, actorID, role, true)
	if err != nil {
		return err
	}
	removed, err := s.artifacts.Detach(ctx, parentType, parentID, artifactID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to detach media")
	}
	if !removed {
		s.logger.Debug("detach of missing artifact treated as success",
			zap.String("artifact_id", artifactID), zap.String("parent_id", parentID))
	}
	return nil
}

// SetCaption sets or clears an artifact caption (nil clears).
func (s *MediaService) SetCaption(ctx context.Context, actorID string, role models.UserRole, artifactID string, caption *string) (*models.Artifact, error) {
	artifact, err := s.loadArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeParent(ctx, string(artifact.ParentType), artifact.ParentID, actorID, role, true); err != nil {
		return nil, err
	}
	if err := s.artifacts.SetCaption(ctx, artifactID, caption); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set caption")
	}
	artifact.Caption = caption
	return artifact, nil
}

// ResolveURL returns a fresh read URL for the artifact, serving from Redis
// while a previously signed URL is still comfortably valid. The boolean
// reports whether the URL came from cache.
func (s *MediaService) ResolveURL(ctx context.Context, actorID string, role models.UserRole, artifactID string) (string, bool, error) {
	artifact, err := s.loadArtifact(ctx, artifactID)
	if err != nil {
		return "", false, err
	}
	if _, err := s.authorizeParent(ctx, string(artifact.ParentType), artifact.ParentID, actorID, role, false); err != nil {
		return "", false, err
	}

	cacheKey := "media:url:" + artifact.StorageKey
	var cached string
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil && cached != "" {
			return cached, true, nil
		}
	}

	url, ttl, err := s.issuer.ResignRead(ctx, artifact.StorageKey)
	if err != nil {
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to re-sign read url")
	}
	if s.cache != nil && ttl > 0 {
		// Cache for half the signature lifetime so clients never receive a
		// URL about to expire.
		if err := s.cache.Set(ctx, cacheKey, url, ttl/2); err != nil {
			s.logger.Warn("failed to cache re-signed url", zap.Error(err))
		}
	}
	return url, false, nil
}

func (s *MediaService) loadArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	artifact, err := s.artifacts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load artifact")
	}
	return artifact, nil
}

// authorizeParent resolves the parent record and checks the actor may view or
// mutate its media set.
func (s *MediaService) authorizeParent(ctx context.Context, parentTypeRaw, parentID, actorID string, role models.UserRole, mutate bool) (models.ParentType, error) {
	parentType, ok := models.ParseParentType(parentTypeRaw)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown record type %q", parentTypeRaw))
	}
	if mutate && role == models.RoleObserver {
		return "", appErrors.ErrForbidden
	}

	switch parentType {
	case models.ParentTask:
		task, err := s.tasks.GetByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", appErrors.Clone(appErrors.ErrNotFound, "task not found")
			}
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
		}
		if mutate && !canMutate(task, actorID, role) {
			return "", appErrors.ErrForbidden
		}
		if !mutate && !canView(task, actorID, role) {
			return "", appErrors.ErrForbidden
		}
	case models.ParentFeedback:
		exists, err := s.feedback.Exists(ctx, parentID)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve feedback")
		}
		if !exists {
			return "", appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
		}
	case models.ParentProfile:
		exists, err := s.users.Exists(ctx, parentID)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve user")
		}
		if !exists {
			return "", appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		if mutate && parentID != actorID && role != models.RoleManager {
			return "", appErrors.ErrForbidden
		}
	}
	return parentType, nil
}
