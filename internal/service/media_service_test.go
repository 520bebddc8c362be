package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/models"
	"github.com/dayline-app/dayline-api/internal/upload"
	"github.com/dayline-app/dayline-api/pkg/config"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

type artifactStoreStub struct {
	items    map[string]*models.Artifact
	byParent map[string][]models.Artifact
	nextID   int
}

func newArtifactStoreStub() *artifactStoreStub {
	return &artifactStoreStub{items: map[string]*models.Artifact{}, byParent: map[string][]models.Artifact{}}
}

func (s *artifactStoreStub) AttachAll(_ context.Context, parentType models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error) {
	attached := make([]models.Artifact, len(artifacts))
	for i, artifact := range artifacts {
		s.nextID++
		artifact.ID = fmt.Sprintf("artifact-%d", s.nextID)
		artifact.ParentType = parentType
		artifact.ParentID = parentID
		artifact.Position = len(s.byParent[parentID]) + i
		clone := artifact
		s.items[artifact.ID] = &clone
		attached[i] = artifact
	}
	s.byParent[parentID] = append(s.byParent[parentID], attached...)
	return attached, nil
}

func (s *artifactStoreStub) ListByParent(_ context.Context, _ models.ParentType, parentID string) ([]models.Artifact, error) {
	return s.byParent[parentID], nil
}

func (s *artifactStoreStub) GetByID(_ context.Context, id string) (*models.Artifact, error) {
	artifact, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *artifact
	return &clone, nil
}

func (s *artifactStoreStub) Detach(_ context.Context, _ models.ParentType, parentID, artifactID string) (bool, error) {
	if _, ok := s.items[artifactID]; !ok {
		return false, nil
	}
	delete(s.items, artifactID)
	kept := s.byParent[parentID][:0]
	for _, artifact := range s.byParent[parentID] {
		if artifact.ID != artifactID {
			kept = append(kept, artifact)
		}
	}
	s.byParent[parentID] = kept
	return true, nil
}

func (s *artifactStoreStub) SetCaption(_ context.Context, id string, caption *string) error {
	artifact, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	artifact.Caption = caption
	return nil
}

type feedbackStoreStub struct {
	exists map[string]bool
}

func (s *feedbackStoreStub) Exists(_ context.Context, id string) (bool, error) {
	return s.exists[id], nil
}

type issuerStub struct {
	issueCalls  int
	resignCalls int
	err         error
}

func (s *issuerStub) Issue(_ context.Context, req upload.CredentialRequest) (*upload.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.issueCalls++
	return &upload.Credential{
		WriteURL:   "https://store/put/" + req.Filename,
		ReadURL:    "https://store/get/" + req.Filename,
		StorageKey: "uploads/" + req.Filename,
	}, nil
}

func (s *issuerStub) ResignRead(_ context.Context, storageKey string) (string, time.Duration, error) {
	if s.err != nil {
		return "", 0, s.err
	}
	s.resignCalls++
	return fmt.Sprintf("https://store/get/%s?sig=%d", storageKey, s.resignCalls), time.Minute, nil
}

type cacheStub struct {
	store map[string]string
}

func newCacheStub() *cacheStub {
	return &cacheStub{store: map[string]string{}}
}

func (c *cacheStub) Get(_ context.Context, key string, dest interface{}) error {
	value, ok := c.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	ptr, ok := dest.(*string)
	if !ok {
		return fmt.Errorf("unexpected destination type")
	}
	*ptr = value
	return nil
}

func (c *cacheStub) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.store[key] = value.(string)
	return nil
}

type mediaFixture struct {
	service   *MediaService
	artifacts *artifactStoreStub
	tasks     *taskStoreStub
	issuer    *issuerStub
	cache     *cacheStub
	registry  *upload.Registry
}

func newMediaFixture(tasks *taskStoreStub) *mediaFixture {
	if tasks == nil {
		tasks = newTaskStoreStub()
	}
	artifacts := newArtifactStoreStub()
	issuer := &issuerStub{}
	cache := newCacheStub()
	registry := upload.NewRegistry(time.Hour, nil)
	service := NewMediaService(
		artifacts,
		tasks,
		&feedbackStoreStub{exists: map[string]bool{"fb-1": true}},
		&userStoreStub{exists: map[string]bool{"staff-1": true}},
		cache,
		issuer,
		registry,
		upload.NewCompressor(1<<20, nil),
		upload.NewTransferrer(issuer, time.Minute, nil),
		validator.New(),
		nil,
		config.UploadsConfig{Concurrency: 2, MaxFileSizeBytes: 1 << 20},
	)
	return &mediaFixture{service: service, artifacts: artifacts, tasks: tasks, issuer: issuer, cache: cache, registry: registry}
}

func TestMediaServiceIssueCredential(t *testing.T) {
	f := newMediaFixture(nil)

	resp, err := f.service.IssueCredential(context.Background(), "staff-1", models.RoleStaff, dto.CredentialRequest{
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "uploads/photo.jpg", resp.StorageKey)
	assert.NotEmpty(t, resp.WriteHandle)
	assert.NotEmpty(t, resp.ReadHandle)

	_, err = f.service.IssueCredential(context.Background(), "obs-1", models.RoleObserver, dto.CredentialRequest{
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMediaServiceAttachToTask(t *testing.T) {
	tasks := newTaskStoreStub(&models.Task{ID: "t1", OwnerID: "staff-1", Title: "Work", Status: models.TaskInProgress})
	f := newMediaFixture(tasks)

	attached, err := f.service.Attach(context.Background(), "staff-1", models.RoleStaff, "task", "t1", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{
			{StorageKey: "uploads/a.jpg", Filename: "a.jpg", MimeType: "image/jpeg", SizeBytes: 10},
			{StorageKey: "uploads/b.jpg", Filename: "b.jpg", MimeType: "image/jpeg", SizeBytes: 20},
		},
	})
	require.NoError(t, err)
	require.Len(t, attached, 2)
	assert.Equal(t, 0, attached[0].Position)
	assert.Equal(t, 1, attached[1].Position)
	assert.Equal(t, "staff-1", attached[0].UploadedBy)
}

func TestMediaServiceAttachUnknownParentType(t *testing.T) {
	f := newMediaFixture(nil)

	_, err := f.service.Attach(context.Background(), "staff-1", models.RoleStaff, "document", "d1", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{{StorageKey: "k", Filename: "f"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMediaServiceAttachMissingTask(t *testing.T) {
	f := newMediaFixture(newTaskStoreStub())

	_, err := f.service.Attach(context.Background(), "staff-1", models.RoleStaff, "task", "missing", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{{StorageKey: "k", Filename: "f"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestMediaServiceAttachForeignTaskForbidden(t *testing.T) {
	tasks := newTaskStoreStub(&models.Task{ID: "t1", OwnerID: "staff-1", Title: "Work", Status: models.TaskInProgress})
	f := newMediaFixture(tasks)

	_, err := f.service.Attach(context.Background(), "staff-2", models.RoleStaff, "task", "t1", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{{StorageKey: "k", Filename: "f"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMediaServiceDetachIsIdempotent(t *testing.T) {
	tasks := newTaskStoreStub(&models.Task{ID: "t1", OwnerID: "staff-1", Title: "Work", Status: models.TaskInProgress})
	f := newMediaFixture(tasks)

	attached, err := f.service.Attach(context.Background(), "staff-1", models.RoleStaff, "task", "t1", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{{StorageKey: "uploads/a.jpg", Filename: "a.jpg"}},
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Detach(context.Background(), "staff-1", models.RoleStaff, "task", "t1", attached[0].ID))
	// Second detach of the same artifact still succeeds.
	require.NoError(t, f.service.Detach(context.Background(), "staff-1", models.RoleStaff, "task", "t1", attached[0].ID))
}

func TestMediaServiceSetCaption(t *testing.T) {
	tasks := newTaskStoreStub(&models.Task{ID: "t1", OwnerID: "staff-1", Title: "Work", Status: models.TaskInProgress})
	f := newMediaFixture(tasks)

	attached, err := f.service.Attach(context.Background(), "staff-1", models.RoleStaff, "task", "t1", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{{StorageKey: "uploads/a.jpg", Filename: "a.jpg"}},
	})
	require.NoError(t, err)

	caption := "before lunch"
	artifact, err := f.service.SetCaption(context.Background(), "staff-1", models.RoleStaff, attached[0].ID, &caption)
	require.NoError(t, err)
	require.NotNil(t, artifact.Caption)
	assert.Equal(t, "before lunch", *artifact.Caption)

	artifact, err = f.service.SetCaption(context.Background(), "staff-1", models.RoleStaff, attached[0].ID, nil)
	require.NoError(t, err)
	assert.Nil(t, artifact.Caption)

	_, err = f.service.SetCaption(context.Background(), "staff-1", models.RoleStaff, "missing", &caption)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestMediaServiceResolveURLUsesCache(t *testing.T) {
	tasks := newTaskStoreStub(&models.Task{ID: "t1", OwnerID: "staff-1", Title: "Work", Status: models.TaskInProgress})
	f := newMediaFixture(tasks)

	attached, err := f.service.Attach(context.Background(), "staff-1", models.RoleStaff, "task", "t1", dto.AttachRequest{
		Artifacts: []dto.AttachArtifact{{StorageKey: "uploads/a.jpg", Filename: "a.jpg"}},
	})
	require.NoError(t, err)

	first, hit, err := f.service.ResolveURL(context.Background(), "staff-1", models.RoleStaff, attached[0].ID)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, f.issuer.resignCalls)

	second, hit, err := f.service.ResolveURL(context.Background(), "staff-1", models.RoleStaff, attached[0].ID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.issuer.resignCalls)
}

func TestMediaServiceStartSessionValidation(t *testing.T) {
	tasks := newTaskStoreStub(&models.Task{ID: "t1", OwnerID: "staff-1", Title: "Work", Status: models.TaskInProgress})
	f := newMediaFixture(tasks)

	_, err := f.service.StartSession(context.Background(), "staff-1", models.RoleStaff, "task", "t1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	big := upload.File{Filename: "big.bin", MimeType: "application/octet-stream", Data: make([]byte, 2<<20)}
	_, err = f.service.StartSession(context.Background(), "staff-1", models.RoleStaff, "task", "t1", []upload.File{big})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMediaServiceSessionOwnership(t *testing.T) {
	f := newMediaFixture(nil)

	session := upload.NewSession(models.ParentTask, "t1", "staff-1", false, nil, upload.SessionConfig{
		Transferrer: upload.NewTransferrer(f.issuer, time.Minute, nil),
	})
	f.registry.Put(session)

	_, err := f.service.Session("staff-2", models.RoleStaff, session.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.service.Session("staff-1", models.RoleStaff, session.ID)
	require.NoError(t, err)
	_, err = f.service.Session("mgr-1", models.RoleManager, session.ID)
	require.NoError(t, err)

	_, err = f.service.Session("staff-1", models.RoleStaff, "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
