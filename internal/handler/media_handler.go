package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dayline-app/dayline-api/internal/dto"
	"github.com/dayline-app/dayline-api/internal/middleware"
	"github.com/dayline-app/dayline-api/internal/service"
	"github.com/dayline-app/dayline-api/internal/upload"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
	"github.com/dayline-app/dayline-api/pkg/response"
)

// MediaHandler exposes the artifact registry and upload session endpoints.
type MediaHandler struct {
	media   *service.MediaService
	metrics *service.MetricsService
}

// NewMediaHandler constructs handler. metrics may be nil.
func NewMediaHandler(media *service.MediaService, metrics *service.MetricsService) *MediaHandler {
	return &MediaHandler{media: media, metrics: metrics}
}

// IssueCredential godoc
// @Summary Mint presigned write/read handles for a direct upload
// @Tags Media
// @Accept json
// @Produce json
// @Param payload body dto.CredentialRequest true "Credential payload"
// @Success 201 {object} response.Envelope
// @Router /media/credentials [post]
func (h *MediaHandler) IssueCredential(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credential payload"))
		return
	}
	cred, err := h.media.IssueCredential(c.Request.Context(), claims.UserID, claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cred)
}

// StartSession godoc
// @Summary Queue a batch upload session for a record
// @Tags Media
// @Accept mpfd
// @Produce json
// @Param type path string true "Record type (task, feedback, profile)"
// @Param id path string true "Record ID"
// @Param files formData file true "Files to upload"
// @Success 202 {object} response.Envelope
// @Router /records/{type}/{id}/uploads [post]
func (h *MediaHandler) StartSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid multipart payload"))
		return
	}
	headers := form.File["files"]
	files := make([]upload.File, 0, len(headers))
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable file part"))
			return
		}
		data, err := io.ReadAll(src)
		src.Close() //nolint:errcheck
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable file part"))
			return
		}
		files = append(files, upload.File{
			Filename: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	session, err := h.media.StartSession(c.Request.Context(), claims.UserID, claims.Role, c.Param("type"), c.Param("id"), files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.UploadSessionResponse{SessionID: session.ID})
}

// SessionStatus godoc
// @Summary Poll an upload session for progress and outcome
// @Tags Media
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /uploads/{id} [get]
func (h *MediaHandler) SessionStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	snapshot, err := h.media.Session(claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// CancelSession godoc
// @Summary Cancel an upload session; completed files stay attached
// @Tags Media
// @Param id path string true "Session ID"
// @Success 204
// @Router /uploads/{id} [delete]
func (h *MediaHandler) CancelSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.media.CancelSession(claims.UserID, claims.Role, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Attach godoc
// @Summary Attach already-uploaded objects to a record
// @Tags Media
// @Accept json
// @Produce json
// @Param type path string true "Record type"
// @Param id path string true "Record ID"
// @Param payload body dto.AttachRequest true "Artifacts to attach"
// @Success 201 {object} response.Envelope
// @Router /records/{type}/{id}/media [post]
func (h *MediaHandler) Attach(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attach payload"))
		return
	}
	attached, err := h.media.Attach(c.Request.Context(), claims.UserID, claims.Role, c.Param("type"), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attached)
}

// List godoc
// @Summary List a record's media set in display order
// @Tags Media
// @Produce json
// @Param type path string true "Record type"
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /records/{type}/{id}/media [get]
func (h *MediaHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	artifacts, err := h.media.List(c.Request.Context(), claims.UserID, claims.Role, c.Param("type"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, artifacts, nil)
}

// Detach godoc
// @Summary Detach an artifact from a record (idempotent)
// @Tags Media
// @Param type path string true "Record type"
// @Param id path string true "Record ID"
// @Param artifactId path string true "Artifact ID"
// @Success 204
// @Router /records/{type}/{id}/media/{artifactId} [delete]
func (h *MediaHandler) Detach(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.media.Detach(c.Request.Context(), claims.UserID, claims.Role, c.Param("type"), c.Param("id"), c.Param("artifactId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetCaption godoc
// @Summary Set or clear an artifact caption
// @Tags Media
// @Accept json
// @Produce json
// @Param id path string true "Artifact ID"
// @Param payload body dto.CaptionRequest true "Caption payload (null clears)"
// @Success 200 {object} response.Envelope
// @Router /media/{id}/caption [patch]
func (h *MediaHandler) SetCaption(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CaptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid caption payload"))
		return
	}
	artifact, err := h.media.SetCaption(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), req.Caption)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, artifact, nil)
}

// ResolveURL godoc
// @Summary Return a fresh read URL for an artifact
// @Tags Media
// @Produce json
// @Param id path string true "Artifact ID"
// @Success 200 {object} response.Envelope
// @Router /media/{id}/url [get]
func (h *MediaHandler) ResolveURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	url, cached, err := h.media.ResolveURL(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordCacheOperation(cached)
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, gin.H{"url": url}, nil, middleware.ExtractMeta(c))
}
