package handler

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
	"github.com/dayline-app/dayline-api/pkg/response"
	"github.com/dayline-app/dayline-api/pkg/storage"
)

// BlobHandler serves the dev-mode object storage routes backed by local disk.
// Tokens minted by the local issuer carry an operation prefix, so a read
// token presented on the write route is rejected.
type BlobHandler struct {
	signer *storage.SignedURLSigner
	store  *storage.LocalStorage
}

// NewBlobHandler constructs handler.
func NewBlobHandler(signer *storage.SignedURLSigner, store *storage.LocalStorage) *BlobHandler {
	return &BlobHandler{signer: signer, store: store}
}

// Put godoc
// @Summary Write a blob using a signed write token
// @Tags Blobs
// @Param key path string true "Storage key"
// @Param token query string true "Signed write token"
// @Success 200
// @Router /blobs/{key} [put]
func (h *BlobHandler) Put(c *gin.Context) {
	key, err := h.authorize(c, "put:")
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.store.SaveStream(key, c.Request.Body); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store blob"))
		return
	}
	c.Status(http.StatusOK)
}

// Get godoc
// @Summary Read a blob using a signed read token
// @Tags Blobs
// @Param key path string true "Storage key"
// @Param token query string true "Signed read token"
// @Success 200
// @Router /blobs/{key} [get]
func (h *BlobHandler) Get(c *gin.Context) {
	key, err := h.authorize(c, "get:")
	if err != nil {
		response.Error(c, err)
		return
	}
	path := h.store.Path(key)
	if path == "" {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	if _, err := os.Stat(path); err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	c.File(path)
}

// authorize validates the signed token and checks it was minted for this key
// and this operation.
func (h *BlobHandler) authorize(c *gin.Context, opPrefix string) (string, error) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "storage key required")
	}
	token := c.Query("token")
	if token == "" {
		return "", appErrors.Clone(appErrors.ErrForbidden, "token required")
	}
	subject, storageKey, _, err := h.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if !strings.HasPrefix(subject, opPrefix) {
		return "", appErrors.Clone(appErrors.ErrForbidden, "token not valid for this operation")
	}
	if storageKey != key {
		return "", appErrors.Clone(appErrors.ErrForbidden, "token not valid for this key")
	}
	return key, nil
}
