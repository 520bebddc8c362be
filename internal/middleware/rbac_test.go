package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/dayline-app/dayline-api/internal/models"
)

func newRBACContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/media/credentials", nil)
	return c, recorder
}

func TestRequireRolesAllowsListedRole(t *testing.T) {
	c, recorder := newRBACContext(t)
	c.Set(ContextUserKey, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	called := false
	RequireRoles(models.RoleStaff, models.RoleManager)(c)
	if !c.IsAborted() {
		called = true
	}

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequireRolesBlocksObserver(t *testing.T) {
	c, recorder := newRBACContext(t)
	c.Set(ContextUserKey, &models.JWTClaims{UserID: "obs-1", Role: models.RoleObserver})

	RequireRoles(models.RoleStaff, models.RoleManager)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestRequireRolesWithoutClaimsIsUnauthorized(t *testing.T) {
	c, recorder := newRBACContext(t)

	RequireRoles(models.RoleManager)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
