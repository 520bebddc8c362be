package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

func signTestToken(t *testing.T, secret string, claims models.JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{Secret: "test-secret"})

	raw := signTestToken(t, "test-secret", models.JWTClaims{
		UserID: "staff-1",
		Role:   models.RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, jwt.SigningMethodHS256)

	claims, err := svc.ValidateToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.UserID)
	assert.Equal(t, models.RoleStaff, claims.Role)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{Secret: "test-secret"})

	raw := signTestToken(t, "test-secret", models.JWTClaims{
		UserID: "staff-1",
		Role:   models.RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}, jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(raw)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRejectsWrongSecret(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{Secret: "test-secret"})

	raw := signTestToken(t, "other-secret", models.JWTClaims{
		UserID: "staff-1",
		Role:   models.RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(raw)
	require.Error(t, err)
}

func TestAuthServiceRejectsUnknownRole(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{Secret: "test-secret"})

	raw := signTestToken(t, "test-secret", models.JWTClaims{
		UserID: "staff-1",
		Role:   models.UserRole("INTERN"),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(raw)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
