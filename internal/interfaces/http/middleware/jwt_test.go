package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freightbill/backend/internal/infrastructure/auth"
	"github.com/freightbill/backend/internal/infrastructure/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWTTestEngine(t *testing.T, svc *auth.JWTService) (*gin.Engine, *string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var seenOrgID string
	engine := gin.New()
	engine.Use(JWTAuth(DefaultJWTConfig(svc)))
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/protected", func(c *gin.Context) {
		seenOrgID = GetJWTOrgID(c)
		c.Status(http.StatusOK)
	})
	return engine, &seenOrgID
}

func testJWTService(expiration time.Duration) *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:          "test-secret",
		Issuer:          "freightbill-test",
		TokenExpiration: expiration,
	})
}

func TestJWTAuth(t *testing.T) {
	svc := testJWTService(time.Hour)
	engine, seenOrgID := newJWTTestEngine(t, svc)

	t.Run("valid token passes and exposes claims", func(t *testing.T) {
		orgID := uuid.New()
		token, err := svc.GenerateToken(orgID, uuid.New(), "marie", []string{"billing"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, orgID.String(), *seenOrgID)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("non-bearer header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token reports TOKEN_EXPIRED", func(t *testing.T) {
		expiredSvc := testJWTService(-time.Hour)
		token, err := expiredSvc.GenerateToken(uuid.New(), uuid.New(), "marie", nil)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("skip paths bypass authentication", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
