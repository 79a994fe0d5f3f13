package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/pkg/auth"
)

func newTestRouter(t *testing.T) (*gin.Engine, auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtSvc := auth.NewJWTService(auth.JWTConfig{Secret: "test", RefreshSecret: "test-refresh"})
	authMw := NewAuthMiddleware(jwtSvc)

	r := gin.New()
	r.GET("/whoami", authMw.Authenticate(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"account_id": AccountID(c).String(),
			"role":       string(Role(c)),
		})
	})
	r.GET("/doctors-only", authMw.Authenticate(), authMw.RequireRole(model.RoleDoctor), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r, jwtSvc
}

func bearerFor(t *testing.T, jwtSvc auth.JWTService, role model.Role) (string, uuid.UUID) {
	t.Helper()
	account := &model.Account{Base: model.Base{ID: uuid.New()}, Email: "a@example.com", Role: role}
	token, err := jwtSvc.GenerateAccessToken(account)
	require.NoError(t, err)
	return "Bearer " + token, account.ID
}

func TestAuthenticate(t *testing.T) {
	r, jwtSvc := newTestRouter(t)

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Token abc")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token sets identity", func(t *testing.T) {
		header, accountID := bearerFor(t, jwtSvc, model.RolePatient)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", header)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), accountID.String())
		assert.Contains(t, w.Body.String(), string(model.RolePatient))
	})
}

func TestRequireRole(t *testing.T) {
	r, jwtSvc := newTestRouter(t)

	t.Run("matching role passes", func(t *testing.T) {
		header, _ := bearerFor(t, jwtSvc, model.RoleDoctor)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/doctors-only", nil)
		req.Header.Set("Authorization", header)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other role is forbidden", func(t *testing.T) {
		header, _ := bearerFor(t, jwtSvc, model.RolePatient)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/doctors-only", nil)
		req.Header.Set("Authorization", header)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
