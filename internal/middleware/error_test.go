package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/httputil"
)

func newErrorRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorHandler())

	r.GET("/missing", func(c *gin.Context) {
		c.Error(apperrors.NotFound("token", nil))
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("connection reset"))
	})
	r.GET("/already-written", func(c *gin.Context) {
		httputil.RespondWithSuccess(c, gin.H{"ok": true})
		c.Error(errors.New("late failure"))
	})
	return r
}

func TestErrorHandlerRendersAppError(t *testing.T) {
	r := newErrorRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Equal(t, http.StatusNotFound, w.Code)

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "token not found", resp.Error.Message)
}

func TestErrorHandlerDefaultsToInternal(t *testing.T) {
	r := newErrorRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	// Raw error text must not leak to the client.
	assert.Equal(t, "Internal server error", resp.Error.Message)
}

func TestErrorHandlerSkipsWrittenResponse(t *testing.T) {
	r := newErrorRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/already-written", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}
