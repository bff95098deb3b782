package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/logging"
	"github.com/opentalk/controller/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationIDMintsOneWhenAbsent(t *testing.T) {
	r := gin.New()
	r.Use(middleware.CorrelationID())

	var seen any
	r.GET("/x", func(c *gin.Context) {
		seen = c.Request.Context().Value(logging.CorrelationIDKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get(middleware.HeaderXCorrelationID))
	require.Equal(t, rec.Header().Get(middleware.HeaderXCorrelationID), seen)
}

func TestCorrelationIDReusesClientSuppliedValue(t *testing.T) {
	r := gin.New()
	r.Use(middleware.CorrelationID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.HeaderXCorrelationID, "client-supplied-id")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, "client-supplied-id", rec.Header().Get(middleware.HeaderXCorrelationID))
}
