package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGlobalMiddlewareAllowsRequestsWithinRate(t *testing.T) {
	l, err := ratelimit.New("10-M", "10-M", "10-M", "10-M", "10-M", nil)
	require.NoError(t, err)

	r := gin.New()
	r.Use(l.Global())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestGlobalMiddlewareRejectsOnceRateExhausted(t *testing.T) {
	l, err := ratelimit.New("1-H", "1-H", "1-H", "1-H", "1-H", nil)
	require.NoError(t, err)

	r := gin.New()
	r.Use(l.Global())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.1:1234"
		return req
	}

	first := httptest.NewRecorder()
	r.ServeHTTP(first, newReq())
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, newReq())
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestAllowParticipantTracksIndependentlyPerParticipant(t *testing.T) {
	l, err := ratelimit.New("1000-M", "1000-M", "1000-M", "1000-M", "1-H", nil)
	require.NoError(t, err)

	ok, err := l.AllowParticipant(context.Background(), "participant-a")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewRejectsMalformedRate(t *testing.T) {
	_, err := ratelimit.New("not-a-rate", "10-M", "10-M", "10-M", "10-M", nil)
	require.Error(t, err)
}
