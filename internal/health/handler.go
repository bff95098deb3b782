// Package health exposes liveness and readiness probes, adapted from the
// teacher's internal/v1/health: the teacher's Rust SFU gRPC health check
// is replaced by a LiveKit room-service ping (this controller's only real
// external media dependency), and its Redis check is reused as-is.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/opentalk/controller/internal/logging"
)

// LiveKitPinger checks connectivity to the configured LiveKit deployment.
type LiveKitPinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the controller's liveness and readiness probes.
type Handler struct {
	redis   *redis.Client
	livekit LiveKitPinger
}

// NewHandler builds a Handler. redisClient and livekit may be nil when
// those backends are disabled (single-node, no-media deployments), in
// which case the corresponding check is reported healthy unconditionally.
func NewHandler(redisClient *redis.Client, livekit LiveKitPinger) *Handler {
	return &Handler{redis: redisClient, livekit: livekit}
}

type livenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live: 200 whenever the process is alive.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, livenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready: 200 only once every configured
// dependency answers, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	healthy = healthy && redisStatus == "healthy"

	if h.livekit != nil {
		lkStatus := "healthy"
		if err := h.livekit.Ping(ctx); err != nil {
			logging.Warn(ctx, "livekit readiness check failed")
			lkStatus = "unhealthy"
		}
		checks["livekit"] = lkStatus
		healthy = healthy && lkStatus == "healthy"
	}

	status, code := "ready", http.StatusOK
	if !healthy {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	c.JSON(code, readinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		return "healthy"
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		logging.Warn(ctx, "redis readiness check failed")
		return "unhealthy"
	}
	return "healthy"
}
