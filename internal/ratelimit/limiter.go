// Package ratelimit guards the HTTP handoff and signaling upgrade
// endpoints (spec.md §4.9, §5) with github.com/ulule/limiter/v3,
// following the teacher's internal/v1/ratelimit: a Redis-backed store in
// clustered deployments, an in-memory store otherwise, a global per-IP
// backstop, and per-endpoint limits for the public, authenticated, and
// websocket-upgrade surfaces.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/opentalk/controller/internal/logging"
	"github.com/opentalk/controller/internal/metrics"
)

// Limiter holds the handoff-endpoint rate limiters.
type Limiter struct {
	global *limiter.Limiter
	public *limiter.Limiter
	rooms  *limiter.Limiter
	wsIP   *limiter.Limiter
	wsUser *limiter.Limiter
}

// New builds a Limiter from formatted rates (e.g. "100-M"). redisClient
// may be nil, in which case limits are tracked in-process only.
func New(globalRate, publicRate, roomsRate, wsIPRate, wsUserRate string, redisClient *redis.Client) (*Limiter, error) {
	globalR, err := limiter.NewRateFromFormatted(globalRate)
	if err != nil {
		return nil, err
	}
	pubRate, err := limiter.NewRateFromFormatted(publicRate)
	if err != nil {
		return nil, err
	}
	roomsR, err := limiter.NewRateFromFormatted(roomsRate)
	if err != nil {
		return nil, err
	}
	wsIPR, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, err
	}
	wsUserR, err := limiter.NewRateFromFormatted(wsUserRate)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "limiter:signaling:"})
		if err != nil {
			return nil, err
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	return &Limiter{
		global: limiter.New(store, globalR),
		public: limiter.New(store, pubRate),
		rooms:  limiter.New(store, roomsR),
		wsIP:   limiter.New(store, wsIPR),
		wsUser: limiter.New(store, wsUserR),
	}, nil
}

// Global rate-limits every request by client IP across all routes,
// ahead of the per-endpoint limits below, as a blunt abuse backstop.
func (l *Limiter) Global() gin.HandlerFunc { return l.middleware(l.global) }

// Public rate-limits by client IP, for the unauthenticated start_invited
// endpoint (spec.md §4.9).
func (l *Limiter) Public() gin.HandlerFunc { return l.middleware(l.public) }

// Rooms rate-limits by client IP, for the authenticated start endpoint
// (bearer identity is validated downstream of this middleware, so IP is
// the only key available here).
func (l *Limiter) Rooms() gin.HandlerFunc { return l.middleware(l.rooms) }

// Ws rate-limits GET /signaling upgrade attempts by client IP, ahead of
// ticket redemption, guarding against connection-attempt floods from a
// single address (spec.md §5 abuse scenarios).
func (l *Limiter) Ws() gin.HandlerFunc { return l.middleware(l.wsIP) }

// AllowParticipant rate-limits per-participant signaling connections once
// a ticket has been redeemed and the participant identity is known,
// catching a single account opening connections faster than RateLimitWsUser
// permits even from rotating IPs.
func (l *Limiter) AllowParticipant(ctx context.Context, participantID string) (bool, error) {
	result, err := l.wsUser.Get(ctx, "participant:"+participantID)
	if err != nil {
		return true, err
	}
	return !result.Reached, nil
}

func (l *Limiter) middleware(lim *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		ctx := c.Request.Context()
		result, err := lim.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		if result.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
			return
		}
		c.Next()
	}
}
