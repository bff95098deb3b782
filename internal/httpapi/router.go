package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/opentalk/controller/internal/auth"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/ratelimit"
	"github.com/opentalk/controller/internal/room"
	"github.com/opentalk/controller/internal/store"
	"github.com/opentalk/controller/internal/ticket"
)

// Handoff bundles every collaborator the HTTP Handoff surface (spec.md
// §4.9) needs: authentication, the (out-of-scope) room directory, the
// ticket service, the room lifecycle controller, and the module registry
// shared by every runner this process builds.
type Handoff struct {
	Auth       auth.Validator
	Directory  RoomDirectory
	Store      store.Store
	Exchange   exchange.Exchange
	Tickets    *ticket.Service
	Controller *room.Controller
	Registry   *module.Registry

	Subprotocol         string
	AllowedOrigins      []string
	ResumptionKeepAlive time.Duration

	// ShutdownCtx is the process-lifetime context runners are bound to
	// (not the per-request gin context, which ends when the handler
	// returns once the connection is hijacked).
	ShutdownCtx context.Context

	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
}

// Register mounts the handoff routes on r, wrapping the two HTTP
// endpoints and the signaling upgrade with rl's handoff rate limits
// (spec.md §4.9, §5; SPEC_FULL.md ambient-stack rate limiting).
func (h *Handoff) Register(r gin.IRouter, rl *ratelimit.Limiter) {
	h.limiter = rl
	h.upgrader = websocket.Upgrader{
		CheckOrigin: auth.OriginChecker(h.AllowedOrigins),
	}

	rooms := r.Group("/v1/rooms")
	rooms.POST("/:id/start", rl.Rooms(), h.Start)
	rooms.POST("/:id/start_invited", rl.Public(), h.StartInvited)

	r.GET("/signaling", rl.Ws(), h.Signaling)
}
