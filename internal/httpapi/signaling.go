package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/room"
	"github.com/opentalk/controller/internal/runner"
	"github.com/opentalk/controller/internal/ticket"
)

const ticketProtocolPrefix = "ticket#"

// Signaling handles GET /signaling (spec.md §6): it negotiates the
// Sec-WebSocket-Protocol handshake, redeems the one-shot ticket carried in
// it, runs the Join algorithm, builds every registered module for this
// session, and hands the upgraded connection to a Runner. Grounded on the
// teacher's Hub.ServeWs (internal/v1/session/hub.go), generalized from a
// query-param bearer token to the ticket-and-subprotocol handshake this
// spec requires.
func (h *Handoff) Signaling(c *gin.Context) {
	protoHeader := c.GetHeader("Sec-WebSocket-Protocol")
	if protoHeader == "" {
		writeAPIError(c, http.StatusBadRequest, apierr.CodeMissingProtocol)
		return
	}

	var matchedSubprotocol bool
	var token string
	for _, raw := range strings.Split(protoHeader, ",") {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == h.Subprotocol:
			matchedSubprotocol = true
		case strings.HasPrefix(entry, ticketProtocolPrefix):
			token = strings.TrimPrefix(entry, ticketProtocolPrefix)
		}
	}
	if !matchedSubprotocol {
		writeAPIError(c, http.StatusBadRequest, apierr.CodeInvalidProtocol)
		return
	}
	if token == "" {
		writeAPIError(c, http.StatusBadRequest, apierr.CodeMissingTicket)
		return
	}
	if len(token) != 64 {
		writeAPIError(c, http.StatusBadRequest, apierr.CodeInvalidTicket)
		return
	}

	ctx := c.Request.Context()
	payload, err := h.Tickets.Take(ctx, token)
	if err != nil {
		writeAPIError(c, http.StatusUnauthorized, apierr.CodeInvalidTicket)
		return
	}

	if allowed, err := h.limiter.AllowParticipant(ctx, payload.Participant.String()); err == nil && !allowed {
		writeAPIError(c, http.StatusTooManyRequests, apierr.CodeTooManyConnections)
		return
	}

	tariff, err := h.Controller.Join(ctx, room.JoinParams{
		Room:        payload.Room,
		Participant: payload.Participant,
		DisplayName: payload.DisplayName,
		Role:        payload.Role,
		IsRoomOwner: payload.IsRoomOwner,
		Kind:        payload.Kind,
		UserID:      optionalUserID(payload.UserID),
		AvatarURL:   payload.AvatarURL,
	})
	if err != nil {
		if err == room.ErrAlreadyJoined {
			writeAPIError(c, http.StatusConflict, apierr.CodeInvalidSelection)
			return
		}
		writeAPIError(c, http.StatusInternalServerError, apierr.CodeInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, http.Header{
		"Sec-WebSocket-Protocol": []string{h.Subprotocol},
	})
	if err != nil {
		return
	}

	r := runner.New(conn, h.Exchange, h.Store, payload.Room, payload.Participant, payload.Role, h.ResumptionKeepAlive)

	disabled := make(map[module.Namespace]struct{}, len(tariff.DisabledModules))
	for _, ns := range tariff.DisabledModules {
		disabled[module.Namespace(ns)] = struct{}{}
	}
	for _, builder := range h.Registry.Builders() {
		if _, skip := disabled[builder.ModuleID()]; skip {
			continue
		}
		m, err := builder.Build(h.buildParams(builder.ModuleID(), payload))
		if err != nil {
			continue
		}
		r.AddModule(m)
	}

	before, after := h.Controller.LeaveHooks(payload.Room, payload.Participant)
	r.SetLeaveHooks(before, after)

	go r.Run(h.ShutdownCtx)
}

// buildParams returns the JSON-encoded Params this module's Build expects,
// threading ticket-carried context (chat group membership) to the modules
// that need it (spec.md §4.6); every other module is zero-config.
func (h *Handoff) buildParams(ns module.Namespace, payload ticket.Payload) []byte {
	if ns == "chat" {
		b, _ := json.Marshal(struct {
			Groups []string `json:"groups,omitempty"`
		}{Groups: payload.Groups})
		return b
	}
	return []byte("{}")
}

func optionalUserID(u ids.UserID) *ids.UserID {
	var zero ids.UserID
	if u == zero {
		return nil
	}
	return &u
}
