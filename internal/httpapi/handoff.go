package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/auth"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/ticket"
)

// startRequest is the body of POST /v1/rooms/{id}/start (spec.md §6).
type startRequest struct {
	BreakoutRoom string `json:"breakout_room,omitempty"`
	Resumption   string `json:"resumption,omitempty"`
}

// startInvitedRequest is the body of POST /v1/rooms/{id}/start_invited.
type startInvitedRequest struct {
	InviteCode   string `json:"invite_code"`
	Password     string `json:"password,omitempty"`
	BreakoutRoom string `json:"breakout_room,omitempty"`
	Resumption   string `json:"resumption,omitempty"`
}

type startResponse struct {
	Ticket     string `json:"ticket"`
	Resumption string `json:"resumption"`
}

func writeAPIError(c *gin.Context, status int, code apierr.Code) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

// Start handles POST /v1/rooms/{id}/start (spec.md §4.9): authenticated
// join, bans checked, optional breakout validated.
func (h *Handoff) Start(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}

	roomID, err := ids.ParseRoomID(c.Param("id"))
	if err != nil {
		writeAPIError(c, http.StatusNotFound, apierr.CodeInvalidBreakoutRoomID)
		return
	}

	var req startRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()

	banned, err := h.Store.IsUserBanned(ctx, roomID, identity.UserID)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, apierr.CodeInternal)
		return
	}
	if banned {
		writeAPIError(c, http.StatusForbidden, apierr.CodeBannedFromRoom)
		return
	}

	signalingRoom, apiErr := h.resolveSignalingRoom(ctx, roomID, req.BreakoutRoom)
	if apiErr != "" {
		writeAPIError(c, http.StatusBadRequest, apiErr)
		return
	}

	owner, hasOwner, err := h.Directory.RoomOwner(ctx, roomID)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, apierr.CodeInternal)
		return
	}
	isOwner := hasOwner && owner == identity.UserID

	role := "user"
	if isOwner {
		role = "moderator"
	}

	payload := ticket.Payload{
		Room:          signalingRoom,
		Participant:   ids.New[ids.ParticipantID](),
		UserID:        identity.UserID,
		Kind:          "user",
		Role:          role,
		DisplayName:   identity.DisplayName,
		IsRoomOwner:   isOwner,
		ResumptionKey: resumptionKey(req.Resumption),
	}

	h.issueTicket(c, payload)
}

// StartInvited handles POST /v1/rooms/{id}/start_invited (spec.md §4.9):
// unauthenticated guest join gated by invite code and optional password.
func (h *Handoff) StartInvited(c *gin.Context) {
	roomID, err := ids.ParseRoomID(c.Param("id"))
	if err != nil {
		writeAPIError(c, http.StatusNotFound, apierr.CodeInvalidBreakoutRoomID)
		return
	}

	var req startInvitedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.InviteCode == "" {
		writeAPIError(c, http.StatusBadRequest, apierr.CodeNotInvited)
		return
	}

	ctx := c.Request.Context()

	ok, groups, err := h.Directory.ResolveInvite(ctx, roomID, req.InviteCode)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, apierr.CodeInternal)
		return
	}
	if !ok {
		writeAPIError(c, http.StatusForbidden, apierr.CodeNotInvited)
		return
	}

	if password, hasPassword, err := h.Directory.RoomPassword(ctx, roomID); err != nil {
		writeAPIError(c, http.StatusInternalServerError, apierr.CodeInternal)
		return
	} else if hasPassword && password != req.Password {
		writeAPIError(c, http.StatusForbidden, apierr.CodeWrongRoomPassword)
		return
	}

	signalingRoom, apiErr := h.resolveSignalingRoom(ctx, roomID, req.BreakoutRoom)
	if apiErr != "" {
		writeAPIError(c, http.StatusBadRequest, apiErr)
		return
	}

	payload := ticket.Payload{
		Room:          signalingRoom,
		Participant:   ids.New[ids.ParticipantID](),
		Kind:          "guest",
		Role:          "guest",
		DisplayName:   "Guest",
		Invited:       true,
		ResumptionKey: resumptionKey(req.Resumption),
		Groups:        groups,
	}
	h.issueTicket(c, payload)
}

func (h *Handoff) issueTicket(c *gin.Context, payload ticket.Payload) {
	token, err := h.Tickets.Issue(c.Request.Context(), payload)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, apierr.CodeInternal)
		return
	}
	c.JSON(http.StatusOK, startResponse{Ticket: token, Resumption: payload.ResumptionKey})
}

// resolveSignalingRoom validates an optional breakout room id against the
// directory and returns the corresponding SignalingRoomID, or a non-empty
// apierr.Code on failure (spec.md §4.9 "checks that the breakout config
// exists and that id is valid").
func (h *Handoff) resolveSignalingRoom(ctx context.Context, roomID ids.RoomID, rawBreakout string) (ids.SignalingRoomID, apierr.Code) {
	if rawBreakout == "" {
		return ids.Base(roomID), ""
	}
	breakout, err := ids.ParseBreakoutRoomID(rawBreakout)
	if err != nil {
		return ids.SignalingRoomID{}, apierr.CodeInvalidBreakoutRoomID
	}
	exists, err := h.Directory.BreakoutExists(ctx, roomID, breakout)
	if err != nil {
		return ids.SignalingRoomID{}, apierr.CodeInternal
	}
	if !exists {
		return ids.SignalingRoomID{}, apierr.CodeNoBreakoutRooms
	}
	return ids.InBreakout(roomID, breakout), ""
}

// authenticate extracts and validates the bearer token from the
// Authorization header.
func (h *Handoff) authenticate(c *gin.Context) (auth.Identity, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		writeAPIError(c, http.StatusUnauthorized, apierr.CodeInsufficientPermissions)
		return auth.Identity{}, false
	}
	identity, err := h.Auth.ValidateToken(strings.TrimPrefix(header, prefix))
	if err != nil {
		writeAPIError(c, http.StatusUnauthorized, apierr.CodeInsufficientPermissions)
		return auth.Identity{}, false
	}
	return identity, true
}

func resumptionKey(requested string) string {
	if requested != "" {
		return requested
	}
	return ids.New[ids.ParticipantID]().String() + "-" + time.Now().UTC().Format("20060102150405")
}
