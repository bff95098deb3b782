// Package moderation implements the moderation policies of spec.md §4.8:
// ban/kick/debrief/waiting-room and display-name changes, all moderator-
// gated. Grounded on the teacher's host/waiting-room promotion logic
// (internal/v1/session/room.go handleClientConnect, session/admin_helpers.go
// validateAdminPermission/findTargetClient) generalized from the teacher's
// single RoleTypeWaiting/RoleTypeHost pair to the spec's full role set and
// ban/debrief primitives the teacher does not have.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "moderation"

const skipWaitingRoomTTL = 120 * time.Second

// Builder produces one Module instance per joining session. Moderation
// has no per-session params: every operation reads/writes room-scoped
// state directly.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"moderation"} }
func (Builder) Build(json.RawMessage) (module.Module, error) { return &Module{}, nil }

type command struct {
	Type     string `json:"type"`
	Target   string `json:"target,omitempty"`
	NewName  string `json:"new_name,omitempty"`
	KickRole string `json:"kick_role,omitempty"` // Debrief's kicks_role(scope)
}

type outgoing struct {
	Type     string      `json:"type"`
	Target   string      `json:"target,omitempty"`
	IssuedBy string      `json:"issued_by,omitempty"`
	NewName  string      `json:"new_name,omitempty"`
	Scope    string      `json:"scope,omitempty"`
	Code     apierr.Code `json:"code,omitempty"`
}

// Module is one participant's moderation module instance.
type Module struct{}

var _ module.Module = (*Module)(nil)

func (m *Module) Namespace() module.Namespace { return Namespace }

func (m *Module) Init(context.Context, module.Context) error { return nil }

func (m *Module) OnEvent(ctx context.Context, mctx module.Context, ev module.Event) (module.OnEventResult, error) {
	switch e := ev.(type) {
	case module.WsMessage:
		return module.OnEventResult{}, m.onCommand(ctx, mctx, e.Command)
	case module.ExchangeMessage:
		return module.OnEventResult{}, m.onExchange(ctx, mctx, e.Envelope)
	}
	return module.OnEventResult{}, nil
}

func (m *Module) OnDestroy(context.Context, module.Context, module.CleanupScope) error { return nil }

func (m *Module) onCommand(ctx context.Context, mctx module.Context, raw json.RawMessage) error {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return fmt.Errorf("moderation: decode command: %w", err)
	}

	if mctx.Role() != "moderator" {
		return sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}

	switch cmd.Type {
	case "ban":
		return m.ban(ctx, mctx, cmd)
	case "kick":
		return m.kick(ctx, mctx, cmd)
	case "send_to_waiting_room":
		return m.sendToWaitingRoom(ctx, mctx, cmd)
	case "debrief":
		return m.debrief(ctx, mctx, cmd)
	case "change_display_name":
		return m.changeDisplayName(ctx, mctx, cmd)
	case "enable_waiting_room":
		return mctx.Store().WaitingRoomEnabledSet(ctx, mctx.Room().Room, true)
	case "disable_waiting_room":
		return mctx.Store().WaitingRoomEnabledSet(ctx, mctx.Room().Room, false)
	case "enable_raise_hands":
		return mctx.Store().RaiseHandsEnabledSet(ctx, mctx.Room().Room, true)
	case "disable_raise_hands":
		return mctx.Store().RaiseHandsEnabledSet(ctx, mctx.Room().Room, false)
	case "reset_raised_hands":
		return m.resetRaisedHands(ctx, mctx, cmd)
	case "accept":
		return m.accept(ctx, mctx, cmd)
	}
	return nil
}

// resetRaisedHands clears hand_is_up for cmd.Target if given, else for
// every current participant (spec.md §4.8 ResetRaisedHands{target?}).
func (m *Module) resetRaisedHands(ctx context.Context, mctx module.Context, cmd command) error {
	room := mctx.Room()
	st := mctx.Store()

	targets := []ids.ParticipantID{}
	if cmd.Target != "" {
		target, err := ids.ParseParticipantID(cmd.Target)
		if err != nil {
			return sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
		}
		targets = append(targets, target)
	} else {
		members, err := st.ParticipantSetMembers(ctx, room)
		if err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
		targets = members
	}

	for _, p := range targets {
		if err := st.AttributeSet(ctx, room, store.AttrHandIsUp, p, mustMarshal(false)); err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(room), mustMarshal(outgoing{Type: "hands_reset", IssuedBy: mctx.Participant().String()}))
}

func (m *Module) ban(ctx context.Context, mctx module.Context, cmd command) error {
	target, err := ids.ParseParticipantID(cmd.Target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	st := mctx.Store()
	room := mctx.Room()

	uidBytes, ok, err := st.AttributeGet(ctx, room, store.AttrUserID, target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	if !ok {
		return sendError(ctx, mctx, apierr.CodeCannotBanGuest)
	}
	var uid ids.UserID
	if err := json.Unmarshal(uidBytes, &uid); err != nil || uid == (ids.UserID{}) {
		return sendError(ctx, mctx, apierr.CodeCannotBanGuest)
	}

	if err := st.BanUser(ctx, room.Room, uid); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	_ = st.WaitingRoomAcceptedRemove(ctx, room.Room, target)

	return mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(outgoing{Type: "banned", Target: target.String()}))
}

func (m *Module) kick(ctx context.Context, mctx module.Context, cmd command) error {
	target, err := ids.ParseParticipantID(cmd.Target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	if err := mctx.Store().SkipWaitingRoomSetWithExpiry(ctx, target, false, skipWaitingRoomTTL); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	return mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(outgoing{Type: "kicked", Target: target.String()}))
}

func (m *Module) sendToWaitingRoom(ctx context.Context, mctx module.Context, cmd command) error {
	target, err := ids.ParseParticipantID(cmd.Target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	room := mctx.Room()
	st := mctx.Store()

	ownerBytes, ok, err := st.AttributeGet(ctx, room, store.AttrIsRoomOwner, target)
	if err == nil && ok {
		var isOwner bool
		if json.Unmarshal(ownerBytes, &isOwner) == nil && isOwner {
			return sendError(ctx, mctx, apierr.CodeCannotSendRoomOwnerToWaitingRoom)
		}
	}

	if err := st.SkipWaitingRoomSetWithExpiry(ctx, target, false, skipWaitingRoomTTL); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	if err := st.WaitingRoomEnabledSet(ctx, room.Room, true); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	if err := st.WaitingRoomAdd(ctx, room.Room, target); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	return mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(outgoing{Type: "sent_to_waiting_room", Target: target.String()}))
}

// debrief implements spec.md §4.8 Debrief(scope): force every participant
// whose role is named by cmd.KickRole out of the (accepted) room and into
// the waiting room, then notify the whole room.
func (m *Module) debrief(ctx context.Context, mctx module.Context, cmd command) error {
	room := mctx.Room()
	st := mctx.Store()

	members, err := st.ParticipantSetMembers(ctx, room)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}

	kickRoles := strings.Split(cmd.KickRole, ",")
	for _, p := range members {
		roleBytes, ok, err := st.AttributeGet(ctx, room, store.AttrRole, p)
		if err != nil || !ok {
			continue
		}
		var role string
		_ = json.Unmarshal(roleBytes, &role)
		if !containsRole(kickRoles, role) {
			continue
		}
		_ = st.SkipWaitingRoomSetWithExpiry(ctx, p, false, skipWaitingRoomTTL)
		_ = st.WaitingRoomAcceptedRemove(ctx, room.Room, p)
	}

	if err := st.WaitingRoomEnabledSet(ctx, room.Room, true); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}

	payload := mustMarshal(outgoing{Type: "debriefed", IssuedBy: mctx.Participant().String(), Scope: cmd.KickRole})
	return mctx.ExchangePublish(ctx, exchange.RoomKey(room), payload)
}

func (m *Module) changeDisplayName(ctx context.Context, mctx module.Context, cmd command) error {
	target, err := ids.ParseParticipantID(cmd.Target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	room := mctx.Room()
	st := mctx.Store()

	kindBytes, ok, err := st.AttributeGet(ctx, room, store.AttrKind, target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	var kind string
	if ok {
		_ = json.Unmarshal(kindBytes, &kind)
	}
	if kind != "guest" && kind != "sip" {
		return sendError(ctx, mctx, apierr.CodeCannotChangeNameOfRegisteredUsers)
	}

	name := strings.TrimSpace(cmd.NewName)
	if len(name) < 1 || len(name) > 100 {
		return sendError(ctx, mctx, apierr.CodeInvalidDisplayName)
	}

	if err := st.AttributeSet(ctx, room, store.AttrDisplayName, target, mustMarshal(name)); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	return mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(outgoing{Type: "display_name_changed", Target: target.String(), NewName: name}))
}

// accept implements spec.md §4.8 Accept{target}: no-op unless target is
// currently waiting, else promotes it into waiting_room_accepted.
func (m *Module) accept(ctx context.Context, mctx module.Context, cmd command) error {
	target, err := ids.ParseParticipantID(cmd.Target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	room := mctx.Room().Room
	st := mctx.Store()

	waiting, err := st.WaitingRoomContains(ctx, room, target)
	if err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	if !waiting {
		return nil
	}
	if err := st.WaitingRoomRemove(ctx, room, target); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	if err := st.WaitingRoomAcceptedAdd(ctx, room, target); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{Type: "accepted", Target: target.String()}))
}

// onExchange reacts to moderation events addressed to this participant:
// a debrief whose scope matches this participant's role ends the session;
// everyone else is merely informed a debrief started.
func (m *Module) onExchange(ctx context.Context, mctx module.Context, env exchange.Envelope) error {
	var ev outgoing
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil
	}
	switch ev.Type {
	case "banned", "kicked", "sent_to_waiting_room":
		if ev.Target == mctx.Participant().String() {
			mctx.Exit(1000)
		}
	case "display_name_changed":
		if ev.Target == mctx.Participant().String() {
			return nil
		}
		return mctx.InvalidateData(ctx)
	case "debriefed":
		// In-scope participants (role matches the debrief's kick_role
		// list) are ended and exit normally; everyone else just learns a
		// debrief started (spec.md §4.8 Debrief, S6).
		if containsRole(strings.Split(ev.Scope, ","), mctx.Role()) {
			if err := mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "session_ended", IssuedBy: ev.IssuedBy})); err != nil {
				return err
			}
			mctx.Exit(1000)
			return nil
		}
		return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "debriefing_started", IssuedBy: ev.IssuedBy}))
	}
	return nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

func sendError(ctx context.Context, mctx module.Context, code apierr.Code) error {
	return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "error", Code: code}))
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
