// Package whisper implements the whisper sub-room variant of spec.md
// §4.7's authored-document family: the same creator/invited/accepted
// membership pattern, but the artifact is a live SFU room with
// per-participant access tokens instead of a collaborative document.
// Grounded on the teacher's pkg/sfu.SFUClient gobreaker-wrapped-call
// pattern, narrowed here to room/token provisioning (the full WebRTC
// session signaling the teacher's SFUClient also does is out of scope).
package whisper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "whisper"

// RoomProvisioner is the narrow SFU collaborator whisper drives: one
// media room per WhisperId, access tokens minted per participant
// (spec.md invariant 4: "a whisper-group entry exists iff the livekit
// room of the same id exists; removal is joint").
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, room ids.SignalingRoomID, whisper ids.WhisperID) error
	DeleteRoom(ctx context.Context, room ids.SignalingRoomID, whisper ids.WhisperID) error
	IssueAccessToken(ctx context.Context, room ids.SignalingRoomID, whisper ids.WhisperID, p ids.ParticipantID, canPublish bool) (string, error)
}

// Builder wires one Module per session, sharing the process-wide
// RoomProvisioner across every instance.
type Builder struct {
	Rooms RoomProvisioner
}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"whisper"} }

func (b Builder) Build(json.RawMessage) (module.Module, error) {
	if b.Rooms == nil {
		return nil, fmt.Errorf("whisper: builder missing RoomProvisioner")
	}
	return &Module{rooms: b.Rooms}, nil
}

type command struct {
	Type    string   `json:"type"`
	Whisper string   `json:"whisper_id,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

type outgoing struct {
	Type    string      `json:"type"`
	Whisper string      `json:"whisper_id,omitempty"`
	Token   string      `json:"token,omitempty"`
	Issuer  string      `json:"issued_by,omitempty"`
	Targets []string    `json:"targets,omitempty"`
	Code    apierr.Code `json:"code,omitempty"`
}

// Module is one participant's whisper module instance.
type Module struct {
	rooms RoomProvisioner
}

var _ module.Module = (*Module)(nil)

func (m *Module) Namespace() module.Namespace { return Namespace }

func (m *Module) Init(context.Context, module.Context) error { return nil }

func (m *Module) OnEvent(ctx context.Context, mctx module.Context, ev module.Event) (module.OnEventResult, error) {
	switch e := ev.(type) {
	case module.Leaving:
		return module.OnEventResult{}, m.leaveAll(ctx, mctx)
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
		return fmt.Errorf("whisper: decode command: %w", err)
	}
	switch cmd.Type {
	case "create":
		return m.create(ctx, mctx, cmd)
	case "invite":
		return m.invite(ctx, mctx, cmd)
	case "accept":
		return m.accept(ctx, mctx, cmd)
	case "leave":
		w, err := ids.ParseWhisperID(cmd.Whisper)
		if err != nil {
			return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
		}
		return m.leave(ctx, mctx, w)
	}
	return nil
}

// create implements spec.md §4.7's whisper variant of SelectWriter: the
// caller becomes the group's Creator, targets become Invited, and the SFU
// room is provisioned once (invariant 4).
func (m *Module) create(ctx context.Context, mctx module.Context, cmd command) error {
	targets, err := parseTargets(cmd.Targets)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	room := mctx.Room()
	self := mctx.Participant()

	ok, err := mctx.Store().ParticipantSetContainsAll(ctx, room, targets)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if !ok {
		return m.sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}

	w := ids.New[ids.WhisperID]()
	members := map[ids.ParticipantID]store.WhisperState{self: store.WhisperCreator}
	for _, t := range targets {
		members[t] = store.WhisperInvited
	}
	if err := mctx.Store().WhisperCreate(ctx, room, w, members); err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if err := m.rooms.CreateRoom(ctx, room, w); err != nil {
		_ = mctx.Store().WhisperDelete(ctx, room, w)
		return m.sendError(ctx, mctx, apierr.CodeFailedInitialization)
	}

	return m.broadcastInvite(ctx, mctx, w, targets)
}

func (m *Module) invite(ctx context.Context, mctx module.Context, cmd command) error {
	w, err := ids.ParseWhisperID(cmd.Whisper)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	targets, err := parseTargets(cmd.Targets)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	room := mctx.Room()

	members, err := mctx.Store().WhisperGet(ctx, room, w)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if members[mctx.Participant()] != store.WhisperCreator {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}

	add := make(map[ids.ParticipantID]store.WhisperState, len(targets))
	for _, t := range targets {
		add[t] = store.WhisperInvited
	}
	if err := mctx.Store().WhisperAddParticipants(ctx, room, w, add); err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	return m.broadcastInvite(ctx, mctx, w, targets)
}

func (m *Module) broadcastInvite(ctx context.Context, mctx module.Context, w ids.WhisperID, targets []ids.ParticipantID) error {
	for _, t := range targets {
		if err := mctx.ExchangePublish(ctx, exchange.ParticipantKey(t), mustMarshal(outgoing{
			Type: "whisper_invited", Whisper: w.String(), Issuer: mctx.Participant().String(),
		})); err != nil {
			return m.sendError(ctx, mctx, apierr.CodeInternal)
		}
	}
	return nil
}

// accept implements the accepted-state transition; on success the caller
// receives an access token for the whisper's SFU room.
func (m *Module) accept(ctx context.Context, mctx module.Context, cmd command) error {
	w, err := ids.ParseWhisperID(cmd.Whisper)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	room := mctx.Room()
	self := mctx.Participant()

	members, err := mctx.Store().WhisperGet(ctx, room, w)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if members[self] != store.WhisperInvited {
		return m.sendError(ctx, mctx, apierr.CodeNotInvited)
	}
	if err := mctx.Store().WhisperSetState(ctx, room, w, self, store.WhisperAccepted); err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}

	token, err := m.rooms.IssueAccessToken(ctx, room, w, self, true)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "whisper_token", Whisper: w.String(), Token: token}))
}

// leave removes the caller from one whisper group, destroying the SFU
// room if it was the last member (spec.md invariant 4).
func (m *Module) leave(ctx context.Context, mctx module.Context, w ids.WhisperID) error {
	room := mctx.Room()
	emptyNow, err := mctx.Store().WhisperRemove(ctx, room, w, mctx.Participant())
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if emptyNow {
		_ = m.rooms.DeleteRoom(ctx, room, w)
		_ = mctx.Store().WhisperDelete(ctx, room, w)
	}
	return nil
}

// leaveAll removes the departing participant from every whisper group it
// belongs to in this signaling room, run on module.Leaving so a dropped
// connection cannot leave a stale membership entry behind.
func (m *Module) leaveAll(ctx context.Context, mctx module.Context) error {
	room := mctx.Room()
	whisperIDs, err := mctx.Store().WhisperIDs(ctx, room)
	if err != nil {
		return err
	}
	for _, w := range whisperIDs {
		members, err := mctx.Store().WhisperGet(ctx, room, w)
		if err != nil {
			continue
		}
		if _, present := members[mctx.Participant()]; !present {
			continue
		}
		if err := m.leave(ctx, mctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) onExchange(ctx context.Context, mctx module.Context, env exchange.Envelope) error {
	var ev outgoing
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil
	}
	if ev.Type != "whisper_invited" {
		return nil
	}
	return mctx.WsSend(ctx, Namespace, env.Payload)
}

func parseTargets(raw []string) ([]ids.ParticipantID, error) {
	out := make([]ids.ParticipantID, 0, len(raw))
	for _, s := range raw {
		pid, err := ids.ParseParticipantID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, nil
}

func (m *Module) sendError(ctx context.Context, mctx module.Context, code apierr.Code) error {
	return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "error", Code: code}))
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
