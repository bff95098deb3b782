// Package breakout implements the breakout-room module named in
// spec.md §4.5: a moderator partitions the current participants into
// groups, each assigned to a distinct breakout SignalingRoomID; every
// assigned participant receives an Assigned event telling it which
// breakout to move into. Grounded on the moderation module's
// command/outgoing shape and on ids.InBreakout for the per-breakout
// scoping spec.md §3 already defines.
package breakout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "breakout"

// Builder produces Breakout instances. It takes no configuration.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"breakout"} }

func (Builder) Build(json.RawMessage) (module.Module, error) { return &Module{}, nil }

type command struct {
	Type            string              `json:"type"`
	Assignments     map[string][]string `json:"assignments,omitempty"`
	DurationSeconds int                 `json:"duration_seconds,omitempty"`
	Breakout        string              `json:"breakout_room_id,omitempty"`
}

type outgoing struct {
	Type     string      `json:"type"`
	Breakout string      `json:"breakout_room_id,omitempty"`
	IssuedBy string      `json:"issued_by,omitempty"`
	Code     apierr.Code `json:"code,omitempty"`
}

// Module is one participant's breakout module instance.
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
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	switch cmd.Type {
	case "start":
		return m.start(ctx, mctx, cmd)
	case "stop":
		return m.stop(ctx, mctx, cmd)
	case "join":
		return m.join(ctx, mctx, cmd)
	}
	return nil
}

func (m *Module) start(ctx context.Context, mctx module.Context, cmd command) error {
	if mctx.Role() != "moderator" {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	if len(cmd.Assignments) == 0 {
		return m.sendError(ctx, mctx, apierr.CodeNoBreakoutRooms)
	}
	room := mctx.Room()
	self := mctx.Participant()

	for rawBreakout, targets := range cmd.Assignments {
		breakout, err := ids.ParseBreakoutRoomID(rawBreakout)
		if err != nil {
			return m.sendError(ctx, mctx, apierr.CodeInvalidBreakoutRoomID)
		}
		if cmd.DurationSeconds > 0 {
			closesAt := mctx.Timestamp().Add(time.Duration(cmd.DurationSeconds) * time.Second)
			_ = mctx.Store().ClosesAtSet(ctx, ids.InBreakout(room.Room, breakout), closesAt)
		}
		for _, rawTarget := range targets {
			target, err := ids.ParseParticipantID(rawTarget)
			if err != nil {
				return m.sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
			}
			if err := mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(outgoing{
				Type: "assigned", Breakout: breakout.String(), IssuedBy: self.String(),
			})); err != nil {
				return m.sendError(ctx, mctx, apierr.CodeInternal)
			}
		}
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(room), mustMarshal(outgoing{Type: "started", IssuedBy: self.String()}))
}

func (m *Module) stop(ctx context.Context, mctx module.Context, _ command) error {
	if mctx.Role() != "moderator" {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "stopped", IssuedBy: mctx.Participant().String(),
	}))
}

// join lets a participant self-select a breakout in rooms that allow it;
// the server does no membership bookkeeping beyond validating the id.
func (m *Module) join(ctx context.Context, mctx module.Context, cmd command) error {
	breakout, err := ids.ParseBreakoutRoomID(cmd.Breakout)
	if err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInvalidBreakoutRoomID)
	}
	return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "assigned", Breakout: breakout.String()}))
}

func (m *Module) onExchange(ctx context.Context, mctx module.Context, env exchange.Envelope) error {
	var ev outgoing
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil
	}
	if ev.Type != "assigned" && ev.Type != "started" && ev.Type != "stopped" {
		return nil
	}
	return mctx.WsSend(ctx, Namespace, env.Payload)
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
