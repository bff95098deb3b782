// Package recording implements the recording module named in spec.md
// §4.5: moderators start/stop a room recording and participants grant
// or withdraw consent, tracked on the existing AttrRecordingConsent
// attribute (store/store.go). Active/inactive state itself is not
// persisted; it is carried purely as an exchange broadcast the way the
// teacher's bus.Service fans out transient room-wide signals.
package recording

import (
	"context"
	"encoding/json"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "recording"

// Builder produces Recording instances. It takes no configuration.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"recording"} }

func (Builder) Build(json.RawMessage) (module.Module, error) { return &Module{}, nil }

type command struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted,omitempty"`
}

type outgoing struct {
	Type     string      `json:"type"`
	IssuedBy string      `json:"issued_by,omitempty"`
	Target   string      `json:"target,omitempty"`
	Granted  bool        `json:"granted,omitempty"`
	Code     apierr.Code `json:"code,omitempty"`
}

// Module is one participant's recording module instance.
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

func (m *Module) OnDestroy(ctx context.Context, mctx module.Context, scope module.CleanupScope) error {
	if scope == module.CleanupNone {
		return nil
	}
	return mctx.Store().AttributeDrop(ctx, mctx.Room(), store.AttrRecordingConsent)
}

func (m *Module) onCommand(ctx context.Context, mctx module.Context, raw json.RawMessage) error {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	switch cmd.Type {
	case "start":
		return m.startOrStop(ctx, mctx, "recording_started")
	case "stop":
		return m.startOrStop(ctx, mctx, "recording_stopped")
	case "consent":
		return m.consent(ctx, mctx, cmd)
	}
	return nil
}

func (m *Module) startOrStop(ctx context.Context, mctx module.Context, eventType string) error {
	if mctx.Role() != "moderator" {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: eventType, IssuedBy: mctx.Participant().String(),
	}))
}

func (m *Module) consent(ctx context.Context, mctx module.Context, cmd command) error {
	self := mctx.Participant()
	if err := mctx.Store().AttributeSet(ctx, mctx.Room(), store.AttrRecordingConsent, self, mustMarshal(cmd.Granted)); err != nil {
		return m.sendError(ctx, mctx, apierr.CodeInternal)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "consent_updated", Target: self.String(), Granted: cmd.Granted,
	}))
}

func (m *Module) onExchange(ctx context.Context, mctx module.Context, env exchange.Envelope) error {
	var ev outgoing
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil
	}
	switch ev.Type {
	case "recording_started", "recording_stopped", "consent_updated":
		return mctx.WsSend(ctx, Namespace, env.Payload)
	}
	return nil
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
