// Package automod implements the automated-moderation module named in
// spec.md §4.5: a moderator maintains a room-wide blocked-keyword list,
// and any participant's module instance can flag chat content by message
// id for moderator review. Both the rule set and the flag log are kept
// as exchange-replayed state per participant instance, the same
// event-sourced pattern used by legalvote, rather than adding a new
// Store capability for a module the spec only names in passing.
package automod

import (
	"context"
	"encoding/json"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/module"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "automod"

// Builder produces Automod instances. It takes no configuration.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"automod"} }

func (Builder) Build(json.RawMessage) (module.Module, error) { return &Module{}, nil }

type command struct {
	Type      string   `json:"type"`
	Keywords  []string `json:"keywords,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

type outgoing struct {
	Type      string      `json:"type"`
	Keywords  []string    `json:"keywords,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Reporter  string      `json:"reporter,omitempty"`
	Code      apierr.Code `json:"code,omitempty"`
}

// Module is one participant's automod module instance.
type Module struct {
	keywords []string
}

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
	case "set_rules":
		return m.setRules(ctx, mctx, cmd)
	case "flag":
		return m.flag(ctx, mctx, cmd)
	}
	return nil
}

func (m *Module) setRules(ctx context.Context, mctx module.Context, cmd command) error {
	if mctx.Role() != "moderator" {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "rules_updated", Keywords: cmd.Keywords,
	}))
}

func (m *Module) flag(ctx context.Context, mctx module.Context, cmd command) error {
	if cmd.MessageID == "" {
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "flagged", MessageID: cmd.MessageID, Reason: cmd.Reason, Reporter: mctx.Participant().String(),
	}))
}

func (m *Module) onExchange(ctx context.Context, mctx module.Context, env exchange.Envelope) error {
	var ev outgoing
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil
	}
	switch ev.Type {
	case "rules_updated":
		m.keywords = ev.Keywords
	case "flagged":
	default:
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
