// Package legalvote implements the legal-vote module named in
// spec.md §4.5: a moderator opens a vote with a fixed set of options,
// participants cast one vote each, and the moderator closes it to reveal
// tallies. Votes are event-sourced over the exchange rather than kept in
// the volatile store: every participant's module instance replays the
// same Voted broadcasts and keeps an identical local tally, the way the
// teacher's bus.Service fanout lets every subscriber reconstruct shared
// state from the event stream alone.
package legalvote

import (
	"context"
	"encoding/json"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/module"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "legal-vote"

// Builder produces LegalVote instances. It takes no configuration.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"legal-vote"} }

func (Builder) Build(json.RawMessage) (module.Module, error) {
	return &Module{tally: map[string]int{}}, nil
}

type command struct {
	Type    string   `json:"type"`
	Topic   string   `json:"topic,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Option  string   `json:"option,omitempty"`
}

type outgoing struct {
	Type    string         `json:"type"`
	Topic   string         `json:"topic,omitempty"`
	Choices []string       `json:"choices,omitempty"`
	Voter   string         `json:"voter,omitempty"`
	Option  string         `json:"option,omitempty"`
	Tally   map[string]int `json:"tally,omitempty"`
	Code    apierr.Code    `json:"code,omitempty"`
}

// Module is one participant's legal-vote module instance. open and
// choices track local knowledge of the current vote so a stray Vote
// command after close is rejected without a store round-trip.
type Module struct {
	open    bool
	choices map[string]bool
	tally   map[string]int
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
	case "start":
		return m.start(ctx, mctx, cmd)
	case "vote":
		return m.vote(ctx, mctx, cmd)
	case "stop":
		return m.stop(ctx, mctx)
	}
	return nil
}

func (m *Module) start(ctx context.Context, mctx module.Context, cmd command) error {
	if mctx.Role() != "moderator" {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	if len(cmd.Choices) == 0 {
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "started", Topic: cmd.Topic, Choices: cmd.Choices,
	}))
}

func (m *Module) vote(ctx context.Context, mctx module.Context, cmd command) error {
	if !m.open {
		return m.sendError(ctx, mctx, apierr.CodeNotInitialized)
	}
	if !m.choices[cmd.Option] {
		return m.sendError(ctx, mctx, apierr.CodeInvalidSelection)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "voted", Voter: mctx.Participant().String(), Option: cmd.Option,
	}))
}

func (m *Module) stop(ctx context.Context, mctx module.Context) error {
	if mctx.Role() != "moderator" {
		return m.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(outgoing{
		Type: "stopped", Tally: m.tally,
	}))
}

func (m *Module) onExchange(ctx context.Context, mctx module.Context, env exchange.Envelope) error {
	var ev outgoing
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil
	}
	switch ev.Type {
	case "started":
		m.open = true
		m.choices = make(map[string]bool, len(ev.Choices))
		m.tally = make(map[string]int, len(ev.Choices))
		for _, c := range ev.Choices {
			m.choices[c] = true
			m.tally[c] = 0
		}
	case "voted":
		if m.open && m.choices[ev.Option] {
			m.tally[ev.Option]++
		}
	case "stopped":
		m.open = false
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
