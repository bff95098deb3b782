// Package meetingnotes is the concrete "meeting notes" instance of the
// authored-document pattern (spec.md §4.7): a pad-service-backed
// collaborative document with writer/reader sessions and on-demand PDF
// export. Grounded on authoreddoc.Engine; this package only supplies the
// namespace and wires a Provisioner/AssetStore pair.
package meetingnotes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/modules/authoreddoc"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "meeting-notes"

// Builder wires one Engine per session, sharing the process-wide
// Provisioner/AssetStore across every instance (the pad-service client
// and asset store are stateless collaborators, not per-session state).
type Builder struct {
	Provisioner authoreddoc.Provisioner
	Assets      authoreddoc.AssetStore
}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"meeting_notes"} }

func (b Builder) Build(json.RawMessage) (module.Module, error) {
	if b.Provisioner == nil {
		return nil, fmt.Errorf("meetingnotes: builder missing Provisioner")
	}
	return &Module{engine: &authoreddoc.Engine{
		Namespace:   string(Namespace),
		Provisioner: b.Provisioner,
		Assets:      b.Assets,
	}}, nil
}

// Module is one participant's meeting-notes module instance.
type Module struct {
	engine *authoreddoc.Engine
}

var _ module.Module = (*Module)(nil)

func (m *Module) Namespace() module.Namespace { return Namespace }

func (m *Module) Init(context.Context, module.Context) error { return nil }

func (m *Module) OnEvent(ctx context.Context, mctx module.Context, ev module.Event) (module.OnEventResult, error) {
	switch e := ev.(type) {
	case module.WsMessage:
		return module.OnEventResult{}, m.onCommand(ctx, mctx, e.Command)
	case module.ExchangeMessage:
		return module.OnEventResult{}, m.onExchange(ctx, mctx, e.Envelope.Payload)
	}
	return module.OnEventResult{}, nil
}

func (m *Module) OnDestroy(ctx context.Context, mctx module.Context, scope module.CleanupScope) error {
	if scope == module.CleanupNone {
		return nil
	}
	return m.engine.Cleanup(ctx, mctx)
}

func (m *Module) onCommand(ctx context.Context, mctx module.Context, raw json.RawMessage) error {
	kind, err := authoreddoc.CommandType(raw)
	if err != nil {
		return err
	}
	switch kind {
	case "select_writer":
		targets, err := authoreddoc.DecodeSelection(raw)
		if err != nil {
			return err
		}
		return m.engine.SelectWriter(ctx, mctx, targets)
	case "deselect_writer":
		targets, err := authoreddoc.DecodeSelection(raw)
		if err != nil {
			return err
		}
		return m.engine.DeselectWriter(ctx, mctx, targets)
	case "generate_pdf":
		return m.engine.GeneratePdf(ctx, mctx)
	}
	return nil
}

func (m *Module) onExchange(ctx context.Context, mctx module.Context, payload json.RawMessage) error {
	var ev struct {
		Type    string   `json:"type"`
		Writers []string `json:"writers"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil
	}
	if ev.Type != "generate_url" {
		return nil
	}
	return m.engine.OnGenerateURL(ctx, mctx, ev.Writers)
}
