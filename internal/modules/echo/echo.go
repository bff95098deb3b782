// Package echo is the minimal module named in spec.md §4.5: it reflects
// every inbound command straight back to its sender, unmodified. Its only
// purpose is exercising the Builder/Module contract end to end without any
// domain logic of its own, the way a health-check endpoint exercises a
// server's routing without touching any real handler.
package echo

import (
	"context"
	"encoding/json"

	"github.com/opentalk/controller/internal/module"
)

// Namespace is this module's wire/frontend-data namespace.
const Namespace module.Namespace = "echo"

// Builder produces Echo instances. It takes no configuration.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace         { return Namespace }
func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"echo"} }

func (Builder) Build(json.RawMessage) (module.Module, error) { return &Module{}, nil }

// Module reflects every command it receives back to the sender.
type Module struct{}

var _ module.Module = (*Module)(nil)

func (m *Module) Namespace() module.Namespace { return Namespace }

func (m *Module) Init(context.Context, module.Context) error { return nil }

func (m *Module) OnEvent(ctx context.Context, mctx module.Context, ev module.Event) (module.OnEventResult, error) {
	msg, ok := ev.(module.WsMessage)
	if !ok {
		return module.OnEventResult{}, nil
	}
	return module.OnEventResult{}, mctx.WsSend(ctx, Namespace, msg.Command)
}

func (m *Module) OnDestroy(context.Context, module.Context, module.CleanupScope) error { return nil }
