package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// runnerContext adapts *Runner to module.Context without exposing the
// rest of Runner's surface to module code.
type runnerContext Runner

func (r *runnerContext) WsSend(_ context.Context, namespace module.Namespace, event json.RawMessage) error {
	(*Runner)(r).sendWire(wireMessage{Namespace: namespace, Event: "event", Payload: event})
	return nil
}

func (r *runnerContext) ExchangePublish(ctx context.Context, key exchange.Key, payload json.RawMessage) error {
	runner := (*Runner)(r)
	return runner.exch.Publish(ctx, key, exchange.Envelope{
		Namespace: string(runner.activeModule),
		Event:     "module_event",
		Payload:   payload,
		SenderID:  runner.participant.String(),
	})
}

func (r *runnerContext) InvalidateData(ctx context.Context) error {
	runner := (*Runner)(r)
	return runner.exch.Publish(ctx, exchange.RoomKey(runner.room), exchange.Envelope{
		Event:    "participant_updated",
		Payload:  json.RawMessage(`{"participant":"` + runner.participant.String() + `"}`),
		SenderID: runner.participant.String(),
	})
}

func (r *runnerContext) AddExchangeBinding(ctx context.Context, key exchange.Key) error {
	runner := (*Runner)(r)
	sub, err := runner.exch.Subscribe(ctx, key, runner.onExchangeDelivery)
	if err != nil {
		return err
	}
	runner.extraSubs = append(runner.extraSubs, sub)
	return nil
}

func (r *runnerContext) Timestamp() time.Time { return time.Now() }

func (r *runnerContext) Role() string { return (*Runner)(r).role }

func (r *runnerContext) Store() store.Store { return (*Runner)(r).vstore }

func (r *runnerContext) Room() ids.SignalingRoomID { return (*Runner)(r).room }

func (r *runnerContext) Participant() ids.ParticipantID { return (*Runner)(r).participant }

func (r *runnerContext) Exit(closeCode int) {
	runner := (*Runner)(r)
	runner.exited = true
	runner.closeCode = closeCode
}
