package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/metrics"
	"github.com/opentalk/controller/internal/module"
)

// runInit calls Init then delivers Joined to every module in declaration
// order, collecting FrontendData/PeerFrontendData the same way the
// teacher's handleClientConnect assembles its initial room-state payload
// (internal/v1/session/room.go).
func (r *Runner) runInit(ctx context.Context) {
	mctx := r.mctx()
	peers, err := r.vstore.ParticipantSetMembers(ctx, r.room)
	if err != nil {
		slog.Error("runner: list peers failed", "room", r.room.String(), "error", err)
	}

	frontend := make(map[module.Namespace]json.RawMessage, len(r.modOrder))
	for _, ns := range r.modOrder {
		m := r.modules[ns]
		r.activeModule = ns
		if err := m.Init(ctx, mctx); err != nil {
			slog.Error("runner: module init failed", "namespace", string(ns), "error", err)
			continue
		}
		result, err := m.OnEvent(ctx, mctx, module.Joined{Peers: peers})
		if err != nil {
			slog.Error("runner: module joined handler failed", "namespace", string(ns), "error", err)
			continue
		}
		if result.FrontendData != nil {
			frontend[ns] = result.FrontendData
		}
	}

	payload, _ := json.Marshal(frontend)
	r.sendWire(wireMessage{Namespace: "control", Event: "join_success", Payload: payload})

	joinedPayload, _ := json.Marshal(map[string]any{"participant": r.participant.String()})
	if err := r.exch.Publish(ctx, exchange.RoomKey(r.room), exchange.Envelope{
		Event:    "participant_joined",
		Payload:  joinedPayload,
		SenderID: r.participant.String(),
	}); err != nil {
		slog.Warn("runner: publish participant_joined failed", "room", r.room.String(), "error", err)
	}
}

// runDestroy delivers Leaving, lets the room lifecycle controller's before
// hook remove this participant from shared state and compute the cleanup
// scope, delivers OnDestroy(scope), then lets the after hook run any
// scope-dependent teardown (spec.md §4.4 "Leave algorithm" steps 1-8).
func (r *Runner) runDestroy(ctx context.Context) {
	mctx := r.mctx()
	for _, ns := range r.modOrder {
		m := r.modules[ns]
		r.activeModule = ns
		if _, err := m.OnEvent(ctx, mctx, module.Leaving{}); err != nil {
			slog.Error("runner: module leaving handler failed", "namespace", string(ns), "error", err)
		}
	}

	scope := module.CleanupNone
	if r.leaveBefore != nil {
		scope = r.leaveBefore(ctx)
	}

	for _, ns := range r.modOrder {
		m := r.modules[ns]
		r.activeModule = ns
		if err := m.OnDestroy(ctx, mctx, scope); err != nil {
			slog.Error("runner: module destroy failed", "namespace", string(ns), "error", err)
		}
	}

	if r.leaveAfter != nil {
		r.leaveAfter(ctx, scope)
	}
}

func (r *Runner) dispatchWsMessage(ctx context.Context, msg wireMessage) {
	m, ok := r.modules[msg.Namespace]
	if !ok {
		slog.Warn("runner: unknown namespace in inbound message", "namespace", string(msg.Namespace))
		return
	}
	start := time.Now()
	status := "ok"
	r.activeModule = msg.Namespace
	if _, err := m.OnEvent(ctx, r.mctx(), module.WsMessage{Command: msg.Payload}); err != nil {
		status = "error"
		slog.Error("runner: module ws handler failed", "namespace", string(msg.Namespace), "error", err)
	}
	metrics.WebsocketEvents.WithLabelValues(string(msg.Namespace), status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(string(msg.Namespace)).Observe(time.Since(start).Seconds())
}

// dispatchExchange routes an inbound exchange delivery. The three observer
// events (spec.md §4.4 event table) are broadcast to every module in
// declaration order since they are not addressed to a single namespace;
// everything else is routed to the module owning the envelope's namespace.
func (r *Runner) dispatchExchange(ctx context.Context, env exchange.Envelope) {
	mctx := r.mctx()

	switch env.Event {
	case "participant_joined":
		r.broadcastObserverEvent(ctx, mctx, observerEnvelope(env, module.ParticipantJoined{}))
		return
	case "participant_updated":
		r.broadcastObserverEvent(ctx, mctx, observerEnvelope(env, module.ParticipantUpdated{}))
		return
	case "participant_left":
		r.broadcastObserverEvent(ctx, mctx, observerEnvelope(env, module.ParticipantLeft{}))
		return
	}

	m, ok := r.modules[module.Namespace(env.Namespace)]
	if !ok {
		return
	}
	r.activeModule = module.Namespace(env.Namespace)
	if _, err := m.OnEvent(ctx, mctx, module.ExchangeMessage{Envelope: env}); err != nil {
		slog.Error("runner: module exchange handler failed", "namespace", env.Namespace, "error", err)
	}
}

// observerEvent is the wire shape published for participant_joined/updated/left.
type observerEvent struct {
	Participant string          `json:"participant"`
	Reason      string          `json:"reason,omitempty"`
	PeerView    json.RawMessage `json:"peer_view,omitempty"`
}

func observerEnvelope(env exchange.Envelope, kind any) module.Event {
	var parsed observerEvent
	_ = json.Unmarshal(env.Payload, &parsed)

	switch kind.(type) {
	case module.ParticipantJoined:
		return module.ParticipantJoined{Participant: mustParseParticipant(parsed.Participant), PeerView: parsed.PeerView}
	case module.ParticipantUpdated:
		return module.ParticipantUpdated{Participant: mustParseParticipant(parsed.Participant), PeerView: parsed.PeerView}
	default:
		return module.ParticipantLeft{Participant: mustParseParticipant(parsed.Participant), Reason: parsed.Reason}
	}
}

func mustParseParticipant(s string) ids.ParticipantID {
	pid, err := ids.ParseParticipantID(s)
	if err != nil {
		return ids.ParticipantID{}
	}
	return pid
}

func (r *Runner) broadcastObserverEvent(ctx context.Context, mctx module.Context, event module.Event) {
	for _, ns := range r.modOrder {
		m := r.modules[ns]
		r.activeModule = ns
		if _, err := m.OnEvent(ctx, mctx, event); err != nil {
			slog.Error("runner: module observer-event handler failed", "namespace", string(ns), "error", err)
		}
	}
}

func (r *Runner) sendWire(msg wireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("runner: marshal wire message failed", "error", err)
		return
	}
	select {
	case r.send <- data:
	default:
		slog.Warn("runner: send channel full, dropping message", "participant", r.participant.String())
	}
}
