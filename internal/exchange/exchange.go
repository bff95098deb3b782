// Package exchange is the publish/subscribe fabric connecting module
// instances across controller pods (spec.md §4.2). It generalizes the
// teacher's internal/v1/bus.Service — a single Redis pub/sub channel per
// room plus a per-user direct channel — into four routing-key shapes
// (room-wide, room+namespace, participant-direct, module-defined) so that
// a module can choose how narrowly its events fan out.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/metrics"
)

// Key identifies a routing destination on the exchange. Exactly one
// constructor below should be used to build a Key; the resulting string is
// opaque to callers.
type Key struct{ raw string }

func (k Key) String() string { return k.raw }

// RoomKey addresses every subscriber of a signaling room, regardless of
// module namespace.
func RoomKey(room ids.SignalingRoomID) Key {
	return Key{raw: "room:" + room.String()}
}

// RoomNamespaceKey addresses the subscribers of one module namespace within
// a signaling room (e.g. "chat", "moderation").
func RoomNamespaceKey(room ids.SignalingRoomID, namespace string) Key {
	return Key{raw: "room:" + room.String() + ":" + namespace}
}

// ParticipantKey addresses a single participant's session runner directly,
// independent of which room it is currently in.
func ParticipantKey(p ids.ParticipantID) Key {
	return Key{raw: "participant:" + p.String()}
}

// GlobalRoomKey addresses every subscriber of a room's base signaling room
// and all of its breakout rooms (spec.md §4.2 "global.room.{room_id}.all"),
// for events that must reach participants regardless of which breakout
// they are currently in (e.g. a moderation debrief).
func GlobalRoomKey(room ids.RoomID) Key {
	return Key{raw: "global:room:" + room.String()}
}

// ModuleKey addresses an arbitrary module-defined routing destination
// (e.g. a tenant-wide policy-sync channel). name should be namespaced by
// the calling module to avoid collisions.
func ModuleKey(name string) Key {
	return Key{raw: "module:" + name}
}

// Envelope is the wire format carried over every channel, mirroring
// bus.PubSubPayload: a sender id for echo suppression, a namespace-scoped
// event name, and an opaque payload.
type Envelope struct {
	Namespace     string          `json:"namespace"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	SenderID      string          `json:"sender_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Handler receives envelopes delivered on a subscription.
type Handler func(Envelope)

// Exchange is the capability every module/runner depends on to fan events
// out to other session runners, in-process or on other pods.
type Exchange interface {
	Publish(ctx context.Context, key Key, env Envelope) error
	Subscribe(ctx context.Context, key Key, handler Handler) (Subscription, error)
}

// Subscription is an active subscription; Close stops delivery.
type Subscription interface {
	Close() error
}

// Local is an in-process Exchange, for single-node deployments and tests.
// It fans out synchronously to registered handlers under a single mutex,
// matching the in-process broadcast the teacher's Room.broadcast performs
// before bus.Service existed.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]map[*localSub]Handler
}

type localSub struct {
	key string
	l   *Local
}

func (s *localSub) Close() error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	delete(s.l.handlers[s.key], s)
	return nil
}

// NewLocal returns an empty in-process Exchange.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]map[*localSub]Handler)}
}

var _ Exchange = (*Local)(nil)

func (l *Local) Publish(_ context.Context, key Key, env Envelope) error {
	l.mu.RLock()
	subs := l.handlers[key.raw]
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	metrics.ExchangeEvents.WithLabelValues("publish", "ok").Inc()
	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, key Key, handler Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub := &localSub{key: key.raw, l: l}
	m, ok := l.handlers[key.raw]
	if !ok {
		m = make(map[*localSub]Handler)
		l.handlers[key.raw] = m
	}
	m[sub] = handler
	return sub, nil
}

// marshalEnvelope is shared by every Exchange implementation that needs to
// put an Envelope on the wire.
func marshalEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshal envelope: %w", err)
	}
	return b, nil
}

func logUnmarshalFailure(raw string, err error) {
	slog.Error("exchange: failed to unmarshal envelope", "error", err, "raw", raw)
}
