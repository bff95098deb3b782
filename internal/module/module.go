// Package module defines the Builder/Module contract session runners
// dispatch into (spec.md §4.4-§4.5). Go has no associated types, so the
// spec's six per-module types (Params, Incoming, Outgoing, ExchangeMessage,
// ExtEvent, FrontendData, PeerFrontendData) collapse to json.RawMessage
// payloads a module marshals/unmarshals itself, the same way the teacher's
// session.Message carries an arbitrary payload keyed by its Event field
// (internal/v1/session/room.go).
package module

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/store"
)

// Namespace identifies a module's slice of the wire protocol and of
// JoinSuccess.frontend_data.
type Namespace string

// CleanupScope tells a module how much shared state to tear down when a
// participant leaves (spec.md §4.4 "Leave algorithm" step 5).
type CleanupScope int

const (
	// CleanupNone: the signaling room still has other participants.
	CleanupNone CleanupScope = iota
	// CleanupLocal: this breakout room emptied but its base room has not.
	CleanupLocal
	// CleanupGlobal: the base room itself emptied; drop every room-scoped key.
	CleanupGlobal
)

// Event is the tagged union of occurrences a module's OnEvent receives.
// Exactly one concrete type below satisfies Event at a time; handlers
// type-switch on it.
type Event interface{ isEvent() }

// Joined is delivered once, after the participant is inserted into the
// set, immediately before JoinSuccess is assembled.
type Joined struct {
	Peers []ids.ParticipantID // already-present participants, for PeerFrontendData
}

// Leaving is delivered once, before the runner removes the participant
// from the set, giving the module a chance to flush per-participant state.
type Leaving struct{}

type RaiseHand struct{}
type LowerHand struct{}

type ParticipantJoined struct {
	Participant ids.ParticipantID
	PeerView    json.RawMessage
}

type ParticipantUpdated struct {
	Participant ids.ParticipantID
	PeerView    json.RawMessage
}

type ParticipantLeft struct {
	Participant ids.ParticipantID
	Reason      string
}

type RoleUpdated struct {
	NewRole string
}

// WsMessage is an inbound client command already routed to this module's
// namespace by the runner.
type WsMessage struct {
	Command json.RawMessage
}

// ExchangeMessage is an inbound exchange delivery addressed to this
// module's namespace.
type ExchangeMessage struct {
	Envelope exchange.Envelope
}

// ExtEvent is a module-defined internal event (timer fire, external
// subscription callback). Payload is whatever the module itself produced
// when it registered the event source.
type ExtEvent struct {
	Payload any
}

func (Joined) isEvent()             {}
func (Leaving) isEvent()            {}
func (RaiseHand) isEvent()          {}
func (LowerHand) isEvent()          {}
func (ParticipantJoined) isEvent()  {}
func (ParticipantUpdated) isEvent() {}
func (ParticipantLeft) isEvent()    {}
func (RoleUpdated) isEvent()        {}
func (WsMessage) isEvent()          {}
func (ExchangeMessage) isEvent()    {}
func (ExtEvent) isEvent()           {}

// OnEventResult carries what a module produced in response to an Event
// that needs to flow back into the runner's bookkeeping (the Joined
// handler's frontend/peer views in particular).
type OnEventResult struct {
	// FrontendData is this module's own view, merged by namespace into
	// JoinSuccess.frontend_data. Only meaningful for the Joined event.
	FrontendData json.RawMessage
	// PeerFrontendData is this participant's view as shown to each
	// already-present peer, keyed by participant. Only meaningful for
	// the Joined event.
	PeerFrontendData map[ids.ParticipantID]json.RawMessage
}

// Context is the capability set a module's lifecycle methods receive,
// generalizing the teacher's Client/Room method receivers (ws_send,
// broadcast, role checks) into an explicit interface (spec.md §4.4
// "Module context").
type Context interface {
	// WsSend delivers an Outgoing event to this participant's own
	// WebSocket connection.
	WsSend(ctx context.Context, namespace Namespace, event json.RawMessage) error
	// ExchangePublish fans an ExchangeMessage out to the given routing key.
	ExchangePublish(ctx context.Context, key exchange.Key, payload json.RawMessage) error
	// InvalidateData requests that peers re-fetch this participant's
	// peer-frontend view.
	InvalidateData(ctx context.Context) error
	// AddExchangeBinding subscribes this runner to key for the lifetime of
	// the session. Valid only during Init.
	AddExchangeBinding(ctx context.Context, key exchange.Key) error
	// Timestamp returns a monotonic wall-clock reading, used for
	// last-seen/joined-at bookkeeping.
	Timestamp() time.Time
	// Role returns the participant's current role.
	Role() string
	// Store returns the volatile store, scoped for this signaling room.
	Store() store.Store
	// Room identifies the signaling room this runner belongs to.
	Room() ids.SignalingRoomID
	// Participant identifies the participant this runner belongs to.
	Participant() ids.ParticipantID
	// Exit requests the runner begin shutdown after flushing, with an
	// optional WebSocket close code (0 for normal closure).
	Exit(closeCode int)
}

// Module is one participant-scoped instance of a registered module.
type Module interface {
	Namespace() Namespace
	// Init runs before the first event is delivered; it may call
	// ctx.AddExchangeBinding.
	Init(ctx context.Context, mctx Context) error
	// OnEvent handles one delivered Event; cmd/exchange-typed events must
	// be module-namespace-correct by the time the runner dispatches them.
	OnEvent(ctx context.Context, mctx Context, event Event) (OnEventResult, error)
	// OnDestroy runs once, after Leaving, with the cleanup scope computed
	// by the room lifecycle controller.
	OnDestroy(ctx context.Context, mctx Context, scope CleanupScope) error
}

// Feature names a capability a module grants the room's merged tariff
// (spec.md §4.5 "per-module feature sets").
type Feature string

// Builder produces one Module instance per session for a registered
// module kind, the way the teacher's Hub produces one *session.Room per
// room id (internal/v1/session/hub.go).
type Builder interface {
	ModuleID() Namespace
	ProvidedFeatures() []Feature
	// Build returns a fresh Module instance, configured from init-time
	// parameters (the spec's Params type, JSON-encoded).
	Build(params json.RawMessage) (Module, error)
}
