// Package policysync is the cluster-wide authorization-policy sync fabric
// (spec.md §4.10): when one controller instance persists a permission
// change (an invite created/deleted, an event created/updated), every
// other instance's local authorization-cache must see the same change
// without re-deriving or re-persisting it. It is a thin fanout
// publisher/subscriber over internal/exchange carrying a correlation id,
// grounded directly on the teacher's SenderID-based echo suppression in
// bus.Service.Publish/Subscribe (internal/v1/bus/redis.go): the teacher
// stamps every published PubSubPayload with the sending client's id and a
// subscriber skips payloads whose SenderID it originated; here the unit
// that must not re-apply its own update is a controller instance rather
// than a client, so the stamp is the instance's short id instead.
package policysync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opentalk/controller/internal/exchange"
)

// topic is the well-known module-defined exchange key every controller
// instance binds on startup (spec.md §4.2 "module-chosen keys").
var topic = exchange.ModuleKey("policy-sync")

// Kind distinguishes the permission-affecting operations the REST API
// layer (out of scope, spec.md §1) reports to this fabric.
type Kind string

const (
	KindInviteCreated Kind = "invite_created"
	KindInviteDeleted Kind = "invite_deleted"
	KindEventCreated  Kind = "event_created"
	KindEventUpdated  Kind = "event_updated"
)

// Update is one permission-affecting change, broadcast verbatim to every
// other controller instance so its local authorization cache can apply it
// without re-querying the database.
type Update struct {
	Kind    Kind            `json:"kind"`
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ApplyFunc applies a received Update to the local authorization cache
// with auto-save disabled, per spec.md §4.10: the originator already
// persisted the change, so a subscriber must only update its cache, never
// write back to the database.
type ApplyFunc func(Update)

// Sync is one controller instance's binding to the policy-sync fabric. Its
// zero value is not usable; construct with New.
type Sync struct {
	ex         exchange.Exchange
	instanceID string
}

// New returns a Sync stamping outgoing updates with a freshly generated
// short instance id (spec.md §9 open question: uniqueness of this id
// across the cluster is assumed, not enforced).
func New(ex exchange.Exchange) *Sync {
	return &Sync{ex: ex, instanceID: uuid.NewString()[:8]}
}

// InstanceID returns the short id this instance stamps onto outgoing
// updates and uses to recognize (and drop) its own echoes.
func (s *Sync) InstanceID() string { return s.instanceID }

// Publish fans an Update out to every other controller instance.
func (s *Sync) Publish(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("policysync: marshal update: %w", err)
	}
	return s.ex.Publish(ctx, topic, exchange.Envelope{
		Namespace:     "policysync",
		Event:         string(u.Kind),
		Payload:       payload,
		SenderID:      s.instanceID,
		CorrelationID: s.instanceID,
	})
}

// Subscribe binds apply as the handler for every policy-sync update not
// originated by this instance. The returned Subscription must be closed on
// shutdown like any other exchange binding.
func (s *Sync) Subscribe(ctx context.Context, apply ApplyFunc) (exchange.Subscription, error) {
	return s.ex.Subscribe(ctx, topic, func(env exchange.Envelope) {
		if env.CorrelationID == s.instanceID {
			return
		}
		var u Update
		if err := json.Unmarshal(env.Payload, &u); err != nil {
			slog.Error("policysync: failed to decode update", "error", err)
			return
		}
		apply(u)
	})
}
