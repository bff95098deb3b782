// Package room implements the Room Lifecycle Controller (spec.md §4.4
// "Join algorithm" / "Leave algorithm", §4.5 tariff merge): the glue
// between the volatile store, the distributed mutex, and the exchange
// that the HTTP handoff layer calls before handing a connection to a
// runner, and that the runner calls back into around its Leaving/
// OnDestroy dispatch via SetLeaveHooks. Grounded on the teacher's
// Hub/Room split (internal/v1/session/hub.go, room.go): the Hub there
// owns room creation/destruction policy around a plain map, exactly the
// role this Controller plays around the volatile store.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/metrics"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/mutex"
	"github.com/opentalk/controller/internal/store"
)

// ErrAlreadyJoined is returned by Join when the participant id is already
// a member of the target signaling room (spec.md §4.4 step 3).
var ErrAlreadyJoined = errors.New("room: participant already present in signaling room")

// Tariff is the room-scoped quota/feature document cached via set-if-absent
// (spec.md §3 "Tariff", invariant 6). It is supplied by the out-of-scope
// tariff/event collaborators and stored opaquely; the controller never
// interprets Quotas beyond merging DisabledFeatures for the client.
type Tariff struct {
	Quotas           map[string]int64 `json:"quotas,omitempty"`
	DisabledModules  []string         `json:"disabled_modules,omitempty"`
	DisabledFeatures []string         `json:"disabled_features,omitempty"`
}

// JoinParams carries everything the Join algorithm needs to initialize
// room-scoped state (first joiner only) and this participant's attributes
// (spec.md §4.4 "Join algorithm" steps 2-4).
type JoinParams struct {
	Room        ids.SignalingRoomID
	Participant ids.ParticipantID
	DisplayName string
	Role        string
	IsRoomOwner bool
	Kind        string
	UserID      *ids.UserID
	AvatarURL   string

	// Tariff/Event/Creator are the values this joiner would contribute if
	// it is the first to initialize room-scoped state; set-if-absent means
	// a later joiner's values are silently discarded in favor of the
	// first's (spec.md invariant 6).
	Tariff  Tariff
	Event   json.RawMessage
	Creator json.RawMessage
}

// Controller drives the Join/Leave algorithms and the tariff merge,
// sharing one volatile store, distributed mutex, and exchange across
// every runner on this process (spec.md §4.4, §4.5, §5).
type Controller struct {
	Store    store.Store
	Locker   mutex.Locker
	Exchange exchange.Exchange

	// ServerDisabledFeatures is the process-wide disabled-feature set
	// (an operator kill switch, independent of any room's own tariff),
	// unioned into every merged tariff (spec.md §4.5).
	ServerDisabledFeatures []module.Feature
	Registry               *module.Registry
}

func participantLockKey(room ids.SignalingRoomID) string {
	return "lock:participants:" + room.String()
}

// Join runs spec.md §4.4 "Join algorithm" steps 1-6: acquire the
// participant-set lock, initialize room-scoped entries via set-if-absent,
// add the participant (aborting on conflict), write its attributes as one
// atomic batch, increment the room's participant counter, release the
// lock. It returns the tariff actually in effect for the room (the first
// joiner's, per set-if-absent) merged with the server-disabled feature
// set. The caller is responsible for steps 7-8 (module Init/Joined,
// JoinSuccess) via the runner.
func (c *Controller) Join(ctx context.Context, p JoinParams) (Tariff, error) {
	var effective Tariff

	err := mutex.WithLock(ctx, c.Locker, participantLockKey(p.Room), func(ctx context.Context) error {
		tariffBytes, err := json.Marshal(p.Tariff)
		if err != nil {
			return fmt.Errorf("room: marshal tariff: %w", err)
		}
		current, err := c.Store.TariffTryInit(ctx, p.Room.Room, tariffBytes)
		if err != nil {
			return fmt.Errorf("room: init tariff: %w", err)
		}
		if err := json.Unmarshal(current, &effective); err != nil {
			return fmt.Errorf("room: decode tariff: %w", err)
		}

		if len(p.Event) > 0 {
			if _, err := c.Store.EventTryInit(ctx, p.Room.Room, p.Event); err != nil {
				return fmt.Errorf("room: init event: %w", err)
			}
		}
		if len(p.Creator) > 0 {
			if _, err := c.Store.CreatorTryInit(ctx, p.Room.Room, p.Creator); err != nil {
				return fmt.Errorf("room: init creator: %w", err)
			}
		}
		if err := c.Store.AliveSet(ctx, p.Room.Room, true); err != nil {
			return fmt.Errorf("room: set alive: %w", err)
		}

		wasNew, err := c.Store.ParticipantSetAdd(ctx, p.Room, p.Participant)
		if err != nil {
			return fmt.Errorf("room: add participant: %w", err)
		}
		if !wasNew {
			return ErrAlreadyJoined
		}

		actions := []store.Action{
			store.SetAction(store.AttrJoinedAt, time.Now()),
			store.SetAction(store.AttrDisplayName, p.DisplayName),
			store.SetAction(store.AttrRole, p.Role),
			store.SetAction(store.AttrKind, p.Kind),
			store.SetAction(store.AttrIsRoomOwner, p.IsRoomOwner),
			store.SetAction(store.AttrAvatarURL, p.AvatarURL),
		}
		if p.UserID != nil {
			actions = append(actions, store.SetAction(store.AttrUserID, *p.UserID))
		}
		if _, err := c.Store.AttributeActions(ctx, p.Room, p.Participant, actions); err != nil {
			return fmt.Errorf("room: write attributes: %w", err)
		}

		if _, err := c.Store.ParticipantCounterIncr(ctx, p.Room.Room); err != nil {
			return fmt.Errorf("room: increment counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return Tariff{}, err
	}

	return c.mergeTariff(effective), nil
}

// mergeTariff unions the room tariff's own disabled-feature set with the
// process-wide server-disabled set (spec.md §4.5, SPEC_FULL.md §9). The
// result is sorted for deterministic wire output and test assertions.
func (c *Controller) mergeTariff(t Tariff) Tariff {
	disabled := make(map[string]struct{}, len(t.DisabledFeatures)+len(c.ServerDisabledFeatures))
	for _, f := range t.DisabledFeatures {
		disabled[f] = struct{}{}
	}
	for _, f := range c.ServerDisabledFeatures {
		disabled[string(f)] = struct{}{}
	}
	out := Tariff{Quotas: t.Quotas, DisabledModules: t.DisabledModules}
	for f := range disabled {
		out.DisabledFeatures = append(out.DisabledFeatures, f)
	}
	sort.Strings(out.DisabledFeatures)
	return out
}

// LeaveHooks returns the before/after closures a runner invokes around its
// OnDestroy dispatch (spec.md §4.4 "Leave algorithm" steps 2-8), bound to
// one participant's signaling room. before runs after every module has
// received Leaving but before OnDestroy; after runs once every module's
// OnDestroy has returned.
func (c *Controller) LeaveHooks(room ids.SignalingRoomID, participant ids.ParticipantID) (
	before func(ctx context.Context) module.CleanupScope,
	after func(ctx context.Context, scope module.CleanupScope),
) {
	before = func(ctx context.Context) module.CleanupScope {
		return c.leaveBefore(ctx, room, participant)
	}
	after = func(ctx context.Context, scope module.CleanupScope) {
		c.leaveAfter(ctx, room, participant, scope)
	}
	return before, after
}

func (c *Controller) leaveBefore(ctx context.Context, room ids.SignalingRoomID, participant ids.ParticipantID) module.CleanupScope {
	if err := c.Store.AttributeSet(ctx, room, store.AttrLeftAt, participant, mustJSON(time.Now())); err != nil {
		// Logged by the store implementation's caller via metrics; a failed
		// left_at write must not block the rest of the leave sequence.
		_ = err
	}

	scope := module.CleanupNone
	_ = mutex.WithLock(ctx, c.Locker, participantLockKey(room), func(ctx context.Context) error {
		if err := c.Store.ParticipantSetRemove(ctx, room, participant); err != nil {
			return err
		}
		if _, err := c.Store.ParticipantCounterDecr(ctx, room.Room); err != nil {
			return err
		}
		members, err := c.Store.ParticipantSetMembers(ctx, room)
		if err != nil {
			return err
		}
		switch {
		case len(members) > 0:
			scope = module.CleanupNone
		case room.IsBreakout():
			baseMembers, err := c.Store.ParticipantSetMembers(ctx, ids.Base(room.Room))
			if err != nil {
				return err
			}
			if len(baseMembers) > 0 {
				scope = module.CleanupLocal
			} else {
				scope = module.CleanupGlobal
			}
		default:
			scope = module.CleanupGlobal
		}
		return nil
	})
	return scope
}

func (c *Controller) leaveAfter(ctx context.Context, room ids.SignalingRoomID, participant ids.ParticipantID, scope module.CleanupScope) {
	switch scope {
	case module.CleanupGlobal:
		roomID := room.Room
		_ = c.Store.TariffDelete(ctx, roomID)
		_ = c.Store.EventDelete(ctx, roomID)
		_ = c.Store.CreatorDelete(ctx, roomID)
		_ = c.Store.DeleteBans(ctx, roomID)
		_ = c.Store.DeleteWaitingRoom(ctx, roomID)
		_ = c.Store.DeleteWaitingRoomAccepted(ctx, roomID)
		_ = c.Store.RaiseHandsEnabledDelete(ctx, roomID)
		_ = c.Store.WaitingRoomEnabledDelete(ctx, roomID)
		_ = c.Store.ParticipantCounterDelete(ctx, roomID)
		_ = c.Store.AliveSet(ctx, roomID, false)
		metrics.RoomCleanups.WithLabelValues("global").Inc()
	case module.CleanupLocal:
		metrics.RoomCleanups.WithLabelValues("local").Inc()
	default:
		metrics.RoomCleanups.WithLabelValues("none").Inc()
	}

	payload, _ := json.Marshal(map[string]string{"participant": participant.String(), "reason": "left"})
	if err := c.Exchange.Publish(ctx, exchange.RoomKey(room), exchange.Envelope{
		Event:    "participant_left",
		Payload:  payload,
		SenderID: participant.String(),
	}); err != nil {
		_ = err
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
