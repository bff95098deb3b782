// Package store defines the Volatile Store capability traits (spec.md
// §4.1): a family of narrow interfaces over per-room and per-signaling-room
// ephemeral state, each independently implementable. Two implementations
// are provided: store/memory (in-process, for tests and single-node
// deployments) and store/redisstore (github.com/redis/go-redis/v9-backed,
// for clustered deployments), grounded on the teacher's split between its
// in-memory Room maps (session/room.go) and its Redis-backed bus.Service.
//
// Every operation is asynchronous (accepts a context.Context) and fallible;
// there is no partial success within a single call.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opentalk/controller/internal/ids"
)

// AttributeID names one participant attribute within a signaling room
// (display_name, role, is_room_owner, kind, user_id, joined_at, left_at,
// hand_is_up, hand_updated_at, avatar_url, recording_consent).
type AttributeID string

const (
	AttrDisplayName      AttributeID = "display_name"
	AttrRole             AttributeID = "role"
	AttrIsRoomOwner      AttributeID = "is_room_owner"
	AttrKind             AttributeID = "kind"
	AttrUserID           AttributeID = "user_id"
	AttrJoinedAt         AttributeID = "joined_at"
	AttrLeftAt           AttributeID = "left_at"
	AttrHandIsUp         AttributeID = "hand_is_up"
	AttrHandUpdatedAt    AttributeID = "hand_updated_at"
	AttrAvatarURL        AttributeID = "avatar_url"
	AttrRecordingConsent AttributeID = "recording_consent"
)

// ActionKind distinguishes the operations in a batched AttributeActions
// call (spec.md §4.1).
type ActionKind int

const (
	ActionGet ActionKind = iota
	ActionSet
	ActionDel
)

// Action is one step of a batched, atomically-applied attribute action
// list.
type Action struct {
	Kind  ActionKind
	Attr  AttributeID
	Value []byte // JSON-encoded value; unused for ActionGet/ActionDel.
}

func SetAction(attr AttributeID, value any) Action {
	return Action{Kind: ActionSet, Attr: attr, Value: mustJSON(value)}
}

func GetAction(attr AttributeID) Action { return Action{Kind: ActionGet, Attr: attr} }
func DelAction(attr AttributeID) Action { return Action{Kind: ActionDel, Attr: attr} }

// ParticipantSet manages the set of participants present in a signaling
// room.
type ParticipantSet interface {
	ParticipantSetExists(ctx context.Context, room ids.SignalingRoomID) (bool, error)
	ParticipantSetContains(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (bool, error)
	ParticipantSetContainsAll(ctx context.Context, room ids.SignalingRoomID, p []ids.ParticipantID) (bool, error)
	ParticipantSetMembers(ctx context.Context, room ids.SignalingRoomID) ([]ids.ParticipantID, error)
	// ParticipantSetAdd returns wasNew=true if the participant was not
	// already a member.
	ParticipantSetAdd(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (wasNew bool, err error)
	ParticipantSetRemove(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) error
	ParticipantSetDrop(ctx context.Context, room ids.SignalingRoomID) error
}

// Attributes manages the per-participant attribute hash of a signaling
// room.
type Attributes interface {
	AttributeGet(ctx context.Context, room ids.SignalingRoomID, attr AttributeID, p ids.ParticipantID) ([]byte, bool, error)
	AttributeGetMany(ctx context.Context, room ids.SignalingRoomID, attr AttributeID, ps []ids.ParticipantID) ([][]byte, error)
	AttributeSet(ctx context.Context, room ids.SignalingRoomID, attr AttributeID, p ids.ParticipantID, value []byte) error
	AttributeRemove(ctx context.Context, room ids.SignalingRoomID, attr AttributeID, p ids.ParticipantID) error
	AttributeDrop(ctx context.Context, room ids.SignalingRoomID, attr AttributeID) error
	// AttributeActions executes a batch of actions for one participant
	// atomically and returns the values of the ActionGet steps, in order.
	AttributeActions(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, actions []Action) ([][]byte, error)
}

// Tariff, Event, and Creator are room-scoped entries written at most once
// per room lifetime via set-if-absent (spec.md invariant 6).
type Tariff interface {
	TariffTryInit(ctx context.Context, room ids.RoomID, value []byte) (current []byte, err error)
	TariffGet(ctx context.Context, room ids.RoomID) ([]byte, bool, error)
	TariffDelete(ctx context.Context, room ids.RoomID) error
}

type Event interface {
	EventTryInit(ctx context.Context, room ids.RoomID, value []byte) (current []byte, err error)
	EventGet(ctx context.Context, room ids.RoomID) ([]byte, bool, error)
	EventDelete(ctx context.Context, room ids.RoomID) error
}

type Creator interface {
	CreatorTryInit(ctx context.Context, room ids.RoomID, value []byte) (current []byte, err error)
	CreatorGet(ctx context.Context, room ids.RoomID) ([]byte, bool, error)
	CreatorDelete(ctx context.Context, room ids.RoomID) error
}

// ParticipantCounter is the participant count for a base room, global
// across all its breakout rooms.
type ParticipantCounter interface {
	ParticipantCounterIncr(ctx context.Context, room ids.RoomID) (int64, error)
	ParticipantCounterDecr(ctx context.Context, room ids.RoomID) (int64, error)
	ParticipantCounterGet(ctx context.Context, room ids.RoomID) (int64, error)
	ParticipantCounterDelete(ctx context.Context, room ids.RoomID) error
}

// ClosesAt is the scheduled end time of a signaling room.
type ClosesAt interface {
	ClosesAtSet(ctx context.Context, room ids.SignalingRoomID, at time.Time) error
	ClosesAtGet(ctx context.Context, room ids.SignalingRoomID) (time.Time, bool, error)
	ClosesAtRemove(ctx context.Context, room ids.SignalingRoomID) error
}

// SkipWaitingRoom is a per-participant flag with a fixed 120-second sliding
// expiry (spec.md invariant 7, §4.1).
type SkipWaitingRoom interface {
	SkipWaitingRoomSetWithExpiry(ctx context.Context, p ids.ParticipantID, v bool, ttl time.Duration) error
	SkipWaitingRoomSetWithExpiryIfAbsent(ctx context.Context, p ids.ParticipantID, v bool, ttl time.Duration) error
	SkipWaitingRoomRefreshExpiry(ctx context.Context, p ids.ParticipantID, ttl time.Duration) error
	SkipWaitingRoomGet(ctx context.Context, p ids.ParticipantID) (bool, error)
}

// Store is the aggregate capability set a runner/module/lifecycle
// controller depends on.
type Store interface {
	ParticipantSet
	Attributes
	Tariff
	Event
	Creator
	ParticipantCounter
	ClosesAt
	SkipWaitingRoom
	ChatStore
	WhisperStore
	AuthoredDocStore
	ModerationStore

	// Alive marks/queries whether a room still has live signaling-room
	// state (spec.md §3 "alive flag").
	AliveSet(ctx context.Context, room ids.RoomID, alive bool) error
	AliveGet(ctx context.Context, room ids.RoomID) (bool, error)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
