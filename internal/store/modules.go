package store

import (
	"context"

	"github.com/opentalk/controller/internal/ids"
)

// ChatScopeKind distinguishes chat history scopes (spec.md §3, §4.6).
type ChatScopeKind int

const (
	ChatGlobal ChatScopeKind = iota
	ChatGroup
	ChatPrivate
)

// ChatScope identifies which history a message belongs to.
type ChatScope struct {
	Kind  ChatScopeKind
	Group string          // valid when Kind == ChatGroup
	Pair  [2]ids.ParticipantID // valid when Kind == ChatPrivate; always sorted min,max
}

// ChatStore is the chat module's namespace in the volatile store.
type ChatStore interface {
	ChatHistoryPush(ctx context.Context, room ids.SignalingRoomID, scope ChatScope, message []byte) error
	ChatHistoryGet(ctx context.Context, room ids.SignalingRoomID, scope ChatScope) ([][]byte, error)
	ChatHistoryDelete(ctx context.Context, room ids.SignalingRoomID, scope ChatScope) error

	ChatCorrespondentsAdd(ctx context.Context, room ids.SignalingRoomID, pair [2]ids.ParticipantID) error
	ChatCorrespondents(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) ([]ids.ParticipantID, error)
	ChatCorrespondentsDelete(ctx context.Context, room ids.SignalingRoomID) error

	ChatEnabledGet(ctx context.Context, room ids.SignalingRoomID) (bool, error) // default true if absent
	ChatEnabledSet(ctx context.Context, room ids.SignalingRoomID, enabled bool) error
	ChatEnabledDelete(ctx context.Context, room ids.SignalingRoomID) error

	ChatLastSeenGlobalSet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, tsMillis int64) error
	ChatLastSeenGlobalGet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (int64, bool, error)
	ChatLastSeenPrivateSet(ctx context.Context, room ids.SignalingRoomID, p, peer ids.ParticipantID, tsMillis int64) error
	ChatLastSeenGroupSet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, group string, tsMillis int64) error
	ChatLastSeenDeleteAll(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) error

	// ChatGroupMembershipDecr decrements the recorded membership counter for
	// a tenant-scoped group in this signaling room and reports whether it
	// reached zero, under the group-membership mutex (spec.md §4.6, §5).
	ChatGroupMembershipIncr(ctx context.Context, room ids.SignalingRoomID, group string) (int64, error)
	ChatGroupMembershipDecr(ctx context.Context, room ids.SignalingRoomID, group string) (int64, error)
}

// WhisperState is a participant's membership state within a whisper group
// (spec.md §3).
type WhisperState string

const (
	WhisperCreator  WhisperState = "creator"
	WhisperInvited  WhisperState = "invited"
	WhisperAccepted WhisperState = "accepted"
)

// WhisperStore is the whisper sub-room module's namespace.
type WhisperStore interface {
	WhisperCreate(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, members map[ids.ParticipantID]WhisperState) error
	WhisperAddParticipants(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, members map[ids.ParticipantID]WhisperState) error
	WhisperSetState(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID, state WhisperState) error
	// WhisperRemove reports whether the group became empty as a result.
	WhisperRemove(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID) (emptyNow bool, err error)
	WhisperGet(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID) (map[ids.ParticipantID]WhisperState, error)
	WhisperIDs(ctx context.Context, room ids.SignalingRoomID) ([]ids.WhisperID, error)
	WhisperDelete(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID) error
}

// DocInitState is the authored-document module's room-scoped state
// machine (spec.md §4.7): Absent -> Initializing -> Initialized.
type DocInitState string

const (
	DocAbsent       DocInitState = ""
	DocInitializing DocInitState = "initializing"
	DocInitialized  DocInitState = "initialized"
)

// AuthoredDocStore is the namespace shared by the meeting-notes and
// whisper-group "authored document" module family.
type AuthoredDocStore interface {
	// DocTryStartInit atomically transitions Absent->Initializing and
	// returns the previous state, so exactly one caller observes "Absent".
	DocTryStartInit(ctx context.Context, room ids.SignalingRoomID, namespace string) (previous DocInitState, err error)
	DocSetInitialized(ctx context.Context, room ids.SignalingRoomID, namespace string) error
	DocInitDelete(ctx context.Context, room ids.SignalingRoomID, namespace string) error
	DocInitGet(ctx context.Context, room ids.SignalingRoomID, namespace string) (DocInitState, error)

	DocGroupSet(ctx context.Context, room ids.SignalingRoomID, namespace string, groupHandle []byte) error
	DocGroupGet(ctx context.Context, room ids.SignalingRoomID, namespace string) ([]byte, bool, error)

	DocSessionSet(ctx context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID, session []byte) error
	DocSessionGet(ctx context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID) ([]byte, bool, error)
	DocSessionDelete(ctx context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID) error

	DocCleanup(ctx context.Context, room ids.SignalingRoomID, namespace string) error
}

// ModerationStore is the moderation module's namespace.
type ModerationStore interface {
	IsUserBanned(ctx context.Context, room ids.RoomID, u ids.UserID) (bool, error)
	BanUser(ctx context.Context, room ids.RoomID, u ids.UserID) error
	DeleteBans(ctx context.Context, room ids.RoomID) error

	WaitingRoomAll(ctx context.Context, room ids.RoomID) ([]ids.ParticipantID, error)
	WaitingRoomContains(ctx context.Context, room ids.RoomID, p ids.ParticipantID) (bool, error)
	WaitingRoomAdd(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error
	WaitingRoomRemove(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error
	DeleteWaitingRoom(ctx context.Context, room ids.RoomID) error

	WaitingRoomAcceptedAdd(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error
	WaitingRoomAcceptedRemove(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error
	WaitingRoomAcceptedRemoveList(ctx context.Context, room ids.RoomID, ps []ids.ParticipantID) error
	WaitingRoomAcceptedAll(ctx context.Context, room ids.RoomID) ([]ids.ParticipantID, error)
	DeleteWaitingRoomAccepted(ctx context.Context, room ids.RoomID) error

	RaiseHandsEnabledGet(ctx context.Context, room ids.RoomID) (bool, error)
	RaiseHandsEnabledSet(ctx context.Context, room ids.RoomID, v bool) error
	RaiseHandsEnabledDelete(ctx context.Context, room ids.RoomID) error

	WaitingRoomEnabledGet(ctx context.Context, room ids.RoomID) (bool, error)
	WaitingRoomEnabledSet(ctx context.Context, room ids.RoomID, v bool) error
	WaitingRoomEnabledDelete(ctx context.Context, room ids.RoomID) error
}

// SortedPair returns (a,b) with a<=b by string comparison, establishing
// the canonical private-chat key order (spec.md invariant 3).
func SortedPair(a, b ids.ParticipantID) [2]ids.ParticipantID {
	if a.String() <= b.String() {
		return [2]ids.ParticipantID{a, b}
	}
	return [2]ids.ParticipantID{b, a}
}
