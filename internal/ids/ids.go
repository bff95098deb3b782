// Package ids defines the opaque 128-bit identifier types used throughout
// the controller. Each type wraps a uuid.UUID so that values of different
// kinds are distinct at compile time even though they share a
// representation, mirroring the teacher's typed-string-id convention
// (RoomIdType, ClientIdType, ...) but with real randomness instead of
// caller-supplied strings.
package ids

import "github.com/google/uuid"

// RoomID names a persistent room.
type RoomID uuid.UUID

// BreakoutRoomID names a transient sub-room within a room.
type BreakoutRoomID uuid.UUID

// ParticipantID is generated fresh for each joining session.
type ParticipantID uuid.UUID

// UserID names the underlying identity-provider user.
type UserID uuid.UUID

// TenantID names the identity tenant a user belongs to.
type TenantID uuid.UUID

// GroupID names a tenant-scoped chat/permission group.
type GroupID uuid.UUID

// EventID names a calendar event associated with a room.
type EventID uuid.UUID

// InviteCode names a room invite.
type InviteCode uuid.UUID

// AssetID names a stored artifact (e.g. a generated PDF).
type AssetID uuid.UUID

// WhisperID names a whisper sub-room.
type WhisperID uuid.UUID

// MessageID names a chat message.
type MessageID uuid.UUID

// New returns a fresh random v4 UUID-backed value of T.
func New[T ~[16]byte]() T {
	return T(uuid.New())
}

func (r RoomID) String() string          { return uuid.UUID(r).String() }
func (b BreakoutRoomID) String() string  { return uuid.UUID(b).String() }
func (p ParticipantID) String() string   { return uuid.UUID(p).String() }
func (u UserID) String() string          { return uuid.UUID(u).String() }
func (t TenantID) String() string        { return uuid.UUID(t).String() }
func (g GroupID) String() string         { return uuid.UUID(g).String() }
func (e EventID) String() string         { return uuid.UUID(e).String() }
func (i InviteCode) String() string      { return uuid.UUID(i).String() }
func (a AssetID) String() string         { return uuid.UUID(a).String() }
func (w WhisperID) String() string       { return uuid.UUID(w).String() }
func (m MessageID) String() string       { return uuid.UUID(m).String() }

// SignalingRoomID is the unit of scoping for per-session state: a base
// room, optionally paired with a breakout room within it. Breakout is
// only meaningful when HasBreakout is true; both fields are plain values
// (not pointers) so SignalingRoomID stays comparable and usable as a map
// key throughout the store implementations.
type SignalingRoomID struct {
	Room        RoomID
	Breakout    BreakoutRoomID
	HasBreakout bool
}

// IsBreakout reports whether this signaling room is a breakout room rather
// than the base room.
func (s SignalingRoomID) IsBreakout() bool { return s.HasBreakout }

// String renders a stable key component shared by every store backend.
func (s SignalingRoomID) String() string {
	if !s.HasBreakout {
		return s.Room.String()
	}
	return s.Room.String() + ":" + s.Breakout.String()
}

// Base returns the SignalingRoomID of the base room containing s.
func Base(room RoomID) SignalingRoomID {
	return SignalingRoomID{Room: room}
}

// InBreakout returns the SignalingRoomID of a specific breakout room
// within room.
func InBreakout(room RoomID, breakout BreakoutRoomID) SignalingRoomID {
	return SignalingRoomID{Room: room, Breakout: breakout, HasBreakout: true}
}

// ParseRoomID parses a textual UUID into a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	u, err := uuid.Parse(s)
	return RoomID(u), err
}

// ParseParticipantID parses a textual UUID into a ParticipantID.
func ParseParticipantID(s string) (ParticipantID, error) {
	u, err := uuid.Parse(s)
	return ParticipantID(u), err
}

// ParseBreakoutRoomID parses a textual UUID into a BreakoutRoomID.
func ParseBreakoutRoomID(s string) (BreakoutRoomID, error) {
	u, err := uuid.Parse(s)
	return BreakoutRoomID(u), err
}

// ParseWhisperID parses a textual UUID into a WhisperID.
func ParseWhisperID(s string) (WhisperID, error) {
	u, err := uuid.Parse(s)
	return WhisperID(u), err
}
