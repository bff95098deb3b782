// Package httpapi implements the HTTP Handoff surface (spec.md §4.9, §6):
// POST /v1/rooms/{id}/start, POST /v1/rooms/{id}/start_invited, and
// GET /signaling. Grounded on the teacher's Hub.ServeWs gin handler
// (internal/v1/session/hub.go) for the upgrade path, generalized from a
// single query-param token to the ticket-based handoff spec.md requires.
package httpapi

import (
	"context"
	"encoding/json"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/room"
)

// RoomDirectory is the narrow slice of the out-of-scope REST API/database
// (spec.md §1: "the HTTP REST API for event/invite/room management ...
// treated as external collaborators whose interfaces we name but do not
// design") that the handoff layer needs: is this room owned by the caller,
// does it have a password, is a breakout id valid, what are its cached
// tariff/event/creator documents, and is an invite code still active.
type RoomDirectory interface {
	// RoomOwner reports the user id that owns room, if any.
	RoomOwner(ctx context.Context, room ids.RoomID) (owner ids.UserID, ok bool, err error)
	// RoomPassword returns the room's password, if one is set.
	RoomPassword(ctx context.Context, room ids.RoomID) (password string, hasPassword bool, err error)
	// BreakoutExists reports whether breakout names a configured breakout
	// room of room.
	BreakoutExists(ctx context.Context, room ids.RoomID, breakout ids.BreakoutRoomID) (bool, error)
	// RoomTariff, RoomEvent, RoomCreator are the documents the Join
	// algorithm initializes via set-if-absent (spec.md §4.4 step 2).
	RoomTariff(ctx context.Context, r ids.RoomID) (room.Tariff, error)
	RoomEvent(ctx context.Context, r ids.RoomID) (json.RawMessage, error)
	RoomCreator(ctx context.Context, r ids.RoomID) (json.RawMessage, error)
	// ResolveInvite validates an invite code against the targeted room and
	// returns the inviting tenant's groups the guest should inherit (chat
	// group membership, spec.md §4.6 "common_groups"), if any.
	ResolveInvite(ctx context.Context, room ids.RoomID, code string) (ok bool, groups []string, err error)
}

// StaticDirectory is an in-memory RoomDirectory for local development and
// tests, the same role the teacher's auth.MockValidator plays for
// authentication: a stand-in for the real collaborator that a production
// deployment wires against the actual event/invite/room REST service.
type StaticDirectory struct {
	Owners    map[ids.RoomID]ids.UserID
	Passwords map[ids.RoomID]string
	Breakouts map[ids.RoomID]map[ids.BreakoutRoomID]bool
	Tariffs   map[ids.RoomID]room.Tariff
	Invites   map[string]ids.RoomID
}

var _ RoomDirectory = (*StaticDirectory)(nil)

// NewStaticDirectory returns an empty StaticDirectory with default
// (unrestricted) tariffs for any room not explicitly configured.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		Owners:    map[ids.RoomID]ids.UserID{},
		Passwords: map[ids.RoomID]string{},
		Breakouts: map[ids.RoomID]map[ids.BreakoutRoomID]bool{},
		Tariffs:   map[ids.RoomID]room.Tariff{},
		Invites:   map[string]ids.RoomID{},
	}
}

func (d *StaticDirectory) RoomOwner(_ context.Context, r ids.RoomID) (ids.UserID, bool, error) {
	owner, ok := d.Owners[r]
	return owner, ok, nil
}

func (d *StaticDirectory) RoomPassword(_ context.Context, r ids.RoomID) (string, bool, error) {
	pw, ok := d.Passwords[r]
	return pw, ok, nil
}

func (d *StaticDirectory) BreakoutExists(_ context.Context, r ids.RoomID, b ids.BreakoutRoomID) (bool, error) {
	set, ok := d.Breakouts[r]
	if !ok {
		return false, nil
	}
	return set[b], nil
}

func (d *StaticDirectory) RoomTariff(_ context.Context, r ids.RoomID) (room.Tariff, error) {
	return d.Tariffs[r], nil
}

func (d *StaticDirectory) RoomEvent(context.Context, ids.RoomID) (json.RawMessage, error) {
	return nil, nil
}

func (d *StaticDirectory) RoomCreator(context.Context, ids.RoomID) (json.RawMessage, error) {
	return nil, nil
}

func (d *StaticDirectory) ResolveInvite(_ context.Context, r ids.RoomID, code string) (bool, []string, error) {
	target, ok := d.Invites[code]
	if !ok || target != r {
		return false, nil, nil
	}
	return true, nil, nil
}
