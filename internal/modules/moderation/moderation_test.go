package moderation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
	memorystore "github.com/opentalk/controller/internal/store/memory"
	"github.com/stretchr/testify/require"
)

// fakeContext mirrors the chat module's test double: a minimal
// module.Context standing in for a runner during unit tests.
type fakeContext struct {
	role   string
	room   ids.SignalingRoomID
	pid    ids.ParticipantID
	st     store.Store
	exch   exchange.Exchange
	sent   []json.RawMessage
	exited bool
}

func (f *fakeContext) WsSend(_ context.Context, _ module.Namespace, event json.RawMessage) error {
	f.sent = append(f.sent, event)
	return nil
}
func (f *fakeContext) ExchangePublish(ctx context.Context, key exchange.Key, payload json.RawMessage) error {
	return f.exch.Publish(ctx, key, exchange.Envelope{Event: "module_event", Payload: payload, SenderID: f.pid.String()})
}
func (f *fakeContext) InvalidateData(context.Context) error                  { return nil }
func (f *fakeContext) AddExchangeBinding(context.Context, exchange.Key) error { return nil }
func (f *fakeContext) Timestamp() time.Time                                  { return time.Now() }
func (f *fakeContext) Role() string                                          { return f.role }
func (f *fakeContext) Store() store.Store                                    { return f.st }
func (f *fakeContext) Room() ids.SignalingRoomID                             { return f.room }
func (f *fakeContext) Participant() ids.ParticipantID                        { return f.pid }
func (f *fakeContext) Exit(int)                                              { f.exited = true }

func newFixture(role string) (*fakeContext, store.Store) {
	st := memorystore.New()
	return &fakeContext{role: role, room: ids.Base(ids.New[ids.RoomID]()), pid: ids.New[ids.ParticipantID](), st: st, exch: exchange.NewLocal()}, st
}

func lastSent(t *testing.T, fx *fakeContext) outgoing {
	t.Helper()
	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[len(fx.sent)-1], &ev))
	return ev
}

func TestBan_RejectsNonModerator(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("user")
	m := &Module{}

	cmd, _ := json.Marshal(map[string]string{"type": "ban", "target": ids.New[ids.ParticipantID]().String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeInsufficientPermissions, lastSent(t, fx).Code)
}

func TestBan_RejectsGuestTarget(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	cmd, _ := json.Marshal(map[string]string{"type": "ban", "target": target.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeCannotBanGuest, lastSent(t, fx).Code)
}

func TestBan_RegisteredUserPublishesBannedToTarget(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	uid := ids.New[ids.UserID]()
	uidBytes, _ := json.Marshal(uid)
	require.NoError(t, st.AttributeSet(ctx, fx.room, store.AttrUserID, target, uidBytes))

	var received outgoing
	sub, err := fx.exch.Subscribe(ctx, exchange.ParticipantKey(target), func(env exchange.Envelope) {
		_ = json.Unmarshal(env.Payload, &received)
	})
	require.NoError(t, err)
	defer sub.Close()

	cmd, _ := json.Marshal(map[string]string{"type": "ban", "target": target.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.Equal(t, "banned", received.Type)
	banned, err := st.IsUserBanned(ctx, fx.room.Room, uid)
	require.NoError(t, err)
	require.True(t, banned)
}

func TestSendToWaitingRoom_RejectsRoomOwner(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	ownerBytes, _ := json.Marshal(true)
	require.NoError(t, st.AttributeSet(ctx, fx.room, store.AttrIsRoomOwner, target, ownerBytes))

	cmd, _ := json.Marshal(map[string]string{"type": "send_to_waiting_room", "target": target.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeCannotSendRoomOwnerToWaitingRoom, lastSent(t, fx).Code)
}

func TestSendToWaitingRoom_AddsTargetAndEnablesWaitingRoom(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	cmd, _ := json.Marshal(map[string]string{"type": "send_to_waiting_room", "target": target.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	present, err := st.WaitingRoomContains(ctx, fx.room.Room, target)
	require.NoError(t, err)
	require.True(t, present)

	enabled, err := st.WaitingRoomEnabledGet(ctx, fx.room.Room)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestAccept_NoopWhenNotWaiting(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	cmd, _ := json.Marshal(map[string]string{"type": "accept", "target": target.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	accepted, err := st.WaitingRoomAcceptedAll(ctx, fx.room.Room)
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Empty(t, fx.sent)
}

func TestAccept_PromotesWaitingTarget(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	require.NoError(t, st.WaitingRoomAdd(ctx, fx.room.Room, target))

	cmd, _ := json.Marshal(map[string]string{"type": "accept", "target": target.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	waiting, err := st.WaitingRoomContains(ctx, fx.room.Room, target)
	require.NoError(t, err)
	require.False(t, waiting)

	accepted, err := st.WaitingRoomAcceptedAll(ctx, fx.room.Room)
	require.NoError(t, err)
	require.Contains(t, accepted, target)
}

func TestChangeDisplayName_RejectsRegisteredUser(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	kindBytes, _ := json.Marshal("registered")
	require.NoError(t, st.AttributeSet(ctx, fx.room, store.AttrKind, target, kindBytes))

	cmd, _ := json.Marshal(map[string]string{"type": "change_display_name", "target": target.String(), "new_name": "New Name"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeCannotChangeNameOfRegisteredUsers, lastSent(t, fx).Code)
}

func TestChangeDisplayName_RejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	kindBytes, _ := json.Marshal("guest")
	require.NoError(t, st.AttributeSet(ctx, fx.room, store.AttrKind, target, kindBytes))

	cmd, _ := json.Marshal(map[string]string{"type": "change_display_name", "target": target.String(), "new_name": "   "})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeInvalidDisplayName, lastSent(t, fx).Code)
}

func TestChangeDisplayName_GuestSucceeds(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	target := ids.New[ids.ParticipantID]()
	kindBytes, _ := json.Marshal("guest")
	require.NoError(t, st.AttributeSet(ctx, fx.room, store.AttrKind, target, kindBytes))

	cmd, _ := json.Marshal(map[string]string{"type": "change_display_name", "target": target.String(), "new_name": "Robin"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	raw, ok, err := st.AttributeGet(ctx, fx.room, store.AttrDisplayName, target)
	require.NoError(t, err)
	require.True(t, ok)
	var name string
	require.NoError(t, json.Unmarshal(raw, &name))
	require.Equal(t, "Robin", name)
}

func TestEnableDisableWaitingRoom_RequiresModerator(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("user")
	m := &Module{}

	cmd, _ := json.Marshal(map[string]string{"type": "enable_waiting_room"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeInsufficientPermissions, lastSent(t, fx).Code)
}

func TestEnableRaiseHands(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("moderator")
	m := &Module{}

	cmd, _ := json.Marshal(map[string]string{"type": "enable_raise_hands"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	enabled, err := st.RaiseHandsEnabledGet(ctx, fx.room.Room)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestOnExchange_BanTargetingSelfExits(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("user")
	m := &Module{}

	env := exchange.Envelope{Payload: mustMarshal(outgoing{Type: "banned", Target: fx.pid.String()})}
	require.NoError(t, m.onExchange(ctx, fx, env))
	require.True(t, fx.exited)
}

func TestOnExchange_BanTargetingOtherDoesNotExit(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("user")
	m := &Module{}

	env := exchange.Envelope{Payload: mustMarshal(outgoing{Type: "banned", Target: ids.New[ids.ParticipantID]().String()})}
	require.NoError(t, m.onExchange(ctx, fx, env))
	require.False(t, fx.exited)
}

func TestOnExchange_DebriefedInScopeRoleEndsSession(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("user")
	m := &Module{}

	env := exchange.Envelope{Payload: mustMarshal(outgoing{Type: "debriefed", IssuedBy: "mod-1", Scope: "user,guest"})}
	require.NoError(t, m.onExchange(ctx, fx, env))

	require.True(t, fx.exited)
	ev := lastSent(t, fx)
	require.Equal(t, "session_ended", ev.Type)
	require.Equal(t, "mod-1", ev.IssuedBy)
}

func TestOnExchange_DebriefedOutOfScopeRoleGetsDebriefingStarted(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("moderator")
	m := &Module{}

	env := exchange.Envelope{Payload: mustMarshal(outgoing{Type: "debriefed", IssuedBy: "mod-1", Scope: "user,guest"})}
	require.NoError(t, m.onExchange(ctx, fx, env))

	require.False(t, fx.exited)
	ev := lastSent(t, fx)
	require.Equal(t, "debriefing_started", ev.Type)
}
