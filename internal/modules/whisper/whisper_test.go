package whisper

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

type fakeContext struct {
	role string
	room ids.SignalingRoomID
	pid  ids.ParticipantID
	st   store.Store
	exch exchange.Exchange
	sent []json.RawMessage
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
func (f *fakeContext) Exit(int)                                              {}

type fakeRooms struct {
	created map[ids.WhisperID]bool
	deleted map[ids.WhisperID]bool
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{created: map[ids.WhisperID]bool{}, deleted: map[ids.WhisperID]bool{}}
}

func (r *fakeRooms) CreateRoom(_ context.Context, _ ids.SignalingRoomID, w ids.WhisperID) error {
	r.created[w] = true
	return nil
}
func (r *fakeRooms) DeleteRoom(_ context.Context, _ ids.SignalingRoomID, w ids.WhisperID) error {
	r.deleted[w] = true
	return nil
}
func (r *fakeRooms) IssueAccessToken(_ context.Context, _ ids.SignalingRoomID, w ids.WhisperID, _ ids.ParticipantID, _ bool) (string, error) {
	return "token-" + w.String(), nil
}

func newFixture(role string, members ...ids.ParticipantID) (*fakeContext, store.Store) {
	st := memorystore.New()
	room := ids.Base(ids.New[ids.RoomID]())
	self := ids.New[ids.ParticipantID]()
	ctx := context.Background()
	_, _ = st.ParticipantSetAdd(ctx, room, self)
	for _, p := range members {
		_, _ = st.ParticipantSetAdd(ctx, room, p)
	}
	return &fakeContext{role: role, room: room, pid: self, st: st, exch: exchange.NewLocal()}, st
}

func lastSent(t *testing.T, fx *fakeContext) outgoing {
	t.Helper()
	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[len(fx.sent)-1], &ev))
	return ev
}

func TestCreate_ProvisionsRoomAndInvitesTargets(t *testing.T) {
	ctx := context.Background()
	target := ids.New[ids.ParticipantID]()
	fx, st := newFixture("user", target)
	rooms := newFakeRooms()
	m := &Module{rooms: rooms}

	var invited json.RawMessage
	sub, err := fx.exch.Subscribe(ctx, exchange.ParticipantKey(target), func(env exchange.Envelope) { invited = env.Payload })
	require.NoError(t, err)
	defer sub.Close()

	cmd, _ := json.Marshal(map[string]any{"type": "create", "targets": []string{target.String()}})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.Len(t, rooms.created, 1)
	require.NotNil(t, invited)

	whisperIDs, err := st.WhisperIDs(ctx, fx.room)
	require.NoError(t, err)
	require.Len(t, whisperIDs, 1)

	members, err := st.WhisperGet(ctx, fx.room, whisperIDs[0])
	require.NoError(t, err)
	require.Equal(t, store.WhisperCreator, members[fx.pid])
	require.Equal(t, store.WhisperInvited, members[target])
}

func TestCreate_RejectsAbsentTarget(t *testing.T) {
	ctx := context.Background()
	fx, _ := newFixture("user")
	rooms := newFakeRooms()
	m := &Module{rooms: rooms}

	cmd, _ := json.Marshal(map[string]any{"type": "create", "targets": []string{ids.New[ids.ParticipantID]().String()}})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.Equal(t, apierr.CodeInvalidParticipantTargets, lastSent(t, fx).Code)
	require.Empty(t, rooms.created)
}

func TestAccept_RejectsUninvited(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("user")
	rooms := newFakeRooms()
	m := &Module{rooms: rooms}

	w := ids.New[ids.WhisperID]()
	require.NoError(t, st.WhisperCreate(ctx, fx.room, w, map[ids.ParticipantID]store.WhisperState{ids.New[ids.ParticipantID](): store.WhisperCreator}))

	cmd, _ := json.Marshal(map[string]any{"type": "accept", "whisper_id": w.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))
	require.Equal(t, apierr.CodeNotInvited, lastSent(t, fx).Code)
}

func TestAccept_InvitedTransitionsAndReturnsToken(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("user")
	rooms := newFakeRooms()
	m := &Module{rooms: rooms}

	w := ids.New[ids.WhisperID]()
	require.NoError(t, st.WhisperCreate(ctx, fx.room, w, map[ids.ParticipantID]store.WhisperState{fx.pid: store.WhisperInvited}))

	cmd, _ := json.Marshal(map[string]any{"type": "accept", "whisper_id": w.String()})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	ev := lastSent(t, fx)
	require.Equal(t, "whisper_token", ev.Type)
	require.NotEmpty(t, ev.Token)

	members, err := st.WhisperGet(ctx, fx.room, w)
	require.NoError(t, err)
	require.Equal(t, store.WhisperAccepted, members[fx.pid])
}

func TestLeave_DestroysRoomWhenLastMemberLeaves(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("user")
	rooms := newFakeRooms()
	m := &Module{rooms: rooms}

	w := ids.New[ids.WhisperID]()
	require.NoError(t, st.WhisperCreate(ctx, fx.room, w, map[ids.ParticipantID]store.WhisperState{fx.pid: store.WhisperCreator}))
	rooms.created[w] = true

	require.NoError(t, m.leave(ctx, fx, w))
	require.True(t, rooms.deleted[w])

	whisperIDs, err := st.WhisperIDs(ctx, fx.room)
	require.NoError(t, err)
	require.NotContains(t, whisperIDs, w)
}

func TestLeaveAll_OnlyAffectsGroupsThisParticipantBelongsTo(t *testing.T) {
	ctx := context.Background()
	fx, st := newFixture("user")
	rooms := newFakeRooms()
	m := &Module{rooms: rooms}

	mine := ids.New[ids.WhisperID]()
	other := ids.New[ids.WhisperID]()
	require.NoError(t, st.WhisperCreate(ctx, fx.room, mine, map[ids.ParticipantID]store.WhisperState{fx.pid: store.WhisperCreator}))
	require.NoError(t, st.WhisperCreate(ctx, fx.room, other, map[ids.ParticipantID]store.WhisperState{ids.New[ids.ParticipantID](): store.WhisperCreator}))

	require.NoError(t, m.leaveAll(ctx, fx))

	whisperIDs, err := st.WhisperIDs(ctx, fx.room)
	require.NoError(t, err)
	require.NotContains(t, whisperIDs, mine)
	require.Contains(t, whisperIDs, other)
}
