package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/store"
	"github.com/opentalk/controller/internal/store/memory"
)

func TestParticipantSetAddIsIdempotentOnSecondCall(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	p := ids.New[ids.ParticipantID]()

	wasNew, err := s.ParticipantSetAdd(ctx, room, p)
	require.NoError(t, err)
	require.True(t, wasNew)

	wasNew, err = s.ParticipantSetAdd(ctx, room, p)
	require.NoError(t, err)
	require.False(t, wasNew, "second add of the same participant must report not-new")
}

func TestParticipantSetsAreDisjointAcrossSignalingRooms(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.New[ids.RoomID]()
	r1 := ids.Base(room)
	r2 := ids.InBreakout(room, ids.New[ids.BreakoutRoomID]())
	p := ids.New[ids.ParticipantID]()

	_, err := s.ParticipantSetAdd(ctx, r1, p)
	require.NoError(t, err)

	inR2, err := s.ParticipantSetContains(ctx, r2, p)
	require.NoError(t, err)
	require.False(t, inR2, "a participant added to one signaling room must not appear in another")
}

func TestTariffTryInitIsSetOnceAndStable(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.New[ids.RoomID]()

	first, err := s.TariffTryInit(ctx, room, []byte(`{"v":1}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(first))

	second, err := s.TariffTryInit(ctx, room, []byte(`{"v":2}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(second), "a later try_init must not overwrite the first value")
}

func TestPrivateChatHistorySortedPairIsOrderIndependent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	a := ids.New[ids.ParticipantID]()
	b := ids.New[ids.ParticipantID]()

	pair := store.SortedPair(a, b)
	scope := store.ChatScope{Kind: store.ChatPrivate, Pair: pair}
	require.NoError(t, s.ChatHistoryPush(ctx, room, scope, []byte(`{"hi":true}`)))

	// Looking the pair up in either order must canonicalize to the same key.
	reversePair := store.SortedPair(b, a)
	require.Equal(t, pair, reversePair)

	got, err := s.ChatHistoryGet(ctx, room, store.ChatScope{Kind: store.ChatPrivate, Pair: reversePair})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestAttributeActionsPreservesGetOrderAndAppliesAtomically(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	p := ids.New[ids.ParticipantID]()

	results, err := s.AttributeActions(ctx, room, p, []store.Action{
		store.SetAction(store.AttrDisplayName, "alice"),
		store.GetAction(store.AttrDisplayName),
		store.SetAction(store.AttrRole, "moderator"),
		store.GetAction(store.AttrRole),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.JSONEq(t, `"alice"`, string(results[0]))
	require.JSONEq(t, `"moderator"`, string(results[1]))

	name, ok, err := s.AttributeGet(ctx, room, store.AttrDisplayName, p)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"alice"`, string(name))
}

func TestSkipWaitingRoomExpiresWithoutRefresh(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	p := ids.New[ids.ParticipantID]()

	require.NoError(t, s.SkipWaitingRoomSetWithExpiry(ctx, p, true, 10*time.Millisecond))

	v, err := s.SkipWaitingRoomGet(ctx, p)
	require.NoError(t, err)
	require.True(t, v)

	time.Sleep(25 * time.Millisecond)
	v, err = s.SkipWaitingRoomGet(ctx, p)
	require.NoError(t, err)
	require.False(t, v, "skip-waiting-room must read back false once its expiry has elapsed")
}

func TestSkipWaitingRoomRefreshExpiryExtendsTTL(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	p := ids.New[ids.ParticipantID]()

	require.NoError(t, s.SkipWaitingRoomSetWithExpiry(ctx, p, true, 15*time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SkipWaitingRoomRefreshExpiry(ctx, p, 30*time.Millisecond))
	time.Sleep(15 * time.Millisecond)

	v, err := s.SkipWaitingRoomGet(ctx, p)
	require.NoError(t, err)
	require.True(t, v, "a refreshed expiry must keep the effect alive past the original deadline")
}

func TestChatEnabledDefaultsTrueWhenAbsent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())

	enabled, err := s.ChatEnabledGet(ctx, room)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestChatGroupMembershipDropsToZeroAndBack(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())

	n, err := s.ChatGroupMembershipIncr(ctx, room, "engineering")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.ChatGroupMembershipDecr(ctx, room, "engineering")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestWhisperRemoveReportsGroupEmpty(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	w := ids.New[ids.WhisperID]()
	p := ids.New[ids.ParticipantID]()

	require.NoError(t, s.WhisperCreate(ctx, room, w, map[ids.ParticipantID]store.WhisperState{
		p: store.WhisperCreator,
	}))

	empty, err := s.WhisperRemove(ctx, room, w, p)
	require.NoError(t, err)
	require.True(t, empty, "removing the last member must report the group empty")
}

func TestDocTryStartInitTransitionsOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())

	prev, err := s.DocTryStartInit(ctx, room, "meetingnotes")
	require.NoError(t, err)
	require.Equal(t, store.DocAbsent, prev)

	prev, err = s.DocTryStartInit(ctx, room, "meetingnotes")
	require.NoError(t, err)
	require.Equal(t, store.DocInitializing, prev, "a second caller must observe the Initializing state, not Absent")
}

func TestParticipantCounterIncrDecr(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.New[ids.RoomID]()

	n, err := s.ParticipantCounterIncr(ctx, room)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.ParticipantCounterIncr(ctx, room)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = s.ParticipantCounterDecr(ctx, room)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestModerationBanAndWaitingRoomAcceptedFlow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	room := ids.New[ids.RoomID]()
	u := ids.New[ids.UserID]()
	p := ids.New[ids.ParticipantID]()

	banned, err := s.IsUserBanned(ctx, room, u)
	require.NoError(t, err)
	require.False(t, banned)

	require.NoError(t, s.BanUser(ctx, room, u))
	banned, err = s.IsUserBanned(ctx, room, u)
	require.NoError(t, err)
	require.True(t, banned)

	require.NoError(t, s.WaitingRoomAdd(ctx, room, p))
	inWaiting, err := s.WaitingRoomContains(ctx, room, p)
	require.NoError(t, err)
	require.True(t, inWaiting)

	require.NoError(t, s.WaitingRoomRemove(ctx, room, p))
	require.NoError(t, s.WaitingRoomAcceptedAdd(ctx, room, p))
	accepted, err := s.WaitingRoomAcceptedAll(ctx, room)
	require.NoError(t, err)
	require.ElementsMatch(t, []ids.ParticipantID{p}, accepted)
}
