package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/store"
	"github.com/opentalk/controller/internal/store/redisstore"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisstore.New(client), mr
}

func TestRedisParticipantSetAddIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	p := ids.New[ids.ParticipantID]()

	wasNew, err := s.ParticipantSetAdd(ctx, room, p)
	require.NoError(t, err)
	require.True(t, wasNew)

	wasNew, err = s.ParticipantSetAdd(ctx, room, p)
	require.NoError(t, err)
	require.False(t, wasNew)

	members, err := s.ParticipantSetMembers(ctx, room)
	require.NoError(t, err)
	require.ElementsMatch(t, []ids.ParticipantID{p}, members)
}

func TestRedisTariffTryInitSetOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	room := ids.New[ids.RoomID]()

	first, err := s.TariffTryInit(ctx, room, []byte(`{"v":1}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(first))

	second, err := s.TariffTryInit(ctx, room, []byte(`{"v":2}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(second))
}

func TestRedisSkipWaitingRoomExpiresWithoutRefresh(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	p := ids.New[ids.ParticipantID]()

	require.NoError(t, s.SkipWaitingRoomSetWithExpiry(ctx, p, true, 2*time.Second))

	v, err := s.SkipWaitingRoomGet(ctx, p)
	require.NoError(t, err)
	require.True(t, v)

	mr.FastForward(3 * time.Second)

	v, err = s.SkipWaitingRoomGet(ctx, p)
	require.NoError(t, err)
	require.False(t, v)
}

func TestRedisAttributeActionsAtomicBatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	p := ids.New[ids.ParticipantID]()

	results, err := s.AttributeActions(ctx, room, p, []store.Action{
		store.SetAction(store.AttrDisplayName, "alice"),
		store.GetAction(store.AttrDisplayName),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.JSONEq(t, `"alice"`, string(results[0]))
}

func TestRedisChatHistoryPrivatePairCanonicalization(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	a := ids.New[ids.ParticipantID]()
	b := ids.New[ids.ParticipantID]()

	scope := store.ChatScope{Kind: store.ChatPrivate, Pair: store.SortedPair(a, b)}
	require.NoError(t, s.ChatHistoryPush(ctx, room, scope, []byte(`"hi"`)))

	reverse := store.ChatScope{Kind: store.ChatPrivate, Pair: store.SortedPair(b, a)}
	got, err := s.ChatHistoryGet(ctx, room, reverse)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRedisWhisperRemoveReportsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	room := ids.Base(ids.New[ids.RoomID]())
	w := ids.New[ids.WhisperID]()
	p := ids.New[ids.ParticipantID]()

	require.NoError(t, s.WhisperCreate(ctx, room, w, map[ids.ParticipantID]store.WhisperState{
		p: store.WhisperCreator,
	}))

	empty, err := s.WhisperRemove(ctx, room, w, p)
	require.NoError(t, err)
	require.True(t, empty)
}
