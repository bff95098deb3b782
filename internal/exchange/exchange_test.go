package exchange_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
)

func TestLocalPublishDeliversToAllSubscribersOfAKey(t *testing.T) {
	ex := exchange.NewLocal()
	room := ids.Base(ids.New[ids.RoomID]())
	key := exchange.RoomKey(room)

	var mu sync.Mutex
	var received []string

	for _, name := range []string{"a", "b"} {
		name := name
		_, err := ex.Subscribe(context.Background(), key, func(env exchange.Envelope) {
			mu.Lock()
			received = append(received, name+":"+env.Event)
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	err := ex.Publish(context.Background(), key, exchange.Envelope{
		Namespace: "chat",
		Event:     "MessageSent",
		Payload:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a:MessageSent", "b:MessageSent"}, received)
}

func TestLocalPublishDoesNotCrossRoutingKeys(t *testing.T) {
	ex := exchange.NewLocal()
	room := ids.New[ids.RoomID]()
	p1 := ids.New[ids.ParticipantID]()
	p2 := ids.New[ids.ParticipantID]()

	var got []string
	_, err := ex.Subscribe(context.Background(), exchange.ParticipantKey(p1), func(env exchange.Envelope) {
		got = append(got, env.Event)
	})
	require.NoError(t, err)

	err = ex.Publish(context.Background(), exchange.ParticipantKey(p2), exchange.Envelope{Event: "Left"})
	require.NoError(t, err)

	require.Empty(t, got, "a publish to one participant's key must not reach another participant's subscription")
	_ = room
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	ex := exchange.NewLocal()
	key := exchange.ModuleKey("policy-sync")

	var count int
	sub, err := ex.Subscribe(context.Background(), key, func(exchange.Envelope) {
		count++
	})
	require.NoError(t, err)

	require.NoError(t, ex.Publish(context.Background(), key, exchange.Envelope{Event: "first"}))
	require.NoError(t, sub.Close())
	require.NoError(t, ex.Publish(context.Background(), key, exchange.Envelope{Event: "second"}))

	require.Equal(t, 1, count, "no further deliveries must occur after Close")
}

func TestRoomNamespaceKeyScopesByModule(t *testing.T) {
	ex := exchange.NewLocal()
	room := ids.Base(ids.New[ids.RoomID]())

	var chatGot, modGot int
	_, err := ex.Subscribe(context.Background(), exchange.RoomNamespaceKey(room, "chat"), func(exchange.Envelope) { chatGot++ })
	require.NoError(t, err)
	_, err = ex.Subscribe(context.Background(), exchange.RoomNamespaceKey(room, "moderation"), func(exchange.Envelope) { modGot++ })
	require.NoError(t, err)

	require.NoError(t, ex.Publish(context.Background(), exchange.RoomNamespaceKey(room, "chat"), exchange.Envelope{Event: "x"}))

	require.Equal(t, 1, chatGot)
	require.Equal(t, 0, modGot)
}

func TestPublishIsSynchronousAndOrderedPerPublisher(t *testing.T) {
	ex := exchange.NewLocal()
	key := exchange.ModuleKey("ordering-test")

	var mu sync.Mutex
	var seq []int
	_, err := ex.Subscribe(context.Background(), key, func(env exchange.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		var n int
		_ = json.Unmarshal(env.Payload, &n)
		seq = append(seq, n)
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(i)
		require.NoError(t, ex.Publish(context.Background(), key, exchange.Envelope{Payload: payload}))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, seq, "a single publisher's events must be observed in publish order")
}

// timeoutCtx is a small helper kept local to this file so tests don't
// depend on a shared fixture package for a one-line context.
func timeoutCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPublishWithNoSubscribersSucceeds(t *testing.T) {
	ex := exchange.NewLocal()
	err := ex.Publish(timeoutCtx(t), exchange.ModuleKey("nobody-listening"), exchange.Envelope{Event: "noop"})
	require.NoError(t, err)
}
