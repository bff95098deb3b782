package exchange_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/exchange"
)

func TestRedisPublishDeliversToSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ex := exchange.NewRedis(client)
	key := exchange.ModuleKey("test-topic")

	received := make(chan exchange.Envelope, 1)
	sub, err := ex.Subscribe(context.Background(), key, func(env exchange.Envelope) {
		received <- env
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ex.Publish(context.Background(), key, exchange.Envelope{
		Namespace: "chat",
		Event:     "MessageSent",
		SenderID:  "controller-1",
	}))

	select {
	case env := <-received:
		require.Equal(t, "MessageSent", env.Event)
		require.Equal(t, "controller-1", env.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRedisSubscriptionCloseStopsDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ex := exchange.NewRedis(client)
	key := exchange.ModuleKey("close-test")

	received := make(chan exchange.Envelope, 2)
	sub, err := ex.Subscribe(context.Background(), key, func(env exchange.Envelope) {
		received <- env
	})
	require.NoError(t, err)

	require.NoError(t, ex.Publish(context.Background(), key, exchange.Envelope{Event: "first"}))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	require.NoError(t, sub.Close())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ex.Publish(context.Background(), key, exchange.Envelope{Event: "second"}))

	select {
	case env := <-received:
		t.Fatalf("unexpected delivery after Close: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}
