package policysync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/policysync"
)

func TestSubscriberAppliesUpdateFromAnotherInstance(t *testing.T) {
	ex := exchange.NewLocal()
	publisher := policysync.New(ex)
	subscriber := policysync.New(ex)

	var applied []policysync.Update
	sub, err := subscriber.Subscribe(context.Background(), func(u policysync.Update) {
		applied = append(applied, u)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, publisher.Publish(context.Background(), policysync.Update{
		Kind:    policysync.KindInviteCreated,
		Subject: "invite-1",
	}))

	require.Len(t, applied, 1)
	require.Equal(t, policysync.KindInviteCreated, applied[0].Kind)
	require.Equal(t, "invite-1", applied[0].Subject)
}

func TestInstanceIgnoresItsOwnPublishedUpdate(t *testing.T) {
	ex := exchange.NewLocal()
	sync := policysync.New(ex)

	var applied []policysync.Update
	sub, err := sync.Subscribe(context.Background(), func(u policysync.Update) {
		applied = append(applied, u)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sync.Publish(context.Background(), policysync.Update{Kind: policysync.KindEventUpdated}))

	require.Empty(t, applied, "a controller instance must not re-apply its own echoed update")
}
