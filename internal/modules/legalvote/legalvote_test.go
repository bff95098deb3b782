package legalvote

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

func newFixture(role string) *fakeContext {
	return &fakeContext{role: role, room: ids.Base(ids.New[ids.RoomID]()), pid: ids.New[ids.ParticipantID](), st: memorystore.New(), exch: exchange.NewLocal()}
}

// wireTogether subscribes m's own onExchange to its own published events,
// simulating one module instance observing its own broadcasts, the way a
// single-node exchange would fan a publish back to every subscriber
// including the publisher.
func wireTogether(t *testing.T, fx *fakeContext, m *Module) {
	t.Helper()
	sub, err := fx.exch.Subscribe(context.Background(), exchange.RoomKey(fx.room), func(env exchange.Envelope) {
		_ = m.onExchange(context.Background(), fx, env)
	})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
}

func TestStart_RequiresModerator(t *testing.T) {
	fx := newFixture("user")
	m := &Module{}
	cmd, _ := json.Marshal(map[string]any{"type": "start", "choices": []string{"yes", "no"}})
	require.NoError(t, m.onCommand(context.Background(), fx, cmd))

	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[0], &ev))
	require.Equal(t, apierr.CodeInsufficientPermissions, ev.Code)
}

func TestVote_RejectedBeforeStart(t *testing.T) {
	fx := newFixture("user")
	m := &Module{}
	cmd, _ := json.Marshal(map[string]any{"type": "vote", "option": "yes"})
	require.NoError(t, m.onCommand(context.Background(), fx, cmd))

	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[0], &ev))
	require.Equal(t, apierr.CodeNotInitialized, ev.Code)
}

func TestStartVoteStop_TalliesCorrectly(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("moderator")
	m := &Module{tally: map[string]int{}}
	wireTogether(t, fx, m)

	start, _ := json.Marshal(map[string]any{"type": "start", "choices": []string{"yes", "no"}})
	require.NoError(t, m.onCommand(ctx, fx, start))
	require.True(t, m.open)

	vote, _ := json.Marshal(map[string]any{"type": "vote", "option": "yes"})
	require.NoError(t, m.onCommand(ctx, fx, vote))
	require.NoError(t, m.onCommand(ctx, fx, vote))

	stop, _ := json.Marshal(map[string]any{"type": "stop"})
	require.NoError(t, m.onCommand(ctx, fx, stop))

	var last outgoing
	require.NoError(t, json.Unmarshal(fx.sent[len(fx.sent)-1], &last))
	require.Equal(t, "stopped", last.Type)
	require.Equal(t, 2, last.Tally["yes"])
	require.Equal(t, 0, last.Tally["no"])
}

func TestVote_RejectsUnknownOption(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("moderator")
	m := &Module{tally: map[string]int{}}
	wireTogether(t, fx, m)

	start, _ := json.Marshal(map[string]any{"type": "start", "choices": []string{"yes", "no"}})
	require.NoError(t, m.onCommand(ctx, fx, start))

	vote, _ := json.Marshal(map[string]any{"type": "vote", "option": "maybe"})
	require.NoError(t, m.onCommand(ctx, fx, vote))

	var last outgoing
	require.NoError(t, json.Unmarshal(fx.sent[len(fx.sent)-1], &last))
	require.Equal(t, apierr.CodeInvalidSelection, last.Code)
}
