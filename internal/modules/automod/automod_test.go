package automod

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

func wireTogether(t *testing.T, fx *fakeContext, m *Module) {
	t.Helper()
	sub, err := fx.exch.Subscribe(context.Background(), exchange.RoomKey(fx.room), func(env exchange.Envelope) {
		_ = m.onExchange(context.Background(), fx, env)
	})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
}

func TestSetRules_RequiresModerator(t *testing.T) {
	fx := newFixture("user")
	m := &Module{}
	cmd, _ := json.Marshal(map[string]any{"type": "set_rules", "keywords": []string{"spam"}})
	require.NoError(t, m.onCommand(context.Background(), fx, cmd))

	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[0], &ev))
	require.Equal(t, apierr.CodeInsufficientPermissions, ev.Code)
}

func TestSetRules_UpdatesLocalKeywordState(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("moderator")
	m := &Module{}
	wireTogether(t, fx, m)

	cmd, _ := json.Marshal(map[string]any{"type": "set_rules", "keywords": []string{"spam", "scam"}})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.Equal(t, []string{"spam", "scam"}, m.keywords)
}

func TestFlag_RejectsEmptyMessageID(t *testing.T) {
	fx := newFixture("user")
	m := &Module{}
	cmd, _ := json.Marshal(map[string]any{"type": "flag"})
	require.NoError(t, m.onCommand(context.Background(), fx, cmd))

	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[0], &ev))
	require.Equal(t, apierr.CodeInvalidSelection, ev.Code)
}

func TestFlag_BroadcastsToRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("user")
	m := &Module{}

	var received json.RawMessage
	sub, err := fx.exch.Subscribe(ctx, exchange.RoomKey(fx.room), func(env exchange.Envelope) { received = env.Payload })
	require.NoError(t, err)
	defer sub.Close()

	cmd, _ := json.Marshal(map[string]any{"type": "flag", "message_id": "abc", "reason": "spam"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.NotNil(t, received)
	var ev outgoing
	require.NoError(t, json.Unmarshal(received, &ev))
	require.Equal(t, "flagged", ev.Type)
	require.Equal(t, "abc", ev.MessageID)
	require.Equal(t, fx.pid.String(), ev.Reporter)
}
