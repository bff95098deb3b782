package recording

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

func TestStart_RequiresModerator(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("user")
	m := &Module{}

	var received json.RawMessage
	sub, err := fx.exch.Subscribe(ctx, exchange.RoomKey(fx.room), func(env exchange.Envelope) { received = env.Payload })
	require.NoError(t, err)
	defer sub.Close()

	cmd, _ := json.Marshal(map[string]string{"type": "start"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.Nil(t, received)
	require.NotEmpty(t, fx.sent)
	var ev outgoing
	require.NoError(t, json.Unmarshal(fx.sent[0], &ev))
	require.Equal(t, apierr.CodeInsufficientPermissions, ev.Code)
}

func TestStart_ModeratorPublishesRecordingStarted(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("moderator")
	m := &Module{}

	var received json.RawMessage
	sub, err := fx.exch.Subscribe(ctx, exchange.RoomKey(fx.room), func(env exchange.Envelope) { received = env.Payload })
	require.NoError(t, err)
	defer sub.Close()

	cmd, _ := json.Marshal(map[string]string{"type": "start"})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	require.NotNil(t, received)
	var ev outgoing
	require.NoError(t, json.Unmarshal(received, &ev))
	require.Equal(t, "recording_started", ev.Type)
}

func TestConsent_SetsAttributeAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("user")
	m := &Module{}

	var received json.RawMessage
	sub, err := fx.exch.Subscribe(ctx, exchange.RoomKey(fx.room), func(env exchange.Envelope) { received = env.Payload })
	require.NoError(t, err)
	defer sub.Close()

	cmd, _ := json.Marshal(map[string]any{"type": "consent", "granted": true})
	require.NoError(t, m.onCommand(ctx, fx, cmd))

	val, ok, err := fx.st.AttributeGet(ctx, fx.room, store.AttrRecordingConsent, fx.pid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", string(val))

	require.NotNil(t, received)
	var ev outgoing
	require.NoError(t, json.Unmarshal(received, &ev))
	require.Equal(t, "consent_updated", ev.Type)
	require.True(t, ev.Granted)
}

func TestOnDestroy_DropsConsentAttribute(t *testing.T) {
	ctx := context.Background()
	fx := newFixture("moderator")
	m := &Module{}

	require.NoError(t, fx.st.AttributeSet(ctx, fx.room, store.AttrRecordingConsent, fx.pid, []byte("true")))
	require.NoError(t, m.OnDestroy(ctx, fx, module.CleanupGlobal))

	_, ok, err := fx.st.AttributeGet(ctx, fx.room, store.AttrRecordingConsent, fx.pid)
	require.NoError(t, err)
	require.False(t, ok)
}
