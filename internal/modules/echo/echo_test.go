package echo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
	memorystore "github.com/opentalk/controller/internal/store/memory"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	pid  ids.ParticipantID
	room ids.SignalingRoomID
	st   store.Store
	sent []json.RawMessage
}

func (f *fakeContext) WsSend(_ context.Context, _ module.Namespace, event json.RawMessage) error {
	f.sent = append(f.sent, event)
	return nil
}
func (f *fakeContext) ExchangePublish(context.Context, exchange.Key, json.RawMessage) error { return nil }
func (f *fakeContext) InvalidateData(context.Context) error                                { return nil }
func (f *fakeContext) AddExchangeBinding(context.Context, exchange.Key) error               { return nil }
func (f *fakeContext) Timestamp() time.Time                                                { return time.Now() }
func (f *fakeContext) Role() string                                                         { return "user" }
func (f *fakeContext) Store() store.Store                                                   { return f.st }
func (f *fakeContext) Room() ids.SignalingRoomID                                            { return f.room }
func (f *fakeContext) Participant() ids.ParticipantID                                       { return f.pid }
func (f *fakeContext) Exit(int)                                                             {}

func TestOnEvent_ReflectsCommand(t *testing.T) {
	m := &Module{}
	fx := &fakeContext{pid: ids.New[ids.ParticipantID](), room: ids.Base(ids.New[ids.RoomID]()), st: memorystore.New()}

	cmd, _ := json.Marshal(map[string]string{"type": "ping"})
	_, err := m.OnEvent(context.Background(), fx, module.WsMessage{Command: cmd})
	require.NoError(t, err)
	require.Len(t, fx.sent, 1)
	require.JSONEq(t, string(cmd), string(fx.sent[0]))
}

func TestOnEvent_IgnoresNonWsMessageEvents(t *testing.T) {
	m := &Module{}
	fx := &fakeContext{pid: ids.New[ids.ParticipantID](), room: ids.Base(ids.New[ids.RoomID]()), st: memorystore.New()}

	_, err := m.OnEvent(context.Background(), fx, module.Leaving{})
	require.NoError(t, err)
	require.Empty(t, fx.sent)
}
