package ids_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/ids"
)

func TestNewProducesDistinctValuesPerCall(t *testing.T) {
	a := ids.New[ids.RoomID]()
	b := ids.New[ids.RoomID]()
	require.NotEqual(t, a, b)
}

func TestParseRoomIDRoundTripsThroughString(t *testing.T) {
	want := ids.New[ids.RoomID]()
	got, err := ids.ParseRoomID(want.String())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseRoomIDRejectsGarbage(t *testing.T) {
	_, err := ids.ParseRoomID("not-a-uuid")
	require.Error(t, err)
}

func TestParseParticipantIDRoundTrips(t *testing.T) {
	want := ids.New[ids.ParticipantID]()
	got, err := ids.ParseParticipantID(want.String())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseBreakoutRoomIDRoundTrips(t *testing.T) {
	want := ids.New[ids.BreakoutRoomID]()
	got, err := ids.ParseBreakoutRoomID(want.String())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseWhisperIDRoundTrips(t *testing.T) {
	want := ids.New[ids.WhisperID]()
	got, err := ids.ParseWhisperID(want.String())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBaseSignalingRoomIDIsNotBreakout(t *testing.T) {
	room := ids.New[ids.RoomID]()
	s := ids.Base(room)

	require.False(t, s.IsBreakout())
	require.Equal(t, room.String(), s.String())
}

func TestInBreakoutSignalingRoomIDIncludesBreakoutSuffix(t *testing.T) {
	room := ids.New[ids.RoomID]()
	breakout := ids.New[ids.BreakoutRoomID]()
	s := ids.InBreakout(room, breakout)

	require.True(t, s.IsBreakout())
	require.Equal(t, room.String()+":"+breakout.String(), s.String())
}

func TestSignalingRoomIDIsUsableAsMapKey(t *testing.T) {
	room := ids.New[ids.RoomID]()
	breakout := ids.New[ids.BreakoutRoomID]()

	m := map[ids.SignalingRoomID]int{
		ids.Base(room):                 1,
		ids.InBreakout(room, breakout): 2,
	}

	require.Equal(t, 1, m[ids.Base(room)])
	require.Equal(t, 2, m[ids.InBreakout(room, breakout)])
	require.Len(t, m, 2, "base and breakout scopes of the same room must be distinct keys")
}
