// Package livekitcreds is the "livekit credentials" module named in
// spec.md §4.5: a whisper.RoomProvisioner backed by a real LiveKit
// deployment, narrowed to room lifecycle and access-token minting (the
// full WebRTC session signaling the teacher's pkg/sfu.SFUClient does is
// out of scope here, same as for whisper itself). Grounded on the
// teacher's gobreaker-wrapped gRPC client (pkg/sfu/client.go) and on the
// livekit/protocol auth.AccessToken pattern used elsewhere in the pack.
package livekitcreds

import (
	"context"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/sony/gobreaker"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/metrics"
)

const breakerName = "livekit"

// Client mints LiveKit rooms and access tokens for the whisper module,
// wrapping every call in a circuit breaker the way the teacher wraps
// its SFU gRPC calls.
type Client struct {
	apiKey, apiSecret string
	rooms             *lksdk.RoomServiceClient
	cb                *gobreaker.CircuitBreaker
}

// New dials a LiveKit server at url, authenticating room-service calls
// with apiKey/apiSecret.
func New(url, apiKey, apiSecret string) *Client {
	st := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(v)
		},
	}
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		rooms:     lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		cb:        gobreaker.NewCircuitBreaker(st),
	}
}

func roomName(room ids.SignalingRoomID, w ids.WhisperID) string {
	return room.String() + ":" + w.String()
}

// CreateRoom satisfies whisper.RoomProvisioner.
func (c *Client) CreateRoom(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID) error {
	_, err := c.cb.Execute(func() (any, error) {
		return c.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{Name: roomName(room, w)})
	})
	return unwrapBreaker(err)
}

// DeleteRoom satisfies whisper.RoomProvisioner.
func (c *Client) DeleteRoom(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID) error {
	_, err := c.cb.Execute(func() (any, error) {
		return c.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName(room, w)})
	})
	return unwrapBreaker(err)
}

// IssueAccessToken satisfies whisper.RoomProvisioner. It mints a JWT
// scoped to one room and one participant identity, valid for the
// lifetime of a typical whisper session.
func (c *Client) IssueAccessToken(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID, canPublish bool) (string, error) {
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName(room, w),
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}
	at := auth.NewAccessToken(c.apiKey, c.apiSecret).
		SetVideoGrant(grant).
		SetIdentity(p.String()).
		SetValidFor(2 * time.Hour)
	return at.ToJWT()
}

// Ping verifies the LiveKit room service is reachable, for readiness checks
// (spec.md ambient health surface).
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) {
		return c.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{})
	})
	return unwrapBreaker(err)
}

func unwrapBreaker(err error) error {
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues(breakerName).Inc()
	}
	return err
}
