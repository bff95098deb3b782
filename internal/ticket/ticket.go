// Package ticket implements the one-shot ticket handoff between the HTTP
// join endpoints and the WebSocket upgrade (spec.md §4.3, §4.9): a client
// calls POST /v1/rooms/{id}/start, receives an opaque ticket, then presents
// it to GET /signaling, which redeems it exactly once. Built the way the
// teacher issues opaque identifiers (google/uuid) but backed by the
// volatile store instead of a JWKS-verified bearer token, since a ticket
// is single-use process-local state rather than a signed credential.
package ticket

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opentalk/controller/internal/ids"
)

// ErrNotFound is returned by Take when the ticket does not exist or was
// already redeemed.
var ErrNotFound = errors.New("ticket: not found or already used")

const tokenLength = 64

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Payload is the join context a ticket carries from the HTTP handoff to
// the WebSocket upgrade (spec.md §4.3 "Contents").
type Payload struct {
	Room          ids.SignalingRoomID `json:"room"`
	Participant   ids.ParticipantID   `json:"participant"`
	UserID        ids.UserID          `json:"user_id,omitempty"`
	Kind          string              `json:"kind"` // User|Guest|Sip|Recorder
	Role          string              `json:"role"` // Guest|User|Moderator
	DisplayName   string              `json:"display_name"`
	AvatarURL     string              `json:"avatar_url,omitempty"`
	IsRoomOwner   bool                `json:"is_room_owner"`
	Invited       bool                `json:"invited"`
	ResumptionKey string              `json:"resumption_key,omitempty"`
	Resuming      bool                `json:"resuming,omitempty"`
	// Groups are the tenant-scoped chat groups (spec.md §4.6) this
	// participant belongs to, resolved by the out-of-scope identity/invite
	// collaborator at handoff time.
	Groups []string `json:"groups,omitempty"`
}

// Store is the narrow volatile-store slice the ticket service depends on.
// It is satisfied by the Redis GETDEL command and, in memory, by a mutex-
// guarded map delete.
type Store interface {
	TicketPut(ctx context.Context, token string, payload []byte, ttl time.Duration) error
	TicketTakeAndDelete(ctx context.Context, token string) ([]byte, bool, error)
}

// Service issues and redeems tickets.
type Service struct {
	store Store
	ttl   time.Duration
}

// NewService builds a ticket Service with the given redemption TTL
// (spec.md default: 30s).
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// Issue generates a fresh 64-character opaque token and stores payload
// under it with the service's TTL.
func (s *Service) Issue(ctx context.Context, payload Payload) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("ticket: generate token: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ticket: marshal payload: %w", err)
	}
	if err := s.store.TicketPut(ctx, token, data, s.ttl); err != nil {
		return "", fmt.Errorf("ticket: store: %w", err)
	}
	return token, nil
}

// Take atomically redeems a ticket: a second call with the same token
// always returns ErrNotFound, satisfying the spec's "at most one join per
// ticket" invariant.
func (s *Service) Take(ctx context.Context, token string) (Payload, error) {
	data, ok, err := s.store.TicketTakeAndDelete(ctx, token)
	if err != nil {
		return Payload{}, fmt.Errorf("ticket: take: %w", err)
	}
	if !ok {
		return Payload{}, ErrNotFound
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("ticket: unmarshal payload: %w", err)
	}
	return p, nil
}

func randomToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, tokenLength)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}
