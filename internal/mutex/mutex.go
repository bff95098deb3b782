// Package mutex provides a Redlock-style distributed lease over a named
// key (spec.md §4.1, "Distributed mutex"), used around the participant set
// and group-membership sets where a size-crossing-zero decision must be
// race-free across pods. Built the way the teacher builds its other Redis
// primitives (internal/v1/bus.Service: a thin wrapper over redis.Client,
// gobreaker-protected, slog-logged).
package mutex

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned by Lock when all retries are exhausted without
// acquiring the lease.
var ErrNotAcquired = errors.New("mutex: lock not acquired")

const (
	maxRetries  = 20
	minBackoff  = 20 * time.Millisecond
	maxBackoff  = 60 * time.Millisecond
	defaultTTL  = 5 * time.Second
)

// Guard represents a held lease. The fencing Token proves ownership to
// Unlock, so a guard can never release a lease it doesn't hold (e.g. after
// its own TTL expired and another caller acquired it).
type Guard struct {
	Key   string
	Token string
}

// Locker is the capability a room lifecycle controller depends on to
// serialize "am I the last one out?" decisions across pods.
type Locker interface {
	// Lock blocks (subject to ctx) until the named key's lease is acquired
	// or retries are exhausted, returning ErrNotAcquired in the latter case.
	Lock(ctx context.Context, key string, ttl time.Duration) (*Guard, error)
	// Unlock releases a lease previously returned by Lock. It is a no-op,
	// not an error, if the lease already expired or was stolen.
	Unlock(ctx context.Context, guard *Guard) error
}

// WithLock acquires key with the default TTL, runs fn, and always attempts
// to release the lease afterward.
func WithLock(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) error {
	guard, err := l.Lock(ctx, key, defaultTTL)
	if err != nil {
		return err
	}
	defer func() { _ = l.Unlock(ctx, guard) }()
	return fn(ctx)
}

func newToken() string {
	return uuid.NewString()
}

func jitteredBackoff() time.Duration {
	span := maxBackoff - minBackoff
	return minBackoff + time.Duration(rand.Int64N(int64(span)))
}
