package mutex

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opentalk/controller/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// unlockScript performs a compare-and-delete: the lease is only removed if
// its value still matches the fencing token the caller presents, so a
// guard can never release a lease it no longer owns.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Redlock-style Locker over a single Redis instance, following
// the teacher's internal/v1/bus.Service pattern (gobreaker-wrapped calls,
// structured logging, graceful handling of an open breaker).
type Redis struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

var _ Locker = (*Redis)(nil)

func NewRedis(client *redis.Client) *Redis {
	cbSettings := gobreaker.Settings{
		Name:        "redis-mutex",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis-mutex").Set(v)
		},
	}
	return &Redis{client: client, cb: gobreaker.NewCircuitBreaker(cbSettings)}
}

func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (*Guard, error) {
	token := newToken()
	for attempt := 0; attempt < maxRetries; attempt++ {
		v, err := r.cb.Execute(func() (any, error) {
			return r.client.SetNX(ctx, key, token, ttl).Result()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				metrics.CircuitBreakerFailures.WithLabelValues("redis-mutex").Inc()
				slog.Warn("mutex circuit breaker open", "key", key)
			}
			return nil, err
		}
		if v.(bool) {
			metrics.MutexAcquisitions.WithLabelValues("acquired").Inc()
			return &Guard{Key: key, Token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitteredBackoff()):
		}
	}
	metrics.MutexAcquisitions.WithLabelValues("exhausted").Inc()
	return nil, ErrNotAcquired
}

func (r *Redis) Unlock(ctx context.Context, guard *Guard) error {
	_, err := r.cb.Execute(func() (any, error) {
		return unlockScript.Run(ctx, r.client, []string{guard.Key}, guard.Token).Result()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis-mutex").Inc()
			slog.Warn("mutex circuit breaker open on unlock", "key", guard.Key)
			return nil
		}
		return err
	}
	return nil
}
