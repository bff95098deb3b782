package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opentalk/controller/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Redis is a github.com/redis/go-redis/v9-backed Exchange, grounded on the
// teacher's internal/v1/bus.Service: publishes are wrapped in a
// github.com/sony/gobreaker circuit breaker and degrade gracefully (drop,
// log, never error the caller) when Redis is unavailable, since exchange
// delivery is a best-effort fan-out rather than authoritative state.
type Redis struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

var _ Exchange = (*Redis)(nil)

// NewRedis wraps an existing Redis client. The caller owns its lifecycle.
func NewRedis(client *redis.Client) *Redis {
	cbSettings := gobreaker.Settings{
		Name:        "redis-exchange",
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
			metrics.CircuitBreakerState.WithLabelValues("redis-exchange").Set(v)
		},
	}
	return &Redis{client: client, cb: gobreaker.NewCircuitBreaker(cbSettings)}
}

func (r *Redis) Publish(ctx context.Context, key Key, env Envelope) error {
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	_, err = r.cb.Execute(func() (any, error) {
		return nil, r.client.Publish(ctx, key.raw, data).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis-exchange").Inc()
			metrics.ExchangeEvents.WithLabelValues("publish", "breaker_open").Inc()
			slog.Warn("exchange circuit breaker open, dropping publish", "key", key.raw)
			return nil
		}
		metrics.ExchangeEvents.WithLabelValues("publish", "error").Inc()
		return err
	}
	metrics.ExchangeEvents.WithLabelValues("publish", "ok").Inc()
	return nil
}

// redisSub cancels the subscription's listener goroutine via context and
// closes the underlying PubSub connection.
type redisSub struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSub) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

func (r *Redis) Subscribe(ctx context.Context, key Key, handler Handler) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(subCtx, key.raw)

	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logUnmarshalFailure(msg.Payload, err)
					metrics.ExchangeEvents.WithLabelValues("deliver", "unmarshal_error").Inc()
					continue
				}
				metrics.ExchangeEvents.WithLabelValues("deliver", "ok").Inc()
				handler(env)
			}
		}
	}()

	return &redisSub{pubsub: pubsub, cancel: cancel}, nil
}
