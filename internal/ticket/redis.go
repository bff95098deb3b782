package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed ticket.Store. TicketTakeAndDelete uses
// GETDEL, which Redis guarantees is atomic, so two racing redemptions of
// the same ticket can never both succeed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ot:ticket:"}
}

func (r *RedisStore) key(token string) string { return r.prefix + token }

func (r *RedisStore) TicketPut(ctx context.Context, token string, payload []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(token), payload, ttl).Err()
}

func (r *RedisStore) TicketTakeAndDelete(ctx context.Context, token string) ([]byte, bool, error) {
	v, err := r.client.GetDel(ctx, r.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v), true, nil
}
