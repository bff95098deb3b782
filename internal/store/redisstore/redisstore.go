// Package redisstore implements store.Store against Redis, for clustered
// deployments where signaling-room state must be visible to every
// controller pod. It follows the teacher's internal/v1/bus.Service: a
// github.com/redis/go-redis/v9 client wrapped in a github.com/sony/gobreaker
// circuit breaker, with breaker-open failures logged and surfaced rather
// than panicking the caller.
//
// Unlike bus.Service's pub/sub publish (best-effort, safe to drop on an
// open breaker), Store operations are authoritative room state, so an open
// breaker here is returned to the caller as an error instead of being
// swallowed.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/metrics"
	"github.com/opentalk/controller/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Store is a Redis-backed implementation of store.Store.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

var _ store.Store = (*Store)(nil)

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (Close).
func New(client *redis.Client) *Store {
	cbSettings := gobreaker.Settings{
		Name:        "redis-store",
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
			metrics.CircuitBreakerState.WithLabelValues("redis-store").Set(v)
		},
	}
	return &Store{client: client, cb: gobreaker.NewCircuitBreaker(cbSettings)}
}

func (s *Store) exec(ctx context.Context, label string, fn func(ctx context.Context) (any, error)) (any, error) {
	v, err := s.cb.Execute(func() (any, error) { return fn(ctx) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis-store").Inc()
			metrics.StoreOperationsTotal.WithLabelValues(label, "breaker_open").Inc()
			slog.Warn("redis store circuit breaker open", "op", label)
			return nil, fmt.Errorf("redis store unavailable: %w", err)
		}
		metrics.StoreOperationsTotal.WithLabelValues(label, "error").Inc()
		return nil, err
	}
	metrics.StoreOperationsTotal.WithLabelValues(label, "ok").Inc()
	return v, nil
}

// --- key schema ---

func kParticipants(room ids.SignalingRoomID) string { return "ot:participants:" + room.String() }
func kAttr(room ids.SignalingRoomID, attr store.AttributeID) string {
	return "ot:attr:" + room.String() + ":" + string(attr)
}
func kTariff(room ids.RoomID) string  { return "ot:tariff:" + room.String() }
func kEvent(room ids.RoomID) string   { return "ot:event:" + room.String() }
func kCreator(room ids.RoomID) string { return "ot:creator:" + room.String() }
func kPCount(room ids.RoomID) string  { return "ot:pcount:" + room.String() }
func kClosesAt(room ids.SignalingRoomID) string { return "ot:closesat:" + room.String() }
func kAlive(room ids.RoomID) string             { return "ot:alive:" + room.String() }
func kSkipWR(p ids.ParticipantID) string        { return "ot:skipwr:" + p.String() }

func chatScopeKey(scope store.ChatScope) string {
	switch scope.Kind {
	case store.ChatGroup:
		return "group:" + scope.Group
	case store.ChatPrivate:
		return "private:" + scope.Pair[0].String() + ":" + scope.Pair[1].String()
	default:
		return "global"
	}
}
func kChatHistory(room ids.SignalingRoomID, scope store.ChatScope) string {
	return "ot:chat:hist:" + room.String() + ":" + chatScopeKey(scope)
}
func kChatCorr(room ids.SignalingRoomID, p ids.ParticipantID) string {
	return "ot:chat:corr:" + room.String() + ":" + p.String()
}
func kChatEnabled(room ids.SignalingRoomID) string { return "ot:chat:enabled:" + room.String() }
func kChatLastSeen(room ids.SignalingRoomID, p ids.ParticipantID, suffix string) string {
	return "ot:chat:lastseen:" + room.String() + ":" + p.String() + ":" + suffix
}
func kChatGroupMembers(room ids.SignalingRoomID, group string) string {
	return "ot:chat:groupmembers:" + room.String() + ":" + group
}
func kWhisper(room ids.SignalingRoomID, w ids.WhisperID) string {
	return "ot:whisper:" + room.String() + ":" + w.String()
}
func kWhisperIDs(room ids.SignalingRoomID) string { return "ot:whisper:ids:" + room.String() }
func kDocInit(room ids.SignalingRoomID, ns string) string {
	return "ot:doc:init:" + room.String() + ":" + ns
}
func kDocGroup(room ids.SignalingRoomID, ns string) string {
	return "ot:doc:group:" + room.String() + ":" + ns
}
func kDocSession(room ids.SignalingRoomID, ns string) string {
	return "ot:doc:session:" + room.String() + ":" + ns
}
func kBans(room ids.RoomID) string               { return "ot:ban:" + room.String() }
func kWaitingRoom(room ids.RoomID) string         { return "ot:waitingroom:" + room.String() }
func kWaitingAccepted(room ids.RoomID) string     { return "ot:waitingaccepted:" + room.String() }
func kRaiseHandsEnabled(room ids.RoomID) string   { return "ot:raisehands:" + room.String() }
func kWaitingRoomEnabled(room ids.RoomID) string  { return "ot:waitingroomenabled:" + room.String() }

// tryInitScript atomically sets key to value only if absent, returning the
// winning value either way (spec.md invariant 6).
var tryInitScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	return cur
end
redis.call('SET', KEYS[1], ARGV[1])
return ARGV[1]
`)

func (s *Store) tryInit(ctx context.Context, label, key string, value []byte) ([]byte, error) {
	v, err := s.exec(ctx, label, func(ctx context.Context) (any, error) {
		return tryInitScript.Run(ctx, s.client, []string{key}, value).Result()
	})
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("%s: unexpected script result type %T", label, v)
	}
}

// --- ParticipantSet ---

func (s *Store) ParticipantSetExists(ctx context.Context, room ids.SignalingRoomID) (bool, error) {
	v, err := s.exec(ctx, "participant_set.exists", func(ctx context.Context) (any, error) {
		return s.client.SCard(ctx, kParticipants(room)).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(int64) > 0, nil
}

func (s *Store) ParticipantSetContains(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (bool, error) {
	v, err := s.exec(ctx, "participant_set.contains", func(ctx context.Context) (any, error) {
		return s.client.SIsMember(ctx, kParticipants(room), p.String()).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Store) ParticipantSetContainsAll(ctx context.Context, room ids.SignalingRoomID, ps []ids.ParticipantID) (bool, error) {
	for _, p := range ps {
		ok, err := s.ParticipantSetContains(ctx, room, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s *Store) ParticipantSetMembers(ctx context.Context, room ids.SignalingRoomID) ([]ids.ParticipantID, error) {
	v, err := s.exec(ctx, "participant_set.members", func(ctx context.Context) (any, error) {
		return s.client.SMembers(ctx, kParticipants(room)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]string)
	out := make([]ids.ParticipantID, 0, len(raw))
	for _, r := range raw {
		p, err := ids.ParseParticipantID(r)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ParticipantSetAdd(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (bool, error) {
	v, err := s.exec(ctx, "participant_set.add", func(ctx context.Context) (any, error) {
		return s.client.SAdd(ctx, kParticipants(room), p.String()).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(int64) > 0, nil
}

func (s *Store) ParticipantSetRemove(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "participant_set.remove", func(ctx context.Context) (any, error) {
		return s.client.SRem(ctx, kParticipants(room), p.String()).Result()
	})
	return err
}

func (s *Store) ParticipantSetDrop(ctx context.Context, room ids.SignalingRoomID) error {
	_, err := s.exec(ctx, "participant_set.drop", func(ctx context.Context) (any, error) {
		return s.client.Del(ctx, kParticipants(room)).Result()
	})
	return err
}

// --- Attributes ---

func (s *Store) AttributeGet(ctx context.Context, room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID) ([]byte, bool, error) {
	v, err := s.exec(ctx, "attributes.get", func(ctx context.Context) (any, error) {
		return s.client.HGet(ctx, kAttr(room, attr), p.String()).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v.(string)), true, nil
}

func (s *Store) AttributeGetMany(ctx context.Context, room ids.SignalingRoomID, attr store.AttributeID, ps []ids.ParticipantID) ([][]byte, error) {
	fields := make([]string, len(ps))
	for i, p := range ps {
		fields[i] = p.String()
	}
	v, err := s.exec(ctx, "attributes.get_many", func(ctx context.Context) (any, error) {
		return s.client.HMGet(ctx, kAttr(room, attr), fields...).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]any)
	out := make([][]byte, len(raw))
	for i, r := range raw {
		if r == nil {
			continue
		}
		if str, ok := r.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *Store) AttributeSet(ctx context.Context, room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID, value []byte) error {
	_, err := s.exec(ctx, "attributes.set", func(ctx context.Context) (any, error) {
		return s.client.HSet(ctx, kAttr(room, attr), p.String(), value).Result()
	})
	return err
}

func (s *Store) AttributeRemove(ctx context.Context, room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "attributes.remove", func(ctx context.Context) (any, error) {
		return s.client.HDel(ctx, kAttr(room, attr), p.String()).Result()
	})
	return err
}

func (s *Store) AttributeDrop(ctx context.Context, room ids.SignalingRoomID, attr store.AttributeID) error {
	_, err := s.exec(ctx, "attributes.drop", func(ctx context.Context) (any, error) {
		return s.client.Del(ctx, kAttr(room, attr)).Result()
	})
	return err
}

// AttributeActions runs the batch inside a single Redis pipeline (Exec),
// which Redis applies as one atomic unit against the server, matching the
// in-memory backend's single-lock semantics (spec.md testable property 8).
func (s *Store) AttributeActions(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, actions []store.Action) ([][]byte, error) {
	v, err := s.exec(ctx, "attributes.actions", func(ctx context.Context) (any, error) {
		cmds := make([]*redis.StringCmd, len(actions))
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, a := range actions {
				switch a.Kind {
				case store.ActionGet:
					cmds[i] = pipe.HGet(ctx, kAttr(room, a.Attr), p.String())
				case store.ActionSet:
					pipe.HSet(ctx, kAttr(room, a.Attr), p.String(), a.Value)
				case store.ActionDel:
					pipe.HDel(ctx, kAttr(room, a.Attr), p.String())
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		return cmds, nil
	})
	if err != nil {
		return nil, err
	}
	cmds := v.([]*redis.StringCmd)
	var results [][]byte
	for i, a := range actions {
		if a.Kind != store.ActionGet {
			continue
		}
		val, err := cmds[i].Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				results = append(results, nil)
				continue
			}
			return nil, err
		}
		results = append(results, []byte(val))
	}
	return results, nil
}

// --- Tariff / Event / Creator ---

func (s *Store) TariffTryInit(ctx context.Context, room ids.RoomID, value []byte) ([]byte, error) {
	return s.tryInit(ctx, "tariff.try_init", kTariff(room), value)
}
func (s *Store) TariffGet(ctx context.Context, room ids.RoomID) ([]byte, bool, error) {
	return s.getString(ctx, "tariff.get", kTariff(room))
}
func (s *Store) TariffDelete(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "tariff.delete", kTariff(room))
}

func (s *Store) EventTryInit(ctx context.Context, room ids.RoomID, value []byte) ([]byte, error) {
	return s.tryInit(ctx, "event.try_init", kEvent(room), value)
}
func (s *Store) EventGet(ctx context.Context, room ids.RoomID) ([]byte, bool, error) {
	return s.getString(ctx, "event.get", kEvent(room))
}
func (s *Store) EventDelete(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "event.delete", kEvent(room))
}

func (s *Store) CreatorTryInit(ctx context.Context, room ids.RoomID, value []byte) ([]byte, error) {
	return s.tryInit(ctx, "creator.try_init", kCreator(room), value)
}
func (s *Store) CreatorGet(ctx context.Context, room ids.RoomID) ([]byte, bool, error) {
	return s.getString(ctx, "creator.get", kCreator(room))
}
func (s *Store) CreatorDelete(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "creator.delete", kCreator(room))
}

func (s *Store) getString(ctx context.Context, label, key string) ([]byte, bool, error) {
	v, err := s.exec(ctx, label, func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v.(string)), true, nil
}

func (s *Store) del(ctx context.Context, label, key string) error {
	_, err := s.exec(ctx, label, func(ctx context.Context) (any, error) {
		return s.client.Del(ctx, key).Result()
	})
	return err
}

// --- ParticipantCounter ---

func (s *Store) ParticipantCounterIncr(ctx context.Context, room ids.RoomID) (int64, error) {
	v, err := s.exec(ctx, "pcount.incr", func(ctx context.Context) (any, error) {
		return s.client.Incr(ctx, kPCount(room)).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
func (s *Store) ParticipantCounterDecr(ctx context.Context, room ids.RoomID) (int64, error) {
	v, err := s.exec(ctx, "pcount.decr", func(ctx context.Context) (any, error) {
		return s.client.Decr(ctx, kPCount(room)).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
func (s *Store) ParticipantCounterGet(ctx context.Context, room ids.RoomID) (int64, error) {
	v, err := s.exec(ctx, "pcount.get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kPCount(room)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(v.(string), 10, 64)
	return n, err
}
func (s *Store) ParticipantCounterDelete(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "pcount.delete", kPCount(room))
}

// --- ClosesAt ---

func (s *Store) ClosesAtSet(ctx context.Context, room ids.SignalingRoomID, at time.Time) error {
	_, err := s.exec(ctx, "closes_at.set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kClosesAt(room), at.UnixMilli(), 0).Result()
	})
	return err
}
func (s *Store) ClosesAtGet(ctx context.Context, room ids.SignalingRoomID) (time.Time, bool, error) {
	v, err := s.exec(ctx, "closes_at.get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kClosesAt(room)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v.(string), 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
func (s *Store) ClosesAtRemove(ctx context.Context, room ids.SignalingRoomID) error {
	return s.del(ctx, "closes_at.remove", kClosesAt(room))
}

// --- SkipWaitingRoom ---

func (s *Store) SkipWaitingRoomSetWithExpiry(ctx context.Context, p ids.ParticipantID, v bool, ttl time.Duration) error {
	_, err := s.exec(ctx, "skip_wr.set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kSkipWR(p), boolStr(v), ttl).Result()
	})
	return err
}

func (s *Store) SkipWaitingRoomSetWithExpiryIfAbsent(ctx context.Context, p ids.ParticipantID, v bool, ttl time.Duration) error {
	_, err := s.exec(ctx, "skip_wr.set_if_absent", func(ctx context.Context) (any, error) {
		return s.client.SetNX(ctx, kSkipWR(p), boolStr(v), ttl).Result()
	})
	return err
}

// SkipWaitingRoomRefreshExpiry implements the sliding 120-second expiry
// (spec.md invariant 7) via EXPIRE, leaving the stored value untouched.
func (s *Store) SkipWaitingRoomRefreshExpiry(ctx context.Context, p ids.ParticipantID, ttl time.Duration) error {
	_, err := s.exec(ctx, "skip_wr.refresh", func(ctx context.Context) (any, error) {
		return s.client.Expire(ctx, kSkipWR(p), ttl).Result()
	})
	return err
}

func (s *Store) SkipWaitingRoomGet(ctx context.Context, p ids.ParticipantID) (bool, error) {
	v, err := s.exec(ctx, "skip_wr.get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kSkipWR(p)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v.(string) == "1", nil
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// --- Chat ---

func (s *Store) ChatHistoryPush(ctx context.Context, room ids.SignalingRoomID, scope store.ChatScope, message []byte) error {
	_, err := s.exec(ctx, "chat.history_push", func(ctx context.Context) (any, error) {
		return s.client.RPush(ctx, kChatHistory(room, scope), message).Result()
	})
	return err
}

func (s *Store) ChatHistoryGet(ctx context.Context, room ids.SignalingRoomID, scope store.ChatScope) ([][]byte, error) {
	v, err := s.exec(ctx, "chat.history_get", func(ctx context.Context) (any, error) {
		return s.client.LRange(ctx, kChatHistory(room, scope), 0, -1).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]string)
	out := make([][]byte, len(raw))
	for i, r := range raw {
		out[i] = []byte(r)
	}
	return out, nil
}

func (s *Store) ChatHistoryDelete(ctx context.Context, room ids.SignalingRoomID, scope store.ChatScope) error {
	return s.del(ctx, "chat.history_delete", kChatHistory(room, scope))
}

func (s *Store) ChatCorrespondentsAdd(ctx context.Context, room ids.SignalingRoomID, pair [2]ids.ParticipantID) error {
	_, err := s.exec(ctx, "chat.correspondents_add", func(ctx context.Context) (any, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, kChatCorr(room, pair[0]), pair[1].String())
			pipe.SAdd(ctx, kChatCorr(room, pair[1]), pair[0].String())
			return nil
		})
		return nil, err
	})
	return err
}

func (s *Store) ChatCorrespondents(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) ([]ids.ParticipantID, error) {
	v, err := s.exec(ctx, "chat.correspondents_get", func(ctx context.Context) (any, error) {
		return s.client.SMembers(ctx, kChatCorr(room, p)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]string)
	out := make([]ids.ParticipantID, 0, len(raw))
	for _, r := range raw {
		if peer, err := ids.ParseParticipantID(r); err == nil {
			out = append(out, peer)
		}
	}
	return out, nil
}

func (s *Store) ChatCorrespondentsDelete(ctx context.Context, room ids.SignalingRoomID) error {
	// Member keys are namespaced per participant; the room itself carries
	// no single correspondents key to delete, so this is a deliberate no-op
	// left for the room lifecycle controller to drive via per-participant
	// cleanup as each participant leaves.
	return nil
}

func (s *Store) ChatEnabledGet(ctx context.Context, room ids.SignalingRoomID) (bool, error) {
	v, err := s.exec(ctx, "chat.enabled_get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kChatEnabled(room)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, err
	}
	return v.(string) == "1", nil
}
func (s *Store) ChatEnabledSet(ctx context.Context, room ids.SignalingRoomID, enabled bool) error {
	_, err := s.exec(ctx, "chat.enabled_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kChatEnabled(room), boolStr(enabled), 0).Result()
	})
	return err
}
func (s *Store) ChatEnabledDelete(ctx context.Context, room ids.SignalingRoomID) error {
	return s.del(ctx, "chat.enabled_delete", kChatEnabled(room))
}

func (s *Store) ChatLastSeenGlobalSet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, tsMillis int64) error {
	_, err := s.exec(ctx, "chat.last_seen_global_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kChatLastSeen(room, p, "global"), tsMillis, 0).Result()
	})
	return err
}

func (s *Store) ChatLastSeenGlobalGet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (int64, bool, error) {
	v, err := s.exec(ctx, "chat.last_seen_global_get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kChatLastSeen(room, p, "global")).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, err := strconv.ParseInt(v.(string), 10, 64)
	return n, err == nil, err
}

func (s *Store) ChatLastSeenPrivateSet(ctx context.Context, room ids.SignalingRoomID, p, peer ids.ParticipantID, tsMillis int64) error {
	_, err := s.exec(ctx, "chat.last_seen_private_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kChatLastSeen(room, p, "private:"+peer.String()), tsMillis, 0).Result()
	})
	return err
}

func (s *Store) ChatLastSeenGroupSet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, group string, tsMillis int64) error {
	_, err := s.exec(ctx, "chat.last_seen_group_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kChatLastSeen(room, p, "group:"+group), tsMillis, 0).Result()
	})
	return err
}

// ChatLastSeenDeleteAll scans for last-seen keys belonging to p. Bounded by
// the small number of scopes a single participant realistically tracks per
// room, so SCAN's lack of a hard result cap is acceptable here.
func (s *Store) ChatLastSeenDeleteAll(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "chat.last_seen_delete_all", func(ctx context.Context) (any, error) {
		pattern := kChatLastSeen(room, p, "*")
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return nil, err
			}
			if len(keys) > 0 {
				if err := s.client.Del(ctx, keys...).Err(); err != nil {
					return nil, err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		return nil, nil
	})
	return err
}

// chatGroupMembershipDeltaScript applies a membership delta and reports the
// resulting count, deleting the key once it reaches zero so an empty group
// leaves no residue (spec.md §4.6).
var chatGroupMembershipDeltaScript = redis.NewScript(`
local v = tonumber(redis.call('INCRBY', KEYS[1], ARGV[1]))
if v <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
return v
`)

func (s *Store) ChatGroupMembershipIncr(ctx context.Context, room ids.SignalingRoomID, group string) (int64, error) {
	v, err := s.exec(ctx, "chat.group_membership_incr", func(ctx context.Context) (any, error) {
		return chatGroupMembershipDeltaScript.Run(ctx, s.client, []string{kChatGroupMembers(room, group)}, 1).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (s *Store) ChatGroupMembershipDecr(ctx context.Context, room ids.SignalingRoomID, group string) (int64, error) {
	v, err := s.exec(ctx, "chat.group_membership_decr", func(ctx context.Context) (any, error) {
		return chatGroupMembershipDeltaScript.Run(ctx, s.client, []string{kChatGroupMembers(room, group)}, -1).Result()
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// --- Whisper ---

func whisperStateMap(fields map[string]string) map[ids.ParticipantID]store.WhisperState {
	out := make(map[ids.ParticipantID]store.WhisperState, len(fields))
	for k, v := range fields {
		if p, err := ids.ParseParticipantID(k); err == nil {
			out[p] = store.WhisperState(v)
		}
	}
	return out
}

func (s *Store) WhisperCreate(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, members map[ids.ParticipantID]store.WhisperState) error {
	_, err := s.exec(ctx, "whisper.create", func(ctx context.Context) (any, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, kWhisper(room, w))
			for p, st := range members {
				pipe.HSet(ctx, kWhisper(room, w), p.String(), string(st))
			}
			pipe.SAdd(ctx, kWhisperIDs(room), w.String())
			return nil
		})
		return nil, err
	})
	return err
}

func (s *Store) WhisperAddParticipants(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, members map[ids.ParticipantID]store.WhisperState) error {
	_, err := s.exec(ctx, "whisper.add_participants", func(ctx context.Context) (any, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for p, st := range members {
				pipe.HSet(ctx, kWhisper(room, w), p.String(), string(st))
			}
			return nil
		})
		return nil, err
	})
	return err
}

func (s *Store) WhisperSetState(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID, state store.WhisperState) error {
	_, err := s.exec(ctx, "whisper.set_state", func(ctx context.Context) (any, error) {
		return s.client.HSet(ctx, kWhisper(room, w), p.String(), string(state)).Result()
	})
	return err
}

// whisperRemoveScript deletes a member and reports whether the group hash
// is now empty, so the caller can drop the whisper-group id set entry.
var whisperRemoveScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
local n = redis.call('HLEN', KEYS[1])
if n == 0 then
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], ARGV[2])
end
return n
`)

func (s *Store) WhisperRemove(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID) (bool, error) {
	v, err := s.exec(ctx, "whisper.remove", func(ctx context.Context) (any, error) {
		return whisperRemoveScript.Run(ctx, s.client, []string{kWhisper(room, w), kWhisperIDs(room)}, p.String(), w.String()).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(int64) == 0, nil
}

func (s *Store) WhisperGet(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID) (map[ids.ParticipantID]store.WhisperState, error) {
	v, err := s.exec(ctx, "whisper.get", func(ctx context.Context) (any, error) {
		return s.client.HGetAll(ctx, kWhisper(room, w)).Result()
	})
	if err != nil {
		return nil, err
	}
	return whisperStateMap(v.(map[string]string)), nil
}

func (s *Store) WhisperIDs(ctx context.Context, room ids.SignalingRoomID) ([]ids.WhisperID, error) {
	v, err := s.exec(ctx, "whisper.ids", func(ctx context.Context) (any, error) {
		return s.client.SMembers(ctx, kWhisperIDs(room)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]string)
	out := make([]ids.WhisperID, 0, len(raw))
	for _, r := range raw {
		u, err := uuid.Parse(r)
		if err == nil {
			out = append(out, ids.WhisperID(u))
		}
	}
	return out, nil
}

func (s *Store) WhisperDelete(ctx context.Context, room ids.SignalingRoomID, w ids.WhisperID) error {
	_, err := s.exec(ctx, "whisper.delete", func(ctx context.Context) (any, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, kWhisper(room, w))
			pipe.SRem(ctx, kWhisperIDs(room), w.String())
			return nil
		})
		return nil, err
	})
	return err
}

// --- AuthoredDoc ---

// docInitScript atomically transitions Absent->Initializing and returns the
// previous state, mirroring tryInitScript but over a small enum instead of
// an arbitrary payload.
var docInitScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	return cur
end
redis.call('SET', KEYS[1], ARGV[1])
return ''
`)

func (s *Store) DocTryStartInit(ctx context.Context, room ids.SignalingRoomID, namespace string) (store.DocInitState, error) {
	v, err := s.exec(ctx, "doc.try_start_init", func(ctx context.Context) (any, error) {
		return docInitScript.Run(ctx, s.client, []string{kDocInit(room, namespace)}, string(store.DocInitializing)).Result()
	})
	if err != nil {
		return "", err
	}
	return store.DocInitState(v.(string)), nil
}

func (s *Store) DocSetInitialized(ctx context.Context, room ids.SignalingRoomID, namespace string) error {
	_, err := s.exec(ctx, "doc.set_initialized", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kDocInit(room, namespace), string(store.DocInitialized), 0).Result()
	})
	return err
}

func (s *Store) DocInitDelete(ctx context.Context, room ids.SignalingRoomID, namespace string) error {
	return s.del(ctx, "doc.init_delete", kDocInit(room, namespace))
}

func (s *Store) DocInitGet(ctx context.Context, room ids.SignalingRoomID, namespace string) (store.DocInitState, error) {
	v, err := s.exec(ctx, "doc.init_get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kDocInit(room, namespace)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.DocAbsent, nil
		}
		return "", err
	}
	return store.DocInitState(v.(string)), nil
}

func (s *Store) DocGroupSet(ctx context.Context, room ids.SignalingRoomID, namespace string, groupHandle []byte) error {
	_, err := s.exec(ctx, "doc.group_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kDocGroup(room, namespace), groupHandle, 0).Result()
	})
	return err
}

func (s *Store) DocGroupGet(ctx context.Context, room ids.SignalingRoomID, namespace string) ([]byte, bool, error) {
	return s.getString(ctx, "doc.group_get", kDocGroup(room, namespace))
}

func (s *Store) DocSessionSet(ctx context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID, session []byte) error {
	_, err := s.exec(ctx, "doc.session_set", func(ctx context.Context) (any, error) {
		return s.client.HSet(ctx, kDocSession(room, namespace), p.String(), session).Result()
	})
	return err
}

func (s *Store) DocSessionGet(ctx context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID) ([]byte, bool, error) {
	v, err := s.exec(ctx, "doc.session_get", func(ctx context.Context) (any, error) {
		return s.client.HGet(ctx, kDocSession(room, namespace), p.String()).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(v.(string)), true, nil
}

func (s *Store) DocSessionDelete(ctx context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "doc.session_delete", func(ctx context.Context) (any, error) {
		return s.client.HDel(ctx, kDocSession(room, namespace), p.String()).Result()
	})
	return err
}

func (s *Store) DocCleanup(ctx context.Context, room ids.SignalingRoomID, namespace string) error {
	_, err := s.exec(ctx, "doc.cleanup", func(ctx context.Context) (any, error) {
		return s.client.Del(ctx, kDocInit(room, namespace), kDocGroup(room, namespace), kDocSession(room, namespace)).Result()
	})
	return err
}

// --- Moderation ---

func (s *Store) IsUserBanned(ctx context.Context, room ids.RoomID, u ids.UserID) (bool, error) {
	v, err := s.exec(ctx, "moderation.is_banned", func(ctx context.Context) (any, error) {
		return s.client.SIsMember(ctx, kBans(room), u.String()).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Store) BanUser(ctx context.Context, room ids.RoomID, u ids.UserID) error {
	_, err := s.exec(ctx, "moderation.ban_user", func(ctx context.Context) (any, error) {
		return s.client.SAdd(ctx, kBans(room), u.String()).Result()
	})
	return err
}

func (s *Store) DeleteBans(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "moderation.delete_bans", kBans(room))
}

func (s *Store) participantSetMembersOf(ctx context.Context, label, key string) ([]ids.ParticipantID, error) {
	v, err := s.exec(ctx, label, func(ctx context.Context) (any, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.([]string)
	out := make([]ids.ParticipantID, 0, len(raw))
	for _, r := range raw {
		if p, err := ids.ParseParticipantID(r); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) WaitingRoomAll(ctx context.Context, room ids.RoomID) ([]ids.ParticipantID, error) {
	return s.participantSetMembersOf(ctx, "moderation.waiting_room_all", kWaitingRoom(room))
}

func (s *Store) WaitingRoomContains(ctx context.Context, room ids.RoomID, p ids.ParticipantID) (bool, error) {
	v, err := s.exec(ctx, "moderation.waiting_room_contains", func(ctx context.Context) (any, error) {
		return s.client.SIsMember(ctx, kWaitingRoom(room), p.String()).Result()
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Store) WaitingRoomAdd(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "moderation.waiting_room_add", func(ctx context.Context) (any, error) {
		return s.client.SAdd(ctx, kWaitingRoom(room), p.String()).Result()
	})
	return err
}

func (s *Store) WaitingRoomRemove(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "moderation.waiting_room_remove", func(ctx context.Context) (any, error) {
		return s.client.SRem(ctx, kWaitingRoom(room), p.String()).Result()
	})
	return err
}

func (s *Store) DeleteWaitingRoom(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "moderation.delete_waiting_room", kWaitingRoom(room))
}

func (s *Store) WaitingRoomAcceptedAdd(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "moderation.waiting_room_accepted_add", func(ctx context.Context) (any, error) {
		return s.client.SAdd(ctx, kWaitingAccepted(room), p.String()).Result()
	})
	return err
}

func (s *Store) WaitingRoomAcceptedRemove(ctx context.Context, room ids.RoomID, p ids.ParticipantID) error {
	_, err := s.exec(ctx, "moderation.waiting_room_accepted_remove", func(ctx context.Context) (any, error) {
		return s.client.SRem(ctx, kWaitingAccepted(room), p.String()).Result()
	})
	return err
}

func (s *Store) WaitingRoomAcceptedRemoveList(ctx context.Context, room ids.RoomID, ps []ids.ParticipantID) error {
	if len(ps) == 0 {
		return nil
	}
	members := make([]any, len(ps))
	for i, p := range ps {
		members[i] = p.String()
	}
	_, err := s.exec(ctx, "moderation.waiting_room_accepted_remove_list", func(ctx context.Context) (any, error) {
		return s.client.SRem(ctx, kWaitingAccepted(room), members...).Result()
	})
	return err
}

func (s *Store) WaitingRoomAcceptedAll(ctx context.Context, room ids.RoomID) ([]ids.ParticipantID, error) {
	return s.participantSetMembersOf(ctx, "moderation.waiting_room_accepted_all", kWaitingAccepted(room))
}

func (s *Store) DeleteWaitingRoomAccepted(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "moderation.delete_waiting_room_accepted", kWaitingAccepted(room))
}

func (s *Store) RaiseHandsEnabledGet(ctx context.Context, room ids.RoomID) (bool, error) {
	v, err := s.exec(ctx, "moderation.raise_hands_enabled_get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kRaiseHandsEnabled(room)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, err
	}
	return v.(string) == "1", nil
}
func (s *Store) RaiseHandsEnabledSet(ctx context.Context, room ids.RoomID, v bool) error {
	_, err := s.exec(ctx, "moderation.raise_hands_enabled_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kRaiseHandsEnabled(room), boolStr(v), 0).Result()
	})
	return err
}
func (s *Store) RaiseHandsEnabledDelete(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "moderation.raise_hands_enabled_delete", kRaiseHandsEnabled(room))
}

func (s *Store) WaitingRoomEnabledGet(ctx context.Context, room ids.RoomID) (bool, error) {
	v, err := s.exec(ctx, "moderation.waiting_room_enabled_get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kWaitingRoomEnabled(room)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v.(string) == "1", nil
}
func (s *Store) WaitingRoomEnabledSet(ctx context.Context, room ids.RoomID, v bool) error {
	_, err := s.exec(ctx, "moderation.waiting_room_enabled_set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kWaitingRoomEnabled(room), boolStr(v), 0).Result()
	})
	return err
}
func (s *Store) WaitingRoomEnabledDelete(ctx context.Context, room ids.RoomID) error {
	return s.del(ctx, "moderation.waiting_room_enabled_delete", kWaitingRoomEnabled(room))
}

// --- Alive ---

func (s *Store) AliveSet(ctx context.Context, room ids.RoomID, alive bool) error {
	_, err := s.exec(ctx, "alive.set", func(ctx context.Context) (any, error) {
		return s.client.Set(ctx, kAlive(room), boolStr(alive), 0).Result()
	})
	return err
}

func (s *Store) AliveGet(ctx context.Context, room ids.RoomID) (bool, error) {
	v, err := s.exec(ctx, "alive.get", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, kAlive(room)).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v.(string) == "1", nil
}
