package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backoff bounds between contended WATCH/MULTI attempts.
const (
	minTxBackoff = time.Millisecond
	maxTxBackoff = 50 * time.Millisecond
)

// RedisRepository stores sessions as JSON documents in Redis. Active sessions
// are indexed in a sorted set scored by creation time, which keeps ListActive
// in creation order.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository builds a repository under the given key prefix.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "qrattend"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) sessionKey(id string) string { return r.prefix + ":session:" + id }
func (r *RedisRepository) activeKey() string          { return r.prefix + ":sessions:active" }

// Create stores a new session and indexes it as active.
func (r *RedisRepository) Create(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.sessionKey(s.SessionID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session %s already exists", ErrConflict, s.SessionID)
	}
	if s.Active() {
		score := float64(s.CreatedAt.UnixNano())
		if err := r.client.ZAdd(ctx, r.activeKey(), redis.Z{Score: score, Member: s.SessionID}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a session by id.
func (r *RedisRepository) Get(ctx context.Context, id string) (Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return decodeSession(data)
}

// ListActive returns active sessions ordered by creation time.
func (r *RedisRepository) ListActive(ctx context.Context) ([]Session, error) {
	ids, err := r.client.ZRange(ctx, r.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		s, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		if s.Active() {
			out = append(out, s)
		}
	}
	return out, nil
}

// Mutate applies fn inside a WATCH/MULTI transaction. When another writer
// touched the session first the attempt is retried after a jittered backoff
// until it commits or ctx ends. fn may run more than once.
func (r *RedisRepository) Mutate(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	key := r.sessionKey(id)
	backoff := minTxBackoff
	for {
		var result Session
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			s, err := decodeSession(data)
			if err != nil {
				return err
			}
			if err := fn(&s); err != nil {
				return err
			}
			encoded, err := json.Marshal(s)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				if !s.Active() {
					pipe.ZRem(ctx, r.activeKey(), s.SessionID)
				}
				return nil
			})
			if err == nil {
				result = s
			}
			return err
		}, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return Session{}, err
		}

		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2+1)))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Session{}, fmt.Errorf("session %s: %w", id, ctx.Err())
		}
		if backoff < maxTxBackoff {
			backoff *= 2
		}
	}
}

func decodeSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.Attendees == nil {
		s.Attendees = []Attendance{}
	}
	return s, nil
}
