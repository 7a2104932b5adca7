package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "doc:"

// Redis stores each document as a JSON string. Update uses WATCH/MULTI so a
// concurrent write to any declared key aborts the transaction.
type Redis struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedis constructs a Redis-backed store.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{Client: client, Prefix: defaultRedisPrefix}
}

func (r *Redis) key(k string) string {
	if r.Prefix == "" {
		return defaultRedisPrefix + k
	}
	return r.Prefix + k
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.Client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}
	return true, decode(key, raw, dst)
}

func (r *Redis) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return unavailable(r.Client.Set(ctx, r.key(key), raw, 0).Err())
}

func (r *Redis) Update(ctx context.Context, keys []string, fn func(Tx) error) error {
	if len(keys) == 0 {
		return errors.New("docstore: update needs at least one key")
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = r.key(k)
	}

	var fnErr error
	err := r.Client.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.MGet(ctx, redisKeys...).Result()
		if err != nil {
			return err
		}
		buf := newBuffer(keys)
		for i, v := range values {
			if s, ok := v.(string); ok {
				buf.reads[keys[i]] = []byte(s)
			}
		}
		if fnErr = fn(buf); fnErr != nil {
			return fnErr
		}
		writes := buf.staged()
		if len(writes) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, w := range writes {
				p.Set(ctx, r.key(w.key), w.body, 0)
			}
			return nil
		})
		return err
	}, redisKeys...)

	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return unavailable(err)
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return unavailable(r.Client.Ping(ctx).Err())
}
