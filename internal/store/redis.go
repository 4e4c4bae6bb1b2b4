package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultUpdateRetries = 10
	scanBatchSize        = 100
)

// RedisStore keeps JSON-encoded values in Redis under a key prefix. Expiry
// is delegated to Redis, so Sweep has nothing to do.
type RedisStore[V any] struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

// NewRedisStore creates a store that namespaces every key with prefix. The
// client is owned by the caller.
func NewRedisStore[V any](client redis.UniversalClient, prefix string) *RedisStore[V] {
	return &RedisStore[V]{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultUpdateRetries,
	}
}

func (s *RedisStore[V]) key(k string) string {
	return s.prefix + k
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *RedisStore[V]) decode(raw []byte) (V, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, unavailable("decode", err)
	}
	return v, nil
}

// Get returns the value stored under key.
func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, unavailable("get", err)
	}
	v, err := s.decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set writes value with SET PX. A ttl <= 0 deletes the key.
func (s *RedisStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return unavailable("encode", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction and retries when another
// writer touched the key first.
func (s *RedisStore[V]) Update(ctx context.Context, key string, fn UpdateFunc[V]) (V, error) {
	k := s.key(key)
	var (
		result V
		fnErr  error
	)

	txf := func(tx *redis.Tx) error {
		var current V
		exists := false

		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return unavailable("get", err)
		default:
			current, err = s.decode(raw)
			if err != nil {
				return err
			}
			exists = true
		}

		next, ttl, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}

		var data []byte
		if ttl > 0 {
			data, err = json.Marshal(next)
			if err != nil {
				return unavailable("encode", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ttl <= 0 {
				pipe.Del(ctx, k)
				return nil
			}
			pipe.Set(ctx, k, data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var zero V
		if err == fnErr || errors.Is(err, ErrUnavailable) {
			return zero, err
		}
		return zero, unavailable("update", err)
	}

	var zero V
	return zero, fmt.Errorf("%w: %s after %d attempts", ErrConflict, key, s.maxRetries)
}

// Delete removes keys.
func (s *RedisStore[V]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Range walks the prefix with SCAN. Keys that expire between SCAN and GET
// are skipped.
func (s *RedisStore[V]) Range(ctx context.Context, fn func(key string, value V) bool) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		key := strings.TrimPrefix(full, s.prefix)

		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !fn(key, v) {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable("scan", err)
	}
	return nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore[V]) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Ping checks the connection.
func (s *RedisStore[V]) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close does nothing; the shared client is closed by its Backend.
func (s *RedisStore[V]) Close() error {
	return nil
}
