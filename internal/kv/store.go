// Package kv is the generic settings store behind the sync ledger,
// the per-clan reconciliation job blobs and the last-seen phase keys.
//
// Key scheme:
//
//	warsync:ledger:previous   single integer, no expiry
//	warsync:job:<TAG>         reconciliation job JSON, 14d TTL
//	warsync:phase:<TAG>       last observed phase, 30d TTL
//	warsync:lastwar:<TAG>     cached live war payload, 14d TTL
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the narrow settings contract the engine depends on. Absent
// keys read as ("", false, nil), never as an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const (
	KeyLedgerPrevious = "warsync:ledger:previous"

	prefixJob     = "warsync:job:"
	prefixPhase   = "warsync:phase:"
	prefixLastWar = "warsync:lastwar:"
)

func JobKey(tag string) string     { return prefixJob + tag }
func PhaseKey(tag string) string   { return prefixPhase + tag }
func LastWarKey(tag string) string { return prefixLastWar + tag }

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewClient parses a redis URL into a client. Connection health is
// checked lazily on first use.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
