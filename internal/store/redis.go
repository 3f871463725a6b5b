// Package store wraps the coordination store behind the small set of
// primitives the router needs. All routing state shared between replicas
// lives here; the router itself keeps no per-client memory.
package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/agentrouter/internal/logging"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = redis.Nil

// Store exposes the coordination-store primitives used by the routing state
// manager and the reclamation workers.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetEx sets key to value with the given expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// RecordPair pipelines a SETEX and a ZADD so a forward mapping and its
	// active-set entry are written in one round trip.
	RecordPair(ctx context.Context, key, value string, ttl time.Duration, zkey, member string, score float64) error
	// ZRem removes member from the sorted set at zkey.
	ZRem(ctx context.Context, zkey, member string) error
	// ZCount counts members of zkey with scores in [min, max].
	ZCount(ctx context.Context, zkey string, min, max int64) (int64, error)
	// ZRemRangeByScore removes members of zkey with scores in [min, max].
	ZRemRangeByScore(ctx context.Context, zkey string, min, max int64) (int64, error)
	// ZRemRangeByScoreMulti pipelines ZREMRANGEBYSCORE over several keys and
	// returns the removed count per key. Per-key errors fail the whole call.
	ZRemRangeByScoreMulti(ctx context.Context, zkeys []string, min, max int64) (map[string]int64, error)
	// Ping verifies store connectivity.
	Ping(ctx context.Context) error
}

type redisStore struct {
	client *redis.Client
}

// New builds a Store from a Redis URL, taking the auth password from the
// URL's user-info. TLS is always enabled; certificate verification is
// skipped to match the deployed store endpoints.
func New(redisURL string) (Store, error) {
	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	password, ok := parsedURL.User.Password()
	if !ok {
		return nil, fmt.Errorf("redis URL has no password in user-info")
	}

	client := redis.NewClient(&redis.Options{
		Addr:      parsedURL.Host,
		Password:  password,
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
	})

	s := &redisStore{client: client}
	if err := s.pingWithRetry(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Connected to Redis", zap.String("addr", parsedURL.Host))
	return s, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) Store {
	return &redisStore{client: client}
}

// pingWithRetry gives the store a short grace period at startup; a router
// replica often races its store at deploy time.
func (s *redisStore) pingWithRetry() error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.client.Ping(ctx).Err()
	}, bo)
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

func (s *redisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) RecordPair(ctx context.Context, key, value string, ttl time.Duration, zkey, member string, score float64) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.ZAdd(ctx, zkey, redis.Z{Score: score, Member: member})
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			return cmd.Err()
		}
	}
	return nil
}

func (s *redisStore) ZRem(ctx context.Context, zkey, member string) error {
	return s.client.ZRem(ctx, zkey, member).Err()
}

func (s *redisStore) ZCount(ctx context.Context, zkey string, min, max int64) (int64, error) {
	return s.client.ZCount(ctx, zkey, formatScore(min), formatScore(max)).Result()
}

func (s *redisStore) ZRemRangeByScore(ctx context.Context, zkey string, min, max int64) (int64, error) {
	return s.client.ZRemRangeByScore(ctx, zkey, formatScore(min), formatScore(max)).Result()
}

func (s *redisStore) ZRemRangeByScoreMulti(ctx context.Context, zkeys []string, min, max int64) (map[string]int64, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(zkeys))
	for _, zkey := range zkeys {
		cmds[zkey] = pipe.ZRemRangeByScore(ctx, zkey, formatScore(min), formatScore(max))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	removed := make(map[string]int64, len(zkeys))
	for zkey, cmd := range cmds {
		if cmd.Err() != nil {
			return nil, cmd.Err()
		}
		removed[zkey] = cmd.Val()
	}
	return removed, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func formatScore(v int64) string {
	return strconv.FormatInt(v, 10)
}
