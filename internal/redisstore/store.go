// Package redisstore implements the registry's store port on Redis via
// go-redis. This is the production backend; every operation it exposes is
// a single-key atomic Redis primitive.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Store implements domain.Store on a Redis client.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to Redis at the given URL (redis://[:password@]host:port/db)
// and verifies the connection.
func New(url string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client, logger: logger}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("GET", err)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrap("SET", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrap("DEL", err)
	}
	return nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return wrap("ZADD", err)
	}
	return nil
}

func (s *Store) ZRem(ctx context.Context, key string, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, wrap("ZREM", err)
	}
	return n > 0, nil
}

func (s *Store) ZRangeRev(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("ZREVRANGE", err)
	}
	return members, nil
}

func (s *Store) ZScore(ctx context.Context, key string, member string) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("ZSCORE", err)
	}
	return score, true, nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("ZCARD", err)
	}
	return n, nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return wrap("PUBLISH", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap("PING", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// wrap classifies a Redis failure as storage unavailability. Anything the
// client returns here (timeouts, refused connections, protocol errors) is
// recoverable only by retrying later, which is the caller's call.
func wrap(op string, err error) error {
	return domain.StorageError("redis "+op, err)
}
