package convstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares the value between terminals through redis.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore wraps client. ttl of zero keeps the value forever.
func NewRedisStore(client *redis.Client, baseURL string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: scopedKey(baseURL), ttl: ttl}
}

// DialRedis connects to addr and verifies it with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active conversation: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Set(ctx context.Context, conversationID string) error {
	if err := s.client.Set(ctx, s.key, conversationID, s.ttl).Err(); err != nil {
		return fmt.Errorf("write active conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear active conversation: %w", err)
	}
	return nil
}
