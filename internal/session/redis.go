package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/storefront/internal/domain"
)

const (
	fieldToken    = "token"
	fieldUsername = "username"
	fieldBalance  = "balance"
)

// RedisStore keeps the session as a hash of string fields, shared by every
// process pointed at the same Redis and profile.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore stores the session under "session:<profile>". A zero ttl
// keeps it until Clear.
func NewRedisStore(client *redis.Client, profile string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    sessionKey(profile),
		ttl:    ttl,
	}
}

func (r *RedisStore) Load(ctx context.Context) (domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis hgetall failed: %w", err)
	}
	return domain.Session{
		Token:    fields[fieldToken],
		Username: fields[fieldUsername],
		Balance:  fields[fieldBalance],
	}, nil
}

func (r *RedisStore) Save(ctx context.Context, s domain.Session) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key, fieldToken, s.Token, fieldUsername, s.Username, fieldBalance, s.Balance)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return fmt.Sprintf("session:%s", profile)
}
