package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fjod/storefront/internal/domain"
)

var ErrTokenNotFound = errors.New("token not found")

const (
	defaultTokenTTL   = 24 * time.Hour
	maxCartTxAttempts = 10
)

// State holds login tokens and carts.
type State interface {
	IssueToken(ctx context.Context, username string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
	Cart(ctx context.Context, username string) ([]domain.CartEntry, error)
	UpdateCart(ctx context.Context, username string, fn func([]domain.CartEntry) []domain.CartEntry) ([]domain.CartEntry, error)
}

// RedisState keeps tokens as plain keys with a TTL and each cart as one JSON
// document per user.
type RedisState struct {
	client   *redis.Client
	tokenTTL time.Duration
}

func NewRedisState(client *redis.Client) *RedisState {
	return &RedisState{
		client:   client,
		tokenTTL: defaultTokenTTL,
	}
}

func (r *RedisState) IssueToken(ctx context.Context, username string) (string, error) {
	token := uuid.NewString()
	if err := r.client.Set(ctx, tokenKey(token), username, r.tokenTTL).Err(); err != nil {
		return "", fmt.Errorf("redis set failed: %w", err)
	}
	return token, nil
}

func (r *RedisState) Resolve(ctx context.Context, token string) (string, error) {
	username, err := r.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return username, nil
}

func (r *RedisState) Cart(ctx context.Context, username string) ([]domain.CartEntry, error) {
	return decodeCart(r.client.Get(ctx, cartKey(username)).Bytes())
}

func decodeCart(data []byte, err error) ([]domain.CartEntry, error) {
	if errors.Is(err, redis.Nil) {
		return []domain.CartEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	entries := []domain.CartEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return entries, nil
}

// UpdateCart applies fn to the stored cart inside a WATCH transaction and
// returns the cart as saved. Concurrent writers to the same cart are retried.
func (r *RedisState) UpdateCart(ctx context.Context, username string, fn func([]domain.CartEntry) []domain.CartEntry) ([]domain.CartEntry, error) {
	key := cartKey(username)
	var saved []domain.CartEntry

	txf := func(tx *redis.Tx) error {
		entries, err := decodeCart(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		saved = fn(entries)
		data, err := json.Marshal(saved)
		if err != nil {
			return fmt.Errorf("marshal cart failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxCartTxAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis cart update failed: %w", err)
		}
		return saved, nil
	}
	return nil, fmt.Errorf("redis cart update failed: %w", redis.TxFailedErr)
}

// OpenRedis connects to addr, or starts an embedded in-memory Redis when addr
// is empty. The returned func releases both.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, func(), error) {
	var embedded *miniredis.Miniredis
	if addr == "" {
		embedded = miniredis.NewMiniRedis()
		if err := embedded.Start(); err != nil {
			return nil, nil, fmt.Errorf("start embedded redis failed: %w", err)
		}
		addr = embedded.Addr()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		if embedded != nil {
			embedded.Close()
		}
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	closer := func() {
		client.Close()
		if embedded != nil {
			embedded.Close()
		}
	}
	return client, closer, nil
}

func tokenKey(token string) string {
	return fmt.Sprintf("token:%s", token)
}

func cartKey(username string) string {
	return fmt.Sprintf("cart:%s", username)
}
