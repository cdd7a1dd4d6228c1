package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/storefront/internal/domain"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "alice", ttl), mr
}

func TestRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t, 0)
	exerciseStore(t, store)
}

func TestRedisStore_StoresStringFields(t *testing.T) {
	store, mr := setupTestRedis(t, 0)

	require.NoError(t, store.Save(context.Background(), sample))

	assert.Equal(t, "testtoken", mr.HGet("session:alice", "token"))
	assert.Equal(t, "crio.do", mr.HGet("session:alice", "username"))
	assert.Equal(t, "5000", mr.HGet("session:alice", "balance"))
	assert.Zero(t, mr.TTL("session:alice"))
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := setupTestRedis(t, time.Hour)

	require.NoError(t, store.Save(context.Background(), sample))
	assert.Equal(t, time.Hour, mr.TTL("session:alice"))

	mr.FastForward(2 * time.Hour)
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Session{}, got)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	store, mr := setupTestRedis(t, 0)
	mr.Close()

	_, err := store.Load(context.Background())
	require.ErrorContains(t, err, "redis hgetall failed")
}

func TestSessionKey_Format(t *testing.T) {
	assert.Equal(t, "session:alice", sessionKey("alice"))
	assert.Equal(t, "session:default", sessionKey(""))
}
