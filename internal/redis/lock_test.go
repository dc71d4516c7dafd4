package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLockerReleasesAfterRun(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)
	key := RoomKey(uuid.New())

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerRejectsConcurrentHolder(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)
	key := RoomKey(uuid.New())

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		return locker.WithLock(ctx, key, func(ctx context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestRedisLockerDoesNotDeleteForeignToken(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second)
	key := AppointmentKey(uuid.New())

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		// simulate TTL expiry and another holder taking over
		require.NoError(t, mr.Set(key, "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	key := RoomKey(uuid.New())

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		return locker.WithLock(ctx, key, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	ran := false
	require.NoError(t, locker.WithLock(context.Background(), key, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}
