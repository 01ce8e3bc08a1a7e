package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// unreachableClient points at a closed port so every command fails fast.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "progression:lock:s1", LockKey("s1"))
	assert.Equal(t, "progression:standings:w1:gold", StandingsKey("w1", "gold"))
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}

func TestStudentLock_StoreDownFailsFast(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	lock := NewStudentLock(client, StudentLockConfig{Attempts: 3}, nil)

	called := false
	err := lock.WithStudentLock(context.Background(), "s1", func(ctx context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, shared.IsStoreUnavailable(err))
	assert.False(t, called)
}

func TestStudentLock_ReentrantContextSkipsRedis(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	lock := NewStudentLock(client, DefaultStudentLockConfig(), nil)

	ctx := context.WithValue(context.Background(), heldLock{key: LockKey("s1")}, "token")
	sentinel := errors.New("inner")

	err := lock.WithStudentLock(ctx, "s1", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestStandings_RankAbsentOnMissingStore(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	s := NewStandings(client)

	_, err := s.Rank(context.Background(), "w1", "gold", "s1")
	assert.Error(t, err)
	assert.NoError(t, s.DropSeason(context.Background(), "w1", nil))
}
