package repository

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbook/internal/models"
)

func newRedisRepo(t *testing.T) (*RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zerolog.New(io.Discard)
	return NewRedisStateRepository(client, 30*time.Minute, &logger), mr
}

func TestRedisStateRepository_Sessions(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRedisRepo(t)

	session := &models.FormSession{
		UserID: 42,
		Step:   3,
		Fields: map[string]string{
			"pickup_date": "11.03.2025",
			"pickup_time": "08:00",
		},
	}
	require.NoError(t, repo.SetSession(ctx, session))

	got, err := repo.GetSession(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Step)
	assert.Equal(t, "08:00", got.Fields["pickup_time"])

	// Sessions expire with the configured TTL.
	mr.FastForward(31 * time.Minute)
	got, err = repo.GetSession(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStateRepository_ClearSession(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRedisRepo(t)

	require.NoError(t, repo.SetSession(ctx, &models.FormSession{UserID: 1, Step: 1}))
	require.NoError(t, repo.ClearSession(ctx, 1))

	got, err := repo.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStateRepository_CorruptSessionDropped(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRedisRepo(t)

	require.NoError(t, mr.Set(sessionKey(9), "{not json"))

	got, err := repo.GetSession(ctx, 9)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists(sessionKey(9)))
}

func TestRedisStateRepository_RateLimit(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRedisRepo(t)

	for i := 0; i < 2; i++ {
		ok, err := repo.CheckRateLimit(ctx, 5, 2, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := repo.CheckRateLimit(ctx, 5, 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// The window resets after expiry.
	mr.FastForward(time.Hour + time.Minute)
	ok, err = repo.CheckRateLimit(ctx, 5, 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}
