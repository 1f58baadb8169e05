package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fleetbook/internal/models"
)

// RedisStateRepository stores form sessions as JSON values with a TTL so
// abandoned forms expire on their own.
type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewRedisStateRepository(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *RedisStateRepository {
	return &RedisStateRepository{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("fleetbook:session:%d", userID)
}

func rateKey(userID int64) string {
	return fmt.Sprintf("fleetbook:rate:%d", userID)
}

func (r *RedisStateRepository) GetSession(ctx context.Context, userID int64) (*models.FormSession, error) {
	data, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", userID, err)
	}

	var session models.FormSession
	if err := json.Unmarshal(data, &session); err != nil {
		// A corrupt session is dropped rather than wedging the form.
		r.logger.Warn().Err(err).Int64("user_id", userID).Msg("dropping unreadable session")
		_ = r.client.Del(ctx, sessionKey(userID)).Err()
		return nil, nil
	}
	return &session, nil
}

func (r *RedisStateRepository) SetSession(ctx context.Context, session *models.FormSession) error {
	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %d: %w", session.UserID, err)
	}
	if err := r.client.Set(ctx, sessionKey(session.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set session %d: %w", session.UserID, err)
	}
	return nil
}

func (r *RedisStateRepository) ClearSession(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear session %d: %w", userID, err)
	}
	return nil
}

// CheckRateLimit uses a fixed window counter: INCR plus an expiry set on the
// first hit of the window.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	key := rateKey(userID)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr %d: %w", userID, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire %d: %w", userID, err)
		}
	}
	return count <= int64(limit), nil
}
