package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fleetbook/internal/models"
)

const recoveryCheckInterval = time.Minute

// FailoverStateRepository wraps a primary (Redis) and a fallback (memory)
// store. After a primary failure all traffic goes to the fallback; the
// primary is probed again at most once per recoveryCheckInterval.
type FailoverStateRepository struct {
	primary  StateRepository
	fallback StateRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failure or recovery probe
}

func NewFailoverStateRepository(primary, fallback StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether this call should try the primary store.
func (r *FailoverStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := r.lastCheck.Load()
	now := time.Now()
	if now.Sub(time.Unix(0, last)) < recoveryCheckInterval {
		return false
	}
	// The compare-and-swap elects a single prober per interval.
	return r.lastCheck.CompareAndSwap(last, now.UnixNano())
}

func (r *FailoverStateRepository) markResult(err error) {
	if err != nil {
		if !r.isDown.Swap(true) {
			r.logger.Warn().Err(err).Msg("primary state store down, using fallback")
		}
		r.lastCheck.Store(time.Now().UnixNano())
		return
	}
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("primary state store recovered")
	}
}

func (r *FailoverStateRepository) GetSession(ctx context.Context, userID int64) (*models.FormSession, error) {
	if r.usePrimary() {
		session, err := r.primary.GetSession(ctx, userID)
		r.markResult(err)
		if err == nil {
			return session, nil
		}
	}
	return r.fallback.GetSession(ctx, userID)
}

func (r *FailoverStateRepository) SetSession(ctx context.Context, session *models.FormSession) error {
	if r.usePrimary() {
		err := r.primary.SetSession(ctx, session)
		r.markResult(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SetSession(ctx, session)
}

func (r *FailoverStateRepository) ClearSession(ctx context.Context, userID int64) error {
	if r.usePrimary() {
		err := r.primary.ClearSession(ctx, userID)
		r.markResult(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.ClearSession(ctx, userID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		r.markResult(err)
		if err == nil {
			return ok, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
