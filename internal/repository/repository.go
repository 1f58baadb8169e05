// Package repository holds the booking form session store. Sessions are
// short-lived scratch state for the multi-step booking form; Redis is the
// primary backend with an in-memory fallback.
package repository

import (
	"context"
	"time"

	"fleetbook/internal/models"
)

// StateRepository stores in-progress booking form sessions keyed by user and
// enforces the submission rate limit.
type StateRepository interface {
	GetSession(ctx context.Context, userID int64) (*models.FormSession, error)
	SetSession(ctx context.Context, session *models.FormSession) error
	ClearSession(ctx context.Context, userID int64) error
	// CheckRateLimit reports whether the user is still under limit for the
	// window, counting this call as an attempt.
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}
