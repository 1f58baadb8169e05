package repository

import (
	"context"
	"sync"
	"time"

	"fleetbook/internal/models"
)

// MemoryStateRepository is the in-process fallback used when Redis is down
// and in tests. Sessions do not survive a restart.
type MemoryStateRepository struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[int64]memorySession
	rates    map[int64]rateWindow
}

type memorySession struct {
	session   models.FormSession
	expiresAt time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl:      ttl,
		sessions: make(map[int64]memorySession),
		rates:    make(map[int64]rateWindow),
	}
}

func (r *MemoryStateRepository) GetSession(_ context.Context, userID int64) (*models.FormSession, error) {
	r.mu.RLock()
	entry, ok := r.sessions[userID]
	r.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		r.mu.Lock()
		delete(r.sessions, userID)
		r.mu.Unlock()
		return nil, nil
	}

	session := entry.session
	return &session, nil
}

func (r *MemoryStateRepository) SetSession(_ context.Context, session *models.FormSession) error {
	session.UpdatedAt = time.Now()
	r.mu.Lock()
	r.sessions[session.UserID] = memorySession{
		session:   *session,
		expiresAt: time.Now().Add(r.ttl),
	}
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateRepository) ClearSession(_ context.Context, userID int64) error {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateRepository) CheckRateLimit(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.rates[userID]
	if !ok || now.After(w.resetAt) {
		w = rateWindow{resetAt: now.Add(window)}
	}
	w.count++
	r.rates[userID] = w

	return w.count <= limit, nil
}
