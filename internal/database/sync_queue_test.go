package database

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSyncQueueLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnqueueTask(ctx, "reservation.created", 1))
	require.NoError(t, db.EnqueueTask(ctx, "reservation.decided", 2))

	n, err := db.PendingTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tasks, err := db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	// Claimed tasks are not handed out twice.
	again, err := db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Claimed tasks still count toward the backlog.
	n, err = db.PendingTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, db.MarkTaskDone(ctx, tasks[0].ID))
	require.NoError(t, db.MarkTaskFailed(ctx, tasks[1].ID, tasks[1].RetryCount, errors.New("api unavailable")))

	// The failed task is pending again but backed off into the future.
	due, err := db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err = db.PendingTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDequeueReclaimsStaleClaims(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnqueueTask(ctx, "reservation.created", 7))
	tasks, err := db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// A worker died after claiming: age the claim past the threshold.
	_, err = db.ExecContext(ctx, `UPDATE sync_queue
		SET claimed_at = datetime('now', '-20 minutes') WHERE id = ?`, tasks[0].ID)
	require.NoError(t, err)

	tasks, err = db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(7), tasks[0].ReservationID)
}

func TestFreshClaimIsNotReclaimed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnqueueTask(ctx, "reservation.created", 8))
	tasks, err := db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tasks, err = db.DequeueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
