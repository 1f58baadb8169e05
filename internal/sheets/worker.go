package sheets

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fleetbook/internal/database"
)

const dequeueBatchSize = 20

// SyncWorker drains the database sync queue into the spreadsheet mirror.
type SyncWorker struct {
	db       *database.DB
	sheets   *SheetsService
	interval time.Duration
	logger   *zerolog.Logger
}

func NewSyncWorker(db *database.DB, sheets *SheetsService, interval time.Duration, logger *zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		db:       db,
		sheets:   sheets,
		interval: interval,
		logger:   logger,
	}
}

// Run processes the queue until the context is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("Sheets sync worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *SyncWorker) processBatch(ctx context.Context) {
	tasks, err := w.db.DequeueTasks(ctx, dequeueBatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("dequeue sync tasks failed")
		return
	}

	for _, task := range tasks {
		if err := w.processTask(ctx, task); err != nil {
			w.logger.Warn().Err(err).
				Int64("task_id", task.ID).
				Int64("reservation_id", task.ReservationID).
				Int("retry", task.RetryCount).
				Msg("sync task failed")
			if err := w.db.MarkTaskFailed(ctx, task.ID, task.RetryCount, err); err != nil {
				w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task failed errored")
			}
			continue
		}
		if err := w.db.MarkTaskDone(ctx, task.ID); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task done errored")
		}
	}
}

func (w *SyncWorker) processTask(ctx context.Context, task database.SyncTask) error {
	reservation, err := w.db.GetReservation(ctx, task.ReservationID)
	if err != nil {
		return err
	}
	return w.sheets.UpsertReservation(ctx, reservation)
}
