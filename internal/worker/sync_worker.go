package worker

import (
	"context"
	"fmt"
	"time"

	"feedbackd/internal/core"
	"feedbackd/internal/log"
	"feedbackd/internal/sheets"
)

// Archive is the slice of the SQLite archive the worker drives.
type Archive interface {
	PendingSync(ctx context.Context, limit int) ([]core.ArchivedFeedback, error)
	MarkSynced(ctx context.Context, id, ref string) error
	MarkSyncError(ctx context.Context, id string, syncErr error) error
}

// SyncResult summarises one pass over the archive.
type SyncResult struct {
	Total  int
	Synced int
	Failed int
}

// SyncWorker exports archived feedback to the spreadsheet.
type SyncWorker struct {
	archive   Archive
	sheets    sheets.FeedbackWriter
	batchSize int
	logger    *log.Logger
}

func NewSyncWorker(archive Archive, writer sheets.FeedbackWriter, batchSize int, logger *log.Logger) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 25
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		archive:   archive,
		sheets:    writer,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// ProcessPending exports one batch of unsynced rows. A failing row is
// recorded on the archive and retried on a later pass until it runs out of
// attempts; it does not stop the rest of the batch.
func (w *SyncWorker) ProcessPending(ctx context.Context) (SyncResult, error) {
	pending, err := w.archive.PendingSync(ctx, w.batchSize)
	if err != nil {
		return SyncResult{}, fmt.Errorf("get pending feedback: %w", err)
	}

	res := SyncResult{Total: len(pending)}
	if len(pending) == 0 {
		return res, nil
	}

	w.logger.InfoContext(ctx, "Processing pending feedback", log.FieldCount, len(pending))

	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.syncOne(ctx, f); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync feedback",
				log.FieldFeedbackID, f.ID,
				log.FieldError, err)
			res.Failed++
			continue
		}
		res.Synced++
	}

	return res, nil
}

// StartupSyncCheck drains the backlog left by a previous run.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	var total SyncResult
	for {
		res, err := w.ProcessPending(ctx)
		if err != nil {
			return fmt.Errorf("startup sync: %w", err)
		}
		total.Total += res.Total
		total.Synced += res.Synced
		total.Failed += res.Failed
		// Stop once a batch makes no progress so failing rows cannot spin.
		if res.Total < w.batchSize || res.Synced == 0 {
			break
		}
	}

	if total.Total == 0 {
		w.logger.InfoContext(ctx, "No pending feedback found on startup")
		return nil
	}
	w.logger.InfoContext(ctx, "Startup sync completed",
		"total", total.Total,
		"synced", total.Synced,
		"errors", total.Failed)
	return nil
}

// Run processes pending rows every interval until ctx is done.
func (w *SyncWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic sync failed", log.FieldError, err)
			}
		}
	}
}

func (w *SyncWorker) syncOne(ctx context.Context, f core.ArchivedFeedback) error {
	ref, err := w.sheets.AppendFeedback(ctx, f)
	if err != nil {
		if markErr := w.archive.MarkSyncError(ctx, f.ID, err); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error",
				log.FieldFeedbackID, f.ID,
				log.FieldError, markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	// The row is already exported; a failed mark only means a duplicate
	// row on the next pass.
	if err := w.archive.MarkSynced(ctx, f.ID, ref); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark as synced",
			log.FieldFeedbackID, f.ID,
			log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Successfully synced feedback",
		log.FieldFeedbackID, f.ID,
		log.FieldSheetsRef, ref,
		log.FieldFeedback, f.Feedback)
	return nil
}
