package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"feedbackd/internal/core"
	"feedbackd/internal/feedback"

	_ "modernc.org/sqlite"
)

// MaxSyncAttempts stops retrying export of a row after this many failures.
const MaxSyncAttempts = 5

// timeLayout keeps stored timestamps lexicographically ordered.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository archives resolved feedback.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record archives a result. Recording the same id twice keeps the first row.
func (r *SQLiteRepository) Record(ctx context.Context, result core.FeedbackResult) error {
	a := result.Archive()
	n, err := r.queries.InsertFeedback(ctx, InsertFeedbackParams{
		ID:          a.ID,
		Merchant:    a.Merchant,
		Charge:      a.Charge.String(),
		Feedback:    a.Feedback,
		CreatedAt:   formatTime(a.CreatedAt),
		CompletedAt: formatTime(a.CompletedAt),
	})
	if err != nil {
		return fmt.Errorf("insert feedback %s: %w", a.ID, err)
	}

	if n > 0 {
		slog.InfoContext(ctx, "Feedback archived",
			"feedback_id", a.ID,
			"merchant", a.Merchant,
			"feedback", a.Feedback)
	}
	return nil
}

// FeedbackResolved implements feedback.ResolveListener
func (r *SQLiteRepository) FeedbackResolved(ctx context.Context, result core.FeedbackResult) error {
	return r.Record(ctx, result)
}

// Get returns one archived row.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.ArchivedFeedback, error) {
	row, err := r.queries.GetFeedback(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ArchivedFeedback{}, core.ErrNotFound
	}
	if err != nil {
		return core.ArchivedFeedback{}, fmt.Errorf("get feedback %s: %w", id, err)
	}
	return toArchived(row)
}

// Recent returns up to limit archived rows, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]core.ArchivedFeedback, error) {
	rows, err := r.queries.ListRecentFeedback(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}
	return toArchivedList(rows)
}

// PendingSync returns up to limit rows not yet exported, oldest first.
func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int) ([]core.ArchivedFeedback, error) {
	rows, err := r.queries.ListUnsyncedFeedback(ctx, ListUnsyncedFeedbackParams{
		MaxAttempts: MaxSyncAttempts,
		Limit:       int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list unsynced feedback: %w", err)
	}
	return toArchivedList(rows)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, ref string) error {
	n, err := r.queries.MarkFeedbackSynced(ctx, MarkFeedbackSyncedParams{
		SyncedAt:  formatTime(r.now()),
		SheetsRef: ref,
		ID:        id,
	})
	if err != nil {
		return fmt.Errorf("mark feedback %s synced: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark feedback %s synced: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string, syncErr error) error {
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}
	n, err := r.queries.MarkFeedbackSyncError(ctx, MarkFeedbackSyncErrorParams{
		LastError: msg,
		ID:        id,
	})
	if err != nil {
		return fmt.Errorf("mark feedback %s sync error: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark feedback %s sync error: %w", id, core.ErrNotFound)
	}
	return nil
}

// CountUnsynced reports how many rows still wait for export.
func (r *SQLiteRepository) CountUnsynced(ctx context.Context) (int64, error) {
	return r.queries.CountUnsyncedFeedback(ctx)
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func toArchivedList(rows []FeedbackArchive) ([]core.ArchivedFeedback, error) {
	out := make([]core.ArchivedFeedback, 0, len(rows))
	for _, row := range rows {
		a, err := toArchived(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func toArchived(row FeedbackArchive) (core.ArchivedFeedback, error) {
	charge, err := decimal.NewFromString(row.Charge)
	if err != nil {
		return core.ArchivedFeedback{}, fmt.Errorf("parse charge of %s: %w", row.ID, err)
	}
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return core.ArchivedFeedback{}, fmt.Errorf("parse created_at of %s: %w", row.ID, err)
	}
	completed, err := parseTime(row.CompletedAt)
	if err != nil {
		return core.ArchivedFeedback{}, fmt.Errorf("parse completed_at of %s: %w", row.ID, err)
	}

	a := core.ArchivedFeedback{
		ID:           row.ID,
		Merchant:     row.Merchant,
		Charge:       charge,
		Feedback:     row.Feedback,
		CreatedAt:    created,
		CompletedAt:  completed,
		SyncAttempts: int(row.SyncAttempts),
		SheetsRef:    row.SheetsRef.String,
	}
	if row.SyncedAt.Valid {
		synced, err := parseTime(row.SyncedAt.String)
		if err != nil {
			return core.ArchivedFeedback{}, fmt.Errorf("parse synced_at of %s: %w", row.ID, err)
		}
		a.SyncedAt = &synced
	}
	return a, nil
}

var _ feedback.ResolveListener = (*SQLiteRepository)(nil)
