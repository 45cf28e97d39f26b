package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// FeedbackArchive is a row of feedback_archive.
type FeedbackArchive struct {
	ID           string
	Merchant     string
	Charge       string
	Feedback     string
	CreatedAt    string
	CompletedAt  string
	SyncedAt     sql.NullString
	SyncAttempts int64
	LastError    sql.NullString
	SheetsRef    sql.NullString
}

const archiveColumns = `id, merchant, charge, feedback, created_at, completed_at, synced_at, sync_attempts, last_error, sheets_ref`

const insertFeedback = `-- name: InsertFeedback :execrows
INSERT INTO feedback_archive (id, merchant, charge, feedback, created_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`

type InsertFeedbackParams struct {
	ID          string
	Merchant    string
	Charge      string
	Feedback    string
	CreatedAt   string
	CompletedAt string
}

func (q *Queries) InsertFeedback(ctx context.Context, arg InsertFeedbackParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertFeedback,
		arg.ID,
		arg.Merchant,
		arg.Charge,
		arg.Feedback,
		arg.CreatedAt,
		arg.CompletedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getFeedback = `-- name: GetFeedback :one
SELECT ` + archiveColumns + ` FROM feedback_archive WHERE id = ?
`

func (q *Queries) GetFeedback(ctx context.Context, id string) (FeedbackArchive, error) {
	row := q.db.QueryRowContext(ctx, getFeedback, id)
	var i FeedbackArchive
	err := scanArchive(row, &i)
	return i, err
}

const listRecentFeedback = `-- name: ListRecentFeedback :many
SELECT ` + archiveColumns + ` FROM feedback_archive
ORDER BY completed_at DESC, id DESC
LIMIT ?
`

func (q *Queries) ListRecentFeedback(ctx context.Context, limit int64) ([]FeedbackArchive, error) {
	return q.list(ctx, listRecentFeedback, limit)
}

const listUnsyncedFeedback = `-- name: ListUnsyncedFeedback :many
SELECT ` + archiveColumns + ` FROM feedback_archive
WHERE synced_at IS NULL AND sync_attempts < ?
ORDER BY completed_at ASC, id ASC
LIMIT ?
`

type ListUnsyncedFeedbackParams struct {
	MaxAttempts int64
	Limit       int64
}

func (q *Queries) ListUnsyncedFeedback(ctx context.Context, arg ListUnsyncedFeedbackParams) ([]FeedbackArchive, error) {
	return q.list(ctx, listUnsyncedFeedback, arg.MaxAttempts, arg.Limit)
}

const markFeedbackSynced = `-- name: MarkFeedbackSynced :execrows
UPDATE feedback_archive
SET synced_at = ?, sheets_ref = ?, last_error = NULL
WHERE id = ?
`

type MarkFeedbackSyncedParams struct {
	SyncedAt  string
	SheetsRef string
	ID        string
}

func (q *Queries) MarkFeedbackSynced(ctx context.Context, arg MarkFeedbackSyncedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markFeedbackSynced, arg.SyncedAt, arg.SheetsRef, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markFeedbackSyncError = `-- name: MarkFeedbackSyncError :execrows
UPDATE feedback_archive
SET sync_attempts = sync_attempts + 1, last_error = ?
WHERE id = ?
`

type MarkFeedbackSyncErrorParams struct {
	LastError string
	ID        string
}

func (q *Queries) MarkFeedbackSyncError(ctx context.Context, arg MarkFeedbackSyncErrorParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markFeedbackSyncError, arg.LastError, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countUnsyncedFeedback = `-- name: CountUnsyncedFeedback :one
SELECT COUNT(*) FROM feedback_archive WHERE synced_at IS NULL
`

func (q *Queries) CountUnsyncedFeedback(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnsyncedFeedback)
	var count int64
	err := row.Scan(&count)
	return count, err
}

func (q *Queries) list(ctx context.Context, query string, args ...interface{}) ([]FeedbackArchive, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FeedbackArchive
	for rows.Next() {
		var i FeedbackArchive
		if err := scanArchive(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArchive(s scanner, i *FeedbackArchive) error {
	return s.Scan(
		&i.ID,
		&i.Merchant,
		&i.Charge,
		&i.Feedback,
		&i.CreatedAt,
		&i.CompletedAt,
		&i.SyncedAt,
		&i.SyncAttempts,
		&i.LastError,
		&i.SheetsRef,
	)
}
