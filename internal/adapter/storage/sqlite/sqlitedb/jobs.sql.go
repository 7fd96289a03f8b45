package sqlitedb

import (
	"context"
	"time"
)

const insertJob = `INSERT INTO jobs (id, kind, status, item_count, track_count, output_path, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

type InsertJobParams struct {
	ID         string
	Kind       string
	Status     string
	ItemCount  int64
	TrackCount int64
	OutputPath string
	CreatedAt  time.Time
}

func (q *Queries) InsertJob(ctx context.Context, arg InsertJobParams) error {
	_, err := q.db.ExecContext(ctx, insertJob,
		arg.ID,
		arg.Kind,
		arg.Status,
		arg.ItemCount,
		arg.TrackCount,
		arg.OutputPath,
		arg.CreatedAt,
	)
	return err
}

const startJob = `UPDATE jobs SET status = 'running', started_at = ? WHERE id = ?`

type StartJobParams struct {
	StartedAt time.Time
	ID        string
}

func (q *Queries) StartJob(ctx context.Context, arg StartJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, startJob, arg.StartedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const finishJob = `UPDATE jobs
SET status = ?, output_path = ?, duration = ?, error_message = ?, completed_at = ?
WHERE id = ?`

type FinishJobParams struct {
	Status       string
	OutputPath   string
	Duration     float64
	ErrorMessage string
	CompletedAt  time.Time
	ID           string
}

func (q *Queries) FinishJob(ctx context.Context, arg FinishJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, finishJob,
		arg.Status,
		arg.OutputPath,
		arg.Duration,
		arg.ErrorMessage,
		arg.CompletedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getJob = `SELECT id, kind, status, item_count, track_count, output_path, duration, error_message, created_at, started_at, completed_at
FROM jobs WHERE id = ?`

func (q *Queries) GetJob(ctx context.Context, id string) (Job, error) {
	row := q.db.QueryRowContext(ctx, getJob, id)
	var i Job
	err := row.Scan(
		&i.ID,
		&i.Kind,
		&i.Status,
		&i.ItemCount,
		&i.TrackCount,
		&i.OutputPath,
		&i.Duration,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.StartedAt,
		&i.CompletedAt,
	)
	return i, err
}

const listRecentJobs = `SELECT id, kind, status, item_count, track_count, output_path, duration, error_message, created_at, started_at, completed_at
FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`

func (q *Queries) ListRecentJobs(ctx context.Context, limit int64) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, listRecentJobs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Job
	for rows.Next() {
		var i Job
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.Status,
			&i.ItemCount,
			&i.TrackCount,
			&i.OutputPath,
			&i.Duration,
			&i.ErrorMessage,
			&i.CreatedAt,
			&i.StartedAt,
			&i.CompletedAt,
		); err != nil {
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

const resetStalledJobs = `UPDATE jobs
SET status = 'aborted', error_message = 'interrupted by restart', completed_at = ?
WHERE status IN ('pending', 'running')`

func (q *Queries) ResetStalledJobs(ctx context.Context, completedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, resetStalledJobs, completedAt)
	return err
}
