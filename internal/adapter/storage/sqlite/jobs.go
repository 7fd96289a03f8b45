package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bnema/montage/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

// JobStore records the history of submitted jobs.
type JobStore struct {
	store   *Store
	queries *sqlitedb.Queries
}

func NewJobStore(store *Store) *JobStore {
	return &JobStore{
		store:   store,
		queries: store.queries,
	}
}

func (j *JobStore) Create(rec *domain.JobRecord) error {
	ctx := context.Background()
	created := rec.CreatedAt
	if created.IsZero() {
		created = j.store.now()
	}
	return j.queries.InsertJob(ctx, sqlitedb.InsertJobParams{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		Status:     string(rec.Status),
		ItemCount:  int64(rec.ItemCount),
		TrackCount: int64(rec.TrackCount),
		OutputPath: rec.OutputPath,
		CreatedAt:  created.UTC(),
	})
}

func (j *JobStore) MarkRunning(id string) error {
	ctx := context.Background()
	n, err := j.queries.StartJob(ctx, sqlitedb.StartJobParams{StartedAt: j.store.now(), ID: id})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (j *JobStore) Finish(id string, status domain.JobStatus, outputPath string, duration float64, errMsg string) error {
	ctx := context.Background()
	n, err := j.queries.FinishJob(ctx, sqlitedb.FinishJobParams{
		Status:       string(status),
		OutputPath:   outputPath,
		Duration:     duration,
		ErrorMessage: errMsg,
		CompletedAt:  j.store.now(),
		ID:           id,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (j *JobStore) Get(id string) (*domain.JobRecord, error) {
	ctx := context.Background()
	row, err := j.queries.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return jobFromRow(row), nil
}

func (j *JobStore) ListRecent(limit int) ([]*domain.JobRecord, error) {
	ctx := context.Background()
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.queries.ListRecentJobs(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	result := make([]*domain.JobRecord, len(rows))
	for i, row := range rows {
		result[i] = jobFromRow(row)
	}
	return result, nil
}

// ResetStalled marks jobs left unfinished by a previous process as aborted.
func (j *JobStore) ResetStalled() error {
	ctx := context.Background()
	return j.queries.ResetStalledJobs(ctx, j.store.now())
}

func jobFromRow(row sqlitedb.Job) *domain.JobRecord {
	return &domain.JobRecord{
		ID:           row.ID,
		Kind:         domain.JobKind(row.Kind),
		Status:       domain.JobStatus(row.Status),
		ItemCount:    int(row.ItemCount),
		TrackCount:   int(row.TrackCount),
		OutputPath:   row.OutputPath,
		Duration:     row.Duration,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
	}
}

var _ port.JobStore = (*JobStore)(nil)
