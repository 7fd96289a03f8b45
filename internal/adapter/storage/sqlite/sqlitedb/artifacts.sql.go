package sqlitedb

import (
	"context"
	"time"
)

const getArtifact = `SELECT key, scope, path, signature, duration, has_audio, size, created_at
FROM artifacts WHERE key = ?`

func (q *Queries) GetArtifact(ctx context.Context, key string) (Artifact, error) {
	row := q.db.QueryRowContext(ctx, getArtifact, key)
	var i Artifact
	err := row.Scan(
		&i.Key,
		&i.Scope,
		&i.Path,
		&i.Signature,
		&i.Duration,
		&i.HasAudio,
		&i.Size,
		&i.CreatedAt,
	)
	return i, err
}

const upsertArtifact = `INSERT INTO artifacts (key, scope, path, signature, duration, has_audio, size, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    scope = excluded.scope,
    path = excluded.path,
    signature = excluded.signature,
    duration = excluded.duration,
    has_audio = excluded.has_audio,
    size = excluded.size,
    created_at = excluded.created_at`

type UpsertArtifactParams struct {
	Key       string
	Scope     string
	Path      string
	Signature string
	Duration  float64
	HasAudio  bool
	Size      int64
	CreatedAt time.Time
}

func (q *Queries) UpsertArtifact(ctx context.Context, arg UpsertArtifactParams) error {
	_, err := q.db.ExecContext(ctx, upsertArtifact,
		arg.Key,
		arg.Scope,
		arg.Path,
		arg.Signature,
		arg.Duration,
		arg.HasAudio,
		arg.Size,
		arg.CreatedAt,
	)
	return err
}

const deleteArtifact = `DELETE FROM artifacts WHERE key = ?`

func (q *Queries) DeleteArtifact(ctx context.Context, key string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteArtifact, key)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listArtifactsByScope = `SELECT key, scope, path, signature, duration, has_audio, size, created_at
FROM artifacts WHERE scope = ? ORDER BY created_at, key`

func (q *Queries) ListArtifactsByScope(ctx context.Context, scope string) ([]Artifact, error) {
	rows, err := q.db.QueryContext(ctx, listArtifactsByScope, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Artifact
	for rows.Next() {
		var i Artifact
		if err := rows.Scan(
			&i.Key,
			&i.Scope,
			&i.Path,
			&i.Signature,
			&i.Duration,
			&i.HasAudio,
			&i.Size,
			&i.CreatedAt,
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

const deleteAllArtifacts = `DELETE FROM artifacts`

func (q *Queries) DeleteAllArtifacts(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllArtifacts)
	return err
}
