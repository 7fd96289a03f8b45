package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/bnema/montage/internal/adapter/storage/sqlite/sqlitedb"
	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the SQLite database holding the artifact index, job history and
// the operator account.
type Store struct {
	db      *sql.DB
	queries *sqlitedb.Queries
	now     func() time.Time
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
				"PRAGMA cache_size = -8000", // 8MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	dbPath := filepath.Join(dataDir, "montage.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:      db,
		queries: sqlitedb.New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Artifact index

func (s *Store) Lookup(key string) (*domain.Artifact, error) {
	row, err := s.queries.GetArtifact(context.Background(), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a := artifactFromRow(row)
	return &a, nil
}

func (s *Store) Put(a *domain.Artifact) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	return s.queries.UpsertArtifact(context.Background(), sqlitedb.UpsertArtifactParams{
		Key:       a.Key,
		Scope:     string(a.Scope),
		Path:      a.Path,
		Signature: a.Signature,
		Duration:  a.Duration,
		HasAudio:  a.HasAudio,
		Size:      a.Size,
		CreatedAt: created.UTC(),
	})
}

func (s *Store) Delete(key string) error {
	n, err := s.queries.DeleteArtifact(context.Background(), key)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListScope(scope domain.ArtifactScope) ([]domain.Artifact, error) {
	rows, err := s.queries.ListArtifactsByScope(context.Background(), string(scope))
	if err != nil {
		return nil, err
	}
	result := make([]domain.Artifact, len(rows))
	for i, row := range rows {
		result[i] = artifactFromRow(row)
	}
	return result, nil
}

// Purge empties the index. The files it pointed at are gone with the
// scratch area.
func (s *Store) Purge() error {
	return s.queries.DeleteAllArtifacts(context.Background())
}

// Users

func (s *Store) HasUser() (bool, error) {
	n, err := s.queries.CountUsers(context.Background())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetUser(username string) (*domain.User, error) {
	row, err := s.queries.GetUserByUsername(context.Background(), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return userFromRow(row), nil
}

func (s *Store) GetUserByID(id int64) (*domain.User, error) {
	row, err := s.queries.GetUserByID(context.Background(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return userFromRow(row), nil
}

func (s *Store) CreateUser(username, passwordHash string) error {
	return s.queries.InsertUser(context.Background(), sqlitedb.InsertUserParams{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	})
}

func (s *Store) UpdatePassword(id int64, passwordHash string) error {
	n, err := s.queries.UpdateUserPassword(context.Background(), sqlitedb.UpdateUserPasswordParams{
		PasswordHash: passwordHash,
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

// Helper conversions

func artifactFromRow(row sqlitedb.Artifact) domain.Artifact {
	return domain.Artifact{
		Key:       row.Key,
		Scope:     domain.ArtifactScope(row.Scope),
		Path:      row.Path,
		Signature: row.Signature,
		Duration:  row.Duration,
		HasAudio:  row.HasAudio,
		Size:      row.Size,
		CreatedAt: row.CreatedAt,
	}
}

func userFromRow(row sqlitedb.User) *domain.User {
	return &domain.User{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
	}
}

var (
	_ port.ArtifactIndex = (*Store)(nil)
	_ port.UserStore     = (*Store)(nil)
)
