package sqlitedb

import (
	"database/sql"
	"time"
)

type Artifact struct {
	Key       string
	Scope     string
	Path      string
	Signature string
	Duration  float64
	HasAudio  bool
	Size      int64
	CreatedAt time.Time
}

type Job struct {
	ID           string
	Kind         string
	Status       string
	ItemCount    int64
	TrackCount   int64
	OutputPath   string
	Duration     float64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
