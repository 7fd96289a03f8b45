package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindPreview JobKind = "preview"
	JobKindExport  JobKind = "export"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusAborted JobStatus = "aborted"
	JobStatusFailed  JobStatus = "failed"
)

// Job is an immutable snapshot of the compilation taken at submission time.
// The live collection may keep changing; the job never sees it.
type Job struct {
	ID         string
	Kind       JobKind
	Items      []MediaItem
	Tracks     []MusicTrack
	Profile    Profile
	OutputPath string
	CreatedAt  time.Time
}

// NewJob deep-copies items and tracks so the caller may keep mutating them.
func NewJob(kind JobKind, items []*MediaItem, tracks []*MusicTrack, profile Profile, outputPath string) *Job {
	job := &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Items:      make([]MediaItem, len(items)),
		Tracks:     make([]MusicTrack, len(tracks)),
		Profile:    profile,
		OutputPath: outputPath,
		CreatedAt:  time.Now(),
	}
	for i, it := range items {
		job.Items[i] = it.Clone()
	}
	for i, t := range tracks {
		job.Tracks[i] = *t
	}
	return job
}

// ExpectedDuration sums the effective duration of every item.
func (j *Job) ExpectedDuration() float64 {
	var total float64
	for i := range j.Items {
		total += j.Items[i].EffectiveDuration()
	}
	return total
}

// JobRecord is the persisted history entry for a job.
type JobRecord struct {
	ID           string
	Kind         JobKind
	Status       JobStatus
	ItemCount    int
	TrackCount   int
	OutputPath   string
	Duration     float64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

func NewJobRecord(job *Job) *JobRecord {
	return &JobRecord{
		ID:         job.ID,
		Kind:       job.Kind,
		Status:     JobStatusPending,
		ItemCount:  len(job.Items),
		TrackCount: len(job.Tracks),
		OutputPath: job.OutputPath,
		CreatedAt:  job.CreatedAt,
	}
}
