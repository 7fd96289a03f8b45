package port

import "github.com/bnema/montage/internal/domain"

// ArtifactIndex maps cache keys to produced files.
type ArtifactIndex interface {
	Lookup(key string) (*domain.Artifact, error)
	Put(a *domain.Artifact) error
	Delete(key string) error
	ListScope(scope domain.ArtifactScope) ([]domain.Artifact, error)
	Purge() error
}

type JobStore interface {
	Create(rec *domain.JobRecord) error
	MarkRunning(id string) error
	Finish(id string, status domain.JobStatus, outputPath string, duration float64, errMsg string) error
	Get(id string) (*domain.JobRecord, error)
	ListRecent(limit int) ([]*domain.JobRecord, error)
	ResetStalled() error
}

type ProjectStore interface {
	Load() (*domain.Project, error)
	Save(p *domain.Project) error
}
