package manifest

import (
	"sync"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

// Store keeps a headless project in memory. Nothing outlives the process.
type Store struct {
	mu      sync.Mutex
	project *domain.Project
}

func NewStore() *Store {
	return &Store{project: &domain.Project{}}
}

func (s *Store) Load() (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project, nil
}

func (s *Store) Save(p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = p
	return nil
}

var _ port.ProjectStore = (*Store)(nil)
