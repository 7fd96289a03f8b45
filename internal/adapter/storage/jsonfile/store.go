// Package jsonfile persists the live timeline between restarts.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

const fileName = "project.json"

// Store keeps the project in memory and rewrites project.json on every save.
type Store struct {
	mu      sync.Mutex
	path    string
	project *domain.Project
}

// NewStore reads dataDir/project.json. A missing or empty file yields an
// empty project; a corrupt one is an error so it is never overwritten.
func NewStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, fileName)
	project, err := readProject(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, project: project}, nil
}

func readProject(path string) (*domain.Project, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.Project{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return &domain.Project{}, nil
	}

	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &project, nil
}

func (s *Store) Load() (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project, nil
}

// Save writes p through a synced temporary file renamed over project.json,
// so a crash leaves either the old or the new document.
func (s *Store) Save(p *domain.Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save project: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save project: %w", err)
	}

	s.project = p
	return nil
}

var _ port.ProjectStore = (*Store)(nil)
