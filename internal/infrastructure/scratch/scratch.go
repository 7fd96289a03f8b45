// Package scratch owns the directory holding disposable pipeline files:
// cached intermediates, preview aggregates and per-job workspaces.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
)

const (
	cacheDir = "cache"
	jobsDir  = "jobs"
)

var ErrLowSpace = errors.New("scratch volume is low on free space")

// Area is the scratch directory handle. It is created once at startup and
// threaded through the pipeline.
type Area struct {
	root string
}

// New creates the scratch directory if needed and clears whatever a previous
// run left behind.
func New(root string) (*Area, error) {
	if root == "" {
		return nil, fmt.Errorf("scratch root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch root: %w", err)
	}
	a := &Area{root: abs}
	if err := a.Clear(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Area) Root() string {
	return a.root
}

// Clear removes every file under the area and recreates its layout.
func (a *Area) Clear() error {
	if err := os.MkdirAll(a.root, 0755); err != nil {
		return fmt.Errorf("create scratch root: %w", err)
	}
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return fmt.Errorf("read scratch root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.root, e.Name())); err != nil {
			return fmt.Errorf("clear scratch entry %s: %w", e.Name(), err)
		}
	}
	for _, dir := range []string{cacheDir, jobsDir} {
		if err := os.MkdirAll(filepath.Join(a.root, dir), 0755); err != nil {
			return fmt.Errorf("create scratch %s: %w", dir, err)
		}
	}
	return nil
}

// Close clears the area at shutdown.
func (a *Area) Close() error {
	return a.Clear()
}

// CachePath returns a fresh, collision-free path in the cache directory.
// The key prefix only helps humans reading the directory.
func (a *Area) CachePath(key string) string {
	if len(key) > 12 {
		key = key[:12]
	}
	return filepath.Join(a.root, cacheDir, uniqueName(key, ".mp4"))
}

// JobDir creates the workspace of one job.
func (a *Area) JobDir(jobID string) (string, error) {
	dir := filepath.Join(a.root, jobsDir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create job workspace: %w", err)
	}
	return dir, nil
}

// RemoveJobDir deletes the workspace of one job and everything in it.
func (a *Area) RemoveJobDir(jobID string) error {
	return os.RemoveAll(filepath.Join(a.root, jobsDir, jobID))
}

// TempPath returns a unique path inside dir.
func (a *Area) TempPath(dir, prefix, ext string) string {
	return filepath.Join(dir, uniqueName(prefix, ext))
}

// Contains reports whether path lies inside the area.
func (a *Area) Contains(path string) bool {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Files lists every regular file currently in the area.
func (a *Area) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// EnsureFree fails with ErrLowSpace when the volume holding the area has
// less than minBytes available.
func (a *Area) EnsureFree(minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	usage, err := disk.Usage(a.root)
	if err != nil {
		return fmt.Errorf("stat scratch volume: %w", err)
	}
	if usage.Free < minBytes {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrLowSpace, usage.Free, minBytes)
	}
	return nil
}

func uniqueName(prefix, ext string) string {
	if prefix == "" {
		return uuid.NewString() + ext
	}
	return prefix + "-" + uuid.NewString() + ext
}
