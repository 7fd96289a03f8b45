// Package watcher reports changes to media source files.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the directories holding source files, since editors and
// copy tools often replace a file rather than write it in place.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]int
}

func New(debounce time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fs,
		debounce: debounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
	}, nil
}

func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] {
		return nil
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[path] = true
	return nil
}

func (w *Watcher) Unwatch(path string) error {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.files[path] {
		return nil
	}
	delete(w.files, path)
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.fs.Remove(dir); err != nil {
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[filepath.Clean(path)]
}

// Run delivers changed source paths to onChange until ctx is done. Bursts of
// events on one file are coalesced into a single call.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	defer w.fs.Close()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.watched(event.Name) {
				pending[filepath.Clean(event.Name)] = time.Now()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logger.Warn.Printf("source watcher: %v", err)
		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < w.debounce {
					continue
				}
				delete(pending, path)
				onChange(path)
			}
		}
	}
}

var _ port.SourceWatcher = (*Watcher)(nil)
