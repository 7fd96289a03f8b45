package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
)

// Cache maps render signatures to produced files through an ArtifactIndex.
// Entries whose file vanished or shrank below the sanity size are dropped on
// lookup.
//
// A file taken by a Hold outlives its entry: dropping the entry only unlinks
// the index, and the file is removed when the last hold on it is released.
type Cache struct {
	index port.ArtifactIndex
	mu    sync.Mutex

	held   map[string]int
	doomed map[string]bool
}

func NewCache(index port.ArtifactIndex) *Cache {
	return &Cache{
		index:  index,
		held:   make(map[string]int),
		doomed: make(map[string]bool),
	}
}

// Hold is the set of cached files one job reads.
type Hold struct {
	c     *Cache
	paths []string
}

func (c *Cache) Hold() *Hold {
	return &Hold{c: c}
}

// add is called with c.mu held.
func (h *Hold) add(path string) {
	if h == nil || path == "" {
		return
	}
	h.paths = append(h.paths, path)
	h.c.held[path]++
}

// Release gives up every file of the hold, removing those whose entries
// were dropped meanwhile.
func (h *Hold) Release() {
	if h == nil {
		return
	}
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, path := range h.paths {
		c.held[path]--
		if c.held[path] > 0 {
			continue
		}
		delete(c.held, path)
		if c.doomed[path] {
			delete(c.doomed, path)
			removeQuietly(path)
		}
	}
	h.paths = nil
}

// Held reports whether a running job still reads path.
func (c *Cache) Held(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[path] > 0
}

func ItemKey(item *domain.MediaItem, profile domain.Profile) string {
	return digest(item.Signature() + "|" + profile.Key())
}

// AggregateKey covers the profile, every item in order and every track.
func AggregateKey(items []domain.MediaItem, tracks []domain.MusicTrack, profile domain.Profile) string {
	var sb strings.Builder
	sb.WriteString(profile.Key())
	for i := range items {
		sb.WriteString("|i:")
		sb.WriteString(items[i].Signature())
	}
	for i := range tracks {
		sb.WriteString("|t:")
		sb.WriteString(tracks[i].Signature())
	}
	return digest(sb.String())
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// LookupItem returns the cached intermediate of item, unless the item has
// pending changes.
func (c *Cache) LookupItem(item *domain.MediaItem, profile domain.Profile) (*domain.Artifact, bool) {
	return c.lookupItem(item, profile, nil)
}

func (c *Cache) lookupItem(item *domain.MediaItem, profile domain.Profile, h *Hold) (*domain.Artifact, bool) {
	if item.Pending {
		return nil, false
	}
	return c.lookup(ItemKey(item, profile), h)
}

// LookupAggregate returns the cached render of a whole job. Any pending
// item or track invalidates it.
func (c *Cache) LookupAggregate(job *domain.Job) (*domain.Artifact, bool) {
	for i := range job.Items {
		if job.Items[i].Pending {
			return nil, false
		}
	}
	for i := range job.Tracks {
		if job.Tracks[i].Pending {
			return nil, false
		}
	}
	return c.lookup(AggregateKey(job.Items, job.Tracks, job.Profile), nil)
}

func (c *Cache) lookup(key string, h *Hold) (*domain.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.index.Lookup(key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn.Printf("cache lookup %s: %v", shortKey(key), err)
		}
		return nil, false
	}
	if _, ok := domain.ValidFile(a.Path); !ok {
		c.dropLocked(key, a.Path)
		return nil, false
	}
	h.add(a.Path)
	return a, true
}

// Store records a freshly produced file under key. A previous file stored
// under the same key is deleted once no job holds it.
func (c *Cache) Store(key string, scope domain.ArtifactScope, signature, path string, duration float64, hasAudio bool) (*domain.Artifact, error) {
	return c.store(key, scope, signature, path, duration, hasAudio, nil)
}

func (c *Cache) store(key string, scope domain.ArtifactScope, signature, path string, duration float64, hasAudio bool, h *Hold) (*domain.Artifact, error) {
	size, _ := domain.ValidFile(path)
	a := &domain.Artifact{
		Key:       key,
		Scope:     scope,
		Path:      path,
		Signature: signature,
		Duration:  duration,
		HasAudio:  hasAudio,
		Size:      size,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, err := c.index.Lookup(key); err == nil && prev.Path != path {
		c.removeLocked(prev.Path)
	}
	if err := c.index.Put(a); err != nil {
		return nil, err
	}
	h.add(path)
	return a, nil
}

// Forget removes entries and their files, used to roll back an aborted job.
func (c *Cache) Forget(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		a, err := c.index.Lookup(key)
		if err != nil {
			continue
		}
		c.dropLocked(key, a.Path)
	}
}

// DropItem removes every per-item entry rendered from signature, whatever
// the profile.
func (c *Cache) DropItem(signature string) {
	c.dropScope(domain.ScopeItem, func(a domain.Artifact) bool { return a.Signature == signature })
}

// DropAggregates removes every whole-job entry.
func (c *Cache) DropAggregates() {
	c.dropScope(domain.ScopeAggregate, func(domain.Artifact) bool { return true })
}

func (c *Cache) dropScope(scope domain.ArtifactScope, match func(domain.Artifact) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.index.ListScope(scope)
	if err != nil {
		logger.Warn.Printf("cache list %s: %v", scope, err)
		return
	}
	for _, a := range entries {
		if match(a) {
			c.dropLocked(a.Key, a.Path)
		}
	}
}

func (c *Cache) dropLocked(key, path string) {
	if err := c.index.Delete(key); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn.Printf("cache delete %s: %v", shortKey(key), err)
	}
	c.removeLocked(path)
}

func (c *Cache) removeLocked(path string) {
	if path == "" {
		return
	}
	if c.held[path] > 0 {
		c.doomed[path] = true
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn.Printf("cache remove %s: %v", logger.SanitizeForLog(path), err)
	}
}

// Purge empties the index, used when the scratch area is cleared.
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Purge()
}
