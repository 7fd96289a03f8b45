package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
)

// ItemEdit carries the fields a caller may change on an item. Nil fields
// are left untouched.
type ItemEdit struct {
	Start           *float64 `json:"start,omitempty"`
	End             *float64 `json:"end,omitempty"`
	DisplayDuration *float64 `json:"display_duration,omitempty"`
	Rotation        *int     `json:"rotation,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

// Submitter accepts jobs. *TaskRunner implements it.
type Submitter interface {
	Submit(job *domain.Job) (*Handle, error)
}

// Timeline is the live, editable compilation. Every mutation invalidates the
// cache entries it affects and is persisted.
type Timeline struct {
	mu      sync.Mutex
	project *domain.Project

	store    port.ProjectStore
	prober   port.Prober
	tags     port.TagReader
	watcher  port.SourceWatcher
	cache    *Cache
	runner   Submitter
	preview  domain.Profile
	export   domain.Profile
	shuffler func(n int, swap func(i, j int))
}

type TimelineOption func(*Timeline)

func WithTagReader(r port.TagReader) TimelineOption {
	return func(t *Timeline) { t.tags = r }
}

func WithSourceWatcher(w port.SourceWatcher) TimelineOption {
	return func(t *Timeline) { t.watcher = w }
}

func WithProfiles(preview, export domain.Profile) TimelineOption {
	return func(t *Timeline) {
		t.preview = preview
		t.export = export
	}
}

// NewTimeline loads the persisted project.
func NewTimeline(store port.ProjectStore, prober port.Prober, cache *Cache, runner Submitter, opts ...TimelineOption) (*Timeline, error) {
	project, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	t := &Timeline{
		project:  project,
		store:    store,
		prober:   prober,
		cache:    cache,
		runner:   runner,
		preview:  domain.PreviewProfile(),
		export:   domain.ExportProfile(),
		shuffler: rand.Shuffle,
	}
	for _, opt := range opts {
		opt(t)
	}

	// Artifacts do not survive a restart: the scratch area is cleared.
	for _, item := range t.project.Items {
		item.ArtifactPath = ""
		if item.Status != domain.CacheError {
			item.Status = domain.CacheAbsent
		}
		item.Pending = true
	}
	if t.watcher != nil {
		for _, path := range t.sourcesLocked() {
			if err := t.watcher.Watch(path); err != nil {
				logger.Warn.Printf("watch %s: %v", logger.SanitizeForLog(path), err)
			}
		}
	}
	return t, nil
}

// Items returns copies of the items in order.
func (t *Timeline) Items() []domain.MediaItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := make([]domain.MediaItem, len(t.project.Items))
	for i, it := range t.project.Items {
		items[i] = it.Clone()
	}
	return items
}

func (t *Timeline) Tracks() []domain.MusicTrack {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracks := make([]domain.MusicTrack, len(t.project.Tracks))
	for i, tr := range t.project.Tracks {
		tracks[i] = *tr
	}
	return tracks
}

func (t *Timeline) Item(id string) (domain.MediaItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, item, err := t.findItem(id)
	if err != nil {
		return domain.MediaItem{}, err
	}
	return item.Clone(), nil
}

// TotalDuration is the expected length of a render of the current items.
func (t *Timeline) TotalDuration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, it := range t.project.Items {
		total += it.EffectiveDuration()
	}
	return total
}

// AddItem probes path and appends it. A probe failure rejects the item.
func (t *Timeline) AddItem(ctx context.Context, path string) (domain.MediaItem, error) {
	path, err := cleanSourcePath(path)
	if err != nil {
		return domain.MediaItem{}, err
	}
	if domain.IsAudioFile(path) {
		return domain.MediaItem{}, &domain.ProbeError{Path: path, Err: fmt.Errorf("%w: audio files are music tracks", domain.ErrWrongKind)}
	}

	result, err := t.prober.Probe(ctx, path)
	if err != nil {
		return domain.MediaItem{}, asProbeError(path, err)
	}
	if result.VideoStream() == nil {
		return domain.MediaItem{}, &domain.ProbeError{Path: path, Err: fmt.Errorf("no video stream")}
	}

	meta := result.Metadata()
	var item *domain.MediaItem
	if domain.DetectItemKind(path) == domain.ItemKindImage {
		item = domain.NewImageItem(path, meta)
	} else {
		if meta.Duration <= 0 {
			return domain.MediaItem{}, &domain.ProbeError{Path: path, Err: fmt.Errorf("unknown duration")}
		}
		item = domain.NewVideoItem(path, meta)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.project.Items = append(t.project.Items, item)
	t.cache.DropAggregates()
	t.watch(path)
	logger.Info.Printf("item added: id=%s kind=%s path=%s", item.ID, item.Kind, logger.SanitizeForLog(path))
	return item.Clone(), t.saveLocked()
}

func (t *Timeline) RemoveItem(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, item, err := t.findItem(id)
	if err != nil {
		return err
	}
	t.project.Items = append(t.project.Items[:idx], t.project.Items[idx+1:]...)
	t.dropItemArtifact(item.Signature())
	t.cache.DropAggregates()
	t.unwatch(item.SourcePath)
	return t.saveLocked()
}

// MoveItem moves an item to index, clamped to the list bounds.
func (t *Timeline) MoveItem(id string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, item, err := t.findItem(id)
	if err != nil {
		return err
	}
	items := append(t.project.Items[:from:from], t.project.Items[from+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(items) {
		index = len(items)
	}
	items = append(items[:index], append([]*domain.MediaItem{item}, items[index:]...)...)
	t.project.Items = items
	t.cache.DropAggregates()
	return t.saveLocked()
}

// Shuffle randomizes the item order.
func (t *Timeline) Shuffle() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := t.project.Items
	t.shuffler(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	t.cache.DropAggregates()
	return t.saveLocked()
}

// EditItem applies every non-nil field of edit atomically.
func (t *Timeline) EditItem(id string, edit ItemEdit) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error {
		if edit.Start != nil || edit.End != nil {
			start, end := item.Start, item.End
			if edit.Start != nil {
				start = *edit.Start
			}
			if edit.End != nil {
				end = *edit.End
			}
			if err := item.SetTrim(start, end); err != nil {
				return err
			}
		}
		if edit.DisplayDuration != nil {
			if err := item.SetDisplayDuration(*edit.DisplayDuration); err != nil {
				return err
			}
		}
		if edit.Rotation != nil {
			if err := item.SetRotation(*edit.Rotation); err != nil {
				return err
			}
		}
		if edit.Speed != nil {
			if err := item.SetSpeed(*edit.Speed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Timeline) SetTrim(id string, start, end float64) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error { return item.SetTrim(start, end) })
}

func (t *Timeline) SetDisplayDuration(id string, seconds float64) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error { return item.SetDisplayDuration(seconds) })
}

func (t *Timeline) SetRotation(id string, deg int) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error { return item.SetRotation(deg) })
}

func (t *Timeline) SetSpeed(id string, factor float64) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error { return item.SetSpeed(factor) })
}

func (t *Timeline) AddEffect(id string, e domain.Effect) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error { return item.AddEffect(e) })
}

func (t *Timeline) RemoveEffect(id string, index int) (domain.MediaItem, error) {
	return t.mutateItem(id, func(item *domain.MediaItem) error { return item.RemoveEffect(index) })
}

// mutateItem applies fn to a copy and commits it only when fn succeeds, so a
// rejected edit leaves the item and its artifact untouched.
func (t *Timeline) mutateItem(id string, fn func(*domain.MediaItem) error) (domain.MediaItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, item, err := t.findItem(id)
	if err != nil {
		return domain.MediaItem{}, err
	}
	next := item.Clone()
	if err := fn(&next); err != nil {
		return domain.MediaItem{}, err
	}

	t.dropItemArtifact(item.Signature())
	t.cache.DropAggregates()
	t.project.Items[idx] = &next
	return next.Clone(), t.saveLocked()
}

// AddTrack probes an audio file and appends it as a music track.
func (t *Timeline) AddTrack(ctx context.Context, path string) (domain.MusicTrack, error) {
	path, err := cleanSourcePath(path)
	if err != nil {
		return domain.MusicTrack{}, err
	}
	result, err := t.prober.Probe(ctx, path)
	if err != nil {
		return domain.MusicTrack{}, asProbeError(path, err)
	}
	if result.AudioStream() == nil {
		return domain.MusicTrack{}, &domain.ProbeError{Path: path, Err: fmt.Errorf("no audio stream")}
	}

	track := domain.NewMusicTrack(path, result.Duration())
	track.Pending = true
	if t.tags != nil {
		title, artist, err := t.tags.ReadTags(path)
		if err != nil {
			logger.Debug.Printf("no tags for %s: %v", logger.SanitizeForLog(path), err)
		}
		track.Title, track.Artist = title, artist
	}
	if track.Title == "" {
		track.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.project.Tracks = append(t.project.Tracks, track)
	t.cache.DropAggregates()
	t.watch(path)
	return *track, t.saveLocked()
}

func (t *Timeline) UpdateTrack(id string, edit domain.TrackEdit) (domain.MusicTrack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, track, err := t.findTrack(id)
	if err != nil {
		return domain.MusicTrack{}, err
	}
	if err := track.Apply(edit); err != nil {
		return domain.MusicTrack{}, err
	}
	t.cache.DropAggregates()
	return *track, t.saveLocked()
}

func (t *Timeline) RemoveTrack(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, track, err := t.findTrack(id)
	if err != nil {
		return err
	}
	t.project.Tracks = append(t.project.Tracks[:idx], t.project.Tracks[idx+1:]...)
	t.cache.DropAggregates()
	t.unwatch(track.SourcePath)
	return t.saveLocked()
}

// Preview submits a low-resolution render of the current state.
func (t *Timeline) Preview() (*Handle, error) {
	return t.submit(domain.JobKindPreview, t.preview, "")
}

// Export submits a full-quality render to outputPath.
func (t *Timeline) Export(outputPath string) (*Handle, error) {
	path, err := ValidateExportPath(outputPath)
	if err != nil {
		return nil, err
	}
	return t.submit(domain.JobKindExport, t.export, path)
}

func (t *Timeline) submit(kind domain.JobKind, profile domain.Profile, output string) (*Handle, error) {
	t.mu.Lock()
	if len(t.project.Items) == 0 {
		t.mu.Unlock()
		return nil, domain.ErrNoItems
	}
	job := domain.NewJob(kind, t.project.Items, t.project.Tracks, profile, output)
	for _, it := range t.project.Items {
		it.MarkGenerating()
	}
	t.mu.Unlock()

	h, err := t.runner.Submit(job)
	if err != nil {
		t.mu.Lock()
		for _, it := range t.project.Items {
			if it.Status == domain.CacheGenerating {
				it.Status = statusAfterRejectedJob(it)
			}
		}
		t.mu.Unlock()
		return nil, err
	}
	return h, nil
}

func statusAfterRejectedJob(it *domain.MediaItem) domain.CacheStatus {
	if it.ArtifactPath != "" {
		return domain.CacheReady
	}
	return domain.CacheAbsent
}

// ValidateExportPath requires an absolute .mp4 path without NUL bytes.
func ValidateExportPath(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("%w: empty or contains NUL", domain.ErrInvalidOutput)
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q is not absolute", domain.ErrInvalidOutput, path)
	}
	if !strings.EqualFold(filepath.Ext(clean), ".mp4") {
		return "", fmt.Errorf("%w: %q must end in .mp4", domain.ErrInvalidOutput, path)
	}
	return clean, nil
}

// ItemRendered marks the live item ready if it still matches what was
// rendered.
func (t *Timeline) ItemRendered(rendered domain.MediaItem, artifactPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, item, err := t.findItem(rendered.ID)
	if err != nil || item.Signature() != rendered.Signature() {
		return
	}
	item.MarkReady(artifactPath)
	t.saveQuietly()
}

func (t *Timeline) ItemFailed(rendered domain.MediaItem, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, item, err := t.findItem(rendered.ID)
	if err != nil || item.Signature() != rendered.Signature() {
		return
	}
	item.MarkFailed(message)
	t.saveQuietly()
}

// JobFinished settles items left generating and, after a successful job,
// clears pending changes of tracks that were mixed as they are.
func (t *Timeline) JobFinished(job *domain.Job, outcome domain.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, it := range t.project.Items {
		if it.Status == domain.CacheGenerating {
			it.Status = statusAfterRejectedJob(it)
		}
	}
	if outcome.Kind == domain.OutcomeDone {
		for i := range job.Tracks {
			_, live, err := t.findTrack(job.Tracks[i].ID)
			if err == nil && live.Signature() == job.Tracks[i].Signature() {
				live.Pending = false
			}
		}
	}
	t.saveQuietly()
}

// SourceChanged marks every item and track reading path as stale.
func (t *Timeline) SourceChanged(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for _, item := range t.project.Items {
		if item.SourcePath == path {
			t.dropItemArtifact(item.Signature())
			item.MarkStale()
			changed = true
		}
	}
	for _, track := range t.project.Tracks {
		if track.SourcePath == path {
			track.Pending = true
			changed = true
		}
	}
	if changed {
		t.cache.DropAggregates()
		logger.Info.Printf("source changed: %s", logger.SanitizeForLog(path))
		t.saveQuietly()
	}
}

// Sources lists every file the collection reads.
func (t *Timeline) Sources() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sourcesLocked()
}

func (t *Timeline) sourcesLocked() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range t.project.Items {
		if !seen[it.SourcePath] {
			seen[it.SourcePath] = true
			out = append(out, it.SourcePath)
		}
	}
	for _, tr := range t.project.Tracks {
		if !seen[tr.SourcePath] {
			seen[tr.SourcePath] = true
			out = append(out, tr.SourcePath)
		}
	}
	return out
}

// dropItemArtifact deletes the intermediates of signature unless another
// item still renders to the same signature.
func (t *Timeline) dropItemArtifact(signature string) {
	users := 0
	for _, it := range t.project.Items {
		if it.Signature() == signature {
			users++
		}
	}
	if users > 1 {
		return
	}
	t.cache.DropItem(signature)
}

func (t *Timeline) watch(path string) {
	if t.watcher == nil {
		return
	}
	if err := t.watcher.Watch(path); err != nil {
		logger.Warn.Printf("watch %s: %v", logger.SanitizeForLog(path), err)
	}
}

func (t *Timeline) unwatch(path string) {
	if t.watcher == nil {
		return
	}
	for _, p := range t.sourcesLocked() {
		if p == path {
			return
		}
	}
	if err := t.watcher.Unwatch(path); err != nil {
		logger.Debug.Printf("unwatch %s: %v", logger.SanitizeForLog(path), err)
	}
}

func (t *Timeline) findItem(id string) (int, *domain.MediaItem, error) {
	for i, it := range t.project.Items {
		if it.ID == id {
			return i, it, nil
		}
	}
	return -1, nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
}

func (t *Timeline) findTrack(id string) (int, *domain.MusicTrack, error) {
	for i, tr := range t.project.Tracks {
		if tr.ID == id {
			return i, tr, nil
		}
	}
	return -1, nil, fmt.Errorf("track %s: %w", id, domain.ErrNotFound)
}

func (t *Timeline) saveLocked() error {
	t.project.UpdatedAt = time.Now()
	if err := t.store.Save(t.project); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (t *Timeline) saveQuietly() {
	if err := t.saveLocked(); err != nil {
		logger.Error.Printf("%v", err)
	}
}

func cleanSourcePath(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, '\x00') {
		return "", &domain.ProbeError{Path: path, Err: fmt.Errorf("invalid path")}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &domain.ProbeError{Path: path, Err: err}
	}
	return abs, nil
}

func asProbeError(path string, err error) error {
	var pe *domain.ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.ProbeError{Path: path, Err: err}
}
