package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/infrastructure/scratch"
	"github.com/bnema/montage/internal/port"
)

// Progress ranges of the job stages.
const (
	itemsEnd   = 70.0
	composeEnd = 85.0
	mixEnd     = 98.0
)

// ProgressFunc receives overall job progress.
type ProgressFunc func(percent float64, message string)

// RenderListener learns what a job produced so that the live collection can
// reflect it. Item results are delivered once the job ends and never for an
// aborted job; JobFinished always follows them.
type RenderListener interface {
	ItemRendered(item domain.MediaItem, artifactPath string)
	ItemFailed(item domain.MediaItem, message string)
	JobFinished(job *domain.Job, outcome domain.Outcome)
}

type PipelineConfig struct {
	PollInterval        time.Duration
	TranscodeTimeout    time.Duration
	ConcatTimeout       time.Duration
	ConcatFilterTimeout time.Duration
	MixTimeout          time.Duration
	MinScratchFree      uint64
}

// Pipeline sequences transcode, composition and mixing for one job.
type Pipeline struct {
	cache      *Cache
	scratch    port.Scratch
	worker     *TranscodeWorker
	compositor *Compositor
	mixer      *AudioMixer
	listener   RenderListener
	minFree    uint64
}

func NewPipeline(encoder port.Encoder, cache *Cache, area port.Scratch, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		cache:      cache,
		scratch:    area,
		worker:     NewTranscodeWorker(encoder, cache, area, cfg.PollInterval, cfg.TranscodeTimeout),
		compositor: NewCompositor(encoder, cfg.PollInterval, cfg.ConcatTimeout, cfg.ConcatFilterTimeout),
		mixer:      NewAudioMixer(encoder, cfg.PollInterval, cfg.MixTimeout),
		minFree:    cfg.MinScratchFree,
	}
}

// SetListener registers the receiver of per-item results.
func (p *Pipeline) SetListener(l RenderListener) {
	p.listener = l
}

// run is the bookkeeping of one Run call.
type run struct {
	job      *domain.Job
	progress ProgressFunc
	// cache entries and files this run created, rolled back on abort
	keys  []string
	files []string
	// intermediates this run reads, kept on disk until it ends
	hold *Hold

	rendered []renderedItem
	failed   []failedItem
}

type renderedItem struct {
	item domain.MediaItem
	path string
}

type failedItem struct {
	item domain.MediaItem
	msg  string
}

// Run executes job and returns exactly one outcome. Nothing it does panics
// or returns past this boundary.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, progress ProgressFunc) domain.Outcome {
	if progress == nil {
		progress = func(float64, string) {}
	}
	r := &run{job: job, progress: progress, hold: p.cache.Hold()}
	defer r.hold.Release()

	outcome := p.execute(ctx, r)

	if outcome.Kind == domain.OutcomeAborted {
		p.rollback(r)
	}
	p.notify(r, outcome)
	return outcome
}

func (p *Pipeline) execute(ctx context.Context, r *run) domain.Outcome {
	job := r.job
	if len(job.Items) == 0 {
		return domain.FailedOutcome(domain.ErrNoItems)
	}
	if err := job.Profile.Validate(); err != nil {
		return domain.FailedOutcome(err)
	}
	if err := p.scratch.EnsureFree(p.minFree); err != nil {
		return domain.FailedOutcome(err)
	}

	if job.Kind == domain.JobKindPreview {
		if a, ok := p.cache.LookupAggregate(job); ok {
			logger.Info.Printf("job %s: preview served from cache", job.ID)
			r.progress(100, "preview ready (cached)")
			return domain.DoneOutcome(a.Path, a.Duration)
		}
	}

	workDir, err := p.scratch.JobDir(job.ID)
	if err != nil {
		return domain.FailedOutcome(err)
	}
	defer func() {
		if err := p.scratch.RemoveJobDir(job.ID); err != nil {
			logger.Warn.Printf("job %s: remove workspace: %v", job.ID, err)
		}
	}()

	intermediates, outcome := p.renderItems(ctx, r)
	if outcome != nil {
		return *outcome
	}

	aggKey := AggregateKey(job.Items, job.Tracks, job.Profile)
	dest := job.OutputPath
	if job.Kind == domain.JobKindPreview || dest == "" {
		dest = p.scratch.CachePath(aggKey)
	}
	r.files = append(r.files, dest)

	compositePath := dest
	if len(job.Tracks) > 0 {
		compositePath = filepath.Join(workDir, "composite.mp4")
	}

	r.progress(itemsEnd, "composing timeline")
	duration, err := p.compositor.Compose(ctx, intermediates, compositePath, workDir, job.Profile, func(pct float64) {
		r.progress(itemsEnd+pct*(composeEnd-itemsEnd)/100, "composing timeline")
	})
	if errors.Is(err, domain.ErrAborted) {
		return domain.AbortedOutcome()
	}
	if err != nil {
		return domain.FailedOutcome(err)
	}

	if len(job.Tracks) > 0 {
		composite := domain.Artifact{Path: compositePath, Duration: duration, HasAudio: anyAudio(intermediates)}
		r.progress(composeEnd, "mixing music")
		err := p.mixer.Mix(ctx, composite, job.Tracks, dest, job.Profile, func(pct float64) {
			r.progress(composeEnd+pct*(mixEnd-composeEnd)/100, "mixing music")
		})
		if errors.Is(err, domain.ErrAborted) {
			return domain.AbortedOutcome()
		}
		if err != nil {
			logger.Warn.Printf("job %s: %v; keeping video without music", job.ID, err)
			if err := scratch.MoveFile(compositePath, dest); err != nil {
				return domain.FailedOutcome(fmt.Errorf("deliver composite: %w", err))
			}
		}
	}

	if ctx.Err() != nil {
		return domain.AbortedOutcome()
	}

	if job.Kind == domain.JobKindPreview {
		if _, err := p.cache.Store(aggKey, domain.ScopeAggregate, aggKey, dest, duration, true); err != nil {
			logger.Warn.Printf("job %s: index preview: %v", job.ID, err)
		} else {
			r.keys = append(r.keys, aggKey)
		}
	}

	r.progress(100, "done")
	return domain.DoneOutcome(dest, duration)
}

// renderItems obtains one intermediate per item, in order. Failed items are
// skipped; the returned outcome is non-nil when the job cannot continue.
func (p *Pipeline) renderItems(ctx context.Context, r *run) ([]domain.Artifact, *domain.Outcome) {
	job := r.job
	n := float64(len(job.Items))
	var intermediates []domain.Artifact
	var lastErr string
	// identical items render once per run
	produced := make(map[string]domain.Artifact)

	for i := range job.Items {
		item := job.Items[i]
		if ctx.Err() != nil {
			o := domain.AbortedOutcome()
			return nil, &o
		}

		base := float64(i) * itemsEnd / n
		msg := fmt.Sprintf("rendering item %d/%d", i+1, len(job.Items))
		r.progress(base, msg)

		key := ItemKey(&item, job.Profile)
		if a, ok := produced[key]; ok {
			r.rendered = append(r.rendered, renderedItem{item: item, path: a.Path})
			intermediates = append(intermediates, a)
			continue
		}

		res := p.worker.run(ctx, item, job.Profile, r.hold, func(pct float64) {
			r.progress(base+pct*itemsEnd/n/100, msg)
		})

		switch res.Kind {
		case domain.ResultAborted:
			o := domain.AbortedOutcome()
			return nil, &o
		case domain.ResultError:
			logger.Warn.Printf("job %s: skipping item %s: %s", job.ID, item.ID, res.Message)
			r.failed = append(r.failed, failedItem{item: item, msg: res.Message})
			lastErr = res.Message
		default:
			if !res.CacheHit {
				r.keys = append(r.keys, res.Artifact.Key)
				r.files = append(r.files, res.Artifact.Path)
			}
			produced[key] = res.Artifact
			r.rendered = append(r.rendered, renderedItem{item: item, path: res.Artifact.Path})
			intermediates = append(intermediates, res.Artifact)
		}
	}

	if len(intermediates) == 0 {
		var err error
		if len(job.Items) == 1 {
			err = errors.New(lastErr)
		} else {
			err = fmt.Errorf("all %d items failed to render; last error: %s", len(job.Items), lastErr)
		}
		o := domain.FailedOutcome(err)
		return nil, &o
	}
	return intermediates, nil
}

func (p *Pipeline) rollback(r *run) {
	p.cache.Forget(r.keys)
	for _, f := range r.files {
		if r.job.Kind == domain.JobKindExport && f == r.job.OutputPath {
			continue
		}
		removeQuietly(f)
	}
	logger.Info.Printf("job %s aborted, rolled back %d cache entries", r.job.ID, len(r.keys))
}

func (p *Pipeline) notify(r *run, outcome domain.Outcome) {
	if p.listener == nil {
		return
	}
	if outcome.Kind != domain.OutcomeAborted {
		for _, ri := range r.rendered {
			p.listener.ItemRendered(ri.item, ri.path)
		}
		for _, fi := range r.failed {
			p.listener.ItemFailed(fi.item, fi.msg)
		}
	}
	p.listener.JobFinished(r.job, outcome)
}

func anyAudio(artifacts []domain.Artifact) bool {
	for _, a := range artifacts {
		if a.HasAudio {
			return true
		}
	}
	return false
}
