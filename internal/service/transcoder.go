package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
)

// TranscodeProgress receives percent complete in [0, 100].
type TranscodeProgress func(percent float64)

// TranscodeWorker turns one item into a profile-conformant intermediate.
// It never returns an error: every outcome is a tagged result.
type TranscodeWorker struct {
	encoder port.Encoder
	cache   *Cache
	scratch port.Scratch
	poll    time.Duration
	budget  time.Duration
}

func NewTranscodeWorker(encoder port.Encoder, cache *Cache, scratch port.Scratch, poll, budget time.Duration) *TranscodeWorker {
	return &TranscodeWorker{
		encoder: encoder,
		cache:   cache,
		scratch: scratch,
		poll:    poll,
		budget:  budget,
	}
}

func (w *TranscodeWorker) Run(ctx context.Context, item domain.MediaItem, profile domain.Profile, progress TranscodeProgress) domain.TranscodeResult {
	return w.run(ctx, item, profile, nil, progress)
}

// run is Run with the returned intermediate taken by hold.
func (w *TranscodeWorker) run(ctx context.Context, item domain.MediaItem, profile domain.Profile, hold *Hold, progress TranscodeProgress) domain.TranscodeResult {
	if progress == nil {
		progress = func(float64) {}
	}

	if a, ok := w.cache.lookupItem(&item, profile, hold); ok {
		logger.Debug.Printf("cache hit for item %s", item.ID)
		progress(100)
		return domain.ArtifactResult(*a, true)
	}

	if ctx.Err() != nil {
		return domain.AbortedResult()
	}

	key := ItemKey(&item, profile)
	output := w.scratch.CachePath(key)
	expected := item.EffectiveDuration()

	proc, err := w.encoder.Transcode(ctx, port.TranscodeRequest{Item: item, Output: output, Profile: profile})
	if err != nil {
		removeQuietly(output)
		if ctx.Err() != nil {
			return domain.AbortedResult()
		}
		return domain.ErrorResult((&domain.EncodeError{ItemID: item.ID, Message: err.Error()}).Error())
	}

	progress(0)
	err = supervise(ctx, proc, "transcode "+item.ID, w.poll, w.budget, func(sec float64) {
		progress(percentOf(sec, expected, 90))
	})
	if errors.Is(err, domain.ErrAborted) {
		removeQuietly(output)
		return domain.AbortedResult()
	}
	if err != nil {
		removeQuietly(output)
		return domain.ErrorResult((&domain.EncodeError{ItemID: item.ID, Message: err.Error()}).Error())
	}

	if size, ok := domain.ValidFile(output); !ok {
		removeQuietly(output)
		msg := fmt.Sprintf("output missing or undersized (%d bytes)", size)
		return domain.ErrorResult((&domain.EncodeError{ItemID: item.ID, Message: msg}).Error())
	}

	a, err := w.cache.store(key, domain.ScopeItem, item.Signature(), output, expected, true, hold)
	if err != nil {
		logger.Warn.Printf("index intermediate of item %s: %v", item.ID, err)
		a = &domain.Artifact{Key: key, Scope: domain.ScopeItem, Path: output, Signature: item.Signature(), Duration: expected, HasAudio: true}
	}

	progress(100)
	return domain.ArtifactResult(*a, false)
}
