package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

const DefaultMixTimeout = 120 * time.Second

// AudioMixer lays music tracks over a composite. Video is stream copied.
type AudioMixer struct {
	encoder port.Encoder
	poll    time.Duration
	budget  time.Duration
}

func NewAudioMixer(encoder port.Encoder, poll, budget time.Duration) *AudioMixer {
	if budget <= 0 {
		budget = DefaultMixTimeout
	}
	return &AudioMixer{encoder: encoder, poll: poll, budget: budget}
}

// Mix writes composite plus tracks to output. Every failure is a
// *domain.MixError except cancellation, which is domain.ErrAborted.
func (m *AudioMixer) Mix(ctx context.Context, composite domain.Artifact, tracks []domain.MusicTrack, output string, profile domain.Profile, progress func(float64)) error {
	if progress == nil {
		progress = func(float64) {}
	}
	if len(tracks) == 0 {
		return &domain.MixError{Err: errors.New("no tracks")}
	}
	for _, t := range tracks {
		if _, err := os.Stat(t.SourcePath); err != nil {
			return &domain.MixError{Err: fmt.Errorf("track %s: %w", t.ID, err)}
		}
	}

	proc, err := m.encoder.Mix(ctx, port.MixRequest{
		Composite:         composite.Path,
		CompositeHasAudio: composite.HasAudio,
		CompositeDuration: composite.Duration,
		Tracks:            tracks,
		Output:            output,
		Profile:           profile,
	})
	if err != nil {
		removeQuietly(output)
		if ctx.Err() != nil {
			return domain.ErrAborted
		}
		return &domain.MixError{Err: err}
	}

	progress(0)
	err = supervise(ctx, proc, "mix", m.poll, m.budget, func(sec float64) {
		progress(percentOf(sec, composite.Duration, 99))
	})
	if errors.Is(err, domain.ErrAborted) {
		removeQuietly(output)
		return err
	}
	if err != nil {
		removeQuietly(output)
		return &domain.MixError{Err: err}
	}
	if size, ok := domain.ValidFile(output); !ok {
		removeQuietly(output)
		return &domain.MixError{Err: fmt.Errorf("output missing or undersized (%d bytes)", size)}
	}
	progress(100)
	return nil
}
