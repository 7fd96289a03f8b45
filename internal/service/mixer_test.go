package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

func musicTrack(t *testing.T, dir string) domain.MusicTrack {
	t.Helper()
	path := writeFile(t, filepath.Join(dir, "song.mp3"), 4096)
	track := domain.NewMusicTrack(path, 180)
	return *track
}

func TestAudioMixer_Mix(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	m := NewAudioMixer(enc, 5*time.Millisecond, 0)
	composite := domain.Artifact{Path: writeFile(t, filepath.Join(dir, "composite.mp4"), 4096), Duration: 12, HasAudio: false}
	output := filepath.Join(dir, "final.mp4")

	err := m.Mix(context.Background(), composite, []domain.MusicTrack{musicTrack(t, dir)}, output, domain.PreviewProfile(), nil)

	require.NoError(t, err)
	require.Len(t, enc.mixes, 1)
	req := enc.mixes[0]
	assert.Equal(t, composite.Path, req.Composite)
	assert.False(t, req.CompositeHasAudio)
	assert.Equal(t, 12.0, req.CompositeDuration)
	assert.Equal(t, output, req.Output)
}

func TestAudioMixer_Failures(t *testing.T) {
	tests := []struct {
		name     string
		behavior behavior
		tracks   func(t *testing.T, dir string) []domain.MusicTrack
	}{
		{
			name:     "missing track file",
			behavior: okBehavior,
			tracks: func(t *testing.T, dir string) []domain.MusicTrack {
				return []domain.MusicTrack{*domain.NewMusicTrack(filepath.Join(dir, "gone.mp3"), 60)}
			},
		},
		{
			name:     "encoder failure",
			behavior: behavior{exitErr: errors.New("exit status 1")},
			tracks:   func(t *testing.T, dir string) []domain.MusicTrack { return []domain.MusicTrack{musicTrack(t, dir)} },
		},
		{
			name:     "undersized output",
			behavior: behavior{size: 10},
			tracks:   func(t *testing.T, dir string) []domain.MusicTrack { return []domain.MusicTrack{musicTrack(t, dir)} },
		},
		{
			name:     "no tracks",
			behavior: okBehavior,
			tracks:   func(*testing.T, string) []domain.MusicTrack { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			enc := newFakeEncoder()
			enc.onMix = func(port.MixRequest) behavior { return tt.behavior }
			m := NewAudioMixer(enc, 5*time.Millisecond, 0)
			composite := domain.Artifact{Path: writeFile(t, filepath.Join(dir, "composite.mp4"), 4096), Duration: 5}
			output := filepath.Join(dir, "final.mp4")

			err := m.Mix(context.Background(), composite, tt.tracks(t, dir), output, domain.PreviewProfile(), nil)

			var mixErr *domain.MixError
			assert.ErrorAs(t, err, &mixErr)
			assert.NoFileExists(t, output)
		})
	}
}

func TestAudioMixer_Cancel(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	enc.onMix = func(port.MixRequest) behavior { return behavior{size: 300, hang: true} }
	m := NewAudioMixer(enc, 5*time.Millisecond, 0)
	composite := domain.Artifact{Path: writeFile(t, filepath.Join(dir, "composite.mp4"), 4096), Duration: 5}
	output := filepath.Join(dir, "final.mp4")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-enc.started
		cancel()
	}()

	err := m.Mix(ctx, composite, []domain.MusicTrack{musicTrack(t, dir)}, output, domain.PreviewProfile(), nil)

	assert.ErrorIs(t, err, domain.ErrAborted)
	assert.NoFileExists(t, output)
}
