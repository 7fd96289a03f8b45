package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/service"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, `
items:
  - path: clips/intro.mp4
    start: 1.5
    end: 6
    effects:
      - kind: filter
        name: hflip
  - path: /abs/cover.png
    duration: 3
    rotation: 90
tracks:
  - path: ../music/theme.mp3
    offset: 10
    volume: 0.6
`)
	dir := filepath.Dir(path)

	m, err := Load(path)
	require.NoError(t, err)

	require.Len(t, m.Items, 2)
	assert.Equal(t, filepath.Join(dir, "clips", "intro.mp4"), m.Items[0].Path)
	assert.Equal(t, 1.5, *m.Items[0].Start)
	assert.Equal(t, 6.0, *m.Items[0].End)
	assert.Nil(t, m.Items[0].Rotation)
	assert.Equal(t, []domain.Effect{{Kind: domain.EffectFilter, Name: "hflip"}}, m.Items[0].Effects)

	assert.Equal(t, "/abs/cover.png", m.Items[1].Path)
	assert.Equal(t, 90, *m.Items[1].Rotation)

	require.Len(t, m.Tracks, 1)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "music", "theme.mp3"), m.Tracks[0].Path)
	assert.Equal(t, 10.0, *m.Tracks[0].Offset)
	assert.Nil(t, m.Tracks[0].Start)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty document", "", ErrEmpty},
		{"no items", "tracks:\n  - path: a.mp3\n", ErrEmpty},
		{"unknown field", "items:\n  - path: a.mp4\n    trim: 3\n", nil},
		{"missing item path", "items:\n  - start: 1\n", nil},
		{"missing track path", "items:\n  - path: a.mp4\ntracks:\n  - volume: 1\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tt.body))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// recordingEditor logs every call it receives.
type recordingEditor struct {
	calls  []string
	failOn string
	next   int
}

func (e *recordingEditor) record(call string) error {
	e.calls = append(e.calls, call)
	if call == e.failOn {
		return errors.New("rejected")
	}
	return nil
}

func (e *recordingEditor) id() string {
	e.next++
	return fmt.Sprintf("id%d", e.next)
}

func (e *recordingEditor) AddItem(_ context.Context, path string) (domain.MediaItem, error) {
	return domain.MediaItem{ID: e.id()}, e.record("add " + filepath.Base(path))
}

func (e *recordingEditor) EditItem(id string, edit service.ItemEdit) (domain.MediaItem, error) {
	return domain.MediaItem{ID: id}, e.record("edit " + id)
}

func (e *recordingEditor) AddEffect(id string, eff domain.Effect) (domain.MediaItem, error) {
	return domain.MediaItem{ID: id}, e.record("effect " + id + " " + eff.Name)
}

func (e *recordingEditor) AddTrack(_ context.Context, path string) (domain.MusicTrack, error) {
	return domain.MusicTrack{ID: e.id()}, e.record("track " + filepath.Base(path))
}

func (e *recordingEditor) UpdateTrack(id string, _ domain.TrackEdit) (domain.MusicTrack, error) {
	return domain.MusicTrack{ID: id}, e.record("update " + id)
}

func TestApply_Order(t *testing.T) {
	start, vol := 2.0, 0.5
	m := &Manifest{
		Items: []Item{
			{Path: "/m/a.mp4", Start: &start, Effects: []domain.Effect{domain.FilterEffect("hflip", nil), domain.FilterEffect("vflip", nil)}},
			{Path: "/m/b.png"},
		},
		Tracks: []Track{{Path: "/m/song.mp3", Volume: &vol}, {Path: "/m/other.mp3"}},
	}

	ed := &recordingEditor{}
	require.NoError(t, m.Apply(context.Background(), ed))

	assert.Equal(t, []string{
		"add a.mp4",
		"edit id1",
		"effect id1 hflip",
		"effect id1 vflip",
		"add b.png",
		"track song.mp3",
		"update id3",
		"track other.mp3",
	}, ed.calls)
}

func TestApply_StopsAtFirstRejection(t *testing.T) {
	m := &Manifest{
		Items: []Item{{Path: "/m/a.mp4"}, {Path: "/m/b.mp4"}, {Path: "/m/c.mp4"}},
	}
	ed := &recordingEditor{failOn: "add b.mp4"}

	err := m.Apply(context.Background(), ed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 2 (b.mp4)")
	assert.Equal(t, []string{"add a.mp4", "add b.mp4"}, ed.calls)
}

func TestStore(t *testing.T) {
	s := NewStore()
	p, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, p.Items)

	next := &domain.Project{Items: []*domain.MediaItem{{ID: "x"}}}
	require.NoError(t, s.Save(next))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Same(t, next, got)
}
