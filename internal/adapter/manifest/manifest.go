// Package manifest reads headless project descriptions and replays them
// onto a timeline.
//
//	items:
//	  - path: clips/intro.mp4
//	    start: 1.5
//	    end: 6
//	    effects:
//	      - kind: filter
//	        name: hflip
//	  - path: stills/cover.png
//	    duration: 3
//	    rotation: 90
//	tracks:
//	  - path: music/theme.mp3
//	    volume: 0.6
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/service"
)

var ErrEmpty = errors.New("manifest lists no items")

type Item struct {
	Path     string          `yaml:"path"`
	Start    *float64        `yaml:"start,omitempty"`
	End      *float64        `yaml:"end,omitempty"`
	Duration *float64        `yaml:"duration,omitempty"`
	Rotation *int            `yaml:"rotation,omitempty"`
	Speed    *float64        `yaml:"speed,omitempty"`
	Effects  []domain.Effect `yaml:"effects,omitempty"`
}

type Track struct {
	Path     string   `yaml:"path"`
	Start    *float64 `yaml:"start,omitempty"`
	Offset   *float64 `yaml:"offset,omitempty"`
	Duration *float64 `yaml:"duration,omitempty"`
	Volume   *float64 `yaml:"volume,omitempty"`
}

type Manifest struct {
	Items  []Item  `yaml:"items"`
	Tracks []Track `yaml:"tracks,omitempty"`
}

// Editor is the part of the timeline a manifest drives.
type Editor interface {
	AddItem(ctx context.Context, path string) (domain.MediaItem, error)
	EditItem(id string, edit service.ItemEdit) (domain.MediaItem, error)
	AddEffect(id string, e domain.Effect) (domain.MediaItem, error)
	AddTrack(ctx context.Context, path string) (domain.MusicTrack, error)
	UpdateTrack(id string, edit domain.TrackEdit) (domain.MusicTrack, error)
}

// Load parses the manifest at path. Relative source paths are resolved
// against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Items) == 0 {
		return nil, ErrEmpty
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest directory: %w", err)
	}
	for i := range m.Items {
		if m.Items[i].Path == "" {
			return nil, fmt.Errorf("item %d: path is required", i+1)
		}
		m.Items[i].Path = resolve(base, m.Items[i].Path)
	}
	for i := range m.Tracks {
		if m.Tracks[i].Path == "" {
			return nil, fmt.Errorf("track %d: path is required", i+1)
		}
		m.Tracks[i].Path = resolve(base, m.Tracks[i].Path)
	}
	return &m, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// Apply adds every item and track to ed in manifest order and applies their
// edits. It stops at the first rejection.
func (m *Manifest) Apply(ctx context.Context, ed Editor) error {
	for i, it := range m.Items {
		added, err := ed.AddItem(ctx, it.Path)
		if err != nil {
			return fmt.Errorf("item %d (%s): %w", i+1, filepath.Base(it.Path), err)
		}
		edit := service.ItemEdit{
			Start:           it.Start,
			End:             it.End,
			DisplayDuration: it.Duration,
			Rotation:        it.Rotation,
			Speed:           it.Speed,
		}
		if edit != (service.ItemEdit{}) {
			if _, err := ed.EditItem(added.ID, edit); err != nil {
				return fmt.Errorf("item %d (%s): %w", i+1, filepath.Base(it.Path), err)
			}
		}
		for _, e := range it.Effects {
			if _, err := ed.AddEffect(added.ID, e); err != nil {
				return fmt.Errorf("item %d (%s): %w", i+1, filepath.Base(it.Path), err)
			}
		}
	}

	for i, tr := range m.Tracks {
		added, err := ed.AddTrack(ctx, tr.Path)
		if err != nil {
			return fmt.Errorf("track %d (%s): %w", i+1, filepath.Base(tr.Path), err)
		}
		edit := domain.TrackEdit{
			StartInCompilation: tr.Start,
			StartInTrack:       tr.Offset,
			Duration:           tr.Duration,
			Volume:             tr.Volume,
		}
		if edit != (domain.TrackEdit{}) {
			if _, err := ed.UpdateTrack(added.ID, edit); err != nil {
				return fmt.Errorf("track %d (%s): %w", i+1, filepath.Base(tr.Path), err)
			}
		}
	}
	return nil
}
