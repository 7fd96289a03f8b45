package domain

import (
	"fmt"
	"strings"
)

// MusicTrack is a background track laid over the composite.
//
// StartInCompilation positions the track on the timeline; StartInTrack skips
// into the source; Duration caps the played length (0 plays the remainder).
type MusicTrack struct {
	ID                 string  `json:"id" yaml:"id"`
	SourcePath         string  `json:"source_path" yaml:"path"`
	Title              string  `json:"title,omitempty" yaml:"title,omitempty"`
	Artist             string  `json:"artist,omitempty" yaml:"artist,omitempty"`
	TotalDuration      float64 `json:"total_duration" yaml:"-"`
	StartInCompilation float64 `json:"start_in_compilation" yaml:"start"`
	StartInTrack       float64 `json:"start_in_track" yaml:"offset"`
	Duration           float64 `json:"duration" yaml:"duration"`
	Volume             float64 `json:"volume" yaml:"volume"`
	Pending            bool    `json:"pending" yaml:"-"`
}

func NewMusicTrack(path string, totalDuration float64) *MusicTrack {
	return &MusicTrack{
		ID:            generateID(),
		SourcePath:    path,
		TotalDuration: totalDuration,
		Volume:        1,
	}
}

// TrackEdit carries the fields a caller may change on a track. Nil fields
// are left untouched.
type TrackEdit struct {
	StartInCompilation *float64 `json:"start_in_compilation,omitempty"`
	StartInTrack       *float64 `json:"start_in_track,omitempty"`
	Duration           *float64 `json:"duration,omitempty"`
	Volume             *float64 `json:"volume,omitempty"`
}

// Apply validates and applies the edit. Offsets past the end of the source
// are clamped rather than rejected.
func (t *MusicTrack) Apply(e TrackEdit) error {
	next := *t
	if e.StartInCompilation != nil {
		next.StartInCompilation = *e.StartInCompilation
	}
	if e.StartInTrack != nil {
		next.StartInTrack = *e.StartInTrack
	}
	if e.Duration != nil {
		next.Duration = *e.Duration
	}
	if e.Volume != nil {
		next.Volume = *e.Volume
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.TotalDuration > 0 && next.StartInTrack > next.TotalDuration {
		next.StartInTrack = next.TotalDuration
	}
	next.Pending = true
	*t = next
	return nil
}

func (t *MusicTrack) Validate() error {
	if t.Volume < 0 || t.Volume > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, t.Volume)
	}
	if t.StartInCompilation < 0 || t.StartInTrack < 0 || t.Duration < 0 {
		return fmt.Errorf("%w: negative offset or duration", ErrInvalidTrim)
	}
	return nil
}

// Remainder is the playable source length after StartInTrack.
func (t *MusicTrack) Remainder() float64 {
	r := t.TotalDuration - t.StartInTrack
	if r < 0 {
		return 0
	}
	return r
}

// EffectiveDuration is the configured duration clamped to the remainder.
// When the total duration is unknown the configured duration is trusted.
func (t *MusicTrack) EffectiveDuration() float64 {
	if t.TotalDuration <= 0 {
		return t.Duration
	}
	rem := t.Remainder()
	if t.Duration > 0 && t.Duration < rem {
		return t.Duration
	}
	return rem
}

func (t *MusicTrack) Signature() string {
	var sb strings.Builder
	sb.WriteString(t.SourcePath)
	sb.WriteString("|at=" + formatFloat(t.StartInCompilation))
	sb.WriteString(";from=" + formatFloat(t.StartInTrack))
	sb.WriteString(";dur=" + formatFloat(t.Duration))
	sb.WriteString(";vol=" + formatFloat(t.Volume))
	return hashString(sb.String())
}
