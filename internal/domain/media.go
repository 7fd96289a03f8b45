package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type ItemKind string

const (
	ItemKindVideo ItemKind = "video"
	ItemKindImage ItemKind = "image"
)

type CacheStatus string

const (
	CacheAbsent     CacheStatus = "absent"
	CacheGenerating CacheStatus = "generating"
	CacheReady      CacheStatus = "ready"
	CacheStale      CacheStatus = "stale"
	CacheError      CacheStatus = "error"
)

// DefaultImageDuration is the display duration given to a freshly added image.
const DefaultImageDuration = 5.0

// Metadata is the probe-derived description of a source file.
type Metadata struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Rotation int     `json:"rotation"`
	Codec    string  `json:"codec"`
	PixFmt   string  `json:"pix_fmt"`
	HasAudio bool    `json:"has_audio"`
}

// MediaItem is one entry of the compilation. Kind selects which of the edit
// fields apply: Start/End for video, DisplayDuration for images.
type MediaItem struct {
	ID         string   `json:"id"`
	Kind       ItemKind `json:"kind"`
	SourcePath string   `json:"source_path"`
	Meta       Metadata `json:"meta"`

	Start           float64  `json:"start"`
	End             float64  `json:"end"`
	DisplayDuration float64  `json:"display_duration"`
	Rotation        int      `json:"rotation"`
	Speed           float64  `json:"speed"`
	Effects         []Effect `json:"effects"`

	ArtifactPath string      `json:"artifact_path"`
	Status       CacheStatus `json:"status"`
	Pending      bool        `json:"pending"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// NewVideoItem builds a video item spanning the whole probed duration.
func NewVideoItem(path string, meta Metadata) *MediaItem {
	return &MediaItem{
		ID:         generateID(),
		Kind:       ItemKindVideo,
		SourcePath: path,
		Meta:       meta,
		Start:      0,
		End:        meta.Duration,
		Speed:      1,
		Status:     CacheAbsent,
	}
}

// NewImageItem builds an image item shown for DefaultImageDuration seconds.
func NewImageItem(path string, meta Metadata) *MediaItem {
	meta.Duration = DefaultImageDuration
	return &MediaItem{
		ID:              generateID(),
		Kind:            ItemKindImage,
		SourcePath:      path,
		Meta:            meta,
		DisplayDuration: DefaultImageDuration,
		Speed:           1,
		Status:          CacheAbsent,
	}
}

func generateID() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base32.StdEncoding.EncodeToString(b)[:8]
}

// Duration is the item's length before speed adjustment: the trimmed span
// for a video, the display duration for an image.
func (m *MediaItem) Duration() float64 {
	if m.Kind == ItemKindImage {
		return m.DisplayDuration
	}
	return m.End - m.Start
}

// SpeedFactor multiplies the playback speed with every Speed effect.
func (m *MediaItem) SpeedFactor() float64 {
	f := m.Speed
	if f <= 0 {
		f = 1
	}
	for _, e := range m.Effects {
		if e.Kind == EffectSpeed && e.Factor > 0 {
			f *= e.Factor
		}
	}
	return f
}

// EffectiveDuration is the length the item occupies in the composite.
// Images keep their display duration whatever the speed.
func (m *MediaItem) EffectiveDuration() float64 {
	if m.Kind == ItemKindImage {
		return m.DisplayDuration
	}
	return m.Duration() / m.SpeedFactor()
}

// TotalRotation combines the embedded rotation hint with the manual
// rotation, normalized to {0, 90, 180, 270}.
func (m *MediaItem) TotalRotation() int {
	return NormalizeRotation(m.Meta.Rotation + m.Rotation)
}

// NormalizeRotation maps any multiple of 90 degrees (negative included) to
// [0, 360).
func NormalizeRotation(deg int) int {
	r := deg % 360
	if r < 0 {
		r += 360
	}
	return r
}

func (m *MediaItem) SetTrim(start, end float64) error {
	if m.Kind != ItemKindVideo {
		return fmt.Errorf("%w: trim applies to video items", ErrWrongKind)
	}
	if start < 0 || end <= start || (m.Meta.Duration > 0 && end > m.Meta.Duration+0.001) {
		return fmt.Errorf("%w: start=%.3f end=%.3f duration=%.3f", ErrInvalidTrim, start, end, m.Meta.Duration)
	}
	m.Start, m.End = start, end
	m.markChanged()
	return nil
}

func (m *MediaItem) SetDisplayDuration(seconds float64) error {
	if m.Kind != ItemKindImage {
		return fmt.Errorf("%w: display duration applies to image items", ErrWrongKind)
	}
	if seconds <= 0 {
		return fmt.Errorf("%w: display duration must be positive", ErrInvalidTrim)
	}
	m.DisplayDuration = seconds
	m.Meta.Duration = seconds
	m.markChanged()
	return nil
}

func (m *MediaItem) SetRotation(deg int) error {
	if deg%90 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRotation, deg)
	}
	m.Rotation = NormalizeRotation(deg)
	m.markChanged()
	return nil
}

func (m *MediaItem) SetSpeed(factor float64) error {
	if factor <= 0 || math.IsInf(factor, 0) || math.IsNaN(factor) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, factor)
	}
	m.Speed = factor
	m.markChanged()
	return nil
}

func (m *MediaItem) AddEffect(e Effect) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.Effects = append(m.Effects, e.clone())
	m.markChanged()
	return nil
}

func (m *MediaItem) RemoveEffect(index int) error {
	if index < 0 || index >= len(m.Effects) {
		return fmt.Errorf("%w: effect %d", ErrNotFound, index)
	}
	m.Effects = append(m.Effects[:index], m.Effects[index+1:]...)
	m.markChanged()
	return nil
}

// MarkStale flags the item after its source file changed on disk.
func (m *MediaItem) MarkStale() {
	m.markChanged()
	m.Status = CacheStale
}

// MarkGenerating records that a job started rendering the item.
func (m *MediaItem) MarkGenerating() {
	m.Status = CacheGenerating
}

// MarkReady stores the artifact produced for the item's current state.
func (m *MediaItem) MarkReady(path string) {
	m.ArtifactPath = path
	m.Status = CacheReady
	m.Pending = false
	m.ErrorMessage = ""
}

func (m *MediaItem) MarkFailed(msg string) {
	m.Status = CacheError
	m.ErrorMessage = msg
}

// markChanged is called by every edit: the existing artifact no longer
// matches the item, so it is detached and the item awaits rendering.
func (m *MediaItem) markChanged() {
	m.Pending = true
	m.ArtifactPath = ""
	m.Status = CacheAbsent
	m.ErrorMessage = ""
}

// Signature hashes every field that affects rendering. It changes exactly
// when the trim, display duration, rotation, speed or effects change.
func (m *MediaItem) Signature() string {
	var sb strings.Builder
	sb.WriteString(string(m.Kind))
	sb.WriteByte('|')
	sb.WriteString(m.SourcePath)
	sb.WriteByte('|')
	if m.Kind == ItemKindImage {
		sb.WriteString("d=" + formatFloat(m.DisplayDuration))
	} else {
		sb.WriteString("s=" + formatFloat(m.Start) + ";e=" + formatFloat(m.End))
	}
	sb.WriteString(";r=" + strconv.Itoa(m.TotalRotation()))
	sb.WriteString(";v=" + formatFloat(m.Speed))
	for _, e := range m.Effects {
		sb.WriteString(";fx=" + e.String())
	}
	return hashString(sb.String())
}

// Clone returns a deep copy suitable for a job snapshot.
func (m *MediaItem) Clone() MediaItem {
	c := *m
	c.Effects = make([]Effect, len(m.Effects))
	for i, e := range m.Effects {
		c.Effects[i] = e.clone()
	}
	return c
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true,
	".aac": true, ".m4a": true, ".wma": true, ".opus": true,
}

// DetectItemKind picks the item kind from the file extension. Unknown
// extensions are treated as video and left to the prober to reject.
func DetectItemKind(filename string) ItemKind {
	if imageExts[strings.ToLower(filepath.Ext(filename))] {
		return ItemKindImage
	}
	return ItemKindVideo
}

func IsAudioFile(filename string) bool {
	return audioExts[strings.ToLower(filepath.Ext(filename))]
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
