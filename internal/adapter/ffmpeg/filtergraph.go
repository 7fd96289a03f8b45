package ffmpeg

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bnema/montage/internal/domain"
)

// VideoFilter builds the -vf chain for one item under a profile.
//
// Order matters: effects run first because their parameters are expressed
// in source coordinates, then rotation, then normalization to the profile
// frame size and rate.
func VideoFilter(item domain.MediaItem, p domain.Profile) string {
	var chain []string

	if item.Kind == domain.ItemKindVideo {
		if f := item.SpeedFactor(); f != 1 {
			chain = append(chain, "setpts="+formatFactor(1/f)+"*PTS")
		}
	}
	for _, e := range item.Effects {
		if e.Kind == domain.EffectFilter {
			chain = append(chain, filterExpr(e))
		}
	}
	chain = append(chain, RotationFilters(item.TotalRotation())...)
	chain = append(chain, normalizeFilter(p))

	return strings.Join(chain, ",")
}

// AudioFilter builds the -af chain for a video item whose source carries
// audio. The tempo is the speed factor saturated to the single-filter range;
// factors outside it keep remapping video only.
func AudioFilter(item domain.MediaItem, p domain.Profile) string {
	var chain []string
	if f := item.SpeedFactor(); f != 1 {
		chain = append(chain, "atempo="+formatFactor(domain.ClampTempo(f)))
	}
	chain = append(chain, audioFormat(p))
	return strings.Join(chain, ",")
}

// RotationFilters maps a normalized clockwise rotation to transposes.
func RotationFilters(rotation int) []string {
	switch domain.NormalizeRotation(rotation) {
	case 90:
		return []string{"transpose=1"}
	case 180:
		return []string{"transpose=1", "transpose=1"}
	case 270:
		return []string{"transpose=2"}
	}
	return nil
}

func normalizeFilter(p domain.Profile) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p",
		p.Width, p.Height, p.Width, p.Height, p.FrameRate,
	)
}

func audioFormat(p domain.Profile) string {
	return fmt.Sprintf("aformat=sample_rates=%d:channel_layouts=stereo", p.SampleRate)
}

func filterExpr(e domain.Effect) string {
	if len(e.Params) == 0 {
		return e.Name
	}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Params[k]
	}
	return e.Name + "=" + strings.Join(parts, ":")
}

// MixGraph builds the -filter_complex for laying tracks over a composite.
// Input 0 is the composite, input i+1 is track i. The result is labelled
// [aout].
func MixGraph(tracks []domain.MusicTrack, compositeHasAudio bool) string {
	var parts []string
	labels := make([]string, len(tracks))

	for i, t := range tracks {
		label := fmt.Sprintf("m%d", i)
		if len(tracks) == 1 {
			label = "bus"
		}
		labels[i] = "[" + label + "]"
		parts = append(parts, fmt.Sprintf("[%d:a]%s[%s]", i+1, trackChain(t), label))
	}

	if len(tracks) > 1 {
		parts = append(parts, fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0[bus]",
			strings.Join(labels, ""), len(tracks)))
	}

	if compositeHasAudio {
		parts = append(parts, "[0:a][bus]amix=inputs=2:duration=first:dropout_transition=0[aout]")
	} else {
		parts = append(parts, "[bus]apad[aout]")
	}
	return strings.Join(parts, ";")
}

func trackChain(t domain.MusicTrack) string {
	trim := "atrim=start=" + formatSeconds(t.StartInTrack)
	if t.Duration > 0 {
		trim += ":duration=" + formatSeconds(t.EffectiveDuration())
	}
	delay := int64(math.Round(t.StartInCompilation * 1000))
	return strings.Join([]string{
		trim,
		"asetpts=PTS-STARTPTS",
		"aformat=channel_layouts=stereo",
		"volume=" + formatSeconds(t.Volume),
		fmt.Sprintf("adelay=%d|%d", delay, delay),
	}, ",")
}

// formatFactor prints at most six decimals without trailing zeros.
func formatFactor(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	if s == "" || s == "-0" {
		return "0"
	}
	return s
}

func formatSeconds(v float64) string {
	return formatFactor(v)
}
