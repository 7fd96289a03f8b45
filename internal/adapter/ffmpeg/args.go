package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

// baseArgs precede every invocation: progress goes to stdout as key=value
// lines, diagnostics to stderr.
func baseArgs() []string {
	return []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error", "-nostats", "-progress", "pipe:1"}
}

// TranscodeArgs renders one item into a profile-conformant intermediate.
// Every intermediate carries a stereo AAC track, silent when the source has
// none, so that stream-copy concatenation sees uniform streams.
func TranscodeArgs(req port.TranscodeRequest) []string {
	item, p := req.Item, req.Profile
	expected := item.EffectiveDuration()
	args := baseArgs()

	silentAudio := true
	switch item.Kind {
	case domain.ItemKindImage:
		args = append(args,
			"-loop", "1",
			"-framerate", strconv.Itoa(p.FrameRate),
			"-t", formatSeconds(expected),
			"-i", item.SourcePath,
		)
	default:
		args = append(args, "-noautorotate")
		if item.Start > 0 {
			args = append(args, "-ss", formatSeconds(item.Start))
		}
		args = append(args, "-t", formatSeconds(item.Duration()), "-i", item.SourcePath)
		silentAudio = !item.Meta.HasAudio
	}

	if silentAudio {
		args = append(args,
			"-f", "lavfi",
			"-t", formatSeconds(expected),
			"-i", anullsrc(p),
		)
	}

	args = append(args, "-map", "0:v:0")
	if silentAudio {
		args = append(args, "-map", "1:a:0")
	} else {
		args = append(args, "-map", "0:a:0", "-af", AudioFilter(item, p))
	}
	args = append(args, "-vf", VideoFilter(item, p))
	args = append(args, "-t", formatSeconds(expected))
	args = append(args, videoCodecArgs(p)...)
	args = append(args, audioCodecArgs(p)...)
	args = append(args, "-metadata:s:v:0", "rotate=0", "-movflags", "+faststart", req.Output)
	return args
}

// ConcatCopyArgs joins intermediates through the concat demuxer without
// re-encoding.
func ConcatCopyArgs(manifest, output string) []string {
	args := baseArgs()
	return append(args,
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	)
}

// ConcatFilterArgs re-encodes the inputs through the concat filter. When
// every input has audio both streams are concatenated; otherwise the video
// is concatenated and the audio of the first audio-bearing input is used.
func ConcatFilterArgs(req port.ConcatRequest) []string {
	args := baseArgs()
	for _, in := range req.Inputs {
		args = append(args, "-i", in)
	}

	n := len(req.Inputs)
	allAudio := n > 0
	firstAudio := -1
	for i := 0; i < n; i++ {
		has := i < len(req.HasAudio) && req.HasAudio[i]
		if has && firstAudio < 0 {
			firstAudio = i
		}
		allAudio = allAudio && has
	}

	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "[%d:v]", i)
		if allAudio {
			fmt.Fprintf(&sb, "[%d:a]", i)
		}
	}
	if allAudio {
		fmt.Fprintf(&sb, "concat=n=%d:v=1:a=1[v][a]", n)
		args = append(args, "-filter_complex", sb.String(), "-map", "[v]", "-map", "[a]")
	} else {
		fmt.Fprintf(&sb, "concat=n=%d:v=1:a=0[v]", n)
		args = append(args, "-filter_complex", sb.String(), "-map", "[v]")
		if firstAudio >= 0 {
			args = append(args, "-map", fmt.Sprintf("%d:a:0", firstAudio))
		}
	}

	args = append(args, videoCodecArgs(req.Profile)...)
	if allAudio || firstAudio >= 0 {
		args = append(args, audioCodecArgs(req.Profile)...)
	}
	return append(args, "-movflags", "+faststart", req.Output)
}

// MixArgs lays the music tracks over the composite. Video is always stream
// copied and the output never outlasts the composite.
func MixArgs(req port.MixRequest) []string {
	args := baseArgs()
	args = append(args, "-i", req.Composite)
	for _, t := range req.Tracks {
		args = append(args, "-i", t.SourcePath)
	}
	args = append(args,
		"-filter_complex", MixGraph(req.Tracks, req.CompositeHasAudio),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
	)
	args = append(args, audioCodecArgs(req.Profile)...)
	return append(args,
		"-t", formatSeconds(req.CompositeDuration),
		"-movflags", "+faststart",
		req.Output,
	)
}

func videoCodecArgs(p domain.Profile) []string {
	return []string{
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(p.FrameRate),
	}
}

func audioCodecArgs(p domain.Profile) []string {
	return []string{
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", "2",
	}
}

func anullsrc(p domain.Profile) string {
	return fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", p.SampleRate)
}

// WriteManifest writes a concat demuxer list with absolute, quoted paths.
func WriteManifest(path string, inputs []string) error {
	var sb strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", in, err)
		}
		sb.WriteString("file '")
		sb.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		sb.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}
	return nil
}
