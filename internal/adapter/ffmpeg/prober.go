package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

var ErrNoStreams = errors.New("no audio or video stream found")

// Prober runs ffprobe and decodes its JSON report.
type Prober struct {
	bin string
}

func NewProber(bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{bin: bin}
}

func (p *Prober) Probe(ctx context.Context, path string) (*domain.ProbeResult, error) {
	if err := validatePath(path); err != nil {
		return nil, &domain.ProbeError{Path: path, Err: err}
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	cmd := exec.CommandContext(ctx, p.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &domain.ProbeError{Path: path, Err: fmt.Errorf("ffprobe failed: %s", msg)}
	}

	result, err := ParseProbe(output)
	if err != nil {
		return nil, &domain.ProbeError{Path: path, Err: err}
	}
	return result, nil
}

// ParseProbe decodes ffprobe JSON output.
func ParseProbe(output []byte) (*domain.ProbeResult, error) {
	var result domain.ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if result.VideoStream() == nil && result.AudioStream() == nil {
		return nil, ErrNoStreams
	}
	result.RawJSON = string(output)
	return &result, nil
}

var _ port.Prober = (*Prober)(nil)
