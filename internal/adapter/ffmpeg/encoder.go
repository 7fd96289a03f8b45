package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bnema/montage/internal/infrastructure/logger"
	"github.com/bnema/montage/internal/port"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyPath   = errors.New("path cannot be empty")
	ErrInvalidPath = errors.New("path contains invalid characters")
	ErrNoInputs    = errors.New("no inputs")
)

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, '\x00') {
		return ErrInvalidPath
	}
	return nil
}

func validatePaths(paths ...string) error {
	for _, p := range paths {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("%w: %q", err, p)
		}
	}
	return nil
}

// Encoder drives the ffmpeg binary. Each call starts one subprocess and
// returns immediately.
type Encoder struct {
	bin string
	log zerolog.Logger
}

func NewEncoder(bin string) *Encoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Encoder{
		bin: bin,
		log: logger.Component("ffmpeg"),
	}
}

func (e *Encoder) Transcode(ctx context.Context, req port.TranscodeRequest) (port.Process, error) {
	if err := validatePaths(req.Item.SourcePath, req.Output); err != nil {
		return nil, err
	}
	if err := req.Profile.Validate(); err != nil {
		return nil, err
	}
	return e.run(ctx, TranscodeArgs(req), req.Item.ID)
}

func (e *Encoder) ConcatCopy(ctx context.Context, req port.ConcatRequest) (port.Process, error) {
	if len(req.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := validatePaths(append([]string{req.Output, req.WorkDir}, req.Inputs...)...); err != nil {
		return nil, err
	}
	manifest := filepath.Join(req.WorkDir, "concat-"+strings.TrimSuffix(filepath.Base(req.Output), filepath.Ext(req.Output))+".txt")
	if err := WriteManifest(manifest, req.Inputs); err != nil {
		return nil, err
	}
	return e.run(ctx, ConcatCopyArgs(manifest, req.Output), "concat-copy")
}

func (e *Encoder) ConcatFilter(ctx context.Context, req port.ConcatRequest) (port.Process, error) {
	if len(req.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := validatePaths(append([]string{req.Output}, req.Inputs...)...); err != nil {
		return nil, err
	}
	return e.run(ctx, ConcatFilterArgs(req), "concat-filter")
}

func (e *Encoder) Mix(ctx context.Context, req port.MixRequest) (port.Process, error) {
	if len(req.Tracks) == 0 {
		return nil, ErrNoInputs
	}
	paths := []string{req.Composite, req.Output}
	for _, t := range req.Tracks {
		paths = append(paths, t.SourcePath)
	}
	if err := validatePaths(paths...); err != nil {
		return nil, err
	}
	return e.run(ctx, MixArgs(req), "mix")
}

func (e *Encoder) run(ctx context.Context, args []string, task string) (port.Process, error) {
	return start(ctx, e.bin, args, e.log.With().Str("task", task).Logger())
}

var (
	_ port.Encoder = (*Encoder)(nil)
	_ port.Process = (*process)(nil)
)
