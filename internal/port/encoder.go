package port

import (
	"context"

	"github.com/bnema/montage/internal/domain"
)

// Process is a running encoder subprocess.
type Process interface {
	// Progress yields elapsed encoded time in seconds, one value per status
	// token. It is closed when the status stream ends.
	Progress() <-chan float64
	// Done is closed once the process has exited and its streams are drained.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done. Nil means exit code 0.
	Err() error
	// Diagnostics returns the tail of the encoder's diagnostic output.
	Diagnostics() string
	Kill() error
}

type TranscodeRequest struct {
	Item    domain.MediaItem
	Output  string
	Profile domain.Profile
}

// ConcatRequest describes a concatenation of intermediates in list order.
// HasAudio lists, per input, whether it carries an audio stream. WorkDir
// receives any helper file the encoder needs, such as a manifest.
type ConcatRequest struct {
	Inputs   []string
	HasAudio []bool
	Output   string
	Profile  domain.Profile
	WorkDir  string
}

type MixRequest struct {
	Composite         string
	CompositeHasAudio bool
	CompositeDuration float64
	Tracks            []domain.MusicTrack
	Output            string
	Profile           domain.Profile
}

// Encoder starts encoder subprocesses. Every method returns as soon as the
// process is started; the caller supervises it through Process.
type Encoder interface {
	Transcode(ctx context.Context, req TranscodeRequest) (Process, error)
	ConcatCopy(ctx context.Context, req ConcatRequest) (Process, error)
	ConcatFilter(ctx context.Context, req ConcatRequest) (Process, error)
	Mix(ctx context.Context, req MixRequest) (Process, error)
}
