package port

import (
	"context"

	"github.com/bnema/montage/internal/domain"
)

type Prober interface {
	Probe(ctx context.Context, path string) (*domain.ProbeResult, error)
}

// TagReader extracts descriptive tags from audio files.
type TagReader interface {
	ReadTags(path string) (title, artist string, err error)
}
