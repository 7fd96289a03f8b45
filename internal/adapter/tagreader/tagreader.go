// Package tagreader reads descriptive tags from music files.
package tagreader

import (
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/bnema/montage/internal/port"
)

type Reader struct{}

func New() *Reader {
	return &Reader{}
}

// ReadTags returns the title and artist embedded in path. Files without tags
// yield tag.ErrNoTagsFound.
func (r *Reader) ReadTags(path string) (title, artist string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", fmt.Errorf("read tags: %w", err)
	}
	return strings.TrimSpace(m.Title()), strings.TrimSpace(m.Artist()), nil
}

var _ port.TagReader = (*Reader)(nil)
