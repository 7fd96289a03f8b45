package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// maxPathLength mirrors PATH_MAX on Linux.
const maxPathLength = 4096

var ErrInvalidPath = errors.New("invalid source path")

// SourcePath cleans a path submitted by a client and checks that it names an
// existing regular file. Control characters are refused outright since the
// path ends up in ffmpeg arguments and log lines.
func SourcePath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if len(p) > maxPathLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidPath, maxPathLength)
	}
	for _, r := range p {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains control characters", ErrInvalidPath)
		}
	}

	clean := filepath.Clean(p)
	if !filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, p)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q is not a regular file", ErrInvalidPath, p)
	}
	return clean, nil
}

// DownloadName turns a file name into something safe for a
// Content-Disposition header: quotes, separators and control characters
// become underscores.
func DownloadName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '"' || r == '\\' || r == '/' || r == ':' || unicode.IsControl(r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}
	out := strings.TrimSpace(sb.String())
	if strings.Trim(out, "_.") == "" {
		return "montage.mp4"
	}
	return out
}
