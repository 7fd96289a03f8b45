package ffmpeg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "absolute path", path: "/tmp/video.mp4"},
		{name: "path with spaces", path: "/tmp/my video.mp4"},
		{name: "relative path", path: "video.mp4"},
		{name: "empty path", path: "", wantErr: ErrEmptyPath},
		{name: "null byte at start", path: "\x00/tmp/video.mp4", wantErr: ErrInvalidPath},
		{name: "null byte in middle", path: "/tmp/\x00video.mp4", wantErr: ErrInvalidPath},
		{name: "null byte at end", path: "/tmp/video.mp4\x00", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestEncoder_RejectsBadRequests(t *testing.T) {
	e := NewEncoder("/nonexistent/ffmpeg")
	ctx := context.Background()
	item := videoItem(5)

	_, err := e.Transcode(ctx, port.TranscodeRequest{Item: item, Output: "", Profile: domain.PreviewProfile()})
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = e.Transcode(ctx, port.TranscodeRequest{Item: item, Output: "/tmp/out.mp4", Profile: domain.Profile{Name: "broken"}})
	assert.Error(t, err)

	_, err = e.ConcatCopy(ctx, port.ConcatRequest{Output: "/tmp/out.mp4", WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoInputs)

	_, err = e.ConcatFilter(ctx, port.ConcatRequest{Inputs: []string{"/tmp/a\x00.mp4"}, Output: "/tmp/out.mp4"})
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = e.Mix(ctx, port.MixRequest{Composite: "/tmp/c.mp4", Output: "/tmp/out.mp4"})
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestEncoder_MissingBinaryFailsToStart(t *testing.T) {
	e := NewEncoder("/nonexistent/ffmpeg")

	_, err := e.Transcode(context.Background(), port.TranscodeRequest{
		Item:    videoItem(5),
		Output:  t.TempDir() + "/out.mp4",
		Profile: domain.PreviewProfile(),
	})

	assert.Error(t, err)
}
