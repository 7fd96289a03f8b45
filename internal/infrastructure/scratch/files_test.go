package scratch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "out", "dst.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	require.NoError(t, os.WriteFile(src, []byte("frames"), 0644))

	require.NoError(t, CopyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(got))
	assert.FileExists(t, src)

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.mp4")

	assert.Error(t, CopyFile(filepath.Join(dir, "missing.mp4"), dst))
	assert.NoFileExists(t, dst)
}

func TestCopyFile_MissingDestinationDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("frames"), 0644))

	assert.Error(t, CopyFile(src, filepath.Join(dir, "nope", "dst.mp4")))
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mp4")
	dst := filepath.Join(dir, "sub", "b.mp4")
	require.NoError(t, os.WriteFile(src, make([]byte, 2048), 0644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))

	require.NoError(t, MoveFile(src, dst))

	assert.NoFileExists(t, src)
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())
}
