package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a/b/photo.JPG"))
	assert.True(t, IsImageFile("x.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("noext"))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "photo-converted-image-1x1.png", OutputName("/tmp/photo.jpg", "converted-image-1x1.png"))
	assert.Equal(t, "a_b-converted-image-16x9.webp", OutputName("a:b.png", "converted-image-16x9.webp"))
	assert.Equal(t, "converted-image-4x3.jpg", OutputName(".jpg", "converted-image-4x3.jpg"))
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.png"))
	touch(t, filepath.Join(dir, "sub", "a.jpg"))
	touch(t, filepath.Join(dir, "sub", "readme.md"))
	single := filepath.Join(dir, "b.png")

	files, err := ExpandInputs([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{single, filepath.Join(dir, "sub", "a.jpg")}, files)

	_, err = ExpandInputs([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))
	require.NoError(t, EnsureDir(dir))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2<<20))
}
