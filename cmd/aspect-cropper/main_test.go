package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/aspect-cropper/internal/config"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

func TestCropJobs(t *testing.T) {
	cfg := config.Default()

	jobs, err := (&cropCmd{}).jobs(cfg)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.Widescreen, jobs[0].Ratio)
	assert.Empty(t, jobs[0].Format)

	cmd := &cropCmd{Ratio: []string{"1:1", "9x16"}, Rotation: -90, Format: "jpg", Smart: true}
	jobs, err = cmd.jobs(cfg)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, types.Square, jobs[0].Ratio)
	assert.Equal(t, types.Vertical, jobs[1].Ratio)
	assert.Equal(t, types.Rotate270, jobs[1].Rotation)
	assert.Equal(t, types.FormatJPEG, jobs[1].Format)
	assert.True(t, jobs[1].Smart)

	_, err = (&cropCmd{Ratio: []string{"7:5"}}).jobs(cfg)
	assert.Error(t, err)
	_, err = (&cropCmd{Rotation: 45}).jobs(cfg)
	assert.Error(t, err)
	_, err = (&cropCmd{Format: "gif"}).jobs(cfg)
	assert.Error(t, err)
}

func TestExpandSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	sources, err := expandSources([]string{dir, "https://example.com/cat.webp"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/cat.webp",
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.png"),
	}, sources)

	_, err = expandSources([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)

	_, err = expandSources([]string{t.TempDir()})
	assert.Error(t, err)
}
